package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Small file signatures for classifier and sniffing tests.
var (
	PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	PDF = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
	EXE = []byte{'M', 'Z', 0x90, 0, 3, 0, 0, 0, 4, 0, 0, 0, 0xff, 0xff, 0, 0}
)

// WriteTree creates files under a new temporary directory and returns its
// path. Keys are slash-separated paths relative to the root; parent
// directories are created as needed.
func WriteTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		WriteFile(t, root, name, []byte(content))
	}
	return root
}

// WriteFile writes content to root/name, creating parent directories.
func WriteFile(t *testing.T, root, name string, content []byte) string {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return full
}

// Mkdir creates root/name and its parents.
func Mkdir(t *testing.T, root, name string) string {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(full, 0o755); err != nil {
		t.Fatalf("failed to create directory %s: %v", name, err)
	}
	return full
}

// Symlink creates a symlink at root/name pointing to target, skipping the
// test where symlinks are not permitted.
func Symlink(t *testing.T, target, root, name string) string {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(name))
	if err := os.Symlink(target, full); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	return full
}
