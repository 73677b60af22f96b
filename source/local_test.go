package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestLocal_GetFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"docs/readme.md": "# hi"})

	l, err := NewLocal(root)
	require.NoError(t, err)

	obj, err := l.Get(context.Background(), pathspec.MustParse("docs/readme.md"))
	require.NoError(t, err)
	assert.False(t, obj.Dir)
	assert.Equal(t, "# hi", string(obj.Content))
	assert.Equal(t, int64(4), obj.Size)
	assert.NotEmpty(t, obj.Revision)
}

func TestLocal_GetDirectory(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/b.go":     "package b",
		"src/a.go":     "package a",
		"src/sub/c.go": "package c",
	})

	l, err := NewLocal(root)
	require.NoError(t, err)

	obj, err := l.Get(context.Background(), pathspec.MustParse("src"))
	require.NoError(t, err)
	require.True(t, obj.Dir)
	require.Len(t, obj.Entries, 3)

	assert.Equal(t, "a.go", obj.Entries[0].Name)
	assert.Equal(t, "src/a.go", obj.Entries[0].Path)
	assert.Equal(t, int64(9), obj.Entries[0].Size)
	assert.Equal(t, "b.go", obj.Entries[1].Name)
	assert.Equal(t, "sub", obj.Entries[2].Name)
	assert.True(t, obj.Entries[2].Dir)
}

func TestLocal_NotFound(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Get(context.Background(), pathspec.MustParse("missing.txt"))
	require.Error(t, err)
	assert.True(t, perrors.IsNotFound(err))

	_, err = l.Stat(context.Background(), pathspec.MustParse("missing.txt"))
	assert.True(t, perrors.IsNotFound(err))
}

func TestLocal_RejectsEscapes(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	writeTree(t, parent, map[string]string{"secret.txt": "s", "root/ok.txt": "ok"})

	l, err := NewLocal(root)
	require.NoError(t, err)

	// Constructed directly to bypass the parser.
	_, err = l.Get(context.Background(), pathspec.PathSpec{Path: "../secret.txt"})
	assert.True(t, perrors.IsInvalidPath(err), "traversal should be rejected: %v", err)

	_, err = l.Get(context.Background(), pathspec.PathSpec{Owner: "o", Repo: "r", Path: "ok.txt"})
	assert.True(t, perrors.IsInvalidPath(err), "remote spec should be rejected")
}

func TestLocal_RejectsSymlinkEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	writeTree(t, parent, map[string]string{"secret.txt": "s", "root/ok.txt": "ok"})

	if err := os.Symlink(filepath.Join(parent, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	l, err := NewLocal(root)
	require.NoError(t, err)

	_, err = l.Get(context.Background(), pathspec.MustParse("link.txt"))
	assert.True(t, perrors.IsInvalidPath(err), "symlink escape should be rejected: %v", err)
}

func TestLocal_Stat(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"bin/data.exe": "MZ......"})

	l, err := NewLocal(root)
	require.NoError(t, err)

	e, err := l.Stat(context.Background(), pathspec.MustParse("bin/data.exe"))
	require.NoError(t, err)
	assert.Equal(t, "data.exe", e.Name)
	assert.Equal(t, int64(8), e.Size)
	assert.False(t, e.Dir)

	d, err := l.Stat(context.Background(), pathspec.MustParse("bin"))
	require.NoError(t, err)
	assert.True(t, d.Dir)
}

func TestLocal_RevisionChangesWithContent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one"})

	l, err := NewLocal(root)
	require.NoError(t, err)

	spec := pathspec.MustParse("a.txt")
	before, err := l.Revision(spec)
	require.NoError(t, err)

	writeTree(t, root, map[string]string{"a.txt": "three"})
	after, err := l.Revision(spec)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestNewLocal_Errors(t *testing.T) {
	_, err := NewLocal(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	root := t.TempDir()
	writeTree(t, root, map[string]string{"file.txt": "x"})
	_, err = NewLocal(filepath.Join(root, "file.txt"))
	assert.Error(t, err)
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"github", "github", false},
		{"GitHub", "github", false},
		{"https://github.com/owner/repo.git", "github", false},
		{"gitlab", "gitlab", false},
		{"https://gitlab.example.com/group/project", "gitlab", false},
		{"bitbucket", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := DetectProvider(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectProvider() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "gh")
	t.Setenv("GITLAB_TOKEN", "")
	t.Setenv("GIT_TOKEN", "fallback")

	assert.Equal(t, "gh", TokenFromEnv("github"))
	assert.Equal(t, "fallback", TokenFromEnv("gitlab"))
}
