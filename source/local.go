package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
)

// Local reads files under a root directory. It re-checks containment on
// every call, including after symlink resolution, so a spec can never
// read above the root.
type Local struct {
	root string
}

// NewLocal creates a Local rooted at root. The root must exist and be a
// directory.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &Local{root: resolved}, nil
}

// Name implements Source.
func (l *Local) Name() string { return "local" }

// Root returns the absolute, symlink-free root directory.
func (l *Local) Root() string { return l.root }

// Get implements Source.
func (l *Local) Get(ctx context.Context, spec pathspec.PathSpec) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(spec)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, l.statError(spec, err)
	}

	if info.IsDir() {
		entries, err := l.list(spec, full)
		if err != nil {
			return nil, err
		}
		return &Object{Dir: true, Entries: entries, Revision: revision(info)}, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, l.statError(spec, err)
	}
	return &Object{Content: data, Size: int64(len(data)), Revision: revision(info)}, nil
}

// Stat implements Source.
func (l *Local) Stat(ctx context.Context, spec pathspec.PathSpec) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(spec)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, l.statError(spec, err)
	}
	return &Entry{
		Name: path.Base(spec.Path),
		Path: spec.Path,
		Dir:  info.IsDir(),
		Size: sizeOf(info),
	}, nil
}

// Revision returns the revision string of a local spec without reading it.
func (l *Local) Revision(spec pathspec.PathSpec) (string, error) {
	full, err := l.resolve(spec)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", l.statError(spec, err)
	}
	return revision(info), nil
}

// resolve maps spec to an absolute path inside the root.
func (l *Local) resolve(spec pathspec.PathSpec) (string, error) {
	if !spec.IsLocal() {
		return "", &perrors.InvalidPathError{Input: spec.String(), Reason: "not a local path"}
	}

	full := filepath.Join(l.root, filepath.FromSlash(spec.Path))
	if !l.contains(full) {
		return "", &perrors.InvalidPathError{Input: spec.String(), Reason: "escapes root directory"}
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &perrors.NotFoundError{Spec: spec.String(), Source: l.Name()}
		}
		return "", fmt.Errorf("resolve %s: %w", spec, err)
	}
	if !l.contains(resolved) {
		return "", &perrors.InvalidPathError{Input: spec.String(), Reason: "symlink escapes root directory"}
	}
	return resolved, nil
}

func (l *Local) contains(p string) bool {
	rel, err := filepath.Rel(l.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (l *Local) list(spec pathspec.PathSpec, dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, l.statError(spec, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		child := spec.Join(d.Name())

		info, err := os.Stat(filepath.Join(dir, d.Name()))
		if err != nil {
			// Dangling symlink or a file removed mid-listing.
			continue
		}
		entries = append(entries, Entry{
			Name: d.Name(),
			Path: child.Path,
			Dir:  info.IsDir(),
			Size: sizeOf(info),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (l *Local) statError(spec pathspec.PathSpec, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &perrors.NotFoundError{Spec: spec.String(), Source: l.Name()}
	}
	return fmt.Errorf("read %s: %w", spec, err)
}

func sizeOf(info fs.FileInfo) int64 {
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

func revision(info fs.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size())
}
