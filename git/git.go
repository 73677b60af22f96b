package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Context reads history for the repository containing a working directory.
type Context struct {
	workDir  string        // Directory that relative paths start from
	repoRoot string        // Top level of the working tree
	prefix   string        // workDir relative to repoRoot, slash-terminated or empty
	runner   CommandRunner // Command runner (defaults to ExecRunner)
}

// Option configures Context.
type Option func(*Context)

// WithRunner sets a custom command runner for git operations.
// This is primarily used for testing to inject mock command execution.
func WithRunner(runner CommandRunner) Option {
	return func(g *Context) {
		g.runner = runner
	}
}

// NewContext creates a git context for the repository containing dir.
// It returns ErrNotGitRepo when dir is not inside a working tree.
func NewContext(ctx context.Context, dir string, opts ...Option) (*Context, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	g := &Context{
		workDir: absPath,
		runner:  NewExecRunner(),
	}
	for _, opt := range opts {
		opt(g)
	}

	root, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrNotGitRepo
	}
	prefix, err := g.run(ctx, "rev-parse", "--show-prefix")
	if err != nil {
		return nil, ErrNotGitRepo
	}
	g.repoRoot = root
	g.prefix = prefix
	return g, nil
}

// RepoRoot returns the top level of the working tree.
func (g *Context) RepoRoot() string {
	return g.repoRoot
}

// WorkDir returns the directory relative paths are resolved from.
func (g *Context) WorkDir() string {
	return g.workDir
}

// ResolveCommit returns the full SHA of the commit ref names.
func (g *Context) ResolveCommit(ctx context.Context, ref string) (string, error) {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return "", &Error{Op: "resolve ref", Err: fmt.Errorf("%w: %q", ErrUnknownRevision, ref)}
	}
	sha, err := g.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &Error{Op: "resolve ref", Err: fmt.Errorf("%w: %q", ErrUnknownRevision, ref)}
	}
	return sha, nil
}

// TreeEntry is one entry of a committed tree.
type TreeEntry struct {
	Name   string // Base name
	Path   string // Slash-separated path relative to the working directory
	Dir    bool   // Set for trees
	Size   int64  // Blob size; zero for trees
	Object string // Object ID
}

// Lookup describes path as of commit. The working directory itself is
// always a tree.
func (g *Context) Lookup(ctx context.Context, commit, p string) (TreeEntry, error) {
	rel := clean(p)
	if rel == "" {
		return TreeEntry{Name: ".", Path: ".", Dir: true}, nil
	}

	out, err := g.runRaw(ctx, "ls-tree", "-z", "-l", "--full-tree", commit, "--", g.prefix+rel)
	if err != nil {
		return TreeEntry{}, err
	}
	entries, err := parseTree(out)
	if err != nil {
		return TreeEntry{}, err
	}
	for _, e := range entries {
		if e.Path != g.prefix+rel {
			continue
		}
		if e.Object == "" {
			return TreeEntry{}, &Error{Op: "lookup", Err: fmt.Errorf("%w: %s", ErrNotAFile, rel)}
		}
		e.Name = path.Base(rel)
		e.Path = rel
		return e, nil
	}
	return TreeEntry{}, &Error{Op: "lookup", Err: fmt.Errorf("%w: %s", ErrPathNotFound, rel)}
}

// ListTree returns the entries of directory dir as of commit, sorted by
// name. Symlinks and submodules are left out.
func (g *Context) ListTree(ctx context.Context, commit, dir string) ([]TreeEntry, error) {
	rel := clean(dir)
	out, err := g.runRaw(ctx, "ls-tree", "-z", "-l", g.object(commit, rel))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: "list tree", Err: fmt.Errorf("%w: %s", ErrPathNotFound, dir)}
	}
	entries, err := parseTree(out)
	if err != nil {
		return nil, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.Object == "" {
			continue
		}
		e.Name = e.Path
		e.Path = path.Join(rel, e.Name)
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })
	return kept, nil
}

// Show returns the content of file p as of commit.
func (g *Context) Show(ctx context.Context, commit, p string) ([]byte, error) {
	rel := clean(p)
	if rel == "" {
		return nil, &Error{Op: "show", Err: fmt.Errorf("%w: %s", ErrNotAFile, p)}
	}
	out, err := g.runRaw(ctx, "cat-file", "blob", g.object(commit, rel))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: "show", Err: fmt.Errorf("%w: %s", ErrPathNotFound, rel)}
	}
	return out, nil
}

// object names the tree or blob at rel in commit.
func (g *Context) object(commit, rel string) string {
	full := strings.TrimSuffix(g.prefix+rel, "/")
	if full == "" {
		return commit + "^{tree}"
	}
	return commit + ":" + full
}

func (g *Context) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runRaw(ctx, args...)
	return strings.TrimSpace(string(out)), err
}

func (g *Context) runRaw(ctx context.Context, args ...string) ([]byte, error) {
	return g.runner.Run(ctx, g.workDir, args...)
}

// clean normalizes a slash path relative to the working directory. The
// working directory itself is "".
func clean(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "./"))
	return strings.TrimPrefix(p, "/")
}

// parseTree parses "ls-tree -z -l" output. Entries that are not plain
// blobs or trees have an empty Object.
func parseTree(out []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		meta, name, ok := strings.Cut(string(rec), "\t")
		if !ok {
			return nil, &Error{Op: "parse tree", Err: errors.New("malformed ls-tree output")}
		}
		fields := strings.Fields(meta)
		if len(fields) != 4 {
			return nil, &Error{Op: "parse tree", Err: errors.New("malformed ls-tree output")}
		}
		mode, typ, object, size := fields[0], fields[1], fields[2], fields[3]

		e := TreeEntry{Path: name}
		switch {
		case typ == "tree":
			e.Dir = true
			e.Object = object
		case typ == "blob" && mode != "120000":
			n, err := strconv.ParseInt(size, 10, 64)
			if err != nil {
				return nil, &Error{Op: "parse tree", Err: fmt.Errorf("size %q: %w", size, err)}
			}
			e.Size = n
			e.Object = object
		}
		entries = append(entries, e)
	}
	return entries, nil
}
