package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/git"
	"github.com/randalmurphal/promptarena/pathspec"
)

// revisionTimeout bounds the ref lookup behind Revision, which has no
// caller context.
const revisionTimeout = 10 * time.Second

// History reads local specs that carry a ref from the repository's
// committed history and all others from the working tree. The revision of
// a ref spec is its commit SHA, so cached content stays valid until the
// ref moves.
type History struct {
	*Local
	repo *git.Context
}

// NewHistory wraps local with history reads from repo. The repository's
// working directory should be local's root.
func NewHistory(local *Local, repo *git.Context) *History {
	return &History{Local: local, repo: repo}
}

// OpenHistory returns a History when local's root is inside a git
// working tree, and local unchanged otherwise.
func OpenHistory(ctx context.Context, local *Local) Source {
	repo, err := git.NewContext(ctx, local.Root())
	if err != nil {
		return local
	}
	return NewHistory(local, repo)
}

// Get implements Source.
func (h *History) Get(ctx context.Context, spec pathspec.PathSpec) (*Object, error) {
	if spec.Ref == "" {
		return h.Local.Get(ctx, spec)
	}
	commit, entry, err := h.lookup(ctx, spec)
	if err != nil {
		return nil, err
	}

	if entry.Dir {
		tree, err := h.repo.ListTree(ctx, commit, spec.Path)
		if err != nil {
			return nil, h.wrap(spec, err)
		}
		entries := make([]Entry, 0, len(tree))
		for _, e := range tree {
			entries = append(entries, Entry{
				Name: e.Name,
				Path: spec.Join(e.Name).Path,
				Dir:  e.Dir,
				Size: e.Size,
				SHA:  e.Object,
			})
		}
		return &Object{Dir: true, Entries: entries, Revision: commit}, nil
	}

	data, err := h.repo.Show(ctx, commit, spec.Path)
	if err != nil {
		return nil, h.wrap(spec, err)
	}
	return &Object{Content: data, Size: int64(len(data)), Revision: commit}, nil
}

// Stat implements Source.
func (h *History) Stat(ctx context.Context, spec pathspec.PathSpec) (*Entry, error) {
	if spec.Ref == "" {
		return h.Local.Stat(ctx, spec)
	}
	_, entry, err := h.lookup(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Name: entry.Name,
		Path: spec.Path,
		Dir:  entry.Dir,
		Size: entry.Size,
		SHA:  entry.Object,
	}, nil
}

// Revision returns the commit SHA for ref specs and the working tree
// revision otherwise.
func (h *History) Revision(spec pathspec.PathSpec) (string, error) {
	if spec.Ref == "" {
		return h.Local.Revision(spec)
	}
	ctx, cancel := context.WithTimeout(context.Background(), revisionTimeout)
	defer cancel()
	commit, err := h.repo.ResolveCommit(ctx, spec.Ref)
	if err != nil {
		return "", h.wrap(spec, err)
	}
	return commit, nil
}

func (h *History) lookup(ctx context.Context, spec pathspec.PathSpec) (string, git.TreeEntry, error) {
	if !spec.IsLocal() {
		return "", git.TreeEntry{}, &perrors.InvalidPathError{Input: spec.String(), Reason: "not a local path"}
	}
	commit, err := h.repo.ResolveCommit(ctx, spec.Ref)
	if err != nil {
		return "", git.TreeEntry{}, h.wrap(spec, err)
	}
	entry, err := h.repo.Lookup(ctx, commit, spec.Path)
	if err != nil {
		return "", git.TreeEntry{}, h.wrap(spec, err)
	}
	return commit, entry, nil
}

// wrap maps git errors onto the error types the fetch layer understands.
func (h *History) wrap(spec pathspec.PathSpec, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, git.ErrUnknownRevision), errors.Is(err, git.ErrPathNotFound):
		return &perrors.NotFoundError{Spec: spec.String(), Source: h.Name()}
	case errors.Is(err, git.ErrNotAFile):
		return &perrors.InvalidPathError{Input: spec.String(), Reason: "not a regular file in history"}
	}
	return fmt.Errorf("read %s from history: %w", spec, err)
}
