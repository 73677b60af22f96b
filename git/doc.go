// Package git reads files and trees from a repository's history by
// running the git binary.
//
// Local path specs with a ref ("docs/guide.md@v1.2.0") are served from the
// committed tree instead of the working copy:
//
//	repo, err := git.NewContext(ctx, "/path/to/project")
//	commit, err := repo.ResolveCommit(ctx, "v1.2.0")
//	entry, err := repo.Lookup(ctx, commit, "docs/guide.md")
//	data, err := repo.Show(ctx, commit, "docs/guide.md")
//
// Paths are relative to the Context's working directory, which need not be
// the repository root. Commands go through a CommandRunner so tests can
// script git output with MockRunner.
package git
