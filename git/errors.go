package git

import "errors"

// Git operation errors.
var (
	// ErrNotGitRepo indicates the path is not inside a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrUnknownRevision indicates a ref that does not name a commit.
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrPathNotFound indicates the path does not exist in the commit.
	ErrPathNotFound = errors.New("path not in commit")

	// ErrNotAFile indicates a tree entry that is neither a blob nor a tree,
	// such as a submodule.
	ErrNotAFile = errors.New("not a regular file or directory")
)

// Error wraps a git command error with context.
type Error struct {
	Op     string // Operation that failed (e.g., "resolve ref", "show")
	Cmd    string // Git command that was run
	Output string // Trimmed stderr output
	Err    error  // Underlying error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return e.Op + ": " + e.Output
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
