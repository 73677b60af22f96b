// Package pathspec parses path specifiers of the form
//
//	[owner/repo:]path[@ref]
//
// into immutable PathSpec values. An empty owner and repo denote a file or
// directory on the local filesystem; otherwise the path is read from the
// named repository at ref (the default branch when ref is empty).
//
// Parsing rejects unsafe input rather than sanitizing it: traversal
// segments, absolute roots, control characters and shell metacharacters all
// fail with an InvalidPathError.
package pathspec

import (
	"path"
	"strings"
)

// PathSpec identifies a local or remote file or directory. It is a value
// type and is never mutated after Parse returns it.
type PathSpec struct {
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// IsLocal reports whether the spec refers to the local filesystem.
func (s PathSpec) IsLocal() bool {
	return s.Owner == "" && s.Repo == ""
}

// Repository returns "owner/repo", or an empty string for local specs.
func (s PathSpec) Repository() string {
	if s.IsLocal() {
		return ""
	}
	return s.Owner + "/" + s.Repo
}

// Base returns the final element of the path.
func (s PathSpec) Base() string {
	return path.Base(s.Path)
}

// String returns the canonical form. Parsing the canonical form of a parsed
// spec yields an equal spec.
func (s PathSpec) String() string {
	var b strings.Builder
	if !s.IsLocal() {
		b.WriteString(s.Owner)
		b.WriteByte('/')
		b.WriteString(s.Repo)
		b.WriteByte(':')
	} else if ambiguousRemote(s.Path) {
		b.WriteString("./")
	}
	b.WriteString(s.Path)
	if s.Ref != "" {
		b.WriteByte('@')
		b.WriteString(s.Ref)
	}
	return b.String()
}

// Key returns the cache and single-flight key for the spec. It combines all
// four fields.
func (s PathSpec) Key() string {
	return s.String()
}

// Join returns a spec for a child of s. The child shares owner, repo and ref.
func (s PathSpec) Join(name string) PathSpec {
	child := s
	if s.Path == "." || s.Path == "" {
		child.Path = name
	} else {
		child.Path = path.Join(s.Path, name)
	}
	return child
}

// WithPath returns a copy of s with its path replaced. Remote listings use
// it to attach the full path reported by the API.
func (s PathSpec) WithPath(p string) PathSpec {
	child := s
	child.Path = p
	return child
}
