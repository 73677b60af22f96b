package pathspec

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/filetype"
)

// MaxLength is the longest specifier Parse accepts, in bytes.
const MaxLength = 4096

var (
	ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	refPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)
	shaPattern       = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
	versionPattern   = regexp.MustCompile(`^v?[0-9]+(\.[0-9]+)*([-+][0-9A-Za-z.-]+)?$`)
	drivePattern     = regexp.MustCompile(`^[A-Za-z]:([\\/]|$)`)
)

// shellMetachars are rejected anywhere in a specifier.
const shellMetachars = ";|&$`<>"

// Parse parses a path specifier. Every failure is an *errors.InvalidPathError.
func Parse(raw string) (PathSpec, error) {
	s := strings.TrimSpace(raw)
	if err := checkShape(raw, s); err != nil {
		return PathSpec{}, err
	}

	var spec PathSpec
	rest := s

	switch strings.Count(s, ":") {
	case 0:
	case 1:
		ownerRepo, tail, _ := strings.Cut(s, ":")
		if !ownerRepoPattern.MatchString(ownerRepo) {
			return PathSpec{}, invalid(raw, "repository must be owner/repo")
		}
		owner, repo, _ := strings.Cut(ownerRepo, "/")
		if isDots(owner) || isDots(repo) {
			return PathSpec{}, invalid(raw, "repository must be owner/repo")
		}
		spec.Owner, spec.Repo = owner, repo
		rest = tail
	default:
		return PathSpec{}, invalid(raw, "more than one ':'")
	}

	p, ref := splitRef(rest)
	if p == "" {
		return PathSpec{}, invalid(raw, "empty file path")
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return PathSpec{}, invalid(raw, "absolute path")
	}
	if hasTraversal(p) {
		return PathSpec{}, invalid(raw, "path traversal segment '..'")
	}
	if spec.IsLocal() && ambiguousRemote(p) {
		return PathSpec{}, invalid(raw, "looks like owner/repo/path without ':'; use owner/repo:path, or ./path for a local directory")
	}

	spec.Path = norm.NFC.String(path.Clean(p))
	spec.Ref = ref
	return spec, nil
}

// MustParse is like Parse but panics on error. Use it for literals.
func MustParse(raw string) PathSpec {
	spec, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return spec
}

// checkShape applies the checks that do not depend on the grammar split.
func checkShape(raw, s string) error {
	if s == "" {
		return invalid(raw, "empty path")
	}
	if lower := strings.ToLower(s); lower == "null" || lower == "undefined" {
		return invalid(raw, "empty path")
	}
	if len(s) > MaxLength {
		return invalid(raw, "path too long")
	}
	if !utf8.ValidString(s) {
		return invalid(raw, "invalid UTF-8")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return invalid(raw, "control character")
		}
	}
	if strings.ContainsAny(s, shellMetachars) {
		return invalid(raw, "shell metacharacter")
	}
	if strings.HasPrefix(s, `\\`) || strings.HasPrefix(s, "//") {
		return invalid(raw, "UNC path")
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, `\`) || drivePattern.MatchString(s) {
		return invalid(raw, "absolute path")
	}
	return nil
}

// splitRef splits on the last '@' when the suffix is a ref. Otherwise the
// '@' is part of the file name.
func splitRef(s string) (string, string) {
	idx := strings.LastIndexByte(s, '@')
	if idx <= 0 || idx == len(s)-1 {
		return s, ""
	}
	left, right := s[:idx], s[idx+1:]
	if !isRef(left, right) {
		return s, ""
	}
	return left, right
}

func isRef(left, ref string) bool {
	if len(ref) > 255 || !refPattern.MatchString(ref) {
		return false
	}
	if strings.Contains(ref, "..") || strings.Contains(ref, "//") ||
		strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, ".") || strings.HasSuffix(ref, ".lock") {
		return false
	}
	if shaPattern.MatchString(ref) || versionPattern.MatchString(ref) {
		return true
	}
	if !strings.Contains(ref, ".") {
		return true
	}
	// "file@2x.png" keeps its '@'; "file.txt@release.1" does not.
	base := left
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.LastIndexByte(base, '.') > 0
}

func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ambiguousRemote reports whether a colon-less path has the owner/repo/path
// shape of a cross-repository reference that lost its ':'.
func ambiguousRemote(p string) bool {
	if strings.HasPrefix(p, "./") || strings.HasSuffix(p, "/") {
		return false
	}
	segs := strings.Split(p, "/")
	if len(segs) < 3 {
		return false
	}
	for _, seg := range segs {
		if seg == "" || strings.Contains(seg, ".") {
			return false
		}
	}
	return !filetype.IsKnownFilename(segs[len(segs)-1])
}

func isDots(s string) bool {
	return s == "." || s == ".."
}

func invalid(raw, reason string) error {
	return &perrors.InvalidPathError{Input: raw, Reason: reason}
}
