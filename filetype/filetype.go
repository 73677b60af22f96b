// Package filetype classifies files by name into the semantic types that
// drive admission into a context bundle.
//
// Classification is static: a table of well-known extensionless names, a
// case-insensitive extension table, and a set of sensitive-name patterns.
// Only the final extension of a multi-dot name decides the type; segments
// such as "min", "test" or "d" are reported as annotations.
package filetype

import (
	"path"
	"strings"
)

// SemanticType is the classifier's output category.
type SemanticType int

const (
	Unknown SemanticType = iota
	Text
	Image
	PDF
	Binary
	Sensitive
)

// String returns the lowercase name of the type.
func (t SemanticType) String() string {
	switch t {
	case Text:
		return "text"
	case Image:
		return "image"
	case PDF:
		return "pdf"
	case Binary:
		return "binary"
	case Sensitive:
		return "sensitive"
	default:
		return "unknown"
	}
}

// Loadable reports whether content of this type is read into a bundle.
func (t SemanticType) Loadable() bool {
	switch t {
	case Text, Image, PDF, Unknown:
		return true
	default:
		return false
	}
}

// Hint is the result of classifying a file name.
type Hint struct {
	// Name is the base name that was classified.
	Name string

	// Type is the base semantic type. Sensitive files keep their base
	// type here; see Sensitive and Effective.
	Type SemanticType

	// MIME is the MIME tag for the type.
	MIME string

	// Ext is the lowercase final extension without the dot, if any.
	Ext string

	// Sensitive is set for names that commonly hold credentials.
	Sensitive bool

	// Cautious is set for unknown extensions that are treated as text.
	Cautious bool

	// Annotations lists metadata-only segments such as "min" or "test".
	Annotations []string
}

// Effective returns Sensitive for flagged names and Type otherwise.
func (h Hint) Effective() SemanticType {
	if h.Sensitive {
		return Sensitive
	}
	return h.Type
}

// Classify maps a file name (or path) to a Hint. The result depends only on
// the name.
func Classify(name string) Hint {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	h := Hint{Name: base}

	lower := strings.ToLower(base)
	h.Sensitive = isSensitive(lower)

	if t, ok := knownNames[lower]; ok {
		h.Type = t
		h.MIME = mimeFor(t, "")
		return h
	}

	stem, ext := splitExt(lower)
	h.Ext = ext
	h.Annotations = annotations(stem)

	if ext == "" {
		h.Type = Unknown
		h.Cautious = true
		h.MIME = "text/plain"
		return h
	}

	entry, ok := extensions[ext]
	if !ok {
		h.Type = Unknown
		h.Cautious = true
		h.MIME = "text/plain"
		return h
	}
	h.Type = entry.kind
	h.MIME = entry.mime
	return h
}

// IsKnownFilename reports whether name is a well-known extensionless file
// such as Makefile or Dockerfile.
func IsKnownFilename(name string) bool {
	_, ok := knownNames[strings.ToLower(name)]
	return ok
}

// splitExt returns the stem and the lowercase final extension. Leading-dot
// names such as ".gitignore" are treated as having no extension.
func splitExt(lower string) (string, string) {
	idx := strings.LastIndexByte(lower, '.')
	if idx <= 0 || idx == len(lower)-1 {
		return lower, ""
	}
	return lower[:idx], lower[idx+1:]
}

func annotations(stem string) []string {
	parts := strings.Split(stem, ".")
	if len(parts) < 2 {
		return nil
	}
	var out []string
	for _, p := range parts[1:] {
		switch p {
		case "min", "test", "spec", "d", "stories", "bundle":
			out = append(out, p)
		}
	}
	return out
}

func isSensitive(lower string) bool {
	if lower == ".env" || strings.HasPrefix(lower, ".env.") {
		return true
	}
	if strings.HasSuffix(lower, ".pem") || strings.HasSuffix(lower, ".key") ||
		strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		return true
	}
	if lower == "id_rsa" || lower == "id_ed25519" || lower == ".netrc" || lower == ".npmrc" {
		return true
	}
	return strings.Contains(lower, "secret") ||
		strings.Contains(lower, "password") ||
		strings.Contains(lower, "_key")
}

func mimeFor(t SemanticType, ext string) string {
	if entry, ok := extensions[ext]; ok {
		return entry.mime
	}
	switch t {
	case Text:
		return "text/plain"
	case Image:
		return "image/octet-stream"
	case PDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
