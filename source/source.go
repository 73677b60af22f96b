// Package source provides the back ends that read path specs: the local
// filesystem under a fixed root, and the GitHub and GitLab repository APIs.
//
// Back ends return typed errors from the errors package so the fetch layer
// can decide what to retry: a missing file is a *errors.NotFoundError, rate
// limiting is a *errors.RateLimitError, and other non-2xx responses are
// *errors.APIError.
package source

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/randalmurphal/promptarena/pathspec"
)

// ErrUnknownProvider indicates an unrecognized remote provider name.
var ErrUnknownProvider = errors.New("unknown repository provider")

// Entry describes one file or directory.
type Entry struct {
	// Name is the base name.
	Name string

	// Path is the slash-separated path relative to the source root.
	Path string

	// Dir is set for directories.
	Dir bool

	// Size is the file size in bytes. Zero for directories and for
	// listings that do not report sizes.
	Size int64

	// SHA is the blob ID for remote entries.
	SHA string
}

// Object is the result of reading a spec. Exactly one of Content and
// Entries is meaningful, selected by Dir.
type Object struct {
	Content []byte
	Entries []Entry
	Dir     bool
	Size    int64

	// Revision identifies the version read: mtime and size for local
	// files, the blob SHA for remote files.
	Revision string
}

// Source reads files and directory listings.
type Source interface {
	// Name identifies the back end in errors and logs.
	Name() string

	// Get reads a file's content or a directory's entries.
	Get(ctx context.Context, spec pathspec.PathSpec) (*Object, error)

	// Stat returns metadata without reading content where the back end
	// allows it.
	Stat(ctx context.Context, spec pathspec.PathSpec) (*Entry, error)
}

// DetectProvider maps a provider name or repository URL to "github" or
// "gitlab".
func DetectProvider(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch {
	case s == "github" || strings.Contains(s, "github.com"):
		return "github", nil
	case s == "gitlab" || strings.Contains(s, "gitlab"):
		return "gitlab", nil
	}
	return "", ErrUnknownProvider
}

// TokenFromEnv returns the API token for provider from GITHUB_TOKEN or
// GITLAB_TOKEN, falling back to GIT_TOKEN.
func TokenFromEnv(provider string) string {
	var token string
	switch provider {
	case "github":
		token = os.Getenv("GITHUB_TOKEN")
	case "gitlab":
		token = os.Getenv("GITLAB_TOKEN")
	}
	if token == "" {
		token = os.Getenv("GIT_TOKEN")
	}
	return token
}

// RemoteConfig configures NewRemote.
type RemoteConfig struct {
	// Provider is "github" or "gitlab", or a URL that identifies one.
	Provider string

	// Token authenticates API calls. Empty means TokenFromEnv.
	Token string

	// BaseURL overrides the API endpoint for self-hosted instances.
	BaseURL string

	// RateLimit is the maximum request rate per second. Zero is unlimited.
	RateLimit float64
}

// NewRemote creates the remote back end named by cfg.Provider.
func NewRemote(cfg RemoteConfig) (Source, error) {
	provider, err := DetectProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	token := cfg.Token
	if token == "" {
		token = TokenFromEnv(provider)
	}

	switch provider {
	case "gitlab":
		return NewGitLab(GitLabConfig{Token: token, BaseURL: cfg.BaseURL, RateLimit: cfg.RateLimit})
	default:
		return NewGitHub(GitHubConfig{Token: token, BaseURL: cfg.BaseURL, RateLimit: cfg.RateLimit})
	}
}

// apiPath converts a spec path to the form repository APIs expect for the
// root: an empty string.
func apiPath(p string) string {
	if p == "." {
		return ""
	}
	return p
}
