package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xanzy/go-gitlab"
	"golang.org/x/time/rate"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
	"github.com/randalmurphal/promptarena/retry"
)

// GitLabConfig configures NewGitLab.
type GitLabConfig struct {
	// Token is a personal, project or group access token.
	Token string

	// BaseURL is the GitLab instance URL. Empty means gitlab.com.
	BaseURL string

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client

	// RateLimit is the maximum request rate per second. Zero is unlimited.
	RateLimit float64

	// Burst is the limiter burst size. Defaults to 1.
	Burst int

	Logger *slog.Logger
}

// GitLab reads files through the GitLab repository files and tree APIs.
// The owner/repo of a spec is used as the project path.
type GitLab struct {
	client *gitlab.Client
	logger *slog.Logger

	// defaultBranch caches project path -> default branch.
	defaultBranch sync.Map
}

var _ Source = (*GitLab)(nil)

// NewGitLab creates a GitLab source.
func NewGitLab(cfg GitLabConfig) (*GitLab, error) {
	opts := []gitlab.ClientOptionFunc{
		// Retries belong to the fetch layer so attempts are counted once.
		gitlab.WithCustomRetryMax(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(cfg.HTTPClient))
	}
	limiter := newLimiter(cfg.RateLimit, cfg.Burst)
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	opts = append(opts, gitlab.WithCustomLimiter(limiter))

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GitLab{client: client, logger: logger}, nil
}

// Name implements Source.
func (g *GitLab) Name() string { return "gitlab" }

// Get implements Source. A path that is not a file is listed as a
// directory; an empty listing is reported as not found.
func (g *GitLab) Get(ctx context.Context, spec pathspec.PathSpec) (*Object, error) {
	ref, err := g.ref(ctx, spec)
	if err != nil {
		return nil, err
	}

	p := apiPath(spec.Path)
	if p != "" {
		file, resp, err := g.client.RepositoryFiles.GetFile(spec.Repository(), p,
			&gitlab.GetFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
		if err == nil {
			data, err := decodeFile(file)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", spec, err)
			}
			return &Object{Content: data, Size: int64(len(data)), Revision: file.BlobID}, nil
		}
		if !isNotFound(resp, err) {
			return nil, g.mapError(spec, resp, err)
		}
	}

	entries, err := g.listTree(ctx, spec, ref)
	if err != nil {
		return nil, err
	}
	return &Object{Dir: true, Entries: entries}, nil
}

// Stat implements Source.
func (g *GitLab) Stat(ctx context.Context, spec pathspec.PathSpec) (*Entry, error) {
	ref, err := g.ref(ctx, spec)
	if err != nil {
		return nil, err
	}

	p := apiPath(spec.Path)
	if p != "" {
		meta, resp, err := g.client.RepositoryFiles.GetFileMetaData(spec.Repository(), p,
			&gitlab.GetFileMetaDataOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
		if err == nil {
			return &Entry{Name: meta.FileName, Path: meta.FilePath, Size: int64(meta.Size), SHA: meta.BlobID}, nil
		}
		if !isNotFound(resp, err) {
			return nil, g.mapError(spec, resp, err)
		}
	}

	if _, err := g.listTree(ctx, spec, ref); err != nil {
		return nil, err
	}
	return &Entry{Name: spec.Base(), Path: spec.Path, Dir: true}, nil
}

func (g *GitLab) listTree(ctx context.Context, spec pathspec.PathSpec, ref string) ([]Entry, error) {
	opts := &gitlab.ListTreeOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
		Ref:         gitlab.Ptr(ref),
	}
	if p := apiPath(spec.Path); p != "" {
		opts.Path = gitlab.Ptr(p)
	}

	var entries []Entry
	for {
		nodes, resp, err := g.client.Repositories.ListTree(spec.Repository(), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, g.mapError(spec, resp, err)
		}
		for _, n := range nodes {
			entries = append(entries, Entry{
				Name: n.Name,
				Path: n.Path,
				Dir:  n.Type == "tree",
				SHA:  n.ID,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(entries) == 0 {
		return nil, &perrors.NotFoundError{Spec: spec.String(), Source: g.Name()}
	}
	return entries, nil
}

// ref returns the spec's ref, or the project's default branch.
func (g *GitLab) ref(ctx context.Context, spec pathspec.PathSpec) (string, error) {
	if spec.Ref != "" {
		return spec.Ref, nil
	}
	project := spec.Repository()
	if v, ok := g.defaultBranch.Load(project); ok {
		return v.(string), nil
	}

	p, resp, err := g.client.Projects.GetProject(project, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", g.mapError(spec, resp, err)
	}
	branch := p.DefaultBranch
	if branch == "" {
		branch = "HEAD"
	}
	g.defaultBranch.Store(project, branch)
	return branch, nil
}

func (g *GitLab) mapError(spec pathspec.PathSpec, resp *gitlab.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNotFound(resp, err) {
		return &perrors.NotFoundError{Spec: spec.String(), Source: g.Name()}
	}
	if resp == nil || resp.Response == nil {
		g.logger.Debug("gitlab request failed", "spec", spec.String(), "error", err)
		return fmt.Errorf("gitlab get %s: %w", spec, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &perrors.RateLimitError{
			Service:    g.Name(),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	msg := http.StatusText(resp.StatusCode)
	var er *gitlab.ErrorResponse
	if errors.As(err, &er) && er.Message != "" {
		msg = er.Message
	}
	endpoint := ""
	if resp.Request != nil && resp.Request.URL != nil {
		endpoint = resp.Request.URL.Path
	}
	return &perrors.APIError{
		Service:    g.Name(),
		StatusCode: resp.StatusCode,
		Message:    msg,
		Endpoint:   endpoint,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}
}

func isNotFound(resp *gitlab.Response, err error) bool {
	if errors.Is(err, gitlab.ErrNotFound) {
		return true
	}
	return resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound
}

func decodeFile(f *gitlab.File) ([]byte, error) {
	switch strings.ToLower(f.Encoding) {
	case "base64":
		return base64.StdEncoding.DecodeString(f.Content)
	case "", "text":
		return []byte(f.Content), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", f.Encoding)
	}
}
