package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
	"github.com/randalmurphal/promptarena/retry"
)

// GitHubConfig configures NewGitHub.
type GitHubConfig struct {
	// Token is a personal access or app token. Empty makes anonymous
	// requests, which only work for public repositories.
	Token string

	// BaseURL is the API root for GitHub Enterprise, e.g.
	// "https://ghe.example.com/api/v3/". Empty means api.github.com.
	BaseURL string

	// HTTPClient is used when Token is empty. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// RateLimit is the maximum request rate per second. Zero is unlimited.
	RateLimit float64

	// Burst is the limiter burst size. Defaults to 1.
	Burst int

	Logger *slog.Logger
}

// GitHub reads files through the GitHub repository contents API.
type GitHub struct {
	client  *github.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Source = (*GitHub)(nil)

// NewGitHub creates a GitHub source.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	hc := cfg.HTTPClient
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		ctx := context.Background()
		if hc != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		}
		hc = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(hc)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GitHub{
		client:  client,
		limiter: newLimiter(cfg.RateLimit, cfg.Burst),
		logger:  logger,
	}, nil
}

// Name implements Source.
func (g *GitHub) Name() string { return "github" }

// Get implements Source. Files over the contents API inline limit are
// downloaded through their raw URL.
func (g *GitHub) Get(ctx context.Context, spec pathspec.PathSpec) (*Object, error) {
	file, dir, err := g.contents(ctx, spec)
	if err != nil {
		return nil, err
	}

	if file == nil {
		entries := make([]Entry, 0, len(dir))
		for _, c := range dir {
			entries = append(entries, entryFromContent(c))
		}
		return &Object{Dir: true, Entries: entries}, nil
	}

	var data []byte
	if file.GetEncoding() == "none" || (file.Content == nil && file.GetSize() > 0) {
		data, err = g.download(ctx, spec)
		if err != nil {
			return nil, err
		}
	} else {
		content, err := file.GetContent()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", spec, err)
		}
		data = []byte(content)
	}

	return &Object{
		Content:  data,
		Size:     int64(len(data)),
		Revision: file.GetSHA(),
	}, nil
}

// Stat implements Source.
func (g *GitHub) Stat(ctx context.Context, spec pathspec.PathSpec) (*Entry, error) {
	file, _, err := g.contents(ctx, spec)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return &Entry{Name: spec.Base(), Path: spec.Path, Dir: true}, nil
	}
	e := entryFromContent(file)
	return &e, nil
}

func (g *GitHub) contents(ctx context.Context, spec pathspec.PathSpec) (*github.RepositoryContent, []*github.RepositoryContent, error) {
	if err := g.wait(ctx); err != nil {
		return nil, nil, err
	}

	opts := &github.RepositoryContentGetOptions{Ref: spec.Ref}
	file, dir, resp, err := g.client.Repositories.GetContents(ctx, spec.Owner, spec.Repo, apiPath(spec.Path), opts)
	if err != nil {
		return nil, nil, g.mapError(spec, resp, err)
	}
	return file, dir, nil
}

func (g *GitHub) download(ctx context.Context, spec pathspec.PathSpec) ([]byte, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	opts := &github.RepositoryContentGetOptions{Ref: spec.Ref}
	rc, resp, err := g.client.Repositories.DownloadContents(ctx, spec.Owner, spec.Repo, spec.Path, opts)
	if err != nil {
		return nil, g.mapError(spec, resp, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", spec, err)
	}
	return data, nil
}

func (g *GitHub) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// mapError converts go-github errors into the errors package taxonomy.
func (g *GitHub) mapError(spec pathspec.PathSpec, resp *github.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &perrors.RateLimitError{
			Service:    g.Name(),
			RetryAfter: time.Until(rle.Rate.Reset.Time),
			Limit:      rle.Rate.Limit,
			Remaining:  rle.Rate.Remaining,
		}
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return &perrors.RateLimitError{Service: g.Name(), RetryAfter: abuse.GetRetryAfter()}
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return g.statusError(spec, er.Response, er.Message)
	}

	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return g.statusError(spec, resp.Response, err.Error())
	}

	g.logger.Debug("github request failed", "spec", spec.String(), "error", err)
	return fmt.Errorf("github get %s: %w", spec, err)
}

func (g *GitHub) statusError(spec pathspec.PathSpec, resp *http.Response, msg string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &perrors.NotFoundError{Spec: spec.String(), Source: g.Name()}
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return &perrors.RateLimitError{
			Service:    g.Name(),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	endpoint := ""
	if resp.Request != nil && resp.Request.URL != nil {
		endpoint = resp.Request.URL.Path
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &perrors.APIError{
		Service:    g.Name(),
		StatusCode: resp.StatusCode,
		Message:    msg,
		Endpoint:   endpoint,
		RequestID:  resp.Header.Get("X-GitHub-Request-Id"),
	}
}

func entryFromContent(c *github.RepositoryContent) Entry {
	return Entry{
		Name: c.GetName(),
		Path: c.GetPath(),
		Dir:  c.GetType() == "dir",
		Size: int64(c.GetSize()),
		SHA:  c.GetSHA(),
	}
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
