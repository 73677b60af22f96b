// Package fetch reads path specs into bytes or directory listings.
//
// A Fetcher routes local specs to a rooted filesystem source and remote specs
// to a repository API source. File content goes through the shared cache:
// local entries are keyed by spec and file revision, so an edited file is a
// new key, and remote entries are keyed by spec (ref included). Transient
// failures are retried; a fetch that runs out of retries fails with an
// *errors.FetchError carrying the last cause and the attempt count.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/randalmurphal/promptarena/cache"
	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
	"github.com/randalmurphal/promptarena/retry"
	"github.com/randalmurphal/promptarena/source"
)

// DefaultTimeout bounds one Fetch call, retries included.
const DefaultTimeout = 10 * time.Second

// DefaultMaxFilesPerDirectory bounds a directory listing.
const DefaultMaxFilesPerDirectory = 100

// Options control one Fetch call.
type Options struct {
	// Retry is the retry policy. Zero fields take retry defaults.
	Retry retry.Policy

	// Timeout bounds the call including retries. Zero means DefaultTimeout.
	Timeout time.Duration

	// SizeHint is the size reported by a parent listing, if known. It lets
	// oversized remote files fail before any transfer.
	SizeHint int64

	// MaxBytes rejects files larger than this with a SizeLimitError. Zero
	// disables the check.
	MaxBytes int64

	// MaxFiles bounds the children returned for a directory. Zero means
	// DefaultMaxFilesPerDirectory.
	MaxFiles int

	// Include keeps only files whose path matches one of the patterns.
	// Directories are never dropped by Include.
	Include []*regexp.Regexp

	// Exclude drops files and directories whose path matches a pattern.
	Exclude []*regexp.Regexp

	// TTL is the cache lifetime of stored content. Zero is the cache default.
	TTL time.Duration
}

// Child is one directory entry in a Result.
type Child struct {
	Spec pathspec.PathSpec
	Dir  bool
	Size int64
}

// Result is the outcome of a successful Fetch.
type Result struct {
	Spec pathspec.PathSpec

	// Content is the file content. It is shared with the cache and must
	// not be modified.
	Content []byte
	Size    int64
	Digest  cache.Digest

	// Dir is set for directories; Children then lists the kept entries.
	Dir      bool
	Children []Child

	// Filtered counts entries dropped by Include and Exclude. Truncated
	// counts entries dropped by MaxFiles.
	Filtered  int
	Truncated int

	// Attempts is the number of source reads made; zero for a cache hit.
	Attempts int
	CacheHit bool
	Revision string
}

// Retries returns the number of retried attempts.
func (r *Result) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Config configures a Fetcher.
type Config struct {
	// Local reads local specs. Nil rejects local specs.
	Local source.Source

	// Remote reads owner/repo specs. Nil rejects remote specs.
	Remote source.Source

	// Cache stores file content. Nil disables caching.
	Cache *cache.Cache

	// Defaults fill zero fields of per-call Options.
	Defaults Options

	Logger *slog.Logger
}

// Fetcher reads specs through a cache. It is safe for concurrent use.
type Fetcher struct {
	local    source.Source
	remote   source.Source
	cache    *cache.Cache
	defaults Options
	logger   *slog.Logger
}

// revisioner is implemented by sources that can report a file revision
// without reading it.
type revisioner interface {
	Revision(spec pathspec.PathSpec) (string, error)
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		local:    cfg.Local,
		remote:   cfg.Remote,
		cache:    cfg.Cache,
		defaults: cfg.Defaults,
		logger:   logger,
	}
}

// Cache returns the cache used by f, or nil.
func (f *Fetcher) Cache() *cache.Cache { return f.cache }

// Fetch reads spec. A directory yields its children rather than content.
func (f *Fetcher) Fetch(ctx context.Context, spec pathspec.PathSpec, opts Options) (*Result, error) {
	opts = f.merge(opts)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	src, err := f.route(spec)
	if err != nil {
		return nil, err
	}

	key, rev, err := f.cacheKey(spec, src)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		if e, ok := f.cache.Get(key); ok {
			return &Result{
				Spec:     spec,
				Content:  e.Content,
				Size:     e.Size,
				Digest:   e.Digest,
				CacheHit: true,
				Revision: rev,
			}, nil
		}
	}

	if err := f.checkSize(ctx, spec, src, opts); err != nil {
		return nil, err
	}

	policy := opts.Retry
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.logger.Debug("retrying fetch",
			"spec", spec.String(),
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if userOnRetry != nil {
			userOnRetry(attempt, err, wait)
		}
	}

	var obj *source.Object
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var getErr error
		obj, getErr = src.Get(ctx, spec)
		return getErr
	})
	if err != nil {
		return nil, f.wrap(spec, attempts, err)
	}

	if obj.Dir {
		return f.directory(spec, obj, attempts, opts), nil
	}

	size := int64(len(obj.Content))
	if opts.MaxBytes > 0 && size > opts.MaxBytes {
		return nil, &perrors.SizeLimitError{Spec: spec.String(), Size: size, Limit: opts.MaxBytes}
	}

	// A local file without a revision has no key that tracks edits.
	cacheable := f.cache != nil && (!spec.IsLocal() || rev != "")
	switch {
	case rev == "":
		rev = obj.Revision
	case obj.Revision != "" && obj.Revision != rev:
		// Changed between the revision check and the read. Store it under
		// the revision actually read.
		rev = obj.Revision
		key = revisionKey(spec, rev)
	}
	res := &Result{
		Spec:     spec,
		Content:  obj.Content,
		Size:     size,
		Attempts: attempts,
		Revision: rev,
	}
	if cacheable {
		e := f.cache.Put(key, obj.Content, opts.TTL)
		res.Content = e.Content
		res.Digest = e.Digest
	} else {
		res.Digest = cache.Sum(obj.Content)
	}
	return res, nil
}

// Stat returns metadata for spec without reading content where the source
// allows it, and the number of source calls made.
func (f *Fetcher) Stat(ctx context.Context, spec pathspec.PathSpec, opts Options) (*source.Entry, int, error) {
	opts = f.merge(opts)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	src, err := f.route(spec)
	if err != nil {
		return nil, 0, err
	}

	var entry *source.Entry
	attempts, err := retry.Do(ctx, opts.Retry, func(ctx context.Context) error {
		var statErr error
		entry, statErr = src.Stat(ctx, spec)
		return statErr
	})
	if err != nil {
		return nil, attempts, f.wrap(spec, attempts, err)
	}
	return entry, attempts, nil
}

func (f *Fetcher) route(spec pathspec.PathSpec) (source.Source, error) {
	if spec.IsLocal() {
		if f.local == nil {
			return nil, &perrors.InvalidPathError{Input: spec.String(), Reason: "no local root configured"}
		}
		return f.local, nil
	}
	if f.remote == nil {
		return nil, &perrors.InvalidPathError{Input: spec.String(), Reason: "no remote source configured"}
	}
	return f.remote, nil
}

// cacheKey returns the cache key and, for local files, the revision folded
// into it.
func (f *Fetcher) cacheKey(spec pathspec.PathSpec, src source.Source) (string, string, error) {
	if !spec.IsLocal() {
		return spec.Key(), "", nil
	}
	r, ok := src.(revisioner)
	if !ok {
		return spec.Key(), "", nil
	}
	rev, err := r.Revision(spec)
	if err != nil {
		return "", "", err
	}
	return revisionKey(spec, rev), rev, nil
}

func revisionKey(spec pathspec.PathSpec, rev string) string {
	return spec.Key() + "#" + rev
}

func (f *Fetcher) checkSize(ctx context.Context, spec pathspec.PathSpec, src source.Source, opts Options) error {
	if opts.MaxBytes <= 0 {
		return nil
	}
	size := opts.SizeHint
	if size == 0 && spec.IsLocal() {
		entry, err := src.Stat(ctx, spec)
		if err != nil {
			return err
		}
		size = entry.Size
	}
	if size > opts.MaxBytes {
		return &perrors.SizeLimitError{Spec: spec.String(), Size: size, Limit: opts.MaxBytes}
	}
	return nil
}

func (f *Fetcher) directory(spec pathspec.PathSpec, obj *source.Object, attempts int, opts Options) *Result {
	entries := append([]source.Entry(nil), obj.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	res := &Result{Spec: spec, Dir: true, Attempts: attempts, Revision: obj.Revision}
	for _, e := range entries {
		if !keep(e, opts) {
			res.Filtered++
			continue
		}
		if len(res.Children) >= opts.MaxFiles {
			res.Truncated++
			continue
		}
		child := spec.Join(e.Name)
		if e.Path != "" {
			child = spec.WithPath(e.Path)
		}
		res.Children = append(res.Children, Child{Spec: child, Dir: e.Dir, Size: e.Size})
	}
	if res.Truncated > 0 {
		f.logger.Debug("directory listing truncated",
			"spec", spec.String(),
			"kept", len(res.Children),
			"dropped", res.Truncated,
		)
	}
	return res
}

func keep(e source.Entry, opts Options) bool {
	p := e.Path
	if p == "" {
		p = e.Name
	}
	for _, re := range opts.Exclude {
		if re.MatchString(p) {
			return false
		}
	}
	if e.Dir || len(opts.Include) == 0 {
		return true
	}
	for _, re := range opts.Include {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// wrap turns an exhausted transient failure into a FetchError. Permanent
// errors and cancellation pass through.
func (f *Fetcher) wrap(spec pathspec.PathSpec, attempts int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("fetch %s: %w", spec, err)
	}
	if perrors.IsRetryable(err) {
		return &perrors.FetchError{Spec: spec.String(), Cause: err, Attempts: attempts}
	}
	return err
}

func (f *Fetcher) merge(opts Options) Options {
	d := f.defaults
	if opts.Retry.MaxRetries == 0 {
		opts.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if opts.Retry.BaseDelay == 0 {
		opts.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if opts.Retry.MaxDelay == 0 {
		opts.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if opts.Retry.Jitter == 0 {
		opts.Retry.Jitter = d.Retry.Jitter
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = d.Retry.Retryable
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = d.Retry.OnRetry
	}
	if opts.Timeout == 0 {
		opts.Timeout = d.Timeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = d.MaxBytes
	}
	if opts.MaxFiles == 0 {
		opts.MaxFiles = d.MaxFiles
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFilesPerDirectory
	}
	if opts.Include == nil {
		opts.Include = d.Include
	}
	if opts.Exclude == nil {
		opts.Exclude = d.Exclude
	}
	if opts.TTL == 0 {
		opts.TTL = d.TTL
	}
	return opts
}
