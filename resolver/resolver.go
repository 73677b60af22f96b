// Package resolver turns a list of path specs into a bounded context bundle.
//
// Resolve parses every spec, fetches files and directory listings through
// the shared cache with bounded concurrency, classifies what it fetched and
// asks a per-call budget manager to admit each file. Admission follows
// discovery order (top-level specs first, then each directory level), so
// the same inputs always admit the same files. The bundle keeps input
// order; an expanded directory is replaced by its entries.
//
// Per-item failures never fail the call. They are recorded on the item and
// in the report. Resolve returns an error only when every spec is invalid,
// or on the first failure when FailFast is set; the bundle is returned in
// both cases.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/randalmurphal/promptarena/budget"
	"github.com/randalmurphal/promptarena/cache"
	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/fetch"
	"github.com/randalmurphal/promptarena/filetype"
	"github.com/randalmurphal/promptarena/pathspec"
	"github.com/randalmurphal/promptarena/schedule"
	"github.com/randalmurphal/promptarena/source"
)

// Config configures a Resolver.
type Config struct {
	// Root is the base directory for local specs. Empty means the current
	// directory. Ignored when Local is set. Inside a git working tree,
	// local specs with a ref read committed history.
	Root string

	// Local overrides the local source.
	Local source.Source

	// Remote reads owner/repo specs. Nil rejects them per item.
	Remote source.Source

	// Cache is shared by every Resolve call. Nil creates a private cache.
	Cache *cache.Cache

	// Watch starts a file watcher that drops cached local files when they
	// change. It needs a filesystem root.
	Watch bool

	Logger *slog.Logger
}

// Resolver resolves spec lists. It is safe for concurrent use; concurrent
// calls share the cache and collapse identical in-flight fetches.
type Resolver struct {
	fetcher   *fetch.Fetcher
	cache     *cache.Cache
	ownsCache bool
	flight    schedule.Group
	watcher   *fetch.Watcher
	logger    *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) (*Resolver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	local := cfg.Local
	if local == nil {
		l, err := source.NewLocal(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("local source: %w", err)
		}
		local = source.OpenHistory(context.Background(), l)
	}

	c := cfg.Cache
	owns := c == nil
	if owns {
		c = cache.New(cache.WithLogger(logger))
	}

	r := &Resolver{
		fetcher: fetch.New(fetch.Config{
			Local:  local,
			Remote: cfg.Remote,
			Cache:  c,
			Logger: logger,
		}),
		cache:     c,
		ownsCache: owns,
		logger:    logger,
	}

	if cfg.Watch {
		fs, ok := local.(interface{ Root() string })
		if !ok {
			return nil, fmt.Errorf("watch needs a filesystem root, have %s source", local.Name())
		}
		w, err := fetch.NewWatcher(fs.Root(), c, logger)
		if err != nil {
			return nil, err
		}
		if err := w.Start(); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("start watcher: %w", err)
		}
		r.watcher = w
	}
	return r, nil
}

// Cache returns the cache used by r.
func (r *Resolver) Cache() *cache.Cache { return r.cache }

// Close stops the watcher and closes the cache if r created it.
func (r *Resolver) Close() error {
	var errs []error
	if r.watcher != nil {
		errs = append(errs, r.watcher.Close())
	}
	if r.ownsCache {
		errs = append(errs, r.cache.Close())
	}
	return errors.Join(errs...)
}

// node is one spec being resolved. Workers write a node, then hand it to
// the admission gate; after that only the gate touches it.
type node struct {
	item     Item
	listed   bool // discovered in a listing; Dir and Size are known
	pending  bool // waiting for a budget decision
	expanded bool
	children []*node
}

// run is the state of one Resolve call.
type run struct {
	id      string
	opts    Options
	fopts   fetch.Options
	manager *budget.Manager
	pool    *schedule.Pool
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	fetches   atomic.Int64
	cacheHits atomic.Int64
	shared    atomic.Int64
	retries   atomic.Int64
	filtered  atomic.Int64
	truncated atomic.Int64

	failOnce sync.Once
	failErr  error
}

// Resolve resolves specs into a bundle.
func (r *Resolver) Resolve(ctx context.Context, specs []string, opts Options) (*Bundle, error) {
	start := time.Now()
	opts = opts.withDefaults()

	id, err := nanoid.New()
	if err != nil {
		id = fmt.Sprintf("run-%d", start.UnixNano())
	}
	logger := r.logger.With("run_id", id)

	runCtx, cancel := context.WithCancel(ctx)
	if !opts.Deadline.IsZero() {
		runCtx, cancel = withDeadline(runCtx, cancel, opts.Deadline)
	}
	defer cancel()

	pool := schedule.NewPool(opts.Concurrency)
	ru := &run{
		id:     id,
		opts:   opts,
		fopts:  opts.fetchOptions(),
		pool:   pool,
		logger: logger,
		ctx:    runCtx,
		cancel: cancel,
	}
	ru.manager = budget.New(opts.Limits,
		budget.WithLogger(logger),
		budget.OnAbort(pool.Stop),
		budget.OnClose(pool.Stop),
	)

	logger.Debug("resolving specs", "count", len(specs), "concurrency", opts.Concurrency)

	top := make([]*node, len(specs))
	var valid []*node
	var firstInvalid error
	for i, raw := range specs {
		spec, err := pathspec.Parse(raw)
		if err != nil {
			top[i] = &node{item: Item{Input: raw, Omitted: ReasonInvalid, Err: err, Detail: err.Error()}}
			logger.Warn("invalid path spec", "input", raw, "error", err)
			if firstInvalid == nil {
				firstInvalid = err
			}
			if opts.FailFast {
				ru.fail(err)
				break
			}
			continue
		}
		top[i] = &node{item: Item{Input: raw, Spec: spec}}
		valid = append(valid, top[i])
	}

	if ru.failErr == nil {
		r.walk(ru, valid)
	}

	b := r.assemble(ru, top, start)
	switch {
	case ru.failErr != nil:
		return b, ru.failErr
	case len(specs) > 0 && len(valid) == 0:
		return b, fmt.Errorf("resolve: all %d path specs invalid: %w", len(specs), firstInvalid)
	}
	return b, nil
}

// walk processes nodes level by level until no directory is left to
// expand.
func (r *Resolver) walk(ru *run, level []*node) {
	seen := make(map[string]bool)

	for len(level) > 0 {
		var work []*node
		for _, n := range level {
			key := n.item.Spec.Key()
			if seen[key] {
				n.item.Omitted = ReasonDuplicate
				n.item.Hint = filetype.Classify(n.item.Spec.Path)
				n.item.Type = n.item.Hint.Effective()
				continue
			}
			seen[key] = true
			work = append(work, n)
		}

		g := newGate(ru, work)
		outcomes := schedule.RunAll(ru.ctx, ru.pool, work, func(ctx context.Context, i int, n *node) struct{} {
			r.process(ctx, ru, n)
			g.done(i)
			return struct{}{}
		})
		for i, o := range outcomes {
			if o.Dropped {
				ru.drop(work[i])
			}
		}

		var next []*node
		for _, n := range work {
			next = append(next, n.children...)
		}
		level = next
	}
}

// process fetches and classifies one node. Files are left pending for the
// gate; directories get children or an omission.
func (r *Resolver) process(ctx context.Context, ru *run, n *node) {
	it := &n.item
	it.Hint = filetype.Classify(it.Spec.Path)
	it.Type = it.Hint.Effective()
	if ru.opts.AllowSensitive {
		it.Type = it.Hint.Type
	}
	it.MIME = it.Hint.MIME

	if n.listed && it.Dir {
		r.directory(ctx, ru, n)
		return
	}

	// Sensitive names apply to files only. Sensitive files are never read;
	// the gate records the skip.
	if !it.Type.Loadable() {
		if !n.listed {
			entry, attempts, err := r.fetcher.Stat(ctx, it.Spec, ru.fopts)
			if attempts > 1 {
				ru.retries.Add(int64(attempts - 1))
			}
			if err != nil {
				ru.failed(n, err)
				return
			}
			if entry.Dir {
				it.Dir = true
				r.directory(ctx, ru, n)
				return
			}
			it.Size = entry.Size
		}
		n.pending = true
		return
	}

	if v := ru.manager.Check(budget.Item{Name: it.Spec.Path, Type: it.Type, Size: it.Size}); v.Decision != budget.Accept {
		n.pending = true
		return
	}

	res, err := r.fetch(ctx, ru, n)
	if err != nil {
		var se *perrors.SizeLimitError
		if errors.As(err, &se) {
			it.Size = se.Size
			n.pending = true
			return
		}
		ru.failed(n, err)
		return
	}

	if res.Dir {
		it.Dir = true
		r.expand(ru, n, res)
		return
	}

	it.Hint = filetype.Refine(it.Hint, res.Content)
	if it.Type != filetype.Sensitive {
		it.Type = it.Hint.Type
	}
	it.MIME = it.Hint.MIME
	it.Size = res.Size
	it.Digest = res.Digest
	it.CacheHit = res.CacheHit
	if it.Type.Loadable() {
		it.Content = res.Content
	}
	n.pending = true
}

// directory handles a node already known to be a directory.
func (r *Resolver) directory(ctx context.Context, ru *run, n *node) {
	if n.item.Depth >= ru.opts.MaxDepth {
		n.item.Omitted = ReasonMaxDepth
		return
	}
	res, err := r.fetch(ctx, ru, n)
	if err != nil {
		ru.failed(n, err)
		return
	}
	r.expand(ru, n, res)
}

func (r *Resolver) expand(ru *run, n *node, res *fetch.Result) {
	if n.item.Depth >= ru.opts.MaxDepth || !res.Dir {
		n.item.Omitted = ReasonMaxDepth
		return
	}
	ru.filtered.Add(int64(res.Filtered))
	ru.truncated.Add(int64(res.Truncated))

	n.expanded = true
	n.children = make([]*node, 0, len(res.Children))
	for _, c := range res.Children {
		n.children = append(n.children, &node{
			item: Item{
				Input: n.item.Input,
				Spec:  c.Spec,
				Depth: n.item.Depth + 1,
				Dir:   c.Dir,
				Size:  c.Size,
			},
			listed: true,
		})
	}
}

// fetch reads a node through the shared single-flight group.
func (r *Resolver) fetch(ctx context.Context, ru *run, n *node) (*fetch.Result, error) {
	fopts := ru.fopts
	if n.listed {
		fopts.SizeHint = n.item.Size
	}

	// The group reports every caller of a shared flight as shared, the
	// caller that ran it included. Only that caller counts the fetch.
	leader := false
	res, _, err := schedule.Do(ctx, &r.flight, flightKey(n.item.Spec.Key(), fopts), func(ctx context.Context) (*fetch.Result, error) {
		leader = true
		res, err := r.fetcher.Fetch(ctx, n.item.Spec, fopts)
		if res != nil {
			ru.retries.Add(int64(res.Retries()))
		} else {
			ru.retries.Add(int64(retriesOf(err)))
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !leader:
		ru.shared.Add(1)
	case res.CacheHit:
		ru.cacheHits.Add(1)
	default:
		ru.fetches.Add(1)
	}
	return res, nil
}

// retriesOf returns the retries spent before err, or zero.
func retriesOf(err error) int {
	var fe *perrors.FetchError
	if errors.As(err, &fe) && fe.Attempts > 1 {
		return fe.Attempts - 1
	}
	return 0
}

// failed records a per-item error. Errors caused by the call's own
// deadline or cancellation become omissions instead.
func (ru *run) failed(n *node, err error) {
	if ru.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		n.item.Omitted = ru.cancelReason()
		return
	}
	n.item.Omitted = ReasonError
	n.item.Err = err
	n.item.Detail = err.Error()
	ru.logger.Warn("resolve item failed", "spec", n.item.Spec.String(), "error", err)
	if ru.opts.FailFast {
		ru.fail(fmt.Errorf("resolve %s: %w", n.item.Spec, err))
	}
}

func (ru *run) fail(err error) {
	ru.failOnce.Do(func() {
		ru.failErr = err
		ru.cancel()
	})
}

// drop marks a node that never started.
func (ru *run) drop(n *node) {
	n.item.Hint = filetype.Classify(n.item.Spec.Path)
	n.item.Type = n.item.Hint.Effective()
	switch ru.manager.State() {
	case budget.Aborting:
		n.item.Omitted = ReasonAborted
	case budget.Closed:
		n.item.Omitted = ReasonBudgetClosed
	default:
		n.item.Omitted = ru.cancelReason()
	}
}

func (ru *run) cancelReason() Reason {
	if errors.Is(ru.ctx.Err(), context.DeadlineExceeded) {
		return ReasonDeadline
	}
	return ReasonAborted
}

// admit applies the budget decision to a pending node.
func (ru *run) admit(n *node) {
	if !n.pending {
		return
	}
	n.pending = false
	it := &n.item

	v := ru.manager.Admit(budget.Item{Name: it.Spec.Path, Type: it.Type, Size: it.Size})
	switch v.Decision {
	case budget.Accept:
		it.Warning = v.Warning
		return
	case budget.SkipType:
		it.Omitted = ReasonType
		if it.Type == filetype.Sensitive {
			it.Omitted = ReasonSensitive
		}
	case budget.SkipSize:
		it.Omitted = ReasonSize
		if v.State == budget.Closed {
			it.Omitted = ReasonBudgetClosed
		}
	case budget.Abort:
		it.Omitted = ReasonAborted
	}
	it.Detail = v.Reason
	it.Content = nil
	ru.logger.Debug("item omitted", "spec", it.Spec.String(), "reason", string(it.Omitted), "detail", v.Reason)
}

// gate admits completed nodes in their queue order.
type gate struct {
	mu    sync.Mutex
	run   *run
	nodes []*node
	ready []bool
	next  int
}

func newGate(ru *run, nodes []*node) *gate {
	return &gate{run: ru, nodes: nodes, ready: make([]bool, len(nodes))}
}

func (g *gate) done(i int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready[i] = true
	for g.next < len(g.nodes) && g.ready[g.next] {
		g.run.admit(g.nodes[g.next])
		g.next++
	}
}

// assemble flattens the node tree and builds the report.
func (r *Resolver) assemble(ru *run, top []*node, start time.Time) *Bundle {
	b := &Bundle{RunID: ru.id}
	var flatten func(n *node)
	flatten = func(n *node) {
		if n == nil {
			return
		}
		if n.expanded {
			for _, c := range n.children {
				flatten(c)
			}
			return
		}
		b.Items = append(b.Items, n.item)
	}
	for _, n := range top {
		flatten(n)
	}

	rep := &b.Report
	rep.ByType = make(map[filetype.SemanticType]int)
	seen := make(map[string]bool)
	for _, it := range b.Items {
		switch {
		case it.Admitted():
			rep.TotalFiles++
			rep.TotalBytes += it.Size
			rep.ByType[it.Type]++
			if it.Warning != "" && !seen[it.Warning] {
				seen[it.Warning] = true
				rep.Warnings = append(rep.Warnings, it.Spec.String()+": "+it.Warning)
			}
		case it.Err != nil:
			rep.Errors = append(rep.Errors, ItemError{Spec: it.Name(), Err: it.Err})
		case it.Omitted == ReasonDuplicate:
			rep.Duplicates++
		default:
			rep.Skipped++
		}
	}

	rep.EstimatedTokens = ru.manager.Usage().Tokens
	rep.Filtered = int(ru.filtered.Load())
	rep.Truncated = int(ru.truncated.Load())
	rep.CacheHits = int(ru.cacheHits.Load())
	rep.Fetches = int(ru.fetches.Load())
	rep.Shared = int(ru.shared.Load())
	rep.Retries = int(ru.retries.Load())
	rep.State = ru.manager.Finish()
	rep.Transitions = ru.manager.Transitions()
	rep.Elapsed = time.Since(start)

	switch {
	case ru.failErr != nil:
		rep.Status = StatusFailed
	case rep.State == budget.Aborting:
		rep.Status = StatusAborted
	case errors.Is(ru.ctx.Err(), context.DeadlineExceeded):
		rep.Status = StatusDeadlineExceeded
	case ru.ctx.Err() != nil:
		rep.Status = StatusCanceled
	default:
		rep.Status = StatusComplete
	}

	ru.logger.Info("resolve finished",
		"status", string(rep.Status),
		"files", rep.TotalFiles,
		"bytes", rep.TotalBytes,
		"skipped", rep.Skipped,
		"errors", len(rep.Errors),
		"cache_hits", rep.CacheHits,
		"fetches", rep.Fetches,
		"elapsed", rep.Elapsed,
	)
	return b
}

func withDeadline(ctx context.Context, cancel context.CancelFunc, d time.Time) (context.Context, context.CancelFunc) {
	dctx, dcancel := context.WithDeadline(ctx, d)
	return dctx, func() {
		dcancel()
		cancel()
	}
}
