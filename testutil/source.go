package testutil

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
	"github.com/randalmurphal/promptarena/source"
)

// FakeSource is an in-memory Source with per-path latency, call counting
// and failure injection. Files are addressed by their path inside the
// repository; owner, repo and ref are ignored. Directories are implied by
// file paths.
type FakeSource struct {
	name string

	mu       sync.Mutex
	files    map[string][]byte
	latency  map[string]time.Duration
	delay    time.Duration
	failures map[string][]error
	statErrs map[string][]error
	gets     map[string]int
	stats    map[string]int
	total    int
}

// NewFakeSource creates an empty FakeSource reporting name.
func NewFakeSource(name string) *FakeSource {
	return &FakeSource{
		name:     name,
		files:    make(map[string][]byte),
		latency:  make(map[string]time.Duration),
		failures: make(map[string][]error),
		statErrs: make(map[string][]error),
		gets:     make(map[string]int),
		stats:    make(map[string]int),
	}
}

// AddFile stores content at p.
func (f *FakeSource) AddFile(p string, content []byte) *FakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = append([]byte(nil), content...)
	return f
}

// AddText stores a text file at p.
func (f *FakeSource) AddText(p, content string) *FakeSource {
	return f.AddFile(p, []byte(content))
}

// SetLatency makes every Get of p take d.
func (f *FakeSource) SetLatency(p string, d time.Duration) *FakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency[p] = d
	return f
}

// SetDelay makes every Get take at least d.
func (f *FakeSource) SetDelay(d time.Duration) *FakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// FailNext makes the next len(errs) Gets of p fail with errs in order.
func (f *FakeSource) FailNext(p string, errs ...error) *FakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[p] = append(f.failures[p], errs...)
	return f
}

// FailNextStat makes the next len(errs) Stats of p fail with errs in order.
func (f *FakeSource) FailNextStat(p string, errs ...error) *FakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statErrs[p] = append(f.statErrs[p], errs...)
	return f
}

// Gets returns the number of Get calls for p.
func (f *FakeSource) Gets(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[p]
}

// Stats returns the number of Stat calls for p.
func (f *FakeSource) Stats(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[p]
}

// TotalGets returns the number of Get calls for all paths.
func (f *FakeSource) TotalGets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// Name implements source.Source.
func (f *FakeSource) Name() string { return f.name }

// Get implements source.Source.
func (f *FakeSource) Get(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
	p := spec.Path

	f.mu.Lock()
	f.gets[p]++
	f.total++
	wait := f.delay + f.latency[p]
	var injected error
	if errs := f.failures[p]; len(errs) > 0 {
		injected = errs[0]
		f.failures[p] = errs[1:]
	}
	f.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if injected != nil {
		return nil, injected
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if content, ok := f.files[p]; ok {
		return &source.Object{
			Content:  append([]byte(nil), content...),
			Size:     int64(len(content)),
			Revision: "rev-" + p,
		}, nil
	}
	if entries := f.listLocked(p); len(entries) > 0 {
		return &source.Object{Dir: true, Entries: entries}, nil
	}
	return nil, &perrors.NotFoundError{Spec: spec.String(), Source: f.name}
}

// Stat implements source.Source.
func (f *FakeSource) Stat(ctx context.Context, spec pathspec.PathSpec) (*source.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := spec.Path

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[p]++
	if errs := f.statErrs[p]; len(errs) > 0 {
		f.statErrs[p] = errs[1:]
		return nil, errs[0]
	}

	if content, ok := f.files[p]; ok {
		return &source.Entry{Name: path.Base(p), Path: p, Size: int64(len(content))}, nil
	}
	if len(f.listLocked(p)) > 0 {
		return &source.Entry{Name: path.Base(p), Path: p, Dir: true}, nil
	}
	return nil, &perrors.NotFoundError{Spec: spec.String(), Source: f.name}
}

func (f *FakeSource) listLocked(dir string) []source.Entry {
	prefix := dir + "/"
	if dir == "." || dir == "" {
		prefix = ""
	}

	seen := make(map[string]*source.Entry)
	for p, content := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		childName, _, nested := strings.Cut(rest, "/")
		if _, ok := seen[childName]; ok {
			continue
		}
		e := &source.Entry{Name: childName, Path: prefix + childName, Dir: nested}
		if !nested {
			e.Size = int64(len(content))
		}
		seen[childName] = e
	}

	entries := make([]source.Entry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
