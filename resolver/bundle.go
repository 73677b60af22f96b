package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/randalmurphal/promptarena/budget"
	"github.com/randalmurphal/promptarena/cache"
	"github.com/randalmurphal/promptarena/filetype"
	"github.com/randalmurphal/promptarena/pathspec"
)

// Reason says why an item's content was left out of a bundle.
type Reason string

const (
	ReasonInvalid      Reason = "invalid_path"
	ReasonError        Reason = "error"
	ReasonDuplicate    Reason = "duplicate"
	ReasonSensitive    Reason = "sensitive"
	ReasonType         Reason = "unsupported_type"
	ReasonSize         Reason = "too_large"
	ReasonBudgetClosed Reason = "budget_closed"
	ReasonAborted      Reason = "aborted"
	ReasonMaxDepth     Reason = "max_depth"
	ReasonDeadline     Reason = "deadline_exceeded"
)

// Status is the outcome of a Resolve call as a whole.
type Status string

const (
	StatusComplete         Status = "complete"
	StatusAborted          Status = "aborted"
	StatusDeadlineExceeded Status = "deadline_exceeded"
	StatusCanceled         Status = "canceled"
	StatusFailed           Status = "failed"
)

// Item is one entry of a bundle: an admitted file with content, or a file
// or directory whose content was omitted.
type Item struct {
	// Input is the spec string this item came from. Files discovered in a
	// directory carry the directory's input.
	Input string

	Spec  pathspec.PathSpec
	Depth int
	Dir   bool

	// Type is the semantic type used for admission. Hint has the full
	// classification.
	Type filetype.SemanticType
	MIME string
	Hint filetype.Hint

	Size    int64
	Content []byte
	Digest  cache.Digest

	// Omitted is empty for admitted items.
	Omitted Reason
	Detail  string

	// Warning is set for items admitted past the budget warning threshold.
	Warning string

	// Err is the failure for ReasonInvalid and ReasonError items.
	Err error

	CacheHit bool
}

// Admitted reports whether the item's content is part of the bundle.
func (it Item) Admitted() bool {
	return it.Omitted == "" && it.Err == nil
}

// Name returns the canonical spec, or the raw input for invalid items.
func (it Item) Name() string {
	if it.Omitted == ReasonInvalid {
		return it.Input
	}
	return it.Spec.String()
}

// ItemError is a per-item failure recorded in a SizeReport.
type ItemError struct {
	Spec string
	Err  error
}

func (e ItemError) Error() string {
	return e.Spec + ": " + e.Err.Error()
}

func (e ItemError) Unwrap() error { return e.Err }

// SizeReport summarizes a bundle.
type SizeReport struct {
	// TotalFiles and TotalBytes count admitted items.
	TotalFiles      int
	TotalBytes      int64
	EstimatedTokens int64

	// Skipped counts items omitted for type, size, budget, depth or
	// deadline. Duplicates and errors are counted separately.
	Skipped    int
	Duplicates int
	Errors     []ItemError

	// ByType counts admitted items per semantic type.
	ByType map[filetype.SemanticType]int

	// Filtered and Truncated count directory entries dropped by patterns
	// and by the per-directory limit.
	Filtered  int
	Truncated int

	CacheHits int
	Fetches   int
	Shared    int
	Retries   int

	Status      Status
	State       budget.State
	Transitions []budget.Transition
	Warnings    []string
	Elapsed     time.Duration
}

// String returns a one-line human-readable summary.
func (r SizeReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files, %s (~%s tokens)",
		r.TotalFiles, humanize.Bytes(uint64(max(r.TotalBytes, 0))), humanize.Comma(r.EstimatedTokens))
	fmt.Fprintf(&b, "; %d skipped, %d duplicates, %d errors", r.Skipped, r.Duplicates, len(r.Errors))
	fmt.Fprintf(&b, "; %d fetches, %d cache hits, %d retries", r.Fetches, r.CacheHits, r.Retries)
	fmt.Fprintf(&b, "; budget %s, %s in %s", r.State, r.Status, r.Elapsed.Round(time.Millisecond))
	return b.String()
}

// Bundle is the result of one Resolve call. Items are in input order, with
// each expanded directory replaced by its entries in name order.
type Bundle struct {
	RunID  string
	Items  []Item
	Report SizeReport
}

// Admitted returns the admitted items in bundle order.
func (b *Bundle) Admitted() []Item {
	var out []Item
	for _, it := range b.Items {
		if it.Admitted() {
			out = append(out, it)
		}
	}
	return out
}

// Find returns the item whose canonical spec is s, falling back to the
// first item whose input is s.
func (b *Bundle) Find(s string) (Item, bool) {
	for _, it := range b.Items {
		if it.Omitted != ReasonInvalid && it.Spec.String() == s {
			return it, true
		}
	}
	for _, it := range b.Items {
		if it.Input == s {
			return it, true
		}
	}
	return Item{}, false
}
