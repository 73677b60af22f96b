// Package budget enforces file, byte and token limits on one resolution.
//
// A Manager is created per batch and moves through the states
//
//	Accepting -> Warning -> Aborting   (Strict mode, hard limit hit)
//	Accepting -> Warning -> Closed     (Progressive mode, hard limit hit)
//	any non-terminal     -> Closed     (Finish)
//
// In Progressive mode the item whose admission crosses the byte or token
// limit is still admitted and the manager closes right after it, so the
// overshoot is at most one item. Exceeding the file count is never
// admitted. A Strict manager that aborted stays Aborting after Finish.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/promptarena/filetype"
)

// Mode selects what happens when a hard limit is reached.
type Mode int

const (
	// Progressive stops admitting new items and keeps what was admitted.
	Progressive Mode = iota

	// Strict aborts the batch.
	Strict
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "progressive"
}

// ParseMode parses "strict" or "progressive" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return Strict, nil
	case "progressive", "":
		return Progressive, nil
	default:
		return Progressive, fmt.Errorf("unknown budget mode %q", s)
	}
}

// State is a budget state.
type State int

const (
	Accepting State = iota
	Warning
	Aborting
	Closed
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Warning:
		return "warning"
	case Aborting:
		return "aborting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision is the outcome of an admission request.
type Decision int

const (
	Accept Decision = iota
	SkipSize
	SkipType
	Abort
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case SkipSize:
		return "skip_size"
	case SkipType:
		return "skip_type"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Default values for Limits fields left at zero.
const (
	DefaultWarnRatio     = 0.8
	DefaultBytesPerToken = 4
)

// Limits are the hard limits of one batch. Zero MaxFiles, MaxTotalBytes
// or MaxTokens means that dimension is unlimited.
type Limits struct {
	MaxFiles      int
	MaxTotalBytes int64
	MaxTokens     int64
	Mode          Mode

	// WarnRatio is the fraction of MaxTotalBytes or MaxTokens that moves
	// the manager to Warning. Zero means DefaultWarnRatio.
	WarnRatio float64

	// BytesPerToken is the token estimate divisor. Zero means
	// DefaultBytesPerToken.
	BytesPerToken int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      50,
		MaxTotalBytes: 500 * 1024,
		Mode:          Progressive,
		WarnRatio:     DefaultWarnRatio,
		BytesPerToken: DefaultBytesPerToken,
	}
}

func (l Limits) withDefaults() Limits {
	if l.WarnRatio <= 0 || l.WarnRatio > 1 {
		l.WarnRatio = DefaultWarnRatio
	}
	if l.BytesPerToken <= 0 {
		l.BytesPerToken = DefaultBytesPerToken
	}
	return l
}

// EstimateTokens approximates the token count of size bytes, rounding up.
func EstimateTokens(size int64, bytesPerToken int) int64 {
	if size <= 0 {
		return 0
	}
	if bytesPerToken <= 0 {
		bytesPerToken = DefaultBytesPerToken
	}
	bpt := int64(bytesPerToken)
	return (size + bpt - 1) / bpt
}

// Item is a candidate for admission.
type Item struct {
	Name string
	Type filetype.SemanticType
	Size int64
}

// Verdict is the result of Admit.
type Verdict struct {
	Decision Decision

	// Reason explains any decision other than Accept.
	Reason string

	// Warning is set for items admitted while in Warning state.
	Warning string

	// State is the manager state after the decision.
	State State
}

// Usage is the running total of admitted items.
type Usage struct {
	Files  int
	Bytes  int64
	Tokens int64
}

// Transition records one state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// OnAbort registers fn to be called once when the manager enters Aborting.
// fn runs with the manager locked and must not call back into it.
func OnAbort(fn func()) Option {
	return func(m *Manager) { m.onAbort = fn }
}

// OnClose registers fn to be called once when a hard limit closes a
// Progressive manager. It is not called by Finish.
func OnClose(fn func()) Option {
	return func(m *Manager) { m.onClose = fn }
}

// WithClock sets the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager tracks usage against Limits. It is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	limits      Limits
	state       State
	usage       Usage
	transitions []Transition

	logger  *slog.Logger
	now     func() time.Time
	onAbort func()
	onClose func()
}

// New creates a Manager in Accepting state.
func New(limits Limits, opts ...Option) *Manager {
	m := &Manager{
		limits: limits.withDefaults(),
		state:  Accepting,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the limits with defaults applied.
func (m *Manager) Limits() Limits { return m.limits }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Usage returns the admitted totals.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Transitions returns the state changes so far, oldest first.
func (m *Manager) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.transitions...)
}

// Check reports the decision Admit would make for an item whose size or
// type alone rules it out, without changing any state. It returns Accept
// when the item would need to go through Admit. Callers use it to skip
// fetching items that cannot be admitted.
func (m *Manager) Check(item Item) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, done := m.precheckLocked(item); done {
		return v
	}
	return Verdict{Decision: Accept, State: m.state}
}

// Admit decides whether item enters the batch and updates usage for
// accepted items.
func (m *Manager) Admit(item Item) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, done := m.precheckLocked(item); done {
		return v
	}

	l := m.limits
	if l.MaxFiles > 0 && m.usage.Files+1 > l.MaxFiles {
		return m.breachLocked(fmt.Sprintf("max_files %d reached", l.MaxFiles), nil)
	}

	tokens := EstimateTokens(item.Size, l.BytesPerToken)
	nextBytes := m.usage.Bytes + item.Size
	nextTokens := m.usage.Tokens + tokens

	var over string
	switch {
	case l.MaxTotalBytes > 0 && nextBytes > l.MaxTotalBytes:
		over = fmt.Sprintf("max_total_bytes %d exceeded", l.MaxTotalBytes)
	case l.MaxTokens > 0 && nextTokens > l.MaxTokens:
		over = fmt.Sprintf("max_tokens %d exceeded", l.MaxTokens)
	}
	if over != "" {
		return m.breachLocked(over, &Usage{Files: 1, Bytes: item.Size, Tokens: tokens})
	}

	m.usage.Files++
	m.usage.Bytes = nextBytes
	m.usage.Tokens = nextTokens

	v := Verdict{Decision: Accept}
	if m.state == Accepting && m.pastWarnLocked() {
		m.transitionLocked(Warning, fmt.Sprintf("usage above %.0f%% of limit", l.WarnRatio*100))
	}
	if m.state == Warning {
		v.Warning = m.warningLocked()
	}
	v.State = m.state
	return v
}

// Finish ends the batch and returns the terminal state: Aborting if the
// batch aborted, Closed otherwise.
func (m *Manager) Finish() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Accepting || m.state == Warning {
		m.transitionLocked(Closed, "batch finished")
	}
	return m.state
}

func (m *Manager) precheckLocked(item Item) (Verdict, bool) {
	switch m.state {
	case Aborting:
		return Verdict{Decision: Abort, Reason: "budget aborted", State: m.state}, true
	case Closed:
		return Verdict{Decision: SkipSize, Reason: "budget closed", State: m.state}, true
	}

	if !item.Type.Loadable() {
		return Verdict{Decision: SkipType, Reason: item.Type.String() + " content is not loaded", State: m.state}, true
	}

	l := m.limits
	if l.MaxTotalBytes > 0 && item.Size > l.MaxTotalBytes {
		return Verdict{
			Decision: SkipSize,
			Reason:   fmt.Sprintf("%d bytes exceeds max_total_bytes %d", item.Size, l.MaxTotalBytes),
			State:    m.state,
		}, true
	}
	if tokens := EstimateTokens(item.Size, l.BytesPerToken); l.MaxTokens > 0 && tokens > l.MaxTokens {
		return Verdict{
			Decision: SkipSize,
			Reason:   fmt.Sprintf("~%d tokens exceeds max_tokens %d", tokens, l.MaxTokens),
			State:    m.state,
		}, true
	}
	return Verdict{}, false
}

// breachLocked handles a hard-limit breach. A non-nil add is the usage of
// the breaching item, which Progressive mode admits before closing.
func (m *Manager) breachLocked(reason string, add *Usage) Verdict {
	if m.limits.Mode == Strict {
		m.transitionLocked(Aborting, reason)
		if m.onAbort != nil {
			m.onAbort()
		}
		return Verdict{Decision: Abort, Reason: reason, State: m.state}
	}

	v := Verdict{Decision: SkipSize, Reason: "budget closed: " + reason}
	if add != nil {
		// Already fetched; keep it and stop here.
		m.usage.Files += add.Files
		m.usage.Bytes += add.Bytes
		m.usage.Tokens += add.Tokens
		v = Verdict{Decision: Accept, Warning: "budget closed after this item: " + reason}
	}
	m.transitionLocked(Closed, reason)
	if m.onClose != nil {
		m.onClose()
	}
	v.State = m.state
	return v
}

func (m *Manager) pastWarnLocked() bool {
	l := m.limits
	if l.MaxTotalBytes > 0 && float64(m.usage.Bytes) >= float64(l.MaxTotalBytes)*l.WarnRatio {
		return true
	}
	return l.MaxTokens > 0 && float64(m.usage.Tokens) >= float64(l.MaxTokens)*l.WarnRatio
}

func (m *Manager) warningLocked() string {
	l := m.limits
	switch {
	case l.MaxTotalBytes > 0 && l.MaxTokens > 0:
		return fmt.Sprintf("budget at %d/%d bytes, ~%d/%d tokens", m.usage.Bytes, l.MaxTotalBytes, m.usage.Tokens, l.MaxTokens)
	case l.MaxTotalBytes > 0:
		return fmt.Sprintf("budget at %d/%d bytes", m.usage.Bytes, l.MaxTotalBytes)
	default:
		return fmt.Sprintf("budget at ~%d/%d tokens", m.usage.Tokens, l.MaxTokens)
	}
}

func (m *Manager) transitionLocked(to State, reason string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.transitions = append(m.transitions, Transition{From: from, To: to, Reason: reason, At: m.now()})

	level := slog.LevelInfo
	if to == Aborting || (to == Closed && reason != "batch finished") {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, "budget state changed",
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
		"files", m.usage.Files,
		"bytes", m.usage.Bytes,
		"tokens", m.usage.Tokens,
	)
}
