package budget

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/promptarena/filetype"
)

func text(name string, size int64) Item {
	return Item{Name: name, Type: filetype.Text, Size: size}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		size int64
		bpt  int
		want int64
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{400, 4, 100},
		{10, 0, 3},
		{9, 3, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.size, tt.bpt), func(t *testing.T) {
			if got := EstimateTokens(tt.size, tt.bpt); got != tt.want {
				t.Errorf("EstimateTokens(%d, %d) = %d, want %d", tt.size, tt.bpt, got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"strict", Strict, false},
		{"STRICT", Strict, false},
		{"progressive", Progressive, false},
		{"", Progressive, false},
		{"lenient", Progressive, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAdmit_SkipType(t *testing.T) {
	m := New(Limits{MaxFiles: 10})

	for _, typ := range []filetype.SemanticType{filetype.Binary, filetype.Sensitive} {
		v := m.Admit(Item{Name: "x", Type: typ, Size: 100})
		assert.Equal(t, SkipType, v.Decision, typ.String())
	}
	assert.Equal(t, Usage{}, m.Usage(), "skipped types cost nothing")
	assert.Equal(t, Accepting, m.State())
}

func TestAdmit_SingleItemTooLarge(t *testing.T) {
	m := New(Limits{MaxTotalBytes: 100, Mode: Strict})

	v := m.Admit(text("big.txt", 101))
	assert.Equal(t, SkipSize, v.Decision)
	assert.Equal(t, Accepting, m.State(), "an oversized single item does not abort")

	v = m.Admit(text("small.txt", 40))
	assert.Equal(t, Accept, v.Decision)
}

func TestAdmit_SingleItemTooManyTokens(t *testing.T) {
	m := New(Limits{MaxTokens: 10, BytesPerToken: 4})

	v := m.Admit(text("a.txt", 41))
	assert.Equal(t, SkipSize, v.Decision)
	assert.Contains(t, v.Reason, "max_tokens")
}

func TestAdmit_StrictAborts(t *testing.T) {
	aborted := 0
	m := New(Limits{MaxTotalBytes: 100, Mode: Strict}, OnAbort(func() { aborted++ }))

	assert.Equal(t, Accept, m.Admit(text("a", 60)).Decision)
	v := m.Admit(text("b", 60))
	assert.Equal(t, Abort, v.Decision)
	assert.Equal(t, Aborting, v.State)

	// Anything after the abort is refused, whatever its size or type.
	assert.Equal(t, Abort, m.Admit(text("c", 1)).Decision)
	assert.Equal(t, Abort, m.Admit(Item{Name: "d", Type: filetype.Binary}).Decision)

	assert.Equal(t, int64(60), m.Usage().Bytes)
	assert.Equal(t, 1, aborted)
	assert.Equal(t, Aborting, m.Finish(), "strict abort is terminal")
}

func TestAdmit_ProgressiveClosesAfterOvershoot(t *testing.T) {
	closed := 0
	m := New(Limits{MaxTotalBytes: 100}, OnClose(func() { closed++ }))

	assert.Equal(t, Accept, m.Admit(text("a", 60)).Decision)

	v := m.Admit(text("b", 60))
	assert.Equal(t, Accept, v.Decision, "the crossing item is kept")
	assert.NotEmpty(t, v.Warning)
	assert.Equal(t, Closed, v.State)

	v = m.Admit(text("c", 1))
	assert.Equal(t, SkipSize, v.Decision)
	assert.Equal(t, "budget closed", v.Reason)

	u := m.Usage()
	assert.Equal(t, 2, u.Files)
	assert.Equal(t, int64(120), u.Bytes)
	assert.LessOrEqual(t, u.Bytes, int64(100)+60, "overshoot bounded by one item")
	assert.Equal(t, 1, closed)
	assert.Equal(t, Closed, m.Finish())
}

func TestAdmit_MaxFiles(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		wantLast  Decision
		wantState State
	}{
		{"progressive", Progressive, SkipSize, Closed},
		{"strict", Strict, Abort, Aborting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Limits{MaxFiles: 2, Mode: tt.mode})
			assert.Equal(t, Accept, m.Admit(text("a", 1)).Decision)
			assert.Equal(t, Accept, m.Admit(text("b", 1)).Decision)

			v := m.Admit(text("c", 1))
			assert.Equal(t, tt.wantLast, v.Decision)
			assert.Equal(t, tt.wantState, m.State())
			assert.Equal(t, 2, m.Usage().Files, "a file-count breach is never admitted")
		})
	}
}

func TestAdmit_WarningThreshold(t *testing.T) {
	m := New(Limits{MaxTotalBytes: 100, WarnRatio: 0.5})

	v := m.Admit(text("a", 40))
	assert.Empty(t, v.Warning)
	assert.Equal(t, Accepting, v.State)

	v = m.Admit(text("b", 20))
	assert.Equal(t, Warning, v.State)
	assert.Contains(t, v.Warning, "60/100 bytes")

	v = m.Admit(text("c", 10))
	assert.Equal(t, Accept, v.Decision)
	assert.Contains(t, v.Warning, "70/100 bytes")

	require.Equal(t, Closed, m.Finish())
	tr := m.Transitions()
	require.Len(t, tr, 2)
	assert.Equal(t, Transition{From: Accepting, To: Warning, Reason: tr[0].Reason, At: tr[0].At}, tr[0])
	assert.Equal(t, Warning, tr[1].From)
	assert.Equal(t, Closed, tr[1].To)
}

func TestAdmit_Unlimited(t *testing.T) {
	m := New(Limits{})
	for i := 0; i < 1000; i++ {
		require.Equal(t, Accept, m.Admit(text("f", 1<<20)).Decision)
	}
	assert.Equal(t, Accepting, m.State())
}

func TestCheck_DoesNotChangeState(t *testing.T) {
	m := New(Limits{MaxTotalBytes: 10, Mode: Strict})

	assert.Equal(t, SkipSize, m.Check(text("big", 11)).Decision)
	assert.Equal(t, SkipType, m.Check(Item{Type: filetype.Binary}).Decision)
	assert.Equal(t, Accept, m.Check(text("ok", 10)).Decision)
	assert.Equal(t, Usage{}, m.Usage())
	assert.Empty(t, m.Transitions())
}

func TestAdmit_Concurrent(t *testing.T) {
	const limit = 1000
	m := New(Limits{MaxTotalBytes: limit, Mode: Strict})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Admit(text("f", 30))
		}()
	}
	wg.Wait()

	u := m.Usage()
	assert.LessOrEqual(t, u.Bytes, int64(limit))
	assert.Equal(t, 33, u.Files)
	assert.Equal(t, Aborting, m.State())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "strict", Strict.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "skip_type", SkipType.String())
	assert.Equal(t, "state(9)", State(9).String())
}
