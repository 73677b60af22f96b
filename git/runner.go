package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner executes git commands.
type CommandRunner interface {
	// Run runs git with args in dir and returns its stdout.
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// ExecRunner runs the git binary.
type ExecRunner struct {
	// Binary is the git executable. Empty means "git" from PATH.
	Binary string
}

// NewExecRunner creates an ExecRunner using git from PATH.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Binary: "git"}
}

// Run implements CommandRunner. A non-zero exit returns an *Error carrying
// stderr.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{
			Op:     "git " + firstArg(args),
			Cmd:    "git " + strings.Join(args, " "),
			Output: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

func firstArg(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// MockRunner returns scripted output keyed by the joined argument list.
// Commands without a scripted response fail.
type MockRunner struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	calls     [][]string
}

type mockResponse struct {
	out []byte
	err error
}

// NewMockRunner creates an empty MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{responses: make(map[string]mockResponse)}
}

// On scripts the response for a command.
func (m *MockRunner) On(out string, err error, args ...string) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[strings.Join(args, " ")] = mockResponse{out: []byte(out), err: err}
	return m
}

// Run implements CommandRunner.
func (m *MockRunner) Run(ctx context.Context, _ string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), args...))

	resp, ok := m.responses[strings.Join(args, " ")]
	if !ok {
		return nil, &Error{Op: "git " + firstArg(args), Cmd: "git " + strings.Join(args, " "), Err: fmt.Errorf("unexpected command")}
	}
	return resp.out, resp.err
}

// Calls returns the argument lists of every command run so far.
func (m *MockRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}
