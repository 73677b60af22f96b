package source

import (
	"context"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
)

// MockSource is a mock implementation of Source for testing.
type MockSource struct {
	NameValue string
	GetFunc   func(ctx context.Context, spec pathspec.PathSpec) (*Object, error)
	StatFunc  func(ctx context.Context, spec pathspec.PathSpec) (*Entry, error)
}

// Name implements Source.
func (m *MockSource) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

// Get implements Source.
func (m *MockSource) Get(ctx context.Context, spec pathspec.PathSpec) (*Object, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, spec)
	}
	return nil, &perrors.NotFoundError{Spec: spec.String(), Source: m.Name()}
}

// Stat implements Source.
func (m *MockSource) Stat(ctx context.Context, spec pathspec.PathSpec) (*Entry, error) {
	if m.StatFunc != nil {
		return m.StatFunc(ctx, spec)
	}
	obj, err := m.Get(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &Entry{Name: spec.Base(), Path: spec.Path, Dir: obj.Dir, Size: obj.Size}, nil
}
