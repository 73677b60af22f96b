package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
)

func TestTestContext(t *testing.T) {
	ctx := TestContext(t)

	select {
	case <-ctx.Done():
		t.Error("context should not be done yet")
	default:
	}
}

func TestTestContextWithTimeout(t *testing.T) {
	ctx := TestContextWithTimeout(t, 10*time.Millisecond)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("context should have timed out")
	}
}

func TestCancelableContext(t *testing.T) {
	ctx, cancel := CancelableContext(t)
	cancel()

	if ctx.Err() == nil {
		t.Error("context should be canceled")
	}
}

func TestWriteTree(t *testing.T) {
	files := map[string]string{
		"src/main.go":     "package main\n",
		"src/lib/util.go": "package lib\n",
		"config.yaml":     "key: value\n",
	}

	root := WriteTree(t, files)

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestFakeSource_Get(t *testing.T) {
	f := NewFakeSource("fake").
		AddText("docs/a.md", "alpha").
		AddText("docs/img/x.png", "png").
		AddText("README.md", "readme")

	obj, err := f.Get(context.Background(), pathspec.MustParse("o/r:docs/a.md"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(obj.Content) != "alpha" {
		t.Errorf("Content = %q, want %q", obj.Content, "alpha")
	}

	dir, err := f.Get(context.Background(), pathspec.MustParse("o/r:docs"))
	if err != nil {
		t.Fatalf("Get(dir) error = %v", err)
	}
	if !dir.Dir || len(dir.Entries) != 2 {
		t.Fatalf("Get(dir) = %+v, want 2 entries", dir)
	}
	if dir.Entries[0].Name != "a.md" || dir.Entries[0].Size != 5 {
		t.Errorf("Entries[0] = %+v", dir.Entries[0])
	}
	if !dir.Entries[1].Dir || dir.Entries[1].Path != "docs/img" {
		t.Errorf("Entries[1] = %+v", dir.Entries[1])
	}

	_, err = f.Get(context.Background(), pathspec.MustParse("o/r:missing.md"))
	if !perrors.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want not found", err)
	}

	if got := f.Gets("docs/a.md"); got != 1 {
		t.Errorf("Gets(docs/a.md) = %d, want 1", got)
	}
	if got := f.TotalGets(); got != 3 {
		t.Errorf("TotalGets() = %d, want 3", got)
	}
}

func TestFakeSource_FailNext(t *testing.T) {
	boom := errors.New("boom")
	f := NewFakeSource("fake").AddText("a.txt", "a").FailNext("a.txt", boom)
	spec := pathspec.MustParse("a.txt")

	if _, err := f.Get(context.Background(), spec); !errors.Is(err, boom) {
		t.Fatalf("first Get() error = %v, want boom", err)
	}
	if _, err := f.Get(context.Background(), spec); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
}

func TestFakeSource_FailNextStat(t *testing.T) {
	boom := errors.New("boom")
	f := NewFakeSource("fake").AddText("a.txt", "a").FailNextStat("a.txt", boom)
	spec := pathspec.MustParse("a.txt")

	if _, err := f.Stat(context.Background(), spec); !errors.Is(err, boom) {
		t.Fatalf("first Stat() error = %v, want boom", err)
	}
	if _, err := f.Stat(context.Background(), spec); err != nil {
		t.Fatalf("second Stat() error = %v", err)
	}
	if _, err := f.Get(context.Background(), spec); err != nil {
		t.Errorf("Get() error = %v, Stat failures must not affect Get", err)
	}
}

func TestFakeSource_LatencyHonorsContext(t *testing.T) {
	f := NewFakeSource("fake").AddText("slow.txt", "s").SetLatency("slow.txt", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx, pathspec.MustParse("slow.txt"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() error = %v, want deadline exceeded", err)
	}
}

func TestFakeSource_Stat(t *testing.T) {
	f := NewFakeSource("fake").AddFile("bin/tool.exe", EXE)

	e, err := f.Stat(context.Background(), pathspec.MustParse("bin/tool.exe"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if e.Size != int64(len(EXE)) || e.Dir {
		t.Errorf("Stat() = %+v", e)
	}
	if f.TotalGets() != 0 {
		t.Error("Stat should not count as Get")
	}
}
