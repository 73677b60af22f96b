package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/promptarena/cache"
	"github.com/randalmurphal/promptarena/pathspec"
)

func TestWatcher_InvalidatesChangedFiles(t *testing.T) {
	local, root := newLocal(t, map[string]string{
		"docs/a.md": "a",
		"docs/b.md": "b",
	})
	c := cache.New()
	f := New(Config{Local: local, Cache: c})

	for _, p := range []string{"docs/a.md", "docs/b.md"} {
		_, err := f.Fetch(context.Background(), pathspec.MustParse(p), Options{})
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())

	w, err := NewWatcher(root, c, nil)
	require.NoError(t, err)
	changed := make(chan string, 16)
	w.OnInvalidate = func(rel string) { changed <- rel }
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("edited"), 0o644))

	select {
	case rel := <-changed:
		assert.Equal(t, "docs/a.md", rel)
	case <-time.After(5 * time.Second):
		t.Fatal("no invalidation after write")
	}

	require.Eventually(t, func() bool { return c.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, ok := c.Get(pathspec.MustParse("docs/b.md").Key() + "#" + mustRevision(t, f, "docs/b.md"))
	assert.True(t, ok, "unrelated entry kept")
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	_, root := newLocal(t, map[string]string{"keep.txt": "k"})
	c := cache.New()

	w, err := NewWatcher(root, c, nil)
	require.NoError(t, err)
	changed := make(chan string, 16)
	w.OnInvalidate = func(rel string) { changed <- rel }
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.Mkdir(filepath.Join(root, "new"), 0o755))
	waitFor(t, changed, "new")

	// Give the watch on the new directory a moment to register.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "new", "x.txt"), []byte("x"), 0o644))
	waitFor(t, changed, "new/x.txt")
}

func TestWatcher_CloseIsSafe(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), cache.New(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	assert.NoError(t, w.Close())
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case rel := <-ch:
			if rel == want {
				return
			}
		case <-deadline:
			t.Fatalf("no invalidation for %s", want)
		}
	}
}

func mustRevision(t *testing.T, f *Fetcher, p string) string {
	t.Helper()
	_, rev, err := f.cacheKey(pathspec.MustParse(p), f.local)
	require.NoError(t, err)
	return rev
}
