package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/promptarena/cache"
	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
	"github.com/randalmurphal/promptarena/retry"
	"github.com/randalmurphal/promptarena/source"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newLocal(t *testing.T, files map[string]string) (*source.Local, string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	l, err := source.NewLocal(root)
	require.NoError(t, err)
	return l, root
}

func TestFetch_RemoteCachesContent(t *testing.T) {
	var calls atomic.Int32
	remote := &source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			calls.Add(1)
			return &source.Object{Content: []byte("remote bytes"), Revision: "sha1"}, nil
		},
	}
	f := New(Config{Remote: remote, Cache: cache.New()})
	spec := pathspec.MustParse("owner/repo:a.txt@main")

	first, err := f.Fetch(context.Background(), spec, Options{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, first.Attempts)

	second, err := f.Fetch(context.Background(), spec, Options{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 0, second.Attempts)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Digest, second.Digest)

	assert.Equal(t, int32(1), calls.Load())

	// A different ref is a different key.
	_, err = f.Fetch(context.Background(), pathspec.MustParse("owner/repo:a.txt@dev"), Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_LocalRevisionKey(t *testing.T) {
	local, root := newLocal(t, map[string]string{"notes.md": "v1"})
	c := cache.New()
	f := New(Config{Local: local, Cache: c})
	spec := pathspec.MustParse("notes.md")

	res, err := f.Fetch(context.Background(), spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, "v1", string(res.Content))

	res, err = f.Fetch(context.Background(), spec, Options{})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("version 2"), 0o644))

	res, err = f.Fetch(context.Background(), spec, Options{})
	require.NoError(t, err)
	assert.False(t, res.CacheHit, "an edited file should not hit the old entry")
	assert.Equal(t, "version 2", string(res.Content))
	assert.Equal(t, 2, c.Len(), "old revision stays until it expires")
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	remote := &source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			if calls.Add(1) < 3 {
				return nil, &perrors.APIError{Service: "github", StatusCode: 503}
			}
			return &source.Object{Content: []byte("ok")}, nil
		},
	}
	f := New(Config{Remote: remote, Cache: cache.New()})

	res, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:a.txt"), Options{Retry: fastRetry()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.Retries())
}

func TestFetch_ExhaustedRetriesWrapInFetchError(t *testing.T) {
	var calls atomic.Int32
	remote := &source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			calls.Add(1)
			return nil, &perrors.RateLimitError{Service: "github"}
		},
	}
	f := New(Config{Remote: remote})

	_, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:a.txt"), Options{Retry: fastRetry()})
	require.Error(t, err)

	var fe *perrors.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.True(t, perrors.IsRateLimited(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	remote := &source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			calls.Add(1)
			return nil, &perrors.NotFoundError{Spec: spec.String(), Source: "mock"}
		},
	}
	f := New(Config{Remote: remote})

	_, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:a.txt"), Options{Retry: fastRetry()})
	require.Error(t, err)
	assert.True(t, perrors.IsNotFound(err))

	var fe *perrors.FetchError
	assert.False(t, errors.As(err, &fe), "permanent errors are not wrapped")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_Timeout(t *testing.T) {
	remote := &source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := New(Config{Remote: remote})

	start := time.Now()
	_, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:slow.txt"), Options{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_SizeLimits(t *testing.T) {
	t.Run("remote size hint rejects before fetch", func(t *testing.T) {
		var calls atomic.Int32
		remote := &source.MockSource{
			GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
				calls.Add(1)
				return &source.Object{Content: []byte("x")}, nil
			},
		}
		f := New(Config{Remote: remote})

		_, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:big.bin"), Options{SizeHint: 1000, MaxBytes: 10})
		assert.True(t, perrors.IsSizeLimit(err))
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("local stat rejects before read", func(t *testing.T) {
		local, _ := newLocal(t, map[string]string{"big.txt": "0123456789abcdef"})
		f := New(Config{Local: local})

		_, err := f.Fetch(context.Background(), pathspec.MustParse("big.txt"), Options{MaxBytes: 8})
		var se *perrors.SizeLimitError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, int64(16), se.Size)
		assert.Equal(t, int64(8), se.Limit)
	})

	t.Run("content larger than reported", func(t *testing.T) {
		remote := &source.MockSource{
			GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
				return &source.Object{Content: make([]byte, 100)}, nil
			},
		}
		f := New(Config{Remote: remote})

		_, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:a.txt"), Options{SizeHint: 5, MaxBytes: 50})
		assert.True(t, perrors.IsSizeLimit(err))
	})
}

func TestFetch_Directory(t *testing.T) {
	local, _ := newLocal(t, map[string]string{
		"src/b.go":          "package b",
		"src/a.go":          "package a",
		"src/a_test.go":     "package a",
		"src/README.md":     "# src",
		"src/vendor/x.go":   "package x",
		"src/internal/y.go": "package y",
	})
	f := New(Config{Local: local, Cache: cache.New()})

	res, err := f.Fetch(context.Background(), pathspec.MustParse("src"), Options{
		Include: []*regexp.Regexp{regexp.MustCompile(`\.go$`)},
		Exclude: []*regexp.Regexp{regexp.MustCompile(`_test\.go$`), regexp.MustCompile(`(^|/)vendor$`)},
	})
	require.NoError(t, err)
	require.True(t, res.Dir)

	var names []string
	for _, c := range res.Children {
		names = append(names, c.Spec.Path)
	}
	assert.Equal(t, []string{"src/a.go", "src/b.go", "src/internal"}, names)
	assert.Equal(t, 3, res.Filtered)
	assert.True(t, res.Children[2].Dir)
	assert.Equal(t, int64(9), res.Children[0].Size)
}

func TestFetch_DirectoryMaxFiles(t *testing.T) {
	local, _ := newLocal(t, map[string]string{
		"d/1.txt": "1", "d/2.txt": "2", "d/3.txt": "3", "d/4.txt": "4",
	})
	f := New(Config{Local: local})

	res, err := f.Fetch(context.Background(), pathspec.MustParse("d"), Options{MaxFiles: 2})
	require.NoError(t, err)
	require.Len(t, res.Children, 2)
	assert.Equal(t, "d/1.txt", res.Children[0].Spec.Path)
	assert.Equal(t, 2, res.Truncated)
}

func TestFetch_RemoteDirectoryKeepsRef(t *testing.T) {
	remote := &source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			return &source.Object{Dir: true, Entries: []source.Entry{
				{Name: "b.md", Path: "docs/b.md", Size: 3},
				{Name: "a.md", Path: "docs/a.md", Size: 2},
			}}, nil
		},
	}
	f := New(Config{Remote: remote})

	res, err := f.Fetch(context.Background(), pathspec.MustParse("o/r:docs@v2"), Options{})
	require.NoError(t, err)
	require.Len(t, res.Children, 2)
	assert.Equal(t, pathspec.PathSpec{Owner: "o", Repo: "r", Path: "docs/a.md", Ref: "v2"}, res.Children[0].Spec)
	assert.Equal(t, int64(2), res.Children[0].Size)
}

func TestFetch_Routing(t *testing.T) {
	f := New(Config{})

	_, err := f.Fetch(context.Background(), pathspec.MustParse("a.txt"), Options{})
	assert.True(t, perrors.IsInvalidPath(err))

	_, err = f.Fetch(context.Background(), pathspec.MustParse("o/r:a.txt"), Options{})
	assert.True(t, perrors.IsInvalidPath(err))
}

func TestFetch_Stat(t *testing.T) {
	local, _ := newLocal(t, map[string]string{"data.exe": "MZ\x00\x00"})
	f := New(Config{Local: local})

	e, attempts, err := f.Stat(context.Background(), pathspec.MustParse("data.exe"), Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), e.Size)
	assert.Equal(t, 1, attempts)
}

func TestFetch_StatCountsAttempts(t *testing.T) {
	var calls atomic.Int32
	remote := &source.MockSource{
		StatFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Entry, error) {
			if calls.Add(1) == 1 {
				return nil, &perrors.APIError{Service: "github", StatusCode: 502}
			}
			return &source.Entry{Name: "tool.exe", Path: spec.Path, Size: 9}, nil
		},
	}
	f := New(Config{Remote: remote})

	e, attempts, err := f.Stat(context.Background(), pathspec.MustParse("o/r:tool.exe"), Options{Retry: fastRetry()})
	require.NoError(t, err)
	assert.Equal(t, int64(9), e.Size)
	assert.Equal(t, 2, attempts)
}

// movingSource reports one revision and then reads another, as if the file
// changed between the two calls.
type movingSource struct {
	*source.MockSource
}

func (m movingSource) Revision(pathspec.PathSpec) (string, error) { return "r1", nil }

func TestFetch_KeyFollowsRevisionRead(t *testing.T) {
	local := movingSource{&source.MockSource{
		GetFunc: func(ctx context.Context, spec pathspec.PathSpec) (*source.Object, error) {
			return &source.Object{Content: []byte("new"), Revision: "r2"}, nil
		},
	}}
	c := cache.New()
	t.Cleanup(func() { _ = c.Close() })
	f := New(Config{Local: local, Cache: c})
	spec := pathspec.MustParse("a.txt")

	res, err := f.Fetch(context.Background(), spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, "r2", res.Revision)

	_, stale := c.Get(spec.Key() + "#r1")
	assert.False(t, stale, "new content is not stored under the old revision")
	e, ok := c.Get(spec.Key() + "#r2")
	require.True(t, ok)
	assert.Equal(t, "new", string(e.Content))
}
