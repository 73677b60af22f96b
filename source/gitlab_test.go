package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/pathspec"
)

// fakeGitLab serves a small repository for owner/repo with default branch
// "trunk".
type fakeGitLab struct {
	files       map[string]string
	projectHits atomic.Int32
	refs        []string
	status      int
}

func (f *fakeGitLab) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"unavailable"}`))
		return
	}

	const project = "/api/v4/projects/owner/repo"
	p := r.URL.Path

	switch {
	case p == project:
		f.projectHits.Add(1)
		serveJSON(w, map[string]any{"id": 1, "default_branch": "trunk"})

	case strings.HasPrefix(p, project+"/repository/files/"):
		name := strings.TrimPrefix(p, project+"/repository/files/")
		f.refs = append(f.refs, r.URL.Query().Get("ref"))
		content, ok := f.files[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"404 File Not Found"}`))
			return
		}
		if r.Method == http.MethodHead {
			w.Header().Set("X-Gitlab-File-Name", name[strings.LastIndex(name, "/")+1:])
			w.Header().Set("X-Gitlab-File-Path", name)
			w.Header().Set("X-Gitlab-Size", strconv.Itoa(len(content)))
			w.Header().Set("X-Gitlab-Blob-Id", "blob-"+name)
			return
		}
		serveJSON(w, map[string]any{
			"file_name": name,
			"file_path": name,
			"size":      len(content),
			"encoding":  "base64",
			"content":   base64.StdEncoding.EncodeToString([]byte(content)),
			"blob_id":   "blob-" + name,
		})

	case p == project+"/repository/tree":
		dir := r.URL.Query().Get("path")
		var nodes []map[string]any
		seen := map[string]bool{}
		for name := range f.files {
			rest := name
			if dir != "" {
				if !strings.HasPrefix(name, dir+"/") {
					continue
				}
				rest = strings.TrimPrefix(name, dir+"/")
			}
			child, _, isDir := strings.Cut(rest, "/")
			if seen[child] {
				continue
			}
			seen[child] = true
			full := child
			if dir != "" {
				full = dir + "/" + child
			}
			typ := "blob"
			if isDir {
				typ = "tree"
			}
			nodes = append(nodes, map[string]any{"id": "id-" + full, "name": child, "type": typ, "path": full})
		}
		serveJSON(w, nodes)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"404 Not Found"}`))
	}
}

func newGitLabServer(t *testing.T, f *fakeGitLab) *GitLab {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	g, err := NewGitLab(GitLabConfig{Token: "test-token", BaseURL: srv.URL})
	require.NoError(t, err)
	return g
}

func TestGitLab_GetFile(t *testing.T) {
	f := &fakeGitLab{files: map[string]string{"docs/a.md": "hello gitlab"}}
	g := newGitLabServer(t, f)

	obj, err := g.Get(context.Background(), pathspec.MustParse("owner/repo:docs/a.md@v1.2.0"))
	require.NoError(t, err)
	assert.Equal(t, "hello gitlab", string(obj.Content))
	assert.Equal(t, "blob-docs/a.md", obj.Revision)
	assert.Equal(t, []string{"v1.2.0"}, f.refs)
	assert.Equal(t, int32(0), f.projectHits.Load(), "explicit ref needs no project lookup")
}

func TestGitLab_DefaultBranchIsCached(t *testing.T) {
	f := &fakeGitLab{files: map[string]string{"a.txt": "a", "b.txt": "b"}}
	g := newGitLabServer(t, f)

	_, err := g.Get(context.Background(), pathspec.MustParse("owner/repo:a.txt"))
	require.NoError(t, err)
	_, err = g.Get(context.Background(), pathspec.MustParse("owner/repo:b.txt"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.projectHits.Load())
	assert.Equal(t, []string{"trunk", "trunk"}, f.refs)
}

func TestGitLab_GetDirectory(t *testing.T) {
	f := &fakeGitLab{files: map[string]string{
		"src/main.go":     "package main",
		"src/util/str.go": "package util",
	}}
	g := newGitLabServer(t, f)

	obj, err := g.Get(context.Background(), pathspec.MustParse("owner/repo:src@main"))
	require.NoError(t, err)
	require.True(t, obj.Dir)
	require.Len(t, obj.Entries, 2)

	byName := map[string]Entry{}
	for _, e := range obj.Entries {
		byName[e.Name] = e
	}
	assert.Equal(t, "src/main.go", byName["main.go"].Path)
	assert.False(t, byName["main.go"].Dir)
	assert.True(t, byName["util"].Dir)
}

func TestGitLab_NotFound(t *testing.T) {
	f := &fakeGitLab{files: map[string]string{"a.txt": "a"}}
	g := newGitLabServer(t, f)

	_, err := g.Get(context.Background(), pathspec.MustParse("owner/repo:missing.txt@main"))
	require.Error(t, err)
	assert.True(t, perrors.IsNotFound(err), "got %v", err)
}

func TestGitLab_Stat(t *testing.T) {
	f := &fakeGitLab{files: map[string]string{"img/logo.png": "0123456789"}}
	g := newGitLabServer(t, f)

	e, err := g.Stat(context.Background(), pathspec.MustParse("owner/repo:img/logo.png@main"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.Size)

	d, err := g.Stat(context.Background(), pathspec.MustParse("owner/repo:img@main"))
	require.NoError(t, err)
	assert.True(t, d.Dir)
}

func TestGitLab_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"server error", http.StatusServiceUnavailable, perrors.ErrServerError},
		{"rate limited", http.StatusTooManyRequests, perrors.ErrRateLimited},
		{"forbidden", http.StatusForbidden, perrors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGitLabServer(t, &fakeGitLab{status: tt.status})

			_, err := g.Get(context.Background(), pathspec.MustParse("owner/repo:a.txt@main"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func serveJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

