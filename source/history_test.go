package source

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/randalmurphal/promptarena/errors"
	"github.com/randalmurphal/promptarena/git"
	"github.com/randalmurphal/promptarena/pathspec"
)

const commitSHA = "9fceb02d0ae598e95dc970b74767f19372d61af8"

func newHistory(t *testing.T, files map[string]string) (*History, *git.MockRunner) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)
	local, err := NewLocal(root)
	require.NoError(t, err)

	runner := git.NewMockRunner().
		On(root+"\n", nil, "rev-parse", "--show-toplevel").
		On("\n", nil, "rev-parse", "--show-prefix").
		On(commitSHA+"\n", nil, "rev-parse", "--verify", "--quiet", "v1^{commit}").
		On("100644 blob aaaa      3\tREADME.md\x00", nil, "ls-tree", "-z", "-l", "--full-tree", commitSHA, "--", "README.md").
		On("040000 tree bbbb      -\tdocs\x00", nil, "ls-tree", "-z", "-l", "--full-tree", commitSHA, "--", "docs").
		On("", nil, "ls-tree", "-z", "-l", "--full-tree", commitSHA, "--", "gone.md").
		On("old", nil, "cat-file", "blob", commitSHA+":README.md").
		On("100644 blob cccc     10\tb.md\x00100644 blob dddd      4\ta.md\x00", nil, "ls-tree", "-z", "-l", commitSHA+":docs")
	repo, err := git.NewContext(context.Background(), root, git.WithRunner(runner))
	require.NoError(t, err)
	return NewHistory(local, repo), runner
}

func TestHistory_RefReadsCommittedFile(t *testing.T) {
	h, _ := newHistory(t, map[string]string{"README.md": "new content"})
	ctx := context.Background()

	obj, err := h.Get(ctx, pathspec.MustParse("README.md@v1"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(obj.Content))
	assert.Equal(t, commitSHA, obj.Revision)

	obj, err = h.Get(ctx, pathspec.MustParse("README.md"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(obj.Content), "specs without a ref read the working tree")

	rev, err := h.Revision(pathspec.MustParse("README.md@v1"))
	require.NoError(t, err)
	assert.Equal(t, commitSHA, rev)

	e, err := h.Stat(ctx, pathspec.MustParse("README.md@v1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Size)
	assert.Equal(t, "README.md", e.Path)
}

func TestHistory_RefDirectory(t *testing.T) {
	h, _ := newHistory(t, nil)

	obj, err := h.Get(context.Background(), pathspec.MustParse("docs@v1"))
	require.NoError(t, err)
	require.True(t, obj.Dir)
	require.Len(t, obj.Entries, 2)
	assert.Equal(t, "docs/a.md", obj.Entries[0].Path)
	assert.Equal(t, int64(10), obj.Entries[1].Size)

	child := pathspec.MustParse("docs@v1").Join("a.md")
	assert.Equal(t, "v1", child.Ref, "children keep the ref")
}

func TestHistory_Errors(t *testing.T) {
	h, _ := newHistory(t, nil)
	ctx := context.Background()

	_, err := h.Get(ctx, pathspec.MustParse("gone.md@v1"))
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = h.Get(ctx, pathspec.MustParse("README.md@nope"))
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = h.Revision(pathspec.MustParse("README.md@nope"))
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = h.Stat(ctx, pathspec.MustParse("o/r:README.md@v1"))
	var invalid *perrors.InvalidPathError
	assert.ErrorAs(t, err, &invalid)
}

func TestOpenHistory(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, isHistory := OpenHistory(context.Background(), local).(*History)
	assert.False(t, isHistory, "plain directories read the working tree only")
}
