package workspace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGitRunner struct {
	calls []call
	out   string
}

type call struct {
	args []string
	dir  string
}

func (f *fakeGitRunner) Run(_ context.Context, args []string, dir string) (string, error) {
	f.calls = append(f.calls, call{args: args, dir: dir})
	return f.out, nil
}

func TestGitWorkspaceProviderCreateIsIdempotentOnBranchName(t *testing.T) {
	git := &fakeGitRunner{}
	p := NewGitWorkspaceProvider(t.TempDir(), git)

	h1, err := p.Create(context.Background(), "swarm/task-1", "main")
	require.NoError(t, err)

	h2, err := p.Create(context.Background(), "swarm/task-1", "main")
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "a duplicate branch name must return the existing Handle")
	assert.Len(t, git.calls, 2, "fetch+worktree-add should run exactly once, not on the idempotent replay")
}

func TestGitWorkspaceProviderGetMiss(t *testing.T) {
	p := NewGitWorkspaceProvider(t.TempDir(), &fakeGitRunner{})
	_, err := p.Get(context.Background(), [16]byte{1})
	require.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestGitWorkspaceProviderRemove(t *testing.T) {
	git := &fakeGitRunner{}
	p := NewGitWorkspaceProvider(t.TempDir(), git)

	h, err := p.Create(context.Background(), "swarm/task-2", "main")
	require.NoError(t, err)

	require.NoError(t, p.Remove(context.Background(), h.ID))
	_, err = p.Get(context.Background(), h.ID)
	require.ErrorIs(t, err, ErrWorkspaceNotFound)

	err = p.Remove(context.Background(), h.ID)
	require.ErrorIs(t, err, ErrWorkspaceNotFound, "removing twice should report not-found, not panic")
}

func TestGitWorkspaceProviderDiffRunsAgainstBaseBranchInWorktree(t *testing.T) {
	git := &fakeGitRunner{out: "diff --git a/x b/x\n"}
	p := NewGitWorkspaceProvider(t.TempDir(), git)

	h, err := p.Create(context.Background(), "swarm/task-5", "main")
	require.NoError(t, err)

	out, err := p.Diff(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "diff --git a/x b/x\n", string(out))

	last := git.calls[len(git.calls)-1]
	assert.Equal(t, []string{"diff", "origin/main"}, last.args)
	assert.Equal(t, h.Path, last.dir, "diff must run inside the worktree, not the bare clone")
}

func TestGitWorkspaceProviderDiffMiss(t *testing.T) {
	p := NewGitWorkspaceProvider(t.TempDir(), &fakeGitRunner{})
	_, err := p.Diff(context.Background(), [16]byte{9})
	require.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestFakeWorkspaceProviderIdempotentCreate(t *testing.T) {
	f := NewFakeWorkspaceProvider()

	h1, err := f.Create(context.Background(), "swarm/task-3", "main")
	require.NoError(t, err)
	h2, err := f.Create(context.Background(), "swarm/task-3", "main")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)

	h3, err := f.Create(context.Background(), "swarm/task-4", "main")
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h3.ID, "distinct branch names get distinct handles")
}

func TestFakeWorkspaceProviderDiffUsesScriptedEntryOrPlaceholder(t *testing.T) {
	f := NewFakeWorkspaceProvider()
	h, err := f.Create(context.Background(), "swarm/task-6", "main")
	require.NoError(t, err)

	placeholder, err := f.Diff(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Contains(t, string(placeholder), "swarm/task-6")

	f.Diffs = map[uuid.UUID][]byte{h.ID: []byte("scripted diff")}
	scripted, err := f.Diff(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, "scripted diff", string(scripted))

	_, err = f.Diff(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrWorkspaceNotFound)
}
