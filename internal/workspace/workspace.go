// Package workspace is the boundary the core schedules work against: a
// WorkspaceProvider hands each SubTask an isolated filesystem location to
// run in. The concrete GitWorkspaceProvider is grounded on wt's bare-clone
// worktree manager; FakeWorkspaceProvider backs unit tests.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrWorkspaceNotFound is returned when a lookup by WorkspaceID misses.
var ErrWorkspaceNotFound = errors.New("workspace: not found")

// Handle identifies one SubTask's isolated working copy.
type Handle struct {
	ID         uuid.UUID
	Path       string
	Branch     string
	BaseBranch string
}

// WorkspaceProvider creates and tears down isolated working copies for
// SubTasks, and renders the diff a worker or reviewer has produced in one.
// Implementations must be safe for concurrent use: the Manager serializes
// its own Create calls under a mutex, but Remove, Get and Diff may be
// called from other goroutines at the same time.
type WorkspaceProvider interface {
	Create(ctx context.Context, branch, baseBranch string) (Handle, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Handle, error)
	Diff(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// GitRunner executes git commands against a working directory. Grounded on
// wt.GitRunner; split out so tests can stub it without touching a real
// checkout.
type GitRunner interface {
	Run(ctx context.Context, args []string, dir string) (string, error)
}

// DefaultGitRunner shells out to the system git binary.
type DefaultGitRunner struct{}

func (DefaultGitRunner) Run(ctx context.Context, args []string, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// GitWorkspaceProvider creates one worktree per SubTask off a shared bare
// clone, under root/<branch>. It follows wt's bare-clone-plus-per-branch-
// worktree layout rather than cloning the repository once per subtask.
type GitWorkspaceProvider struct {
	git  GitRunner
	root string
	bare string

	mu      sync.Mutex
	handles map[uuid.UUID]Handle
}

// NewGitWorkspaceProvider returns a provider rooted at root, whose bare
// clone lives at root/.bare. The caller is responsible for having already
// created that bare clone (git clone --bare into root/.bare); the provider
// does not create it.
func NewGitWorkspaceProvider(root string, git GitRunner) *GitWorkspaceProvider {
	if git == nil {
		git = DefaultGitRunner{}
	}
	return &GitWorkspaceProvider{
		git:     git,
		root:    root,
		bare:    filepath.Join(root, ".bare"),
		handles: make(map[uuid.UUID]Handle),
	}
}

// Create adds a new worktree for branch, based on baseBranch, and records
// the Handle under a fresh ID. Idempotent on a duplicate branch name: a
// second Create for a branch already provisioned returns the existing
// Handle instead of attempting to add the worktree again.
func (p *GitWorkspaceProvider) Create(ctx context.Context, branch, baseBranch string) (Handle, error) {
	if existing, ok := p.byBranch(branch); ok {
		return existing, nil
	}

	path := filepath.Join(p.root, sanitizeBranch(branch))

	if _, err := p.git.Run(ctx, []string{"--git-dir", p.bare, "fetch", "origin", baseBranch}, ""); err != nil {
		return Handle{}, fmt.Errorf("workspace: fetch base branch: %w", err)
	}
	if _, err := p.git.Run(ctx, []string{"--git-dir", p.bare, "worktree", "add", "-b", branch, path, "origin/" + baseBranch}, ""); err != nil {
		return Handle{}, fmt.Errorf("workspace: add worktree: %w", err)
	}

	h := Handle{ID: uuid.New(), Path: path, Branch: branch, BaseBranch: baseBranch}
	p.mu.Lock()
	p.handles[h.ID] = h
	p.mu.Unlock()
	return h, nil
}

// Diff returns the working copy's changes against the base branch it was
// created from, as the raw output of `git diff`.
func (p *GitWorkspaceProvider) Diff(ctx context.Context, id uuid.UUID) ([]byte, error) {
	h, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := p.git.Run(ctx, []string{"diff", "origin/" + h.BaseBranch}, h.Path)
	if err != nil {
		return nil, fmt.Errorf("workspace: diff: %w", err)
	}
	return []byte(out), nil
}

// Remove deletes the worktree and its branch.
func (p *GitWorkspaceProvider) Remove(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	h, ok := p.handles[id]
	if ok {
		delete(p.handles, id)
	}
	p.mu.Unlock()
	if !ok {
		return ErrWorkspaceNotFound
	}

	if _, err := p.git.Run(ctx, []string{"--git-dir", p.bare, "worktree", "remove", "--force", h.Path}, ""); err != nil {
		return fmt.Errorf("workspace: remove worktree: %w", err)
	}
	if err := os.RemoveAll(h.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: cleanup worktree dir: %w", err)
	}
	return nil
}

// Get returns the Handle previously returned by Create.
func (p *GitWorkspaceProvider) Get(_ context.Context, id uuid.UUID) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[id]
	if !ok {
		return Handle{}, ErrWorkspaceNotFound
	}
	return h, nil
}

func sanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

func (p *GitWorkspaceProvider) byBranch(branch string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.handles {
		if h.Branch == branch {
			return h, true
		}
	}
	return Handle{}, false
}

// FakeWorkspaceProvider is an in-memory WorkspaceProvider for tests. It
// never touches the filesystem or a git binary. Diffs lets a test script
// the bytes Diff returns for a given workspace ID; an unset entry falls
// back to a deterministic placeholder.
type FakeWorkspaceProvider struct {
	Diffs map[uuid.UUID][]byte

	mu      sync.Mutex
	handles map[uuid.UUID]Handle
}

// NewFakeWorkspaceProvider returns an empty FakeWorkspaceProvider.
func NewFakeWorkspaceProvider() *FakeWorkspaceProvider {
	return &FakeWorkspaceProvider{handles: make(map[uuid.UUID]Handle)}
}

// Create is idempotent on a duplicate branch name, mirroring
// GitWorkspaceProvider.
func (f *FakeWorkspaceProvider) Create(_ context.Context, branch, baseBranch string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.handles {
		if h.Branch == branch {
			return h, nil
		}
	}
	h := Handle{ID: uuid.New(), Path: "/fake/" + branch, Branch: branch, BaseBranch: baseBranch}
	f.handles[h.ID] = h
	return h, nil
}

func (f *FakeWorkspaceProvider) Remove(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handles[id]; !ok {
		return ErrWorkspaceNotFound
	}
	delete(f.handles, id)
	return nil
}

func (f *FakeWorkspaceProvider) Get(_ context.Context, id uuid.UUID) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	if !ok {
		return Handle{}, ErrWorkspaceNotFound
	}
	return h, nil
}

// Diff returns the scripted Diffs entry for id, or a deterministic
// placeholder naming the branch if none was scripted.
func (f *FakeWorkspaceProvider) Diff(_ context.Context, id uuid.UUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	if d, ok := f.Diffs[id]; ok {
		return d, nil
	}
	return []byte(fmt.Sprintf("diff --git a/%s b/%s\n", h.Branch, h.Branch)), nil
}

var _ WorkspaceProvider = (*GitWorkspaceProvider)(nil)
var _ WorkspaceProvider = (*FakeWorkspaceProvider)(nil)
