// Package agentruntime is the boundary between the core orchestrator and
// the coding-agent backends that actually execute SubTasks and produce
// Reviews. It mirrors multiagent/agent's provider-agnostic Provider
// interface: the core never imports a specific backend SDK directly.
package agentruntime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ErrAgentFailed is wrapped by runtime errors that come from the backend
// process itself (non-zero exit, malformed output) as opposed to errors in
// invoking it.
var ErrAgentFailed = errors.New("agentruntime: agent execution failed")

// Usage tracks token consumption and cost for a single invocation, mirrored
// from multiagent/agent's AgentUsage.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Result is the provider-agnostic outcome of one agent invocation.
type Result struct {
	Text       string
	Usage      Usage
	Success    bool
	DurationMs int64
}

// Request describes one unit of work to hand to an agent process: either a
// worker executing a SubTask in its own workspace, or a reviewer/planner
// invoked with a prompt and no workspace of its own.
type Request struct {
	Prompt       string
	WorkDir      string
	Model        string
	SystemPrompt string
}

// AgentRuntime is the pluggable interface for invoking a coding agent.
// Implementations must be safe for concurrent use: the Manager invokes it
// from one goroutine per dispatched SubTask, bounded by MaxParallelWorkers.
type AgentRuntime interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ProcessAgentRuntime runs a configured CLI coding-agent binary as a
// subprocess per invocation, in the style of agent-cli-wrapper/claude's
// one-shot session wrapper. It streams nothing back; the full response is
// read from stdout once the process exits.
type ProcessAgentRuntime struct {
	binary string
	args   func(req Request) []string
}

// NewProcessAgentRuntime returns a runtime that shells out to binary,
// building its argv from argsFn for each Request.
func NewProcessAgentRuntime(binary string, argsFn func(req Request) []string) *ProcessAgentRuntime {
	return &ProcessAgentRuntime{binary: binary, args: argsFn}
}

// DefaultClaudeArgs builds the argv for invoking the claude CLI in
// one-shot, non-interactive mode, mirroring agent-cli-wrapper/claude's
// default flags.
func DefaultClaudeArgs(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "text", "--permission-mode", "bypassPermissions"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	return args
}

func (r *ProcessAgentRuntime) Execute(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, r.binary, r.args(req)...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	out, err := cmd.Output()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return Result{Text: string(out), Success: false},
			fmt.Errorf("%w: %s: %s", ErrAgentFailed, r.binary, strings.TrimSpace(string(exitErr.Stderr)))
	}
	if err != nil {
		return Result{}, fmt.Errorf("agentruntime: invoke %s: %w", r.binary, err)
	}

	return Result{Text: string(out), Success: true}, nil
}

var _ AgentRuntime = (*ProcessAgentRuntime)(nil)

// FakeAgentRuntime is a scripted AgentRuntime for tests. Responses and
// Errs are both indexed by call number: call i returns Errs[i] when it is
// non-nil (Responses[i] is then skipped), otherwise Responses[i], or a
// bare success once Responses runs out. Safe for concurrent use, since the
// Manager dispatches one goroutine per SubTask.
type FakeAgentRuntime struct {
	Responses []Result
	Errs      []error
	Calls     []Request

	mu   sync.Mutex
	next int
}

func (f *FakeAgentRuntime) Execute(_ context.Context, req Request) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, req)
	i := f.next
	f.next++

	var err error
	if i < len(f.Errs) {
		err = f.Errs[i]
	}
	if err != nil {
		return Result{}, err
	}
	if i < len(f.Responses) {
		return f.Responses[i], nil
	}
	return Result{Success: true}, nil
}

var _ AgentRuntime = (*FakeAgentRuntime)(nil)
