// Package consensus implements the Consensus (reviewer voting) component:
// selecting reviewers, tallying votes against the pBFT-style quorum
// threshold, and finalizing the Execution's outcome. The vote tally and
// prompt/parsing logic are grounded on
// original_source/crates/services/src/services/swarm/consensus.rs and its
// companion crates/db/src/models/consensus_review.rs.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/agentruntime"
	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
	"github.com/bazelment/swarmctl/internal/workspace"
)

// Sentinel errors for Consensus operations.
var (
	ErrNotInReviewPhase       = errors.New("consensus: execution is not in review phase")
	ErrNoReviewersAvailable   = errors.New("consensus: not enough active reviewer agents")
	ErrReviewAlreadySubmitted = errors.New("consensus: review already submitted")
)

// Config holds the Consensus component's tunable knobs (spec.md §6).
type Config struct {
	MinReviewers         int
	MaxRounds            int
	ReviewTimeoutSeconds int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{MinReviewers: 3, MaxRounds: 3, ReviewTimeoutSeconds: 1800}
}

// Consensus drives the reviewer-voting phase for an Execution.
type Consensus struct {
	store store.Store
	cfg   Config
}

// New constructs a Consensus engine backed by st.
func New(st store.Store, cfg Config) *Consensus {
	if cfg.MinReviewers <= 0 {
		cfg.MinReviewers = 3
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	return &Consensus{store: st, cfg: cfg}
}

// StartReview opens a new voting round for execution, which must already
// be in Reviewing. It selects up to min(N, |reviewer pool|) reviewers,
// highest priority first, preferring reviewers not yet used in a prior
// round, and creates a Pending Review row for each.
func (c *Consensus) StartReview(ctx context.Context, executionID uuid.UUID) ([]*model.Review, error) {
	e, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("consensus: get execution: %w", err)
	}
	if e.Status != model.ExecutionReviewing {
		return nil, ErrNotInReviewPhase
	}

	pool, err := c.reviewerPool(ctx)
	if err != nil {
		return nil, err
	}
	if len(pool) < c.cfg.MinReviewers {
		return nil, ErrNoReviewersAvailable
	}

	priorRound, err := c.store.LatestRound(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("consensus: latest round: %w", err)
	}
	newRound := priorRound + 1

	used, err := c.reviewersUsed(ctx, executionID)
	if err != nil {
		return nil, err
	}

	selected := selectReviewers(pool, used, min(e.ReviewerCount, len(pool)))

	reviews := make([]*model.Review, 0, len(selected))
	for _, reviewer := range selected {
		r := &model.Review{
			ExecutionID:     executionID,
			ReviewerAgentID: reviewer.ID,
			Vote:            model.VotePending,
			Round:           newRound,
		}
		if err := c.store.CreateReview(ctx, r); err != nil {
			return nil, fmt.Errorf("consensus: create review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, nil
}

func (c *Consensus) reviewerPool(ctx context.Context) ([]*model.AgentProfile, error) {
	profiles, err := c.store.ListAgentProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("consensus: list agent profiles: %w", err)
	}
	var pool []*model.AgentProfile
	for _, p := range profiles {
		if p.Active && p.Roles.Reviewer {
			pool = append(pool, p)
		}
	}
	return pool, nil
}

func (c *Consensus) reviewersUsed(ctx context.Context, executionID uuid.UUID) (map[uuid.UUID]bool, error) {
	reviews, err := c.store.ListReviews(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("consensus: list reviews: %w", err)
	}
	used := make(map[uuid.UUID]bool, len(reviews))
	for _, r := range reviews {
		used[r.ReviewerAgentID] = true
	}
	return used, nil
}

// selectReviewers orders pool by highest priority first (ties by lowest
// ID), preferring agents not in used, and takes the first n.
func selectReviewers(pool []*model.AgentProfile, used map[uuid.UUID]bool, n int) []*model.AgentProfile {
	ranked := make([]*model.AgentProfile, len(pool))
	copy(ranked, pool)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		usedA, usedB := used[a.ID], used[b.ID]
		if usedA != usedB {
			return !usedA // prefer not-yet-used reviewers
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return idLess(a.ID, b.ID)
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

func idLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// VoteInput is the reviewer's submitted verdict.
type VoteInput struct {
	Vote           model.Vote
	Confidence     *int
	Comments       *string
	ReviewDiffHash *string
}

// SubmitVote records a reviewer's vote against a Pending Review. It fails
// with ErrReviewAlreadySubmitted if the Review has already been decided
// (idempotency guard). Approve/Reject atomically bump the Execution's
// approvals/rejections counters; Abstain marks the Review complete
// without touching either counter.
func (c *Consensus) SubmitVote(ctx context.Context, reviewID uuid.UUID, in VoteInput) (*model.Review, error) {
	r, err := c.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("consensus: get review: %w", err)
	}
	if r.Vote != model.VotePending {
		return nil, ErrReviewAlreadySubmitted
	}

	r.Vote = in.Vote
	r.Confidence = in.Confidence
	r.Comments = in.Comments
	r.ReviewDiffHash = in.ReviewDiffHash
	if err := c.store.UpdateReview(ctx, r); err != nil {
		return nil, fmt.Errorf("consensus: update review: %w", err)
	}

	switch in.Vote {
	case model.VoteApprove:
		if _, err := c.store.IncrementApproval(ctx, r.ExecutionID); err != nil {
			return nil, fmt.Errorf("consensus: increment approval: %w", err)
		}
	case model.VoteReject:
		if _, err := c.store.IncrementRejection(ctx, r.ExecutionID); err != nil {
			return nil, fmt.Errorf("consensus: increment rejection: %w", err)
		}
	}
	return r, nil
}

// Summary is the per-round vote tally surfaced by Evaluate and the
// review CLI command. It supplements the distilled spec (spec.md leaves
// this implicit) per original_source's ConsensusSummary.
type Summary struct {
	Total           int
	Approvals       int
	Rejections      int
	Abstentions     int
	Pending         int
	Threshold       int
	HasConsensus    bool
	ConsensusFailed bool
}

// GetSummary tallies the latest round's votes for execution.
func (c *Consensus) GetSummary(ctx context.Context, executionID uuid.UUID) (Summary, error) {
	e, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return Summary{}, fmt.Errorf("consensus: get execution: %w", err)
	}

	round, err := c.store.LatestRound(ctx, executionID)
	if err != nil {
		return Summary{}, fmt.Errorf("consensus: latest round: %w", err)
	}

	reviews, err := c.store.ListReviews(ctx, executionID)
	if err != nil {
		return Summary{}, fmt.Errorf("consensus: list reviews: %w", err)
	}

	s := Summary{Threshold: e.ConsensusThreshold}
	for _, r := range reviews {
		if r.Round != round {
			continue
		}
		s.Total++
		switch r.Vote {
		case model.VoteApprove:
			s.Approvals++
		case model.VoteReject:
			s.Rejections++
		case model.VoteAbstain:
			s.Abstentions++
		case model.VotePending:
			s.Pending++
		}
	}
	s.HasConsensus = s.Approvals >= s.Threshold
	s.ConsensusFailed = s.Rejections > s.Total-s.Threshold
	return s, nil
}

// Result is the outcome of Evaluate.
type Result struct {
	Outcome Outcome
	Reasons []string // populated for Rejected: Reject-vote comments, in vote order
	Summary Summary
}

// Outcome enumerates Evaluate's possible verdicts.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeApproved
	OutcomeRejected
	OutcomeDeadlock
)

// Evaluate tallies the current round's votes and returns the verdict:
// Approved once approvals reach the threshold, Rejected once rejections
// exceed N-T (with reasons gathered from Reject-voted Reviews in vote
// order), Deadlock when every vote is in, neither threshold is met, and
// the round has reached MaxRounds, or Pending otherwise. Reviews still
// Pending once ReviewTimeoutSeconds have elapsed since they were created,
// and Pending reviews named in timedOutReviewIDs, are treated as Abstain
// for this evaluation only — the stored vote remains Pending so a
// late-arriving vote can still be recorded.
func (c *Consensus) Evaluate(ctx context.Context, executionID uuid.UUID, timedOutReviewIDs map[uuid.UUID]bool) (Result, error) {
	round, err := c.store.LatestRound(ctx, executionID)
	if err != nil {
		return Result{}, fmt.Errorf("consensus: latest round: %w", err)
	}
	e, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return Result{}, fmt.Errorf("consensus: get execution: %w", err)
	}
	reviews, err := c.store.ListReviews(ctx, executionID)
	if err != nil {
		return Result{}, fmt.Errorf("consensus: list reviews: %w", err)
	}

	var deadline time.Time
	if c.cfg.ReviewTimeoutSeconds > 0 {
		deadline = time.Now().Add(-time.Duration(c.cfg.ReviewTimeoutSeconds) * time.Second)
	}

	s := Summary{Threshold: e.ConsensusThreshold}
	var reasons []string
	for _, r := range reviews {
		if r.Round != round {
			continue
		}
		s.Total++

		vote := r.Vote
		expired := !deadline.IsZero() && !r.CreatedAt.IsZero() && r.CreatedAt.Before(deadline)
		if vote == model.VotePending && (timedOutReviewIDs[r.ID] || expired) {
			vote = model.VoteAbstain
		}

		switch vote {
		case model.VoteApprove:
			s.Approvals++
		case model.VoteReject:
			s.Rejections++
			if r.Comments != nil {
				reasons = append(reasons, *r.Comments)
			}
		case model.VoteAbstain:
			s.Abstentions++
		case model.VotePending:
			s.Pending++
		}
	}
	s.HasConsensus = s.Approvals >= s.Threshold
	s.ConsensusFailed = s.Rejections > s.Total-s.Threshold

	switch {
	case s.HasConsensus:
		return Result{Outcome: OutcomeApproved, Summary: s}, nil
	case s.ConsensusFailed:
		return Result{Outcome: OutcomeRejected, Reasons: reasons, Summary: s}, nil
	case s.Pending == 0 && round >= c.cfg.MaxRounds:
		return Result{Outcome: OutcomeDeadlock, Summary: s}, nil
	default:
		return Result{Outcome: OutcomePending, Summary: s}, nil
	}
}

// Finalize evaluates the current round and, for a decisive outcome,
// transitions the Execution: Approved -> Merging, Rejected -> Failed
// (with an aggregated error_message), Deadlock -> stays Reviewing with
// an error_message flagging the need for human intervention. Pending is
// a no-op.
func (c *Consensus) Finalize(ctx context.Context, executionID uuid.UUID, timedOutReviewIDs map[uuid.UUID]bool) (Result, error) {
	result, err := c.Evaluate(ctx, executionID, timedOutReviewIDs)
	if err != nil {
		return Result{}, err
	}

	switch result.Outcome {
	case OutcomeApproved:
		if err := c.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionMerging); err != nil {
			return result, fmt.Errorf("consensus: transition to merging: %w", err)
		}
	case OutcomeRejected:
		msg := "rejected by consensus"
		if len(result.Reasons) > 0 {
			msg = fmt.Sprintf("rejected by consensus: %s", strings.Join(result.Reasons, "; "))
		}
		if err := c.store.SetExecutionError(ctx, executionID, msg); err != nil {
			return result, fmt.Errorf("consensus: set execution error: %w", err)
		}
		if err := c.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionFailed); err != nil {
			return result, fmt.Errorf("consensus: transition to failed: %w", err)
		}
	case OutcomeDeadlock:
		const msg = "Consensus deadlock - human intervention required"
		if err := c.store.SetExecutionError(ctx, executionID, msg); err != nil {
			return result, fmt.Errorf("consensus: set execution error: %w", err)
		}
	}
	return result, nil
}

// DispatchReviews drives every still-Pending Review in the current round
// through a reviewer AgentRuntime: it renders the epic workspace's diff
// into a review prompt, executes it, parses the response, and submits the
// resulting vote. Mirrors manager.runAgent's dispatch -> parse -> record
// pattern, but synchronously, since a CLI review round is expected to
// complete before the command returns.
func (c *Consensus) DispatchReviews(ctx context.Context, executionID uuid.UUID, ws workspace.WorkspaceProvider, runtime agentruntime.AgentRuntime) error {
	e, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("consensus: get execution: %w", err)
	}
	round, err := c.store.LatestRound(ctx, executionID)
	if err != nil {
		return fmt.Errorf("consensus: latest round: %w", err)
	}
	reviews, err := c.store.ListReviews(ctx, executionID)
	if err != nil {
		return fmt.Errorf("consensus: list reviews: %w", err)
	}

	diff, err := ws.Diff(ctx, e.EpicWorkspaceID)
	if err != nil {
		return fmt.Errorf("consensus: diff epic workspace: %w", err)
	}
	prompt := BuildReviewPrompt(string(diff))

	var errs []error
	for _, r := range reviews {
		if r.Round != round || r.Vote != model.VotePending {
			continue
		}
		result, err := runtime.Execute(ctx, agentruntime.Request{Prompt: prompt})
		if err != nil {
			errs = append(errs, fmt.Errorf("dispatch review %s: %w", r.ID, err))
			continue
		}
		in := ParseReviewResponse(result.Text)
		if _, err := c.SubmitVote(ctx, r.ID, in); err != nil {
			errs = append(errs, fmt.Errorf("submit vote for review %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

// BuildReviewPrompt renders the prompt handed to a reviewer agent,
// following original_source's generate_review_prompt.
func BuildReviewPrompt(diff string) string {
	var b strings.Builder
	b.WriteString("You are reviewing code changes from a swarm execution.\n\n")
	b.WriteString("## Instructions\n")
	b.WriteString("1. Review all code changes carefully\n")
	b.WriteString("2. Check for:\n")
	b.WriteString("   - Code quality and best practices\n")
	b.WriteString("   - Potential bugs or security issues\n")
	b.WriteString("   - Consistency with the codebase style\n")
	b.WriteString("   - Test coverage\n")
	b.WriteString("   - Documentation\n\n")
	b.WriteString("3. Provide your vote:\n")
	b.WriteString("   - APPROVE: Changes are acceptable\n")
	b.WriteString("   - REJECT: Changes have significant issues\n")
	b.WriteString("   - ABSTAIN: Unable to make a determination\n\n")
	b.WriteString("4. List any issues found with severity (critical/major/minor)\n")
	b.WriteString("5. Suggest fixes for any issues\n\n")
	b.WriteString("## Code Changes\n```diff\n")
	b.WriteString(diff)
	b.WriteString("\n```\n\n")
	b.WriteString("## Your Review\n")
	b.WriteString("Please structure your response as:\n")
	b.WriteString("- **Vote**: [APPROVE/REJECT/ABSTAIN]\n")
	b.WriteString("- **Confidence**: [0-100]\n")
	b.WriteString("- **Issues Found**: [List of issues]\n")
	b.WriteString("- **Suggested Fixes**: [List of fixes]\n")
	b.WriteString("- **Comments**: [Additional feedback]\n")
	return b.String()
}

// ParseReviewResponse parses a reviewer agent's free-text response into a
// VoteInput, grounded on original_source's parse_review_response. It
// accepts both the canonical "**Vote**: APPROVE" header and the looser
// "Vote: APPROVE" variant; anything else defaults to Abstain rather than
// fabricating a vote. Confidence is scraped from the first line
// containing "confidence" by concatenating its digits.
func ParseReviewResponse(response string) VoteInput {
	lower := strings.ToLower(response)

	var vote model.Vote
	switch {
	case strings.Contains(lower, "**vote**: approve") || strings.Contains(lower, "vote: approve"):
		vote = model.VoteApprove
	case strings.Contains(lower, "**vote**: reject") || strings.Contains(lower, "vote: reject"):
		vote = model.VoteReject
	default:
		vote = model.VoteAbstain
	}

	var confidence *int
	for _, line := range strings.Split(response, "\n") {
		if !strings.Contains(strings.ToLower(line), "confidence") {
			continue
		}
		var digits strings.Builder
		for _, r := range line {
			if unicode.IsDigit(r) {
				digits.WriteRune(r)
			}
		}
		if digits.Len() == 0 {
			continue
		}
		if v, err := strconv.Atoi(digits.String()); err == nil {
			confidence = &v
		}
		break
	}

	comments := response
	return VoteInput{Vote: vote, Confidence: confidence, Comments: &comments}
}
