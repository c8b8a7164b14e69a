package consensus

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/swarmctl/internal/agentruntime"
	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store/memstore"
	"github.com/bazelment/swarmctl/internal/workspace"
)

func newExecution(t *testing.T, st *memstore.Store, reviewerCount int) *model.Execution {
	t.Helper()
	e := &model.Execution{
		ID:                 uuid.New(),
		Status:             model.ExecutionReviewing,
		ReviewerCount:      reviewerCount,
		ConsensusThreshold: model.ConsensusThresholdFor(reviewerCount),
	}
	require.NoError(t, st.CreateExecution(context.Background(), e))
	return e
}

func addReviewers(t *testing.T, st *memstore.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := &model.AgentProfile{ID: uuid.New(), Roles: model.AgentRoles{Reviewer: true}, Active: true, Priority: i}
		require.NoError(t, st.UpsertAgentProfile(context.Background(), p))
	}
}

func TestStartReviewRequiresReviewingStatus(t *testing.T) {
	st := memstore.New()
	e := &model.Execution{ID: uuid.New(), Status: model.ExecutionExecuting}
	require.NoError(t, st.CreateExecution(context.Background(), e))

	c := New(st, DefaultConfig())
	_, err := c.StartReview(context.Background(), e.ID)
	require.ErrorIs(t, err, ErrNotInReviewPhase)
}

func TestStartReviewFailsWithTooFewReviewers(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 3)
	addReviewers(t, st, 2)

	c := New(st, DefaultConfig())
	_, err := c.StartReview(context.Background(), e.ID)
	require.ErrorIs(t, err, ErrNoReviewersAvailable)
}

func TestThreeReviewerUnanimousApproveReachesConsensusOnFirstVote(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 3)
	addReviewers(t, st, 3)
	c := New(st, DefaultConfig())

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	require.Equal(t, 1, e.ConsensusThreshold, "T=2*floor((3-1)/3)+1=1")

	_, err = c.SubmitVote(context.Background(), reviews[0].ID, VoteInput{Vote: model.VoteApprove})
	require.NoError(t, err)

	result, err := c.Evaluate(context.Background(), e.ID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeApproved, result.Outcome, "a single approval already meets T=1")
}

func TestFourReviewerEarlyApproval(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 4)
	addReviewers(t, st, 4)
	c := New(st, DefaultConfig())

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 4)
	require.Equal(t, 3, e.ConsensusThreshold, "T=2*floor((4-1)/3)+1=3")

	for i := 0; i < 3; i++ {
		_, err := c.SubmitVote(context.Background(), reviews[i].ID, VoteInput{Vote: model.VoteApprove})
		require.NoError(t, err)
	}

	result, err := c.Evaluate(context.Background(), e.ID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeApproved, result.Outcome, "3 of 4 approvals already meets T=3 before the 4th vote lands")
}

func TestThreeReviewerDeadlockOnAllAbstainAtMaxRounds(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 3)
	addReviewers(t, st, 3)
	cfg := DefaultConfig()
	cfg.MaxRounds = 1
	c := New(st, cfg)

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 3)

	// T=1 means a single reject already exceeds N-T=2 only if rejections>2;
	// to reach Deadlock we need HasConsensus and ConsensusFailed both
	// false: 1 approve (short of T when T>1 isn't possible at N=3,T=1) --
	// use abstentions to keep approvals below threshold while leaving no
	// pending votes.
	_, err = c.SubmitVote(context.Background(), reviews[0].ID, VoteInput{Vote: model.VoteAbstain})
	require.NoError(t, err)
	_, err = c.SubmitVote(context.Background(), reviews[1].ID, VoteInput{Vote: model.VoteAbstain})
	require.NoError(t, err)
	_, err = c.SubmitVote(context.Background(), reviews[2].ID, VoteInput{Vote: model.VoteAbstain})
	require.NoError(t, err)

	result, err := c.Evaluate(context.Background(), e.ID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeDeadlock, result.Outcome, "all abstentions: no approvals reach T, no rejections exceed N-T, no votes pending, round is at MaxRounds")
}

func TestRejectGathersReasonsFromRejectComments(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 3)
	addReviewers(t, st, 3)
	c := New(st, DefaultConfig())

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, e.ConsensusThreshold, "T=2*floor((3-1)/3)+1=1")

	// With T=1, ConsensusFailed needs rejections > N-T = 2, so all three
	// reviewers must reject before the round is decided.
	reason := "breaks the public API"
	_, err = c.SubmitVote(context.Background(), reviews[0].ID, VoteInput{Vote: model.VoteReject, Comments: &reason})
	require.NoError(t, err)
	_, err = c.SubmitVote(context.Background(), reviews[1].ID, VoteInput{Vote: model.VoteReject})
	require.NoError(t, err)

	result, err := c.Evaluate(context.Background(), e.ID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePending, result.Outcome, "2 of 3 rejects does not yet exceed N-T=2")

	_, err = c.SubmitVote(context.Background(), reviews[2].ID, VoteInput{Vote: model.VoteReject})
	require.NoError(t, err)

	result, err = c.Evaluate(context.Background(), e.ID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, result.Outcome, "3 rejects exceeds N-T=2")
	require.Equal(t, []string{reason}, result.Reasons, "only the reviewer who left a comment contributes a reason")
}

func TestSubmitVoteRejectsDoubleSubmission(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 3)
	addReviewers(t, st, 3)
	c := New(st, DefaultConfig())

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)

	_, err = c.SubmitVote(context.Background(), reviews[0].ID, VoteInput{Vote: model.VoteApprove})
	require.NoError(t, err)

	_, err = c.SubmitVote(context.Background(), reviews[0].ID, VoteInput{Vote: model.VoteReject})
	require.ErrorIs(t, err, ErrReviewAlreadySubmitted, "a decided review must not be re-votable")

	updated, err := st.GetReview(context.Background(), reviews[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.VoteApprove, updated.Vote, "the rejected re-vote must not have mutated the stored vote")
}

func TestEvaluateTreatsTimedOutPendingAsAbstainWithoutMutatingStorage(t *testing.T) {
	st := memstore.New()
	e := newExecution(t, st, 3)
	addReviewers(t, st, 3)
	c := New(st, DefaultConfig())

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)

	// Leave all three Pending; mark one as timed out for evaluation only.
	timedOut := map[uuid.UUID]bool{reviews[0].ID: true}
	summary, err := c.GetSummary(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Pending, "GetSummary (no timeout knowledge) still sees 3 pending")

	result, err := c.Evaluate(context.Background(), e.ID, timedOut)
	require.NoError(t, err)
	require.Equal(t, 1, result.Summary.Abstentions, "the timed-out review counts as Abstain for this evaluation")
	require.Equal(t, 2, result.Summary.Pending)

	stored, err := st.GetReview(context.Background(), reviews[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.VotePending, stored.Vote, "the stored vote must remain Pending so a late vote can still land")
}

func TestDispatchReviewsSubmitsVotesFromParsedResponses(t *testing.T) {
	st := memstore.New()
	ws := workspace.NewFakeWorkspaceProvider()
	epic, err := ws.Create(context.Background(), "epic/main", "main")
	require.NoError(t, err)

	e := &model.Execution{
		ID:                 uuid.New(),
		EpicWorkspaceID:    epic.ID,
		Status:             model.ExecutionReviewing,
		ReviewerCount:      3,
		ConsensusThreshold: model.ConsensusThresholdFor(3),
	}
	require.NoError(t, st.CreateExecution(context.Background(), e))
	addReviewers(t, st, 3)
	c := New(st, DefaultConfig())

	reviews, err := c.StartReview(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 3)

	rt := &agentruntime.FakeAgentRuntime{Responses: []agentruntime.Result{
		{Text: "- **Vote**: APPROVE\n- **Confidence**: 90"},
		{Text: "- **Vote**: APPROVE\n- **Confidence**: 80"},
		{Text: "- **Vote**: REJECT\n- **Comments**: nope"},
	}}

	require.NoError(t, c.DispatchReviews(context.Background(), e.ID, ws, rt))
	require.Len(t, rt.Calls, 3, "one dispatch per pending review")

	summary, err := c.GetSummary(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Pending, "every review should have a recorded vote after dispatch")
	require.Equal(t, 3, summary.Approvals+summary.Rejections, "all 3 scripted responses vote non-abstain")
	require.True(t, summary.HasConsensus, "T=1, and at least one scripted response approves")
}

func TestSelectReviewersPrefersUnusedThenPriority(t *testing.T) {
	a := &model.AgentProfile{ID: uuid.UUID{0, 0, 0, 1}, Priority: 5}
	b := &model.AgentProfile{ID: uuid.UUID{0, 0, 0, 2}, Priority: 9}
	c := &model.AgentProfile{ID: uuid.UUID{0, 0, 0, 3}, Priority: 1}
	used := map[uuid.UUID]bool{b.ID: true}

	got := selectReviewers([]*model.AgentProfile{a, b, c}, used, 2)
	require.Len(t, got, 2)
	require.Equal(t, a.ID, got[0].ID, "unused, higher priority than c, should rank first")
	require.Equal(t, c.ID, got[1].ID, "unused beats the used-but-higher-priority b")
}

func TestParseReviewResponseCanonicalAndLooseFormats(t *testing.T) {
	canonical := "- **Vote**: APPROVE\n- **Confidence**: 85\n- **Comments**: looks good"
	got := ParseReviewResponse(canonical)
	require.Equal(t, model.VoteApprove, got.Vote)
	require.NotNil(t, got.Confidence)
	require.Equal(t, 85, *got.Confidence)

	loose := "Vote: reject\nConfidence: 40 out of 100"
	got = ParseReviewResponse(loose)
	require.Equal(t, model.VoteReject, got.Vote)
	require.Equal(t, 40100, *got.Confidence, "digit-concatenation scrapes every digit on the confidence line")

	unstructured := "looks mostly fine but I'm not sure"
	got = ParseReviewResponse(unstructured)
	require.Equal(t, model.VoteAbstain, got.Vote, "unstructured text defaults to Abstain rather than fabricating a vote")
}
