package model

import (
	"time"

	"github.com/google/uuid"
)

// Vote is the reviewer's verdict for a Review row.
type Vote int

const (
	VotePending Vote = iota
	VoteApprove
	VoteReject
	VoteAbstain
)

// String returns the stable lowercase wire value for the vote.
func (v Vote) String() string {
	switch v {
	case VotePending:
		return "pending"
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	case VoteAbstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Review is one reviewer's vote for one round of an Execution's consensus
// phase.
type Review struct {
	Confidence      *int
	Comments        *string
	ReviewDiffHash  *string
	SubmittedAt     *time.Time
	ID              uuid.UUID
	ExecutionID     uuid.UUID
	ReviewerAgentID uuid.UUID
	Vote            Vote
	Round           int
	CreatedAt       time.Time
}
