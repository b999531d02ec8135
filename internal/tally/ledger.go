package tally

import (
	"context"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

// Ledger durably records applied votes so a poll's counts and voters can be
// restored when the poll is tracked again.
type Ledger interface {
	// AppendVote stores the vote. It reports false, with no error, when the
	// user already has a vote recorded for the poll.
	AppendVote(ctx context.Context, vote model.Vote) (bool, error)
	LoadTally(ctx context.Context, pollID string) (LedgerState, error)
}

type LedgerState struct {
	Counts map[string]int
	Voters []string
}
