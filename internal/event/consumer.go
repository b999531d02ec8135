package event

import (
	"context"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

type VoteConsumer interface {
	ReadVote(ctx context.Context) (model.Vote, error)
	Close() error
}
