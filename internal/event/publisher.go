package event

import (
	"context"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

// VotePublisher emits applied votes to the vote stream.
type VotePublisher interface {
	Publish(ctx context.Context, vote model.Vote) error
	Close() error
}
