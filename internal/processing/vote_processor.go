package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/live_poll_tally/internal/event"
	"github.com/Guizzs26/live_poll_tally/internal/metrics"
	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/store"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

var (
	ErrDuplicateVote   = errors.New("user has already voted for this poll")
	ErrInvalidOption   = errors.New("option does not belong to this poll")
	ErrPollUnavailable = errors.New("poll is not available for voting")
	ErrUnknownUser     = errors.New("user not found")
)

const (
	defaultOutboxSize    = 1024
	defaultStreamTimeout = 5 * time.Second
)

// Directory is the read side of the persistence layer used during admission.
type Directory interface {
	FindUser(ctx context.Context, id string) (model.User, error)
	FindPoll(ctx context.Context, id string) (model.Poll, error)
	FindOption(ctx context.Context, id string) (model.Option, error)
}

// Broadcaster receives every applied tally, in order, while the poll is locked.
type Broadcaster interface {
	Publish(t model.Tally) int
}

// VoteProcessor admits votes: it validates them against the directory,
// applies them to the tally store and hands the new tally to the broadcaster.
type VoteProcessor struct {
	directory   Directory
	tallies     *tally.Store
	broadcaster Broadcaster
	metrics     *metrics.Metrics

	stream        event.VotePublisher
	streamTimeout time.Duration
	outbox        chan model.Vote

	now func() time.Time
}

type Option func(*VoteProcessor)

// WithStream forwards every applied vote to p from Run. Votes are queued in
// admission order; when the queue is full the vote is counted as a stream
// failure and skipped.
func WithStream(p event.VotePublisher, queueSize int, timeout time.Duration) Option {
	return func(vp *VoteProcessor) {
		if queueSize <= 0 {
			queueSize = defaultOutboxSize
		}
		if timeout <= 0 {
			timeout = defaultStreamTimeout
		}
		vp.stream = p
		vp.outbox = make(chan model.Vote, queueSize)
		vp.streamTimeout = timeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(vp *VoteProcessor) { vp.now = now }
}

func NewVoteProcessor(d Directory, tallies *tally.Store, b Broadcaster, m *metrics.Metrics, opts ...Option) *VoteProcessor {
	vp := &VoteProcessor{
		directory:   d,
		tallies:     tallies,
		broadcaster: b,
		metrics:     m,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(vp)
	}
	return vp
}

// TrackPoll makes sure the poll has a live tally.
func (vp *VoteProcessor) TrackPoll(ctx context.Context, p model.Poll) error {
	return vp.tallies.Track(ctx, p.ID, p.OptionIDs())
}

// CastVoteForOption resolves the poll from the option and casts the vote.
func (vp *VoteProcessor) CastVoteForOption(ctx context.Context, userID, optionID string) (model.VoteReceipt, error) {
	opt, err := vp.directory.FindOption(ctx, optionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			vp.reject("invalid_option", "", userID, optionID)
			return model.VoteReceipt{}, ErrInvalidOption
		}
		return model.VoteReceipt{}, fmt.Errorf("failed to find option %s: %w", optionID, err)
	}
	return vp.CastVote(ctx, opt.PollID, userID, optionID)
}

// CastVote admits one vote. Every rejection is a named error and leaves the
// tally untouched. Once the vote is applied the call succeeds, and subscribers
// have been handed the new tally before it returns.
func (vp *VoteProcessor) CastVote(ctx context.Context, pollID, userID, optionID string) (model.VoteReceipt, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		vp.metrics.AdmissionTime.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if _, err := vp.directory.FindUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			outcome = vp.reject("unknown_user", pollID, userID, optionID)
			return model.VoteReceipt{}, ErrUnknownUser
		}
		return model.VoteReceipt{}, fmt.Errorf("failed to find user %s: %w", userID, err)
	}

	poll, err := vp.directory.FindPoll(ctx, pollID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			outcome = vp.reject("poll_unavailable", pollID, userID, optionID)
			return model.VoteReceipt{}, ErrPollUnavailable
		}
		return model.VoteReceipt{}, fmt.Errorf("failed to find poll %s: %w", pollID, err)
	}
	if !poll.IsPublished {
		outcome = vp.reject("poll_unavailable", pollID, userID, optionID)
		return model.VoteReceipt{}, ErrPollUnavailable
	}
	if !poll.HasOption(optionID) {
		outcome = vp.reject("invalid_option", pollID, userID, optionID)
		return model.VoteReceipt{}, ErrInvalidOption
	}

	if err := vp.TrackPoll(ctx, poll); err != nil {
		return model.VoteReceipt{}, err
	}

	ts := vp.now().UTC()
	res, err := vp.tallies.RecordVote(ctx, poll.ID, userID, optionID, func(r tally.Result) {
		vp.broadcaster.Publish(r.Tally)
		if r.Outcome == tally.Applied {
			vp.enqueue(model.Vote{PollID: poll.ID, UserID: userID, OptionID: optionID, Timestamp: ts})
		}
	})
	if err != nil {
		return model.VoteReceipt{}, fmt.Errorf("failed to record vote: %w", err)
	}

	switch res.Outcome {
	case tally.AlreadyVoted:
		outcome = vp.reject("duplicate", pollID, userID, optionID)
		return model.VoteReceipt{}, ErrDuplicateVote
	case tally.UnknownOption:
		outcome = vp.reject("invalid_option", pollID, userID, optionID)
		return model.VoteReceipt{}, ErrInvalidOption
	}

	outcome = res.Outcome.String()
	vp.metrics.VotesApplied.WithLabelValues(poll.ID).Inc()
	slog.Info("vote applied", "poll_id", poll.ID, "user_id", userID, "option_id", optionID, "count", res.Count, "version", res.Tally.Version)

	return model.VoteReceipt{
		PollID:    poll.ID,
		UserID:    userID,
		OptionID:  optionID,
		Count:     res.Count,
		CreatedAt: ts,
	}, nil
}

func (vp *VoteProcessor) reject(reason, pollID, userID, optionID string) string {
	vp.metrics.VotesRejected.WithLabelValues(reason).Inc()
	slog.Info("vote rejected", "reason", reason, "poll_id", pollID, "user_id", userID, "option_id", optionID)
	return reason
}

// enqueue runs under the poll lock, so it must not block.
func (vp *VoteProcessor) enqueue(v model.Vote) {
	if vp.outbox == nil {
		return
	}
	select {
	case vp.outbox <- v:
	default:
		vp.metrics.StreamFailures.Inc()
		slog.Warn("vote stream queue full, skipping vote", "poll_id", v.PollID, "user_id", v.UserID)
	}
}

// Run forwards applied votes to the vote stream until ctx is done, then
// flushes what is still queued. Without a stream it only waits for ctx.
func (vp *VoteProcessor) Run(ctx context.Context) error {
	if vp.stream == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("vote processor receiving signal to stop, flushing stream queue", "pending", len(vp.outbox))
			for {
				select {
				case v := <-vp.outbox:
					vp.forward(v)
				default:
					return nil
				}
			}

		case v := <-vp.outbox:
			vp.forward(v)
		}
	}
}

func (vp *VoteProcessor) forward(v model.Vote) {
	ctx, cancel := context.WithTimeout(context.Background(), vp.streamTimeout)
	defer cancel()
	if err := vp.stream.Publish(ctx, v); err != nil {
		vp.metrics.StreamFailures.Inc()
		slog.Error("failed to publish vote to stream", "poll_id", v.PollID, "user_id", v.UserID, "error", err)
	}
}
