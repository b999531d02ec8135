package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/live_poll_tally/internal/event"
	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

// PollFinder looks up a poll's option set.
type PollFinder interface {
	FindPoll(ctx context.Context, id string) (model.Poll, error)
}

// Auditor rebuilds tallies from the vote stream, independently of the live
// server, and reports them periodically. A duplicate on the stream means two
// admissions accepted the same user for one poll.
type Auditor struct {
	consumer    event.VoteConsumer
	polls       PollFinder
	tallies     *tally.Store
	reportEvery time.Duration

	mu         sync.Mutex
	duplicates map[string]int // Structure : [pollID] -> duplicate count
	invalid    int
}

func NewAuditor(c event.VoteConsumer, polls PollFinder, reportEvery time.Duration) *Auditor {
	return &Auditor{
		consumer:    c,
		polls:       polls,
		tallies:     tally.New(),
		reportEvery: reportEvery,
		duplicates:  make(map[string]int),
	}
}

func (a *Auditor) Run(ctx context.Context) error {
	rTicker := time.NewTicker(a.reportEvery)
	defer rTicker.Stop()

	votes := make(chan model.Vote)
	go func() {
		defer close(votes)
		for {
			v, err := a.consumer.ReadVote(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("error reading vote", "error", err)
				if !errors.Is(err, event.ErrMalformedVote) {
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			select {
			case votes <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("auditor receiving signal to stop")
			a.printResults()
			return nil

		case <-rTicker.C:
			a.printResults()

		case v, ok := <-votes:
			if !ok {
				return nil
			}
			if err := a.Apply(ctx, v); err != nil {
				slog.Error("error auditing vote", "poll_id", v.PollID, "user_id", v.UserID, "error", err)
			}
		}
	}
}

// Apply replays one vote from the stream.
func (a *Auditor) Apply(ctx context.Context, v model.Vote) error {
	if !a.tallies.Tracked(v.PollID) {
		poll, err := a.polls.FindPoll(ctx, v.PollID)
		if err != nil {
			return fmt.Errorf("failed to load poll %s: %w", v.PollID, err)
		}
		if err := a.tallies.Track(ctx, poll.ID, poll.OptionIDs()); err != nil {
			return err
		}
	}

	res, err := a.tallies.RecordVote(ctx, v.PollID, v.UserID, v.OptionID, nil)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case tally.AlreadyVoted:
		a.mu.Lock()
		a.duplicates[v.PollID]++
		a.mu.Unlock()
		slog.Warn("duplicate vote on stream", "poll_id", v.PollID, "user_id", v.UserID)
	case tally.UnknownOption:
		a.mu.Lock()
		a.invalid++
		a.mu.Unlock()
		return errors.Join(ErrInvalidOption, fmt.Errorf("option %s on stream", v.OptionID))
	}
	return nil
}

// PollReport is the auditor's view of one poll.
type PollReport struct {
	Tally      model.Tally
	Duplicates int
}

// Report returns every audited poll, sorted by poll id.
func (a *Auditor) Report() []PollReport {
	ids := a.tallies.Polls()
	sort.Strings(ids)

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PollReport, 0, len(ids))
	for _, id := range ids {
		t, err := a.tallies.GetTally(id)
		if err != nil {
			continue
		}
		out = append(out, PollReport{Tally: t, Duplicates: a.duplicates[id]})
	}
	return out
}

func (a *Auditor) printResults() {
	reports := a.Report()
	if len(reports) == 0 {
		slog.Info("no votes audited yet")
		return
	}

	for _, r := range reports {
		slog.Info("audited poll", "poll_id", r.Tally.PollID, "total", r.Tally.Total(), "duplicates", r.Duplicates)
		for _, c := range r.Tally.Counts {
			slog.Info("audited option", "poll_id", r.Tally.PollID, "option_id", c.OptionID, "votes", c.Count)
		}
	}
}
