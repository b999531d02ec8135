package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

// Every fraudFrequency-th vote repeats the last accepted voter on purpose.
const fraudFrequency = 5

// API is the part of the server the simulator drives.
type API interface {
	CreateUser(ctx context.Context, nu model.NewUser) (model.User, error)
	CreatePoll(ctx context.Context, creatorID string, np model.NewPoll) (model.Poll, error)
	CastVote(ctx context.Context, userID, pollID, optionID string) (model.VoteReceipt, error)
}

// Stats counts what the server answered.
type Stats struct {
	Accepted   int
	Duplicates int
	Failed     int
}

type Simulator struct {
	api      API
	interval time.Duration
	rnd      *rand.Rand

	users []model.User
	polls []model.Poll

	fraudCounter int
	lastUserID   string
	lastPollID   string
	stats        Stats
}

func New(api API, interval time.Duration, seed int64) *Simulator {
	return &Simulator{
		api:      api,
		interval: interval,
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// Setup registers the given number of voters and published polls.
func (s *Simulator) Setup(ctx context.Context, users, polls int) error {
	run := s.rnd.Int63()
	for i := 0; i < users; i++ {
		u, err := s.api.CreateUser(ctx, model.NewUser{
			Name:  fmt.Sprintf("Voter %d", i+1),
			Email: fmt.Sprintf("voter-%d-%d@example.com", run, i+1),
		})
		if err != nil {
			return fmt.Errorf("error creating voter: %w", err)
		}
		s.users = append(s.users, u)
	}
	if len(s.users) == 0 {
		return errors.New("simulation needs at least one voter")
	}

	for i := 0; i < polls; i++ {
		p, err := s.api.CreatePoll(ctx, s.users[0].ID, model.NewPoll{
			Question:    fmt.Sprintf("Simulated poll %d", i+1),
			Options:     []model.NewOption{{Text: "option-1"}, {Text: "option-2"}, {Text: "option-3"}},
			IsPublished: true,
		})
		if err != nil {
			return fmt.Errorf("error creating poll: %w", err)
		}
		slog.Info("simulated poll ready", "poll_id", p.ID)
		s.polls = append(s.polls, p)
	}
	return nil
}

// Polls returns the polls created by Setup.
func (s *Simulator) Polls() []model.Poll {
	return s.polls
}

func (s *Simulator) Stats() Stats {
	return s.stats
}

// Run casts one vote per interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if len(s.polls) == 0 {
		return errors.New("simulator has no polls, call Setup first")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulator received shutdown signal", "accepted", s.stats.Accepted, "duplicates", s.stats.Duplicates, "failed", s.stats.Failed)
			return nil

		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Step casts a single vote.
func (s *Simulator) Step(ctx context.Context) {
	var userID string
	poll := s.polls[s.rnd.Intn(len(s.polls))]

	s.fraudCounter++
	if s.fraudCounter >= fraudFrequency && s.lastUserID != "" {
		slog.Info("generating a duplicate vote on purpose", "user_id", s.lastUserID)
		userID = s.lastUserID
		for _, p := range s.polls {
			if p.ID == s.lastPollID {
				poll = p
			}
		}
		s.fraudCounter = 0
	} else {
		userID = s.users[s.rnd.Intn(len(s.users))].ID
	}
	option := poll.Options[s.rnd.Intn(len(poll.Options))]

	voteCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	r, err := s.api.CastVote(voteCtx, userID, poll.ID, option.ID)
	var apiErr *APIError
	switch {
	case err == nil:
		s.stats.Accepted++
		s.lastUserID, s.lastPollID = userID, poll.ID
		slog.Info("vote accepted", "poll_id", r.PollID, "user_id", userID, "count", r.Count)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
		s.stats.Duplicates++
		slog.Info("duplicate vote refused", "poll_id", poll.ID, "user_id", userID)
	default:
		s.stats.Failed++
		slog.Error("failed to cast vote", "poll_id", poll.ID, "user_id", userID, "error", err)
	}
}
