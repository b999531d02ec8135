package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

var ErrPollNotTracked = errors.New("poll is not tracked")

const defaultLedgerTimeout = 5 * time.Second

type Outcome int

const (
	Applied Outcome = iota
	AlreadyVoted
	UnknownOption
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyVoted:
		return "already_voted"
	case UnknownOption:
		return "unknown_option"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result of RecordVote. Count is only set when Outcome is Applied. Tally is
// set when Applied, and on an AlreadyVoted that reloaded the poll from the
// ledger.
type Result struct {
	Outcome Outcome
	Count   int
	Tally   model.Tally
}

type pollTally struct {
	mu      sync.RWMutex
	loaded  bool
	options []string
	counts  map[string]int      // Structure : [optionID] -> count
	voters  map[string]struct{} // Structure : [userID]
	version uint64
}

func (pt *pollTally) snapshot(pollID string) model.Tally {
	counts := make([]model.OptionCount, 0, len(pt.options))
	for _, id := range pt.options {
		counts = append(counts, model.OptionCount{OptionID: id, Count: pt.counts[id]})
	}
	return model.Tally{PollID: pollID, Version: pt.version, Counts: counts}
}

// Store owns the per-poll counts and voter sets. Votes on one poll are
// serialized by that poll's lock; polls never share a lock after lookup.
type Store struct {
	mu    sync.RWMutex
	polls map[string]*pollTally

	ledger        Ledger
	ledgerTimeout time.Duration
	now           func() time.Time
}

type Option func(*Store)

// WithLedger persists every applied vote before it becomes visible in memory.
func WithLedger(l Ledger) Option {
	return func(s *Store) { s.ledger = l }
}

func WithLedgerTimeout(d time.Duration) Option {
	return func(s *Store) { s.ledgerTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		polls:         make(map[string]*pollTally),
		ledgerTimeout: defaultLedgerTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(pollID string) *pollTally {
	s.mu.RLock()
	pt, ok := s.polls[pollID]
	s.mu.RUnlock()
	if ok {
		return pt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pt, ok = s.polls[pollID]; !ok {
		pt = &pollTally{}
		s.polls[pollID] = pt
	}
	return pt
}

func (s *Store) lookup(pollID string) (*pollTally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pt, ok := s.polls[pollID]
	return pt, ok
}

// Track activates a poll with its option set. Calling it again for a tracked
// poll is a no-op; options are immutable once tracked.
func (s *Store) Track(ctx context.Context, pollID string, optionIDs []string) error {
	pt := s.entry(pollID)

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.loaded {
		return nil
	}

	pt.options = append([]string(nil), optionIDs...)
	pt.counts = make(map[string]int, len(optionIDs))
	pt.voters = make(map[string]struct{})
	for _, id := range optionIDs {
		pt.counts[id] = 0
	}

	if s.ledger != nil {
		state, err := s.ledger.LoadTally(ctx, pollID)
		if err != nil {
			return fmt.Errorf("failed to load tally for poll %s: %w", pollID, err)
		}
		pt.restore(state)
	}

	pt.loaded = true
	return nil
}

// restore replaces counts and voters with the ledger's and reports whether
// anything changed. Counts for options the poll does not have are ignored.
func (pt *pollTally) restore(state LedgerState) bool {
	counts := make(map[string]int, len(pt.options))
	for _, id := range pt.options {
		counts[id] = state.Counts[id]
	}
	voters := make(map[string]struct{}, len(state.Voters))
	for _, userID := range state.Voters {
		voters[userID] = struct{}{}
	}

	changed := len(voters) != len(pt.voters)
	for id, n := range counts {
		if pt.counts[id] != n {
			changed = true
		}
	}
	pt.counts = counts
	pt.voters = voters
	return changed
}

// Tracked reports whether the poll has been tracked.
func (s *Store) Tracked(pollID string) bool {
	pt, ok := s.lookup(pollID)
	if !ok {
		return false
	}
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.loaded
}

// Polls lists the ids of every tracked poll.
func (s *Store) Polls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.polls))
	for id := range s.polls {
		ids = append(ids, id)
	}
	return ids
}

// GetTally returns an atomic snapshot of the poll's counts.
func (s *Store) GetTally(pollID string) (model.Tally, error) {
	var t model.Tally
	err := s.View(pollID, func(snap model.Tally) { t = snap })
	return t, err
}

// View calls fn with the current snapshot while no vote can be applied to the
// poll. fn must not call back into the store for the same poll.
func (s *Store) View(pollID string, fn func(model.Tally)) error {
	pt, ok := s.lookup(pollID)
	if !ok {
		return ErrPollNotTracked
	}

	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if !pt.loaded {
		return ErrPollNotTracked
	}
	fn(pt.snapshot(pollID))
	return nil
}

// RecordVote applies a single vote. The duplicate check, the ledger append and
// the increment happen under the poll's lock, so concurrent votes on one poll
// never interleave. onChange, when set, receives every new snapshot before the
// lock is released and must not block: the Applied result of this vote, or an
// AlreadyVoted result when the ledger knew a vote memory did not and the poll
// was reloaded from it.
func (s *Store) RecordVote(ctx context.Context, pollID, userID, optionID string, onChange func(Result)) (Result, error) {
	pt, ok := s.lookup(pollID)
	if !ok {
		return Result{}, ErrPollNotTracked
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.loaded {
		return Result{}, ErrPollNotTracked
	}

	if _, ok := pt.counts[optionID]; !ok {
		return Result{Outcome: UnknownOption}, nil
	}
	if _, voted := pt.voters[userID]; voted {
		return Result{Outcome: AlreadyVoted}, nil
	}

	if s.ledger != nil {
		// The ledger write must finish once started, whatever the caller's context does.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ledgerTimeout)
		fresh, err := s.ledger.AppendVote(lctx, model.Vote{
			PollID:    pollID,
			UserID:    userID,
			OptionID:  optionID,
			Timestamp: s.now().UTC(),
		})
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("failed to append vote to ledger: %w", err)
		}
		if !fresh {
			// Written by another process, or by an earlier attempt whose
			// answer was lost. Memory catches up with the ledger.
			return s.reload(ctx, pollID, pt, onChange)
		}
	}

	pt.voters[userID] = struct{}{}
	pt.counts[optionID]++
	pt.version++

	res := Result{Outcome: Applied, Count: pt.counts[optionID], Tally: pt.snapshot(pollID)}
	if onChange != nil {
		onChange(res)
	}
	return res, nil
}

// reload runs under the poll's write lock.
func (s *Store) reload(ctx context.Context, pollID string, pt *pollTally, onChange func(Result)) (Result, error) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ledgerTimeout)
	state, err := s.ledger.LoadTally(lctx, pollID)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("failed to reload tally for poll %s: %w", pollID, err)
	}

	if !pt.restore(state) {
		return Result{Outcome: AlreadyVoted}, nil
	}
	pt.version++

	res := Result{Outcome: AlreadyVoted, Tally: pt.snapshot(pollID)}
	if onChange != nil {
		onChange(res)
	}
	return res, nil
}
