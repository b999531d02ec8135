package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/live_poll_tally/internal/metrics"
	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/store"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	tallies []model.Tally
}

func (b *recordingBroadcaster) Publish(t model.Tally) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tallies = append(b.tallies, t)
	return 1
}

func (b *recordingBroadcaster) published() []model.Tally {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Tally(nil), b.tallies...)
}

type recordingPublisher struct {
	mu    sync.Mutex
	votes []model.Vote
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, v model.Vote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.votes = append(p.votes, v)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []model.Vote {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Vote(nil), p.votes...)
}

type env struct {
	store       *store.MemoryStore
	tallies     *tally.Store
	broadcaster *recordingBroadcaster
	metrics     *metrics.Metrics
	processor   *VoteProcessor

	users []model.User
	poll  model.Poll
	other model.Poll
	draft model.Poll
}

func newEnv(t *testing.T, users int, opts ...Option) *env {
	t.Helper()
	return newEnvWithTallies(t, tally.New(), users, opts...)
}

func newEnvWithTallies(t *testing.T, tallies *tally.Store, users int, opts ...Option) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		store:       store.NewMemoryStore(),
		tallies:     tallies,
		broadcaster: &recordingBroadcaster{},
		metrics:     metrics.NewMetrics(prometheus.NewRegistry(), "test"),
	}
	e.processor = NewVoteProcessor(e.store, e.tallies, e.broadcaster, e.metrics, opts...)

	for i := 0; i < users; i++ {
		u, err := e.store.CreateUser(ctx, model.NewUser{Name: fmt.Sprintf("user %d", i), Email: fmt.Sprintf("user%d@example.com", i)})
		require.NoError(t, err)
		e.users = append(e.users, u)
	}

	var err error
	e.poll, err = e.store.CreatePoll(ctx, e.users[0].ID, model.NewPoll{
		Question:    "P",
		Options:     []model.NewOption{{Text: "A"}, {Text: "B"}},
		IsPublished: true,
	})
	require.NoError(t, err)
	e.other, err = e.store.CreatePoll(ctx, e.users[0].ID, model.NewPoll{
		Question:    "Q",
		Options:     []model.NewOption{{Text: "C"}, {Text: "D"}},
		IsPublished: true,
	})
	require.NoError(t, err)
	e.draft, err = e.store.CreatePoll(ctx, e.users[0].ID, model.NewPoll{
		Question: "Draft",
		Options:  []model.NewOption{{Text: "E"}, {Text: "F"}},
	})
	require.NoError(t, err)
	return e
}

func (e *env) optionA() string { return e.poll.Options[0].ID }
func (e *env) optionB() string { return e.poll.Options[1].ID }

func TestCastVoteScenario(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	u1, u2 := e.users[0].ID, e.users[1].ID

	receipt, err := e.processor.CastVote(ctx, e.poll.ID, u1, e.optionA())
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Count)
	assert.Equal(t, e.optionA(), receipt.OptionID)

	published := e.broadcaster.published()
	require.Len(t, published, 1)
	assert.Equal(t, map[string]int{e.optionA(): 1, e.optionB(): 0}, published[0].Map())

	var wg sync.WaitGroup
	var secondErr, otherErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, otherErr = e.processor.CastVote(ctx, e.poll.ID, u2, e.optionB())
	}()
	go func() {
		defer wg.Done()
		_, secondErr = e.processor.CastVote(ctx, e.poll.ID, u1, e.optionB())
	}()
	wg.Wait()

	require.NoError(t, otherErr)
	assert.ErrorIs(t, secondErr, ErrDuplicateVote)

	published = e.broadcaster.published()
	require.Len(t, published, 2)
	assert.Equal(t, map[string]int{e.optionA(): 1, e.optionB(): 1}, published[1].Map())

	snap, err := e.tallies.GetTally(e.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{e.optionA(): 1, e.optionB(): 1}, snap.Map())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.VotesRejected.WithLabelValues("duplicate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.VotesApplied.WithLabelValues(e.poll.ID)))
}

func TestCastVoteRejections(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	u := e.users[0].ID

	tests := []struct {
		name     string
		pollID   string
		userID   string
		optionID string
		want     error
	}{
		{"option of another poll", e.poll.ID, u, e.other.Options[0].ID, ErrInvalidOption},
		{"unknown option", e.poll.ID, u, "nope", ErrInvalidOption},
		{"unpublished poll", e.draft.ID, u, e.draft.Options[0].ID, ErrPollUnavailable},
		{"missing poll", "missing", u, e.optionA(), ErrPollUnavailable},
		{"unknown user", e.poll.ID, "ghost", e.optionA(), ErrUnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.processor.CastVote(ctx, tt.pollID, tt.userID, tt.optionID)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, e.broadcaster.published())
	if e.tallies.Tracked(e.poll.ID) {
		snap, err := e.tallies.GetTally(e.poll.ID)
		require.NoError(t, err)
		assert.Zero(t, snap.Total())
	}

	// rejections did not use up the user's vote
	_, err := e.processor.CastVote(ctx, e.poll.ID, u, e.optionA())
	assert.NoError(t, err)
}

func TestCastVoteForOption(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	receipt, err := e.processor.CastVoteForOption(ctx, e.users[0].ID, e.optionB())
	require.NoError(t, err)
	assert.Equal(t, e.poll.ID, receipt.PollID)

	_, err = e.processor.CastVoteForOption(ctx, e.users[0].ID, "missing")
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestConcurrentVotersAreAllCounted(t *testing.T) {
	e := newEnv(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	chose := map[string]int{}
	for i, u := range e.users {
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()
			option := e.poll.Options[i%2].ID
			if _, err := e.processor.CastVote(ctx, e.poll.ID, u.ID, option); err == nil {
				mu.Lock()
				chose[option]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap, err := e.tallies.GetTally(e.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Total())
	assert.Equal(t, chose, snap.Map())

	published := e.broadcaster.published()
	require.Len(t, published, 100)
	for i, p := range published {
		assert.Equal(t, uint64(i+1), p.Version)
		assert.Equal(t, i+1, p.Total())
	}
}

func TestStreamForwardsAppliedVotesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	e := newEnv(t, 5, WithStream(pub, 16, time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- e.processor.Run(ctx) }()

	for _, u := range e.users {
		_, err := e.processor.CastVote(context.Background(), e.poll.ID, u.ID, e.optionA())
		require.NoError(t, err)
	}
	_, err := e.processor.CastVote(context.Background(), e.poll.ID, e.users[0].ID, e.optionB())
	require.ErrorIs(t, err, ErrDuplicateVote)

	cancel()
	require.NoError(t, <-done)

	votes := pub.published()
	require.Len(t, votes, 5)
	for i, v := range votes {
		assert.Equal(t, e.users[i].ID, v.UserID)
		assert.Equal(t, e.optionA(), v.OptionID)
	}
}

func TestStreamFailureDoesNotFailVote(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	e := newEnv(t, 1, WithStream(pub, 1, 10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.processor.Run(ctx)

	_, err := e.processor.CastVote(context.Background(), e.poll.ID, e.users[0].ID, e.optionA())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.metrics.StreamFailures) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReceiptAndStreamUseClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("UTC-3", -3*60*60))
	pub := &recordingPublisher{}
	e := newEnv(t, 1, WithStream(pub, 4, time.Second), WithClock(func() time.Time { return at }))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- e.processor.Run(ctx) }()

	r, err := e.processor.CastVote(context.Background(), e.poll.ID, e.users[0].ID, e.optionA())
	require.NoError(t, err)
	assert.Equal(t, at.UTC(), r.CreatedAt)

	cancel()
	require.NoError(t, <-done)
	votes := pub.published()
	require.Len(t, votes, 1)
	assert.Equal(t, at.UTC(), votes[0].Timestamp)
}

// lossyLedger stores every vote but loses the answer to the first write.
type lossyLedger struct {
	mu     sync.Mutex
	voters map[string]string // Structure : [userID] -> optionID
	lost   bool
}

func (l *lossyLedger) AppendVote(_ context.Context, v model.Vote) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.voters[v.UserID]; ok {
		return false, nil
	}
	l.voters[v.UserID] = v.OptionID
	if !l.lost {
		l.lost = true
		return false, errors.New("i/o timeout")
	}
	return true, nil
}

func (l *lossyLedger) LoadTally(context.Context, string) (tally.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := tally.LedgerState{Counts: make(map[string]int)}
	for userID, optionID := range l.voters {
		state.Counts[optionID]++
		state.Voters = append(state.Voters, userID)
	}
	return state, nil
}

func TestRetryAfterLostLedgerAnswerResyncsSubscribers(t *testing.T) {
	ledger := &lossyLedger{voters: make(map[string]string)}
	pub := &recordingPublisher{}
	e := newEnvWithTallies(t, tally.New(tally.WithLedger(ledger)), 2, WithStream(pub, 4, time.Second))
	ctx := context.Background()

	_, err := e.processor.CastVote(ctx, e.poll.ID, e.users[0].ID, e.optionA())
	require.ErrorContains(t, err, "i/o timeout")
	assert.Empty(t, e.broadcaster.published())

	_, err = e.processor.CastVote(ctx, e.poll.ID, e.users[0].ID, e.optionA())
	require.ErrorIs(t, err, ErrDuplicateVote)

	got := e.broadcaster.published()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Total())
	assert.Equal(t, uint64(1), got[0].Version)

	_, err = e.processor.CastVote(ctx, e.poll.ID, e.users[1].ID, e.optionB())
	require.NoError(t, err)

	live, err := e.tallies.GetTally(e.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{e.optionA(): 1, e.optionB(): 1}, live.Map())

	// only the vote this process applied is streamed
	require.Len(t, e.processor.outbox, 1)
	v := <-e.processor.outbox
	assert.Equal(t, e.users[1].ID, v.UserID)
}
