package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "polls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func samplePoll(published bool) model.NewPoll {
	return model.NewPoll{
		Question:    "Tabs or spaces?",
		Options:     []model.NewOption{{Text: "Tabs"}, {Text: " Spaces "}},
		IsPublished: published,
	}
}

func TestUsers(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			u, err := s.CreateUser(ctx, model.NewUser{Name: " Ada ", Email: "Ada@example.com"})
			require.NoError(t, err)
			assert.NotEmpty(t, u.ID)
			assert.Equal(t, "Ada", u.Name)
			assert.Equal(t, "ada@example.com", u.Email)

			_, err = s.CreateUser(ctx, model.NewUser{Name: "Other", Email: "ada@example.com"})
			assert.ErrorIs(t, err, ErrEmailTaken)

			_, err = s.CreateUser(ctx, model.NewUser{Name: "", Email: "x@example.com"})
			assert.ErrorIs(t, err, ErrInvalidInput)
			_, err = s.CreateUser(ctx, model.NewUser{Name: "X", Email: "not-an-email"})
			assert.ErrorIs(t, err, ErrInvalidInput)

			found, err := s.FindUser(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, u.ID, found.ID)
			assert.WithinDuration(t, u.CreatedAt, found.CreatedAt, time.Millisecond)

			_, err = s.FindUser(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.CreateUser(ctx, model.NewUser{Name: "Grace", Email: "grace@example.com"})
			require.NoError(t, err)

			all, err := s.ListUsers(ctx, Page{})
			require.NoError(t, err)
			assert.Len(t, all, 2)

			page, err := s.ListUsers(ctx, Page{Skip: 1, Limit: 5})
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "Grace", page[0].Name)

			empty, err := s.ListUsers(ctx, Page{Skip: 10})
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestPolls(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u, err := s.CreateUser(ctx, model.NewUser{Name: "Ada", Email: "ada@example.com"})
			require.NoError(t, err)

			_, err = s.CreatePoll(ctx, "missing", samplePoll(true))
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.CreatePoll(ctx, u.ID, model.NewPoll{Question: "Only one?", Options: []model.NewOption{{Text: "Yes"}}})
			assert.ErrorIs(t, err, ErrInvalidInput)

			draft, err := s.CreatePoll(ctx, u.ID, samplePoll(false))
			require.NoError(t, err)
			require.Len(t, draft.Options, 2)
			assert.Equal(t, "Spaces", draft.Options[1].Text)
			assert.Equal(t, draft.ID, draft.Options[0].PollID)
			assert.False(t, draft.IsPublished)

			live, err := s.CreatePoll(ctx, u.ID, samplePoll(true))
			require.NoError(t, err)

			found, err := s.FindPoll(ctx, draft.ID)
			require.NoError(t, err)
			assert.Equal(t, draft.OptionIDs(), found.OptionIDs())
			assert.Equal(t, u.ID, found.CreatorID)

			opt, err := s.FindOption(ctx, draft.Options[1].ID)
			require.NoError(t, err)
			assert.Equal(t, draft.ID, opt.PollID)
			_, err = s.FindOption(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			published, err := s.ListPolls(ctx, Page{}, true)
			require.NoError(t, err)
			require.Len(t, published, 1)
			assert.Equal(t, live.ID, published[0].ID)
			assert.Len(t, published[0].Options, 2)

			all, err := s.ListPolls(ctx, Page{}, false)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			updated, err := s.SetPublished(ctx, draft.ID, true)
			require.NoError(t, err)
			assert.True(t, updated.IsPublished)
			assert.False(t, updated.UpdatedAt.Before(draft.UpdatedAt))

			_, err = s.FindPoll(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.SetPublished(ctx, "missing", true)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLStoreLedger(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	vote := model.Vote{PollID: "poll-1", UserID: "user-1", OptionID: "a", Timestamp: time.Now()}
	fresh, err := s.AppendVote(ctx, vote)
	require.NoError(t, err)
	assert.True(t, fresh)

	vote.OptionID = "b"
	fresh, err = s.AppendVote(ctx, vote)
	require.NoError(t, err)
	assert.False(t, fresh)

	_, err = s.AppendVote(ctx, model.Vote{PollID: "poll-1", UserID: "user-2", OptionID: "a", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = s.AppendVote(ctx, model.Vote{PollID: "poll-2", UserID: "user-1", OptionID: "c", Timestamp: time.Now()})
	require.NoError(t, err)

	state, err := s.LoadTally(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 2}, state.Counts)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, state.Voters)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.Error(t, err)

	s, err := Open(context.Background(), "memory", "")
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
