package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/processing"
	"github.com/Guizzs26/live_poll_tally/internal/store"
)

const maxLimit = 1000

type OptionResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}

type PollResponse struct {
	ID          string           `json:"id"`
	Question    string           `json:"question"`
	IsPublished bool             `json:"is_published"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CreatorID   string           `json:"creator_id"`
	Version     uint64           `json:"version"`
	Options     []OptionResponse `json:"options"`
}

type CastVoteRequest struct {
	PollID       string `json:"poll_id,omitempty"`
	PollOptionID string `json:"poll_option_id"`
}

func pageFromQuery(r *http.Request) (store.Page, error) {
	var page store.Page
	q := r.URL.Query()
	if s := q.Get("skip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return page, fmt.Errorf("skip must be a non-negative integer")
		}
		page.Skip = n
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			return page, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
		page.Limit = n
	}
	return page, nil
}

// storeError maps persistence errors to a response.
func storeError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		ErrorJSON(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrInvalidInput):
		ErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrEmailTaken):
		ErrorJSON(w, http.StatusBadRequest, "Email already registered")
	default:
		slog.Error("store error", "error", err)
		ErrorJSON(w, http.StatusInternalServerError, "Database error")
	}
}

func (a *App) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req model.NewUser
	if err := parseJSONBody(r, &req); err != nil {
		ErrorJSON(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	u, err := a.Store.CreateUser(r.Context(), req)
	if err != nil {
		storeError(w, err, "")
		return
	}
	slog.Info("user created", "user_id", u.ID)
	JSON(w, http.StatusCreated, u)
}

func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := a.Store.FindUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, err, "User not found")
		return
	}
	JSON(w, http.StatusOK, u)
}

func (a *App) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		ErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	users, err := a.Store.ListUsers(r.Context(), page)
	if err != nil {
		storeError(w, err, "")
		return
	}
	JSON(w, http.StatusOK, users)
}

func (a *App) CreatePollHandler(w http.ResponseWriter, r *http.Request) {
	creatorID := r.URL.Query().Get("creator_id")
	if creatorID == "" {
		ErrorJSON(w, http.StatusBadRequest, "creator_id is required")
		return
	}

	var req model.NewPoll
	if err := parseJSONBody(r, &req); err != nil {
		ErrorJSON(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	p, err := a.Store.CreatePoll(r.Context(), creatorID, req)
	if err != nil {
		storeError(w, err, "Creator not found")
		return
	}
	slog.Info("poll created", "poll_id", p.ID, "creator_id", creatorID, "options", len(p.Options))

	resp, err := a.pollWithVotes(r.Context(), p)
	if err != nil {
		storeError(w, err, "")
		return
	}
	JSON(w, http.StatusCreated, resp)
}

func (a *App) GetPollHandler(w http.ResponseWriter, r *http.Request) {
	p, err := a.Store.FindPoll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, err, "Poll not found")
		return
	}

	resp, err := a.pollWithVotes(r.Context(), p)
	if err != nil {
		storeError(w, err, "")
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (a *App) ListPollsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		ErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}

	polls, err := a.Store.ListPolls(r.Context(), page, true)
	if err != nil {
		storeError(w, err, "")
		return
	}

	out := make([]PollResponse, 0, len(polls))
	for _, p := range polls {
		resp, err := a.pollWithVotes(r.Context(), p)
		if err != nil {
			storeError(w, err, "")
			return
		}
		out = append(out, resp)
	}
	JSON(w, http.StatusOK, out)
}

func (a *App) PublishPollHandler(w http.ResponseWriter, r *http.Request) {
	p, err := a.Store.SetPublished(r.Context(), chi.URLParam(r, "id"), true)
	if err != nil {
		storeError(w, err, "Poll not found")
		return
	}
	slog.Info("poll published", "poll_id", p.ID)

	resp, err := a.pollWithVotes(r.Context(), p)
	if err != nil {
		storeError(w, err, "")
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (a *App) CastVoteHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		ErrorJSON(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var req CastVoteRequest
	if err := parseJSONBody(r, &req); err != nil {
		ErrorJSON(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.PollOptionID == "" {
		ErrorJSON(w, http.StatusBadRequest, "poll_option_id is required")
		return
	}

	var (
		receipt model.VoteReceipt
		err     error
	)
	if req.PollID != "" {
		receipt, err = a.Votes.CastVote(r.Context(), req.PollID, userID, req.PollOptionID)
	} else {
		receipt, err = a.Votes.CastVoteForOption(r.Context(), userID, req.PollOptionID)
	}

	switch {
	case err == nil:
		JSON(w, http.StatusOK, receipt)
	case errors.Is(err, processing.ErrDuplicateVote):
		ErrorJSON(w, http.StatusConflict, "User has already voted for this poll")
	case errors.Is(err, processing.ErrInvalidOption):
		ErrorJSON(w, http.StatusBadRequest, "Poll option does not belong to this poll")
	case errors.Is(err, processing.ErrPollUnavailable):
		ErrorJSON(w, http.StatusNotFound, "Poll not found or not published")
	case errors.Is(err, processing.ErrUnknownUser):
		ErrorJSON(w, http.StatusNotFound, "User not found")
	default:
		slog.Error("failed to cast vote", "user_id", userID, "option_id", req.PollOptionID, "error", err)
		ErrorJSON(w, http.StatusInternalServerError, "Failed to cast vote")
	}
}

// pollWithVotes attaches the live tally to a poll.
func (a *App) pollWithVotes(ctx context.Context, p model.Poll) (PollResponse, error) {
	if err := a.Votes.TrackPoll(ctx, p); err != nil {
		return PollResponse{}, err
	}
	t, err := a.Tallies.GetTally(p.ID)
	if err != nil {
		return PollResponse{}, err
	}
	counts := t.Map()

	resp := PollResponse{
		ID:          p.ID,
		Question:    p.Question,
		IsPublished: p.IsPublished,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		CreatorID:   p.CreatorID,
		Version:     t.Version,
		Options:     make([]OptionResponse, 0, len(p.Options)),
	}
	for _, o := range p.Options {
		resp.Options = append(resp.Options, OptionResponse{ID: o.ID, Text: o.Text, VoteCount: counts[o.ID]})
	}
	return resp, nil
}
