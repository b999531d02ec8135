package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Guizzs26/live_poll_tally/internal/pubsub"
)

// PollSocketHandler streams poll_update events for one poll: the current
// tally first, then one event per applied vote.
func (a *App) PollSocketHandler(w http.ResponseWriter, r *http.Request) {
	poll, err := a.Store.FindPoll(r.Context(), chi.URLParam(r, "pollID"))
	if err != nil {
		storeError(w, err, "Poll not found")
		return
	}
	if err := a.Votes.TrackPoll(r.Context(), poll); err != nil {
		storeError(w, err, "")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.AllowedOrigins})
	if err != nil {
		slog.Warn("websocket upgrade failed", "poll_id", poll.ID, "error", err)
		return
	}
	defer conn.CloseNow()

	sub, err := a.Dispatcher.Join(poll.ID, pubsub.NewWebSocketSink(conn))
	if err != nil {
		slog.Error("failed to subscribe client", "poll_id", poll.ID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer a.Dispatcher.Leave(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		pubsub.ReadPump(ctx, conn, poll.ID)
	}()

	select {
	case <-readDone:
	case <-sub.Done():
		slog.Info("closing dropped subscriber", "poll_id", poll.ID, "subscription_id", sub.ID, "error", sub.Err())
		conn.Close(websocket.StatusTryAgainLater, "subscriber dropped")
	}
}
