package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Guizzs26/live_poll_tally/internal/processing"
	"github.com/Guizzs26/live_poll_tally/internal/pubsub"
	"github.com/Guizzs26/live_poll_tally/internal/store"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

type App struct {
	Store      store.Store
	Votes      *processing.VoteProcessor
	Tallies    *tally.Store
	Dispatcher *pubsub.Dispatcher
	Metrics    http.Handler

	// AllowedOrigins holds host patterns for browser origins allowed to call
	// the API and open poll sockets. Same-origin requests are always allowed.
	AllowedOrigins []string
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, WithLogging, CORS(a.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if a.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", a.CreateUserHandler)
		r.Get("/users", a.ListUsersHandler)
		r.Get("/users/{id}", a.GetUserHandler)

		r.Post("/polls", a.CreatePollHandler)
		r.Get("/polls", a.ListPollsHandler)
		r.Get("/polls/{id}", a.GetPollHandler)
		r.Post("/polls/{id}/publish", a.PublishPollHandler)

		r.Post("/votes", a.CastVoteHandler)
	})

	r.Get("/ws/{pollID}", a.PollSocketHandler)

	return r
}
