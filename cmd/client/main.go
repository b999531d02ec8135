package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"

	"github.com/Guizzs26/live_poll_tally/internal/config"
	"github.com/Guizzs26/live_poll_tally/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		slog.Error("correct usage: go run ./cmd/client <poll-id>")
		os.Exit(1)
	}
	pollID := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		slog.Info("shutting client down")
		cancel()
	}()

	url := "ws" + strings.TrimPrefix(cfg.ServerURL, "http") + "/ws/" + pollID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		slog.Error("failed to connect", "url", url, "error", err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client exit")

	slog.Info("listening for updates", "poll_id", pollID)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("connection closed")
				return
			}
			slog.Error("read error", "status", websocket.CloseStatus(err), "error", err)
			return
		}

		var u model.PollUpdate
		if err := json.Unmarshal(msg, &u); err != nil {
			slog.Warn("unreadable event", "payload", string(msg), "error", err)
			continue
		}
		slog.Info("updated score", "poll_id", u.PollID, "version", u.Version, "tallies", u.Tallies)
	}
}
