package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/live_poll_tally/internal/config"
	"github.com/Guizzs26/live_poll_tally/internal/simulation"
)

func main() {
	users := flag.Int("users", 50, "number of simulated voters")
	polls := flag.Int("polls", 3, "number of simulated polls")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between votes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := simulation.New(simulation.NewClient(cfg.ServerURL, nil), *interval, time.Now().UnixNano())
	if err := sim.Setup(mainCtx, *users, *polls); err != nil {
		slog.Error("error preparing simulation", "server", cfg.ServerURL, "error", err)
		os.Exit(1)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sim.Run(mainCtx); err != nil {
			slog.Error("error while running simulator", "error", err)
		}
	}()

	// `main` now hangs here, waiting for a shutdown signal
	slog.Info("producer is running, press Ctrl+C to exit", "server", cfg.ServerURL)
	<-signalChan

	// cancelling the context makes sim.Run return
	slog.Info("shutdown signal received, stopping the producer")
	cancel()
	<-done

	slog.Info("producer terminated")
}
