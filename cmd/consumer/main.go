package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/live_poll_tally/internal/config"
	"github.com/Guizzs26/live_poll_tally/internal/event"
	"github.com/Guizzs26/live_poll_tally/internal/processing"
	"github.com/Guizzs26/live_poll_tally/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if !cfg.StreamEnabled() {
		slog.Error("POLLS_KAFKA_BROKERS is required to audit the vote stream")
		os.Exit(1)
	}
	slog.Info("starting auditor", "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(mainCtx, cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("error opening store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	consumer, err := event.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
	if err != nil {
		slog.Error("error creating kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	auditor := processing.NewAuditor(consumer, st, cfg.AuditEvery)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := auditor.Run(mainCtx); err != nil {
			slog.Error("error during auditor execution", "error", err)
		}
	}()

	// `main` blocks here, waiting for a shutdown signal
	<-signalChan

	slog.Info("shutdown signal received, stopping the auditor")
	cancel()
	<-done

	for _, r := range auditor.Report() {
		slog.Info("final tally", "poll_id", r.Tally.PollID, "total", r.Tally.Total(), "duplicates", r.Duplicates, "counts", r.Tally.Map())
	}
	slog.Info("auditor terminated")
}
