package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Guizzs26/live_poll_tally/internal/api"
	"github.com/Guizzs26/live_poll_tally/internal/config"
	"github.com/Guizzs26/live_poll_tally/internal/event"
	"github.com/Guizzs26/live_poll_tally/internal/metrics"
	"github.com/Guizzs26/live_poll_tally/internal/processing"
	"github.com/Guizzs26/live_poll_tally/internal/pubsub"
	"github.com/Guizzs26/live_poll_tally/internal/store"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := run(cfg); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(mainCtx, cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("store opened", "driver", cfg.StoreDriver)

	tallyOpts := []tally.Option{tally.WithLedgerTimeout(cfg.LedgerTimeout)}
	switch {
	case cfg.RedisURL != "":
		rl, err := store.NewRedisLedger(mainCtx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rl.Close()
		tallyOpts = append(tallyOpts, tally.WithLedger(rl))
		slog.Info("vote ledger enabled", "backend", "redis")
	case cfg.StoreDriver != "memory":
		if l, ok := st.(tally.Ledger); ok {
			tallyOpts = append(tallyOpts, tally.WithLedger(l))
			slog.Info("vote ledger enabled", "backend", cfg.StoreDriver)
		}
	}
	tallies := tally.New(tallyOpts...)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)
	registry := pubsub.NewRegistry(cfg.QueueSize, cfg.SendTimeout, m)
	dispatcher := pubsub.NewDispatcher(registry, tallies)

	var vpOpts []processing.Option
	if cfg.StreamEnabled() {
		kp, err := event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kp.Close()
		vpOpts = append(vpOpts, processing.WithStream(kp, cfg.StreamQueueSize, cfg.SendTimeout))
		slog.Info("vote stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	vp := processing.NewVoteProcessor(st, tallies, dispatcher, m, vpOpts...)

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := vp.Run(mainCtx); err != nil {
			slog.Error("error during processor execution", "error", err)
		}
	}()

	app := &api.App{
		Store:      st,
		Votes:      vp,
		Tallies:    tallies,
		Dispatcher: dispatcher,
		Metrics:    promhttp.Handler(),

		AllowedOrigins: cfg.AllowedOrigins,
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// `run` blocks here until a shutdown signal or a listener failure
	select {
	case <-signalChan:
		slog.Info("shutdown signal received, stopping the server")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// drop subscribers so open websocket handlers return
	registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown incomplete", "error", err)
	}

	cancel()
	<-streamDone

	slog.Info("server terminated")
	return nil
}
