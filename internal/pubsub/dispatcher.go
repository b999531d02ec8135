package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

var errQueueFull = errors.New("subscriber queue is full")

// Snapshotter gives atomic access to a poll's current tally.
type Snapshotter interface {
	View(pollID string, fn func(model.Tally)) error
}

// Dispatcher turns tally changes into poll_update events and fans them out to
// the poll's subscribers.
type Dispatcher struct {
	registry *Registry
	tallies  Snapshotter
}

func NewDispatcher(r *Registry, tallies Snapshotter) *Dispatcher {
	return &Dispatcher{registry: r, tallies: tallies}
}

func encodeUpdate(t model.Tally) ([]byte, error) {
	b, err := json.Marshal(model.NewPollUpdate(t))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal poll update: %w", err)
	}
	return b, nil
}

// Publish queues the full tally for every current subscriber of the poll and
// returns how many accepted it. It never blocks on a subscriber: one whose
// queue is full is dropped.
func (d *Dispatcher) Publish(t model.Tally) int {
	payload, err := encodeUpdate(t)
	if err != nil {
		slog.Error("failed to encode poll update", "poll_id", t.PollID, "error", err)
		return 0
	}

	var queued int
	for _, sub := range d.registry.Subscribers(t.PollID) {
		if sub.offer(payload) {
			queued++
			continue
		}
		d.registry.fail(sub, "queue_full", errQueueFull)
	}
	return queued
}

// Join subscribes sink to the poll. The current tally is the first payload
// the sink receives, and every vote applied after it follows exactly once.
func (d *Dispatcher) Join(pollID string, sink Sink) (*Subscription, error) {
	var (
		sub    *Subscription
		encErr error
	)
	err := d.tallies.View(pollID, func(t model.Tally) {
		payload, err := encodeUpdate(t)
		if err != nil {
			encErr = err
			return
		}
		sub = d.registry.Subscribe(pollID, sink, payload)
	})
	if err != nil {
		return nil, err
	}
	if encErr != nil {
		return nil, encErr
	}

	slog.Debug("subscriber joined", "poll_id", pollID, "subscription_id", sub.ID)
	return sub, nil
}

// Leave ends the subscription, as on client disconnect.
func (d *Dispatcher) Leave(sub *Subscription) {
	if d.registry.Unsubscribe(sub) {
		slog.Debug("subscriber left", "poll_id", sub.PollID, "subscription_id", sub.ID)
	}
}
