package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/live_poll_tally/internal/metrics"
)

// ErrDeliveryFailure marks a subscriber that was dropped because a payload
// could not reach it.
var ErrDeliveryFailure = errors.New("delivery failure")

// Sink is the transport side of one subscriber. Send must give up when ctx
// is done.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// Subscription is one client listening to one poll. Payloads are queued and
// written by the subscription's own goroutine, in queue order.
type Subscription struct {
	ID     string
	PollID string

	sink  Sink
	queue chan []byte
	done  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

// Done is closed once the subscription is removed from the registry.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended; nil for a plain unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// offer queues a payload without blocking. It reports false when the queue
// is full; a subscription that is already gone swallows the payload.
func (s *Subscription) offer(payload []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}

	select {
	case s.queue <- payload:
		return true
	default:
		return false
	}
}

// Registry routes polls to their live subscriptions. It holds no poll data.
type Registry struct {
	mu    sync.RWMutex
	polls map[string]map[string]*Subscription // Structure : [pollID][subscriptionID]

	queueSize   int
	sendTimeout time.Duration
	metrics     *metrics.Metrics
}

func NewRegistry(queueSize int, sendTimeout time.Duration, m *metrics.Metrics) *Registry {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Registry{
		polls:       make(map[string]map[string]*Subscription),
		queueSize:   queueSize,
		sendTimeout: sendTimeout,
		metrics:     m,
	}
}

// Subscribe registers sink under pollID and starts delivering to it. When
// initial is not nil it is the first payload the sink receives.
func (r *Registry) Subscribe(pollID string, sink Sink, initial []byte) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		PollID: pollID,
		sink:   sink,
		queue:  make(chan []byte, r.queueSize),
		done:   make(chan struct{}),
	}
	if initial != nil {
		sub.queue <- initial
	}

	r.mu.Lock()
	subs := r.polls[pollID]
	if subs == nil {
		subs = make(map[string]*Subscription)
		r.polls[pollID] = subs
	}
	subs[sub.ID] = sub
	r.mu.Unlock()

	r.metrics.Subscribers.Inc()
	go r.writePump(sub)

	return sub
}

// Unsubscribe removes the subscription. Only the first call has an effect;
// it reports whether this call did the removal.
func (r *Registry) Unsubscribe(sub *Subscription) bool {
	removed := false
	sub.once.Do(func() {
		r.mu.Lock()
		if subs := r.polls[sub.PollID]; subs != nil {
			delete(subs, sub.ID)
			if len(subs) == 0 {
				delete(r.polls, sub.PollID)
			}
		}
		r.mu.Unlock()

		close(sub.done)
		r.metrics.Subscribers.Dec()
		removed = true
	})
	return removed
}

// Subscribers returns the poll's subscriptions at call time.
func (r *Registry) Subscribers(pollID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.polls[pollID]
	out := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

func (r *Registry) Count(pollID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.polls[pollID])
}

// Close drops every subscription.
func (r *Registry) Close() {
	r.mu.RLock()
	var all []*Subscription
	for _, subs := range r.polls {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range all {
		r.Unsubscribe(sub)
	}
}

// fail drops a subscriber after a delivery problem.
func (r *Registry) fail(sub *Subscription, cause string, err error) {
	sub.setErr(errors.Join(ErrDeliveryFailure, err))
	if r.Unsubscribe(sub) {
		r.metrics.DeliveryFailures.WithLabelValues(cause).Inc()
		slog.Warn("dropping subscriber", "poll_id", sub.PollID, "subscription_id", sub.ID, "cause", cause, "error", err)
	}
}

// writePump sends queued payloads to the sink, one at a time
func (r *Registry) writePump(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return

		case payload := <-sub.queue:
			// an unsubscribe that raced with the receive wins
			select {
			case <-sub.done:
				return
			default:
			}

			ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
			err := sub.sink.Send(ctx, payload)
			cancel()
			if err != nil {
				cause := "send_error"
				if errors.Is(err, context.DeadlineExceeded) {
					cause = "timeout"
				}
				r.fail(sub, cause, err)
				return
			}
			r.metrics.EventsDelivered.Inc()
		}
	}
}
