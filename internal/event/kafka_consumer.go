package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

// ErrMalformedVote is returned for messages that are not a decodable vote.
// The message is committed anyway; reading it again would not help.
var ErrMalformedVote = errors.New("malformed vote message")

type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, topic, groupID string) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer needs at least one broker")
	}

	rCfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10kb
		MaxBytes: 10e6, // 10mb
		MaxWait:  1 * time.Second,
		// A new group replays the whole stream; the auditor rebuilds tallies from zero
		StartOffset: kafka.FirstOffset,
	}
	r := kafka.NewReader(rCfg)

	return &KafkaConsumer{reader: r}, nil
}

// ReadVote blocks until the next vote arrives or ctx is done.
func (kc *KafkaConsumer) ReadVote(ctx context.Context) (model.Vote, error) {
	msg, err := kc.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return model.Vote{}, err
		}
		return model.Vote{}, fmt.Errorf("error reading message from kafka: %w", err)
	}

	for _, h := range msg.Headers {
		if h.Key == HeaderEventType && string(h.Value) != VoteApplied {
			return model.Vote{}, fmt.Errorf("%w: unexpected event type %q", ErrMalformedVote, h.Value)
		}
	}

	var vote model.Vote
	if err := json.Unmarshal(msg.Value, &vote); err != nil {
		slog.Warn("error deserializing vote", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return model.Vote{}, fmt.Errorf("%w: %v", ErrMalformedVote, err)
	}

	return vote, nil
}

func (kc *KafkaConsumer) Close() error {
	if err := kc.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
