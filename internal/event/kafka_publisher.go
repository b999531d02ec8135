package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

// HeaderEventType tags every message on the vote stream.
const (
	HeaderEventType = "event-type"
	VoteApplied     = "vote_applied"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

/*
Balancer: &kafka.Hash{} sends every message with the same key to the same
partition. The key is the poll id, so the applied votes of one poll stay in
the order they were admitted.

RequiredAcks: kafka.RequireAll waits for every in-sync replica. An applied
vote is already counted when it reaches the stream; losing it there would
make the auditor disagree with the live tally.

Compression: kafka.Snappy. Votes are small JSON documents that compress well.
*/
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  5,
		Compression:  kafka.Snappy,
	}

	return &KafkaPublisher{writer: w}, nil
}

func (kp *KafkaPublisher) Publish(ctx context.Context, vote model.Vote) error {
	vb, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("failed to marshal vote: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(vote.PollID),
		Value:   vb,
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(VoteApplied)}},
		Time:    vote.Timestamp,
	}

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

func (kp *KafkaPublisher) Close() error {
	if err := kp.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
