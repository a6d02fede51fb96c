package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"nutripay/internal/payments"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer for topic. Outcomes are keyed
// by reference id, so the hash balancer keeps one transaction on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
}

// KafkaPublisher writes every outcome to the outcome topic and, when money
// may be stuck, also to the reconciliation topic.
type KafkaPublisher struct {
	outcomes       MessageWriter
	reconciliation MessageWriter
}

// NewKafkaPublisher constructs a publisher. reconciliation may be nil.
func NewKafkaPublisher(outcomes, reconciliation MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{outcomes: outcomes, reconciliation: reconciliation}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event payments.OutcomeEvent) error {
	msg := NewOutcomeMessage(event)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	record := kafka.Message{
		Key:   []byte(msg.ReferenceID),
		Value: data,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
	}

	if err := p.outcomes.WriteMessages(ctx, record); err != nil {
		return err
	}
	if msg.NeedsReconciliation && p.reconciliation != nil {
		return p.reconciliation.WriteMessages(ctx, record)
	}
	return nil
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	var errs []error
	if p.outcomes != nil {
		errs = append(errs, p.outcomes.Close())
	}
	if p.reconciliation != nil {
		errs = append(errs, p.reconciliation.Close())
	}
	return errors.Join(errs...)
}
