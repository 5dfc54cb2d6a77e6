// Package events publishes report lifecycle events to Kafka. Publishing is
// best-effort: a broker outage is logged and never fails the request that
// produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roadaid/backend/internal/models"
)

const (
	TypeReportCreated = "report.created"
	TypeReportDecided = "report.decided"
)

type Event struct {
	Type              string                   `json:"type"`
	ReportID          string                   `json:"report_id"`
	Status            models.Status            `json:"status"`
	NotificationState models.NotificationState `json:"notification_state,omitempty"`
	IsAccident        bool                     `json:"is_accident"`
	Ts                time.Time                `json:"ts"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev Event) error { return nil }
func (NopPublisher) Close() error                                { return nil }

type KafkaPublisherConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	WriteTimeout time.Duration
}

type KafkaPublisher struct {
	writer      *kafka.Writer
	maxAttempts int
	timeout     time.Duration
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{
		writer:      writer,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.WriteTimeout,
	}, nil
}

// Publish writes one event keyed by report id, retrying transient errors.
// Keying by report id keeps per-report ordering within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ReportID),
		Value: value,
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.writer.WriteMessages(writeCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < p.maxAttempts {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("kafka: publish after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
