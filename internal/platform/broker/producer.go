// Package broker publishes security events to Kafka.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types published on the security topic.
const (
	EventLoginFailed      = "auth.login_failed"
	EventLoginThrottled   = "auth.login_throttled"
	EventSuspiciousToken  = "authz.suspicious_token"
	EventPermissionDenied = "authz.denied"
)

// SecurityEvent is the JSON document written to the security topic.
type SecurityEvent struct {
	Type       string    `json:"type"`
	Subject    string    `json:"subject,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Permission string    `json:"permission,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher is implemented by Producer and Nop.
type Publisher interface {
	Publish(ctx context.Context, event SecurityEvent)
	Close()
}

// Producer writes security events asynchronously.
type Producer struct {
	l     *slog.Logger
	w     *kafka.Writer
	topic string
}

// NewPublisher returns a Kafka producer, or Nop when no brokers are configured.
func NewPublisher(l *slog.Logger, brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		return Nop{}
	}
	return NewProducer(l, brokers, topic)
}

// NewProducer constructs a Producer.
func NewProducer(l *slog.Logger, brokers []string, topic string) *Producer {
	l = l.WithGroup("kafka").With("topic", topic)

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		Async:                  true,
		BatchTimeout:           100 * time.Millisecond,
		Logger:                 &infoLogger{l: l},
		ErrorLogger:            &errorLogger{l: l},
		AllowAutoTopicCreation: true,
	}

	return &Producer{l: l, w: w, topic: topic}
}

// Publish enqueues the event. Failures are logged and never surface to the caller.
func (p *Producer) Publish(ctx context.Context, event SecurityEvent) {
	msg, err := Message(p.topic, event)
	if err != nil {
		p.l.Error(fmt.Sprintf("marshal event: %s", err))
		return
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.l.Error(fmt.Sprintf("write kafka message: %s", err))
	}
}

// Close flushes and closes the writer.
func (p *Producer) Close() {
	if err := p.w.Close(); err != nil {
		p.l.Error(fmt.Sprintf("close kafka writer: %s", err))
	}
}

// Message builds the Kafka message for event. Events are keyed by subject so
// a user's events stay ordered within one partition.
func Message(topic string, event SecurityEvent) (kafka.Message, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	key := event.Subject
	if key == "" && event.UserID != 0 {
		key = fmt.Sprintf("user:%d", event.UserID)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Time:  event.OccurredAt,
	}, nil
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, SecurityEvent) {}

// Close implements Publisher.
func (Nop) Close() {}

type infoLogger struct {
	l *slog.Logger
}

func (l *infoLogger) Printf(format string, v ...any) {
	l.l.Debug(fmt.Sprintf(format, v...))
}

type errorLogger struct {
	l *slog.Logger
}

func (l *errorLogger) Printf(format string, v ...any) {
	l.l.Error(fmt.Sprintf(format, v...))
}
