package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
)

// Alert reports an event that keeps failing to reconcile.
type Alert struct {
	RaisedAt time.Time `json:"raisedAt"`
	ID       string    `json:"id"`
	EventID  string    `json:"eventId"`
	Step     string    `json:"step"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
}

// NewAlert builds an alert with a fresh id.
func NewAlert(eventID, step, reason string, attempts int) Alert {
	return Alert{
		ID:       uuid.NewString(),
		EventID:  eventID,
		Step:     step,
		Reason:   reason,
		Attempts: attempts,
		RaisedAt: time.Now().UTC(),
	}
}

// Alerter delivers operational alerts.
type Alerter interface {
	Raise(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter on the default logger.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: slog.Default().With("component", "alerts")}
}

// Raise implements Alerter.
func (l *LogAlerter) Raise(_ context.Context, alert Alert) error {
	metrics.AlertsRaised.WithLabelValues("log").Inc()
	l.logger.Error("Flow event keeps failing to reconcile",
		"alert_id", alert.ID,
		"event_id", alert.EventID,
		"step", alert.Step,
		"attempts", alert.Attempts,
		"reason", alert.Reason)
	return nil
}

// messageWriter is the part of *kafka.Writer the alerter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAlerter publishes alerts as JSON keyed by event id, so every alert
// for one event lands on the same partition.
type KafkaAlerter struct {
	writer messageWriter
}

// NewKafkaAlerter creates an alerter writing to topic on brokers.
func NewKafkaAlerter(brokers []string, topic string) *KafkaAlerter {
	return &KafkaAlerter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

// Raise implements Alerter.
func (k *KafkaAlerter) Raise(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.EventID),
		Value: data,
		Time:  alert.RaisedAt,
	})
	metrics.ObserveUpstream("kafka", err)
	if err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
	}
	metrics.AlertsRaised.WithLabelValues("kafka").Inc()
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaAlerter) Close() error {
	return k.writer.Close()
}

// MultiAlerter raises every alert on each of its sinks.
type MultiAlerter []Alerter

// Raise implements Alerter. Every sink is attempted even if one fails.
func (m MultiAlerter) Raise(ctx context.Context, alert Alert) error {
	var errs []error
	for _, a := range m {
		if err := a.Raise(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Alerter = (*LogAlerter)(nil)
	_ Alerter = (*KafkaAlerter)(nil)
	_ Alerter = MultiAlerter(nil)
)
