// Package notify delivers user notifications. Delivery never blocks or fails
// the operation that triggered it.
package notify

import (
	"context"
	"fmt"
	"medislot/pkg/kafka"
	"medislot/pkg/logger"
	"medislot/pkg/middleware"
	"medislot/pkg/model"
	"time"
)

// Notifier delivers a single notification to its recipient.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// KafkaNotifier publishes notifications keyed by recipient so one user's
// messages stay ordered on a partition.
type KafkaNotifier struct {
	publisher Publisher
	source    string
}

func NewKafkaNotifier(publisher Publisher, source string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, source: source}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n model.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification %s has no recipient", n.Kind)
	}
	msg, err := kafka.NewMessage().
		WithKey(n.UserID).
		WithValue(n).
		WithEventType(string(n.Kind)).
		WithCorrelationID(middleware.RequestIDFromContext(ctx)).
		WithSource(k.source).
		Build()
	if err != nil {
		return err
	}
	return k.publisher.Publish(ctx, msg)
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n model.Notification) error {
	l.log.Info("notification", "user_id", n.UserID, "kind", n.Kind, "payload", n.Payload)
	return nil
}

// Dispatcher sends notifications on a context detached from the caller's
// cancellation and bounded by its own timeout. Failures are logged and dropped.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewDispatcher(notifier Notifier, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, log: log, now: time.Now}
}

func (d *Dispatcher) Send(ctx context.Context, userID string, kind model.NotificationKind, payload map[string]any) {
	if d == nil || d.notifier == nil || userID == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	n := model.Notification{
		UserID:     userID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: d.now().UTC(),
	}
	if err := d.notifier.Notify(sendCtx, n); err != nil {
		d.log.Warn("failed to deliver notification",
			"user_id", userID,
			"kind", kind,
			"error", err,
		)
	}
}
