// Package notify delivers user-facing results and operator diagnostics, and
// publishes domain events for downstream consumers.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Delivery is what a user receives once a service is provisioned.
type Delivery struct {
	Caption         string `json:"caption"`
	QRImageURL      string `json:"qr_image_url"`
	SubscriptionURL string `json:"subscription_url"`
}

// Notifier talks to people: buyers and the operator.
type Notifier interface {
	DeliverService(ctx context.Context, userID string, d Delivery) error
	NotifyUser(ctx context.Context, userID, text string) error
	NotifyOperator(ctx context.Context, text string) error
}

// Event types published on the event stream.
const (
	EventProvisioned = "purchase.provisioned"
	EventCompensated = "purchase.compensated"
	EventSettled     = "payment.settled"
	EventRejected    = "payment.rejected"
)

// Event is a domain fact emitted after a state change has been committed.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id,omitempty"`
	ServiceID uint      `json:"service_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher emits events. Failures are reported but never undo the state change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Log is a Notifier and Publisher that only writes to the logger. It is used
// when no bot token or broker is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) DeliverService(_ context.Context, userID string, d Delivery) error {
	l.logger.Info("service delivered", zap.String("user_id", userID), zap.String("subscription_url", d.SubscriptionURL))
	return nil
}

func (l *Log) NotifyUser(_ context.Context, userID, text string) error {
	l.logger.Info("user notification", zap.String("user_id", userID), zap.String("text", text))
	return nil
}

func (l *Log) NotifyOperator(_ context.Context, text string) error {
	l.logger.Warn("operator notification", zap.String("text", text))
	return nil
}

func (l *Log) Publish(_ context.Context, e Event) error {
	l.logger.Debug("event", zap.String("type", e.Type), zap.String("user_id", e.UserID), zap.String("order_id", e.OrderID))
	return nil
}
