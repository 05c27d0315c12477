package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSNotifier publishes notifications as JSON on
// <prefix>.<module>, e.g. rulekeeper.notifications.deals.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

// NewNATSNotifier creates a notifier publishing under prefix.
func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "rulekeeper.notifications"
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// Subject returns the subject a notification for n.Module is published on.
func (n *NATSNotifier) Subject(notification Notification) string {
	return n.prefix + "." + string(notification.Module)
}

// Notify publishes notification. Publish failures on a disconnected
// connection are transient; the client buffers while reconnecting.
func (n *NATSNotifier) Notify(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.pub.Publish(n.Subject(notification), data); err != nil {
		if err == nats.ErrConnectionClosed || err == nats.ErrBadSubject {
			return fmt.Errorf("publish notification: %w", err)
		}
		return Transient(fmt.Errorf("publish notification: %w", err))
	}
	return nil
}

// FanoutNotifier delivers to every notifier in order, stopping at the first
// failure. Used to persist a notification and publish it.
type FanoutNotifier []NotificationService

// Notify implements NotificationService.
func (f FanoutNotifier) Notify(ctx context.Context, notification Notification) error {
	for _, n := range f {
		if err := n.Notify(ctx, notification); err != nil {
			return err
		}
	}
	return nil
}
