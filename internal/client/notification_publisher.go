package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/michaelodikeme/coop-nest-approvals/internal/natsconn"
	"github.com/michaelodikeme/coop-nest-approvals/internal/service"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.coop.<kind>
// Kinds: request_submitted, approval_required, request_approved,
//        request_rejected, request_cancelled, request_completed,
//        withdrawal_paid, withdrawal_failed, plan_created, ...
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt workflow operations.
type NotificationPublisher struct {
	nats *natsconn.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	Kind        string         `json:"kind"`
	RequestID   string         `json:"request_id"`
	RequestType string         `json:"request_type"`
	ActorID     string         `json:"actor_id,omitempty"`
	Recipients  []string       `json:"recipients"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing (useful in local development).
func NewNotificationPublisher(nats *natsconn.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// Notify publishes one workflow notification.
func (p *NotificationPublisher) Notify(ctx context.Context, n service.Notification) {
	if p.nats == nil {
		return
	}
	if len(n.Recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		Kind:        n.Kind,
		RequestID:   n.RequestID,
		RequestType: string(n.RequestType),
		ActorID:     n.ActorID,
		Recipients:  n.Recipients,
		Title:       n.Title,
		Message:     n.Message,
		Payload:     n.Metadata,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("kind", n.Kind).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.coop.%s", n.Kind)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", n.RequestID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", n.RequestID).
		Int("recipients", len(n.Recipients)).
		Msg("notification: event published")
}
