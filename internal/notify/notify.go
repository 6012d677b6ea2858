// Package notify pushes settlement lifecycle events to the platform
// notification service (which fans out to email/SMS/push).
//
// Notifications are strictly fire-and-forget: a settlement outcome is
// never blocked, failed, or rolled back because a notification could
// not be delivered. Failures are logged and counted, nothing more.
package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	notifyEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by event type.",
	}, []string{"event_type"})

	notifyEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(notifyEmitTotal, notifyEmitErrors)
}

// EventType identifies a notification event.
type EventType string

const (
	EventEscrowHeld         EventType = "escrow.held"
	EventEscrowReleased     EventType = "escrow.released"
	EventEscrowRefunded     EventType = "escrow.refunded"
	EventWithdrawalComplete EventType = "withdrawal.completed"
	EventWithdrawalFailed   EventType = "withdrawal.failed"
	EventWithdrawalOnHold   EventType = "withdrawal.on_hold"
	EventWithdrawalRejected EventType = "withdrawal.rejected"
	EventDriftDetected      EventType = "reconciliation.drift"
)

// Event is one notification payload.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Sender delivers an event to a user. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, event *Event) error
}
