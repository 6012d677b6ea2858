package realtime

import (
	"context"

	"github.com/kasuwahq/settlement/internal/notify"
)

// Sender adapts the hub to the notify.Sender interface, so every
// settlement notification is also mirrored onto the console stream.
type Sender struct {
	hub *Hub
}

// NewSender creates a notify.Sender that broadcasts onto the hub.
func NewSender(hub *Hub) *Sender {
	return &Sender{hub: hub}
}

func (s *Sender) Send(_ context.Context, event *notify.Event) error {
	data := make(map[string]any, len(event.Data)+1)
	for k, v := range event.Data {
		data[k] = v
	}
	if _, ok := data["sellerId"]; !ok {
		data["sellerId"] = event.UserID
	}
	s.hub.Broadcast(mapEventType(event.Type), data)
	return nil
}

func mapEventType(t notify.EventType) EventType {
	switch t {
	case notify.EventEscrowHeld:
		return EventHoldCreated
	case notify.EventEscrowReleased:
		return EventHoldReleased
	case notify.EventEscrowRefunded:
		return EventHoldRefunded
	case notify.EventWithdrawalComplete, notify.EventWithdrawalFailed,
		notify.EventWithdrawalOnHold, notify.EventWithdrawalRejected:
		return EventWithdrawal
	case notify.EventDriftDetected:
		return EventDrift
	default:
		return EventType(t)
	}
}
