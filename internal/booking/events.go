package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types written to the audit log and published on the event channel.
// reservation.refund_requested is the compensation signal for a payment
// that completed after the slot was already reclaimed; the payment
// collaborator subscribes to it and issues the refund.
const (
	EventSlotCreated          = "slot.created"
	EventReservationCreated   = "reservation.created"
	EventReservationPaid      = "reservation.paid"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationExpired   = "reservation.expired"
	EventRefundRequested      = "reservation.refund_requested"
)

// Event is the payload published to out-of-process subscribers
// (notification and payment collaborators).
type Event struct {
	Type          string     `json:"type"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	SlotID        *uuid.UUID `json:"slot_id,omitempty"`
	HolderID      *uuid.UUID `json:"holder_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Publisher delivers lifecycle events to external subscribers. Publishing
// is best-effort: implementations may fail, the coordinator logs and moves on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
