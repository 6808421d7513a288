package booking

import (
	"time"

	"github.com/google/uuid"
)

type SlotState string

const (
	SlotActive    SlotState = "active"
	SlotReserved  SlotState = "reserved"
	SlotBooked    SlotState = "booked"
	SlotCancelled SlotState = "cancelled"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationPaid      ReservationStatus = "paid"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave this status.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationPaid || s == ReservationExpired || s == ReservationCancelled
}

const DefaultSlotDurationMinutes = 45

// Slot is a bookable provider time-window. Identity is the
// (ProviderID, Date, Time) tuple: at most one non-cancelled slot may
// exist per tuple. Slots are never physically deleted, only moved to
// cancelled, so the booking history stays auditable.
type Slot struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	Date            string // YYYY-MM-DD
	Time            string // HH:MM, 24h
	DurationMinutes int
	State           SlotState
	ReservedBy      *uuid.UUID // reservation holding the slot, only while reserved
	ReservedAt      *time.Time // set on the transition into reserved, drives expiry
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Reservation is a time-bounded hold on a slot pending payment.
type Reservation struct {
	ID        uuid.UUID
	SlotID    uuid.UUID
	HolderID  uuid.UUID
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deadline is the instant at which a pending reservation stops being
// confirmable. The boundary itself counts as expired.
func (r *Reservation) Deadline(holdWindow time.Duration) time.Time {
	return r.CreatedAt.Add(holdWindow)
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
