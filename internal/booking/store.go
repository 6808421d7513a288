package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrDuplicateSlot       = errors.New("an active slot already exists for this provider, date and time")
)

// NewSlot carries the caller-supplied fields for slot creation.
type NewSlot struct {
	ProviderID      uuid.UUID
	Date            string
	Time            string
	DurationMinutes int
	Description     string
}

// Store contains all persistence the coordinator and scanner need.
//
// The four transition methods (TryClaim, Confirm, Release, CancelBooked)
// are conditional updates: each mutates the slot only when it is in the
// expected prior state and returns false, without mutating, otherwise.
// That single-statement compare-and-set is what linearizes competing
// claims on a slot; callers never hold an application-level lock.
type Store interface {
	CreateSlot(ctx context.Context, ns NewSlot) (*Slot, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListActiveSlots(ctx context.Context, providerID uuid.UUID, fromDate string) ([]Slot, error)

	// TryClaim moves an active slot to reserved, stamping reservedBy and
	// reservedAt. Returns false if the slot is not currently active.
	TryClaim(ctx context.Context, slotID, reservationID uuid.UUID, at time.Time) (bool, error)

	// Confirm moves a slot from reserved to booked, but only if it is
	// held by reservationID.
	Confirm(ctx context.Context, slotID, reservationID uuid.UUID) (bool, error)

	// Release moves a slot held by reservationID back to active, clearing
	// the hold fields. Returns false if the slot is no longer held by that
	// reservation, which makes a second release a no-op rather than an error.
	Release(ctx context.Context, slotID, reservationID uuid.UUID) (bool, error)

	// CancelBooked parks a booked slot in cancelled. The slot does not
	// return to active; re-opening the time requires a fresh slot.
	CancelBooked(ctx context.Context, slotID uuid.UUID) (bool, error)

	CreateReservation(ctx context.Context, id, slotID, holderID uuid.UUID, at time.Time) (*Reservation, error)
	GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// UpdateReservationStatus transitions a reservation from one status to
	// another in a single conditional update. ErrReservationNotFound means
	// the reservation was not in the expected prior status.
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error)

	// FindExpiredPending returns pending reservations created at or before
	// cutoff (cutoff is now minus the hold window, so the window boundary
	// itself counts as expired).
	FindExpiredPending(ctx context.Context, cutoff time.Time) ([]Reservation, error)

	// FindDanglingReserved returns slots stuck in reserved since before
	// cutoff whose reservation row does not exist, which can happen if the
	// process dies between claiming a slot and inserting the reservation.
	FindDanglingReserved(ctx context.Context, cutoff time.Time) ([]Slot, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
