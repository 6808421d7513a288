package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSlotUnavailable       = errors.New("slot is not available for reservation")
	ErrReservationNotPending = errors.New("reservation is not pending")
	ErrReservationMismatch   = errors.New("slot is not held by this reservation")
	ErrSlotStateMismatch     = errors.New("slot state does not match reservation status")
	ErrPaymentRaceLost       = errors.New("payment completed after the reservation expired")
)

// Actor identifies who asked for a cancellation, for the audit trail.
type Actor string

const (
	ActorHolder   Actor = "holder"
	ActorProvider Actor = "provider"
)

// Coordinator is the booking state machine. It is the only component that
// creates or mutates reservations, and it never holds slot state across
// calls: every transition goes through the store's conditional updates, so
// any number of coordinator instances can run against the same store.
//
// The slot row is the linearization point for the confirm/expire race:
// Confirm (reserved -> booked) and Release (reserved -> active) are both
// keyed on the holding reservation, exactly one can win, and each side
// moves the reservation to its terminal status only after winning.
type Coordinator struct {
	store      Store
	pub        Publisher
	clock      Clock
	holdWindow time.Duration
	logger     *zap.Logger
}

func NewCoordinator(store Store, pub Publisher, clock Clock, holdWindow time.Duration, logger *zap.Logger) *Coordinator {
	if pub == nil {
		pub = NopPublisher{}
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:      store,
		pub:        pub,
		clock:      clock,
		holdWindow: holdWindow,
		logger:     logger,
	}
}

// HoldWindow returns the configured pending-reservation lifetime.
func (c *Coordinator) HoldWindow() time.Duration { return c.holdWindow }

// CreateSlot opens a new bookable slot for a provider.
func (c *Coordinator) CreateSlot(ctx context.Context, ns NewSlot) (*Slot, error) {
	slot, err := c.store.CreateSlot(ctx, ns)
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, EventSlotCreated, nil, &slot.ID, map[string]any{
		"provider_id": slot.ProviderID.String(),
		"date":        slot.Date,
		"time":        slot.Time,
	})
	return slot, nil
}

// ListActiveSlots returns a provider's open slots from fromDate on.
func (c *Coordinator) ListActiveSlots(ctx context.Context, providerID uuid.UUID, fromDate string) ([]Slot, error) {
	return c.store.ListActiveSlots(ctx, providerID, fromDate)
}

// GetReservation fetches a reservation by id.
func (c *Coordinator) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return c.store.GetReservationByID(ctx, id)
}

// Reserve places a hold on a slot for holderID. Exactly one concurrent
// Reserve per slot can succeed; the losers get ErrSlotUnavailable and must
// pick another slot, there is no internal retry.
func (c *Coordinator) Reserve(ctx context.Context, slotID, holderID uuid.UUID) (*Reservation, error) {
	slot, err := c.store.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.State != SlotActive {
		return nil, ErrSlotUnavailable
	}

	reservationID := uuid.New()
	now := c.clock.Now()

	claimed, err := c.store.TryClaim(ctx, slotID, reservationID, now)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if !claimed {
		return nil, ErrSlotUnavailable
	}

	res, err := c.store.CreateReservation(ctx, reservationID, slotID, holderID, now)
	if err != nil {
		// Undo the claim so the slot is not stuck until the scanner's
		// dangling-claim sweep finds it.
		if _, relErr := c.store.Release(ctx, slotID, reservationID); relErr != nil {
			c.logger.Error("release after failed reservation insert",
				zap.String("slot_id", slotID.String()),
				zap.Error(relErr))
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	c.logEvent(ctx, EventReservationCreated, &res.ID, &slotID, map[string]any{
		"holder_id":  holderID.String(),
		"expires_at": res.Deadline(c.holdWindow),
	})
	c.publish(ctx, Event{
		Type:          EventReservationCreated,
		ReservationID: &res.ID,
		SlotID:        &slotID,
		HolderID:      &holderID,
		OccurredAt:    now,
	})

	return res, nil
}

// ConfirmPayment records a successful payment against a pending
// reservation and books its slot. A confirm that arrives at or after the
// hold-window boundary, or after the scanner already reclaimed the slot,
// fails with ErrPaymentRaceLost and publishes a refund request; the caller
// must not treat the payment as kept.
func (c *Coordinator) ConfirmPayment(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	res, err := c.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	switch res.Status {
	case ReservationPending:
		// fall through
	case ReservationExpired:
		// Late payment webhook after the sweep already reclaimed the slot.
		c.requestRefund(ctx, res, "confirm_after_expiry")
		return res, ErrPaymentRaceLost
	default:
		return res, ErrReservationNotPending
	}

	now := c.clock.Now()
	if !now.Before(res.Deadline(c.holdWindow)) {
		// The boundary instant counts as expired so the scanner and a late
		// confirm can never both win.
		return c.loseRace(ctx, res, "confirm_at_deadline")
	}

	booked, err := c.store.Confirm(ctx, res.SlotID, res.ID)
	if err != nil {
		return nil, fmt.Errorf("book slot: %w", err)
	}
	if !booked {
		return c.loseRace(ctx, res, "slot_reclaimed")
	}

	updated, err := c.store.UpdateReservationStatus(ctx, res.ID, ReservationPending, ReservationPaid)
	if err != nil {
		return nil, fmt.Errorf("mark reservation paid: %w", err)
	}

	c.logEvent(ctx, EventReservationPaid, &updated.ID, &updated.SlotID, map[string]any{})
	c.publish(ctx, Event{
		Type:          EventReservationPaid,
		ReservationID: &updated.ID,
		SlotID:        &updated.SlotID,
		HolderID:      &updated.HolderID,
		OccurredAt:    now,
	})

	return updated, nil
}

// loseRace settles a pending reservation whose payment arrived too late:
// the slot is released (a no-op if the scanner got there first), the
// reservation moves to expired, and a refund is requested.
func (c *Coordinator) loseRace(ctx context.Context, res *Reservation, reason string) (*Reservation, error) {
	if _, err := c.store.Release(ctx, res.SlotID, res.ID); err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}

	updated, err := c.store.UpdateReservationStatus(ctx, res.ID, ReservationPending, ReservationExpired)
	if err != nil {
		if !errors.Is(err, ErrReservationNotFound) {
			return nil, fmt.Errorf("mark reservation expired: %w", err)
		}
		// The scanner expired it concurrently.
		updated, err = c.store.GetReservationByID(ctx, res.ID)
		if err != nil {
			return nil, fmt.Errorf("reload reservation: %w", err)
		}
	} else {
		c.logEvent(ctx, EventReservationExpired, &res.ID, &res.SlotID, map[string]any{"reason": reason})
	}

	c.requestRefund(ctx, updated, reason)
	return updated, ErrPaymentRaceLost
}

// Cancel voids a reservation on behalf of actor. Pending reservations
// release their slot back to active; paid reservations park the slot in
// cancelled (the provider must open a fresh slot to resell the time).
// Cancelling an already-terminal reservation is a no-op, not an error.
func (c *Coordinator) Cancel(ctx context.Context, reservationID uuid.UUID, actor Actor) (*Reservation, error) {
	res, err := c.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	switch res.Status {
	case ReservationPending:
		return c.settlePending(ctx, res, ReservationCancelled, string(actor))

	case ReservationPaid:
		slot, err := c.store.GetSlotByID(ctx, res.SlotID)
		if err != nil {
			return nil, fmt.Errorf("load slot: %w", err)
		}
		if slot.State != SlotBooked {
			return nil, ErrSlotStateMismatch
		}
		if slot.ReservedBy == nil || *slot.ReservedBy != res.ID {
			return nil, ErrReservationMismatch
		}

		unbooked, err := c.store.CancelBooked(ctx, res.SlotID)
		if err != nil {
			return nil, fmt.Errorf("cancel booked slot: %w", err)
		}
		if !unbooked {
			return nil, ErrSlotStateMismatch
		}

		updated, err := c.store.UpdateReservationStatus(ctx, res.ID, ReservationPaid, ReservationCancelled)
		if err != nil {
			return nil, fmt.Errorf("mark reservation cancelled: %w", err)
		}

		c.logEvent(ctx, EventReservationCancelled, &updated.ID, &updated.SlotID, map[string]any{
			"actor": string(actor),
			"paid":  true,
		})
		c.publish(ctx, Event{
			Type:          EventReservationCancelled,
			ReservationID: &updated.ID,
			SlotID:        &updated.SlotID,
			HolderID:      &updated.HolderID,
			Reason:        string(actor),
			OccurredAt:    c.clock.Now(),
		})
		return updated, nil

	default:
		// Already terminal: idempotent no-op.
		return res, nil
	}
}

// Expire reclaims one timed-out pending reservation. Invoked by the
// expiry scanner; calling it on a terminal or still-fresh reservation is
// a no-op so overlapping sweeps cannot double-release.
func (c *Coordinator) Expire(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	res, err := c.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if res.Status != ReservationPending {
		return res, nil
	}
	if c.clock.Now().Before(res.Deadline(c.holdWindow)) {
		return res, nil
	}

	return c.settlePending(ctx, res, ReservationExpired, "hold_window_elapsed")
}

// settlePending moves a pending reservation to a terminal status after
// releasing its slot. The release is the linearization point: if it fails
// because a concurrent confirm booked the slot, the reservation is left
// for the confirm side to settle and returned unchanged.
func (c *Coordinator) settlePending(ctx context.Context, res *Reservation, to ReservationStatus, reason string) (*Reservation, error) {
	released, err := c.store.Release(ctx, res.SlotID, res.ID)
	if err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}

	if !released {
		slot, err := c.store.GetSlotByID(ctx, res.SlotID)
		if err != nil {
			return nil, fmt.Errorf("load slot: %w", err)
		}
		if slot.State == SlotBooked && slot.ReservedBy != nil && *slot.ReservedBy == res.ID {
			// A confirm won the race; it owns the reservation's fate now.
			return res, nil
		}
		// Slot already freed (e.g. an earlier settle crashed between the
		// release and the status update); still settle the reservation.
	}

	updated, err := c.store.UpdateReservationStatus(ctx, res.ID, ReservationPending, to)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// Concurrent settle beat us; report the stored status.
			return c.store.GetReservationByID(ctx, res.ID)
		}
		return nil, fmt.Errorf("mark reservation %s: %w", to, err)
	}

	eventType := EventReservationCancelled
	if to == ReservationExpired {
		eventType = EventReservationExpired
	}
	c.logEvent(ctx, eventType, &updated.ID, &updated.SlotID, map[string]any{"reason": reason})
	c.publish(ctx, Event{
		Type:          eventType,
		ReservationID: &updated.ID,
		SlotID:        &updated.SlotID,
		HolderID:      &updated.HolderID,
		Reason:        reason,
		OccurredAt:    c.clock.Now(),
	})

	return updated, nil
}

// ReleaseDanglingClaim frees a slot whose claim has no reservation row.
func (c *Coordinator) ReleaseDanglingClaim(ctx context.Context, slot Slot) error {
	if slot.ReservedBy == nil {
		return nil
	}
	released, err := c.store.Release(ctx, slot.ID, *slot.ReservedBy)
	if err != nil {
		return fmt.Errorf("release dangling claim: %w", err)
	}
	if released {
		c.logger.Warn("released dangling slot claim",
			zap.String("slot_id", slot.ID.String()),
			zap.String("reservation_id", slot.ReservedBy.String()))
	}
	return nil
}

func (c *Coordinator) requestRefund(ctx context.Context, res *Reservation, reason string) {
	c.logEvent(ctx, EventRefundRequested, &res.ID, &res.SlotID, map[string]any{"reason": reason})
	c.publish(ctx, Event{
		Type:          EventRefundRequested,
		ReservationID: &res.ID,
		SlotID:        &res.SlotID,
		HolderID:      &res.HolderID,
		Reason:        reason,
		OccurredAt:    c.clock.Now(),
	})
}

func (c *Coordinator) logEvent(ctx context.Context, eventType string, reservationID, slotID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		ReservationID: reservationID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     c.clock.Now(),
	}
	if err := c.store.InsertEvent(ctx, ev); err != nil {
		c.logger.Error("insert event log", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.logger.Error("publish event", zap.String("event_type", ev.Type), zap.Error(err))
	}
}
