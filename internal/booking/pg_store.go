package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore implements Store on Postgres. Every state transition is a single
// conditional UPDATE keyed on the expected prior state, so concurrent
// callers are serialized by the database row, not by application locks.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const slotColumns = `id, provider_id, slot_date, slot_time, duration_minutes, state, reserved_by, reserved_at, description, created_at, updated_at`

const reservationColumns = `id, slot_id, holder_id, status, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.Time,
		&s.DurationMinutes,
		&s.State,
		&s.ReservedBy,
		&s.ReservedAt,
		&s.Description,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(
		&r.ID,
		&r.SlotID,
		&r.HolderID,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *PgStore) CreateSlot(ctx context.Context, ns NewSlot) (*Slot, error) {
	if ns.DurationMinutes <= 0 {
		ns.DurationMinutes = DefaultSlotDurationMinutes
	}
	id := uuid.New()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO slots (id, provider_id, slot_date, slot_time, duration_minutes, state, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', $6, now(), now())
		RETURNING `+slotColumns+`
	`, id, ns.ProviderID, ns.Date, ns.Time, ns.DurationMinutes, ns.Description)

	slot, err := scanSlot(row)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: the partial unique index over non-cancelled slots
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSlot
		}
		return nil, err
	}
	return slot, nil
}

func (s *PgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) ListActiveSlots(ctx context.Context, providerID uuid.UUID, fromDate string) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND state = 'active'
		  AND slot_date >= $2
		ORDER BY slot_date, slot_time
	`, providerID, fromDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}

func (s *PgStore) TryClaim(ctx context.Context, slotID, reservationID uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slots
		SET state = 'reserved',
		    reserved_by = $2,
		    reserved_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'active'
	`, slotID, reservationID, at)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) Confirm(ctx context.Context, slotID, reservationID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slots
		SET state = 'booked',
		    updated_at = now()
		WHERE id = $1
		  AND state = 'reserved'
		  AND reserved_by = $2
	`, slotID, reservationID)
	if err != nil {
		return false, fmt.Errorf("confirm slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) Release(ctx context.Context, slotID, reservationID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slots
		SET state = 'active',
		    reserved_by = NULL,
		    reserved_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'reserved'
		  AND reserved_by = $2
	`, slotID, reservationID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) CancelBooked(ctx context.Context, slotID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slots
		SET state = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND state = 'booked'
	`, slotID)
	if err != nil {
		return false, fmt.Errorf("cancel booked slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) CreateReservation(ctx context.Context, id, slotID, holderID uuid.UUID, at time.Time) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reservations (id, slot_id, holder_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $4)
		RETURNING `+reservationColumns+`
	`, id, slotID, holderID, at)
	return scanReservation(row)
}

func (s *PgStore) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (s *PgStore) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns+`
	`, id, to, from)
	return scanReservation(row)
}

func (s *PgStore) FindExpiredPending(ctx context.Context, cutoff time.Time) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending'
		  AND created_at <= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *PgStore) FindDanglingReserved(ctx context.Context, cutoff time.Time) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots s
		WHERE s.state = 'reserved'
		  AND s.reserved_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM reservations r WHERE r.id = s.reserved_by
		  )
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.ReservationID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
