package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScannerFixture(t *testing.T) (*fixture, *Scanner) {
	t.Helper()
	f := newFixture(t)
	return f, NewScanner(f.coord, f.store, f.clock, nil)
}

func TestTickExpiresOnlyTimedOut(t *testing.T) {
	f, scanner := newScannerFixture(t)
	ctx := context.Background()

	oldSlot := f.mustCreateSlot(t, "2025-06-10", "14:00")
	oldRes, err := f.coord.Reserve(ctx, oldSlot.ID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(testHoldWindow)

	freshSlot := f.mustCreateSlot(t, "2025-06-10", "15:00")
	freshRes, err := f.coord.Reserve(ctx, freshSlot.ID, uuid.New())
	require.NoError(t, err)

	expired, err := scanner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := f.store.GetReservationByID(ctx, oldRes.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationExpired, got.Status)
	assert.Equal(t, SlotActive, f.slotState(t, oldSlot.ID))

	got, err = f.store.GetReservationByID(ctx, freshRes.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationPending, got.Status)
	assert.Equal(t, SlotReserved, f.slotState(t, freshSlot.ID))
}

// failOnceStore makes status updates fail for one reservation so the
// sweep's continue-on-failure path is observable.
type failOnceStore struct {
	Store
	failID uuid.UUID
}

func (s *failOnceStore) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	if id == s.failID {
		return nil, errors.New("synthetic store failure")
	}
	return s.Store.UpdateReservationStatus(ctx, id, from, to)
}

func TestTickContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slotA := f.mustCreateSlot(t, "2025-06-10", "14:00")
	resA, err := f.coord.Reserve(ctx, slotA.ID, uuid.New())
	require.NoError(t, err)
	slotB := f.mustCreateSlot(t, "2025-06-10", "15:00")
	resB, err := f.coord.Reserve(ctx, slotB.ID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(testHoldWindow + time.Second)

	failing := &failOnceStore{Store: f.store, failID: resA.ID}
	coord := NewCoordinator(failing, f.pub, f.clock, testHoldWindow, nil)
	scanner := NewScanner(coord, failing, f.clock, nil)

	expired, err := scanner.Tick(ctx)
	require.NoError(t, err, "a per-item failure must not abort the sweep")
	assert.Equal(t, 1, expired)

	got, err := f.store.GetReservationByID(ctx, resB.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationExpired, got.Status)

	// The failed one is retried on the next healthy sweep.
	healthy := NewScanner(f.coord, f.store, f.clock, nil)
	expired, err = healthy.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err = f.store.GetReservationByID(ctx, resA.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationExpired, got.Status)
}

func TestOverlappingTicksAreSafe(t *testing.T) {
	f, scanner := newScannerFixture(t)
	ctx := context.Background()

	var slotIDs []uuid.UUID
	for _, slotTime := range []string{"09:00", "10:00", "11:00", "12:00", "13:00"} {
		slot := f.mustCreateSlot(t, "2025-06-10", slotTime)
		_, err := f.coord.Reserve(ctx, slot.ID, uuid.New())
		require.NoError(t, err)
		slotIDs = append(slotIDs, slot.ID)
	}

	f.clock.Advance(testHoldWindow + time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := scanner.Tick(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every slot released exactly back to active; no double-release, no
	// reservation left pending.
	for _, id := range slotIDs {
		assert.Equal(t, SlotActive, f.slotState(t, id))
	}
	pending, err := f.store.FindExpiredPending(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTickSkipsConfirmedRace(t *testing.T) {
	f, scanner := newScannerFixture(t)
	ctx := context.Background()

	slot := f.mustCreateSlot(t, "2025-06-10", "14:00")
	res, err := f.coord.Reserve(ctx, slot.ID, uuid.New())
	require.NoError(t, err)

	// The slot is booked but the reservation row is still pending, as if a
	// confirm crashed between its two store writes. The sweep must leave
	// it for the confirm side rather than expire a booked slot.
	ok, err := f.store.Confirm(ctx, slot.ID, res.ID)
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(testHoldWindow + time.Second)

	expired, err := scanner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, SlotBooked, f.slotState(t, slot.ID))
}

func TestTickReclaimsDanglingClaims(t *testing.T) {
	f, scanner := newScannerFixture(t)
	ctx := context.Background()

	slot := f.mustCreateSlot(t, "2025-06-10", "14:00")

	// Claim with no reservation row: crash between claim and insert.
	ok, err := f.store.TryClaim(ctx, slot.ID, uuid.New(), f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(testHoldWindow + time.Second)

	_, err = scanner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, SlotActive, f.slotState(t, slot.ID))
}
