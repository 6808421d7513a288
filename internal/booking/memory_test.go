package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlot(t *testing.T, store *MemStore) *Slot {
	t.Helper()
	slot, err := store.CreateSlot(context.Background(), NewSlot{
		ProviderID: uuid.New(),
		Date:       "2025-06-10",
		Time:       "14:00",
	})
	require.NoError(t, err)
	return slot
}

func TestCreateSlotDefaults(t *testing.T) {
	store := NewMemStore()
	slot := newTestSlot(t, store)

	assert.Equal(t, SlotActive, slot.State)
	assert.Equal(t, DefaultSlotDurationMinutes, slot.DurationMinutes)
	assert.Nil(t, slot.ReservedBy)
}

func TestTryClaimOnlyFromActive(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	slot := newTestSlot(t, store)
	resID := uuid.New()
	now := time.Now()

	ok, err := store.TryClaim(ctx, slot.ID, resID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetSlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotReserved, got.State)
	require.NotNil(t, got.ReservedBy)
	assert.Equal(t, resID, *got.ReservedBy)
	require.NotNil(t, got.ReservedAt)

	// A second claim on a reserved slot fails without mutating.
	ok, err = store.TryClaim(ctx, slot.ID, uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.GetSlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, resID, *got.ReservedBy)
}

func TestConfirmRequiresHoldingReservation(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	slot := newTestSlot(t, store)
	resID := uuid.New()

	ok, err := store.Confirm(ctx, slot.ID, resID)
	require.NoError(t, err)
	assert.False(t, ok, "confirm of an unclaimed slot must fail")

	_, err = store.TryClaim(ctx, slot.ID, resID, time.Now())
	require.NoError(t, err)

	ok, err = store.Confirm(ctx, slot.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok, "confirm by a non-holder must fail")

	ok, err = store.Confirm(ctx, slot.ID, resID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	slot := newTestSlot(t, store)
	resID := uuid.New()

	_, err := store.TryClaim(ctx, slot.ID, resID, time.Now())
	require.NoError(t, err)

	ok, err := store.Release(ctx, slot.ID, resID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second release: false, not an error. Retries and scanner overlap
	// depend on this.
	ok, err = store.Release(ctx, slot.ID, resID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetSlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotActive, got.State)
	assert.Nil(t, got.ReservedBy)
	assert.Nil(t, got.ReservedAt)
}

func TestCancelBookedDoesNotReopen(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	slot := newTestSlot(t, store)
	resID := uuid.New()

	_, err := store.TryClaim(ctx, slot.ID, resID, time.Now())
	require.NoError(t, err)
	_, err = store.Confirm(ctx, slot.ID, resID)
	require.NoError(t, err)

	ok, err := store.CancelBooked(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetSlotByID(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotCancelled, got.State)

	ok, err = store.CancelBooked(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateReservationStatusIsConditional(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	slot := newTestSlot(t, store)
	resID := uuid.New()

	_, err := store.CreateReservation(ctx, resID, slot.ID, uuid.New(), time.Now())
	require.NoError(t, err)

	updated, err := store.UpdateReservationStatus(ctx, resID, ReservationPending, ReservationPaid)
	require.NoError(t, err)
	assert.Equal(t, ReservationPaid, updated.Status)

	_, err = store.UpdateReservationStatus(ctx, resID, ReservationPending, ReservationExpired)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestListActiveSlotsOrderedFromDate(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	providerID := uuid.New()

	for _, s := range []struct{ date, tm string }{
		{"2025-06-12", "10:00"},
		{"2025-06-10", "14:00"},
		{"2025-06-12", "09:00"},
		{"2025-06-09", "08:00"},
	} {
		_, err := store.CreateSlot(ctx, NewSlot{ProviderID: providerID, Date: s.date, Time: s.tm})
		require.NoError(t, err)
	}

	slots, err := store.ListActiveSlots(ctx, providerID, "2025-06-10")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "2025-06-10", slots[0].Date)
	assert.Equal(t, "09:00", slots[1].Time)
	assert.Equal(t, "10:00", slots[2].Time)
}

func TestConcurrentTryClaimSingleWinner(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	slot := newTestSlot(t, store)

	const claimers = 100
	var wg sync.WaitGroup
	var winners int64
	var mu sync.Mutex

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryClaim(ctx, slot.ID, uuid.New(), time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners)
}

func TestFindExpiredPendingBoundary(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	slotA := newTestSlot(t, store)
	slotB, err := store.CreateSlot(ctx, NewSlot{ProviderID: uuid.New(), Date: "2025-06-10", Time: "15:00"})
	require.NoError(t, err)

	old := uuid.New()
	fresh := uuid.New()
	_, err = store.CreateReservation(ctx, old, slotA.ID, uuid.New(), base)
	require.NoError(t, err)
	_, err = store.CreateReservation(ctx, fresh, slotB.ID, uuid.New(), base.Add(time.Second))
	require.NoError(t, err)

	// Cutoff equals the old reservation's createdAt: boundary is included.
	got, err := store.FindExpiredPending(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old, got[0].ID)
}

func TestFindDanglingReserved(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// Claim with a reservation row: not dangling.
	slotA := newTestSlot(t, store)
	resA := uuid.New()
	_, err := store.TryClaim(ctx, slotA.ID, resA, base)
	require.NoError(t, err)
	_, err = store.CreateReservation(ctx, resA, slotA.ID, uuid.New(), base)
	require.NoError(t, err)

	// Claim without a row: the crashed-mid-reserve shape.
	slotB, err := store.CreateSlot(ctx, NewSlot{ProviderID: uuid.New(), Date: "2025-06-10", Time: "15:00"})
	require.NoError(t, err)
	_, err = store.TryClaim(ctx, slotB.ID, uuid.New(), base)
	require.NoError(t, err)

	got, err := store.FindDanglingReserved(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, slotB.ID, got[0].ID)
}
