package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store with the same conditional-transition
// semantics as PgStore. It backs the test suite and local development;
// production deployments need the durable store.
type MemStore struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*Slot
	reservations map[uuid.UUID]*Reservation
	events       []EventLog
	nextEventID  int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		slots:        make(map[uuid.UUID]*Slot),
		reservations: make(map[uuid.UUID]*Reservation),
	}
}

func (m *MemStore) CreateSlot(_ context.Context, ns NewSlot) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.slots {
		if s.ProviderID == ns.ProviderID && s.Date == ns.Date && s.Time == ns.Time && s.State != SlotCancelled {
			return nil, ErrDuplicateSlot
		}
	}

	dur := ns.DurationMinutes
	if dur <= 0 {
		dur = DefaultSlotDurationMinutes
	}

	now := time.Now()
	slot := &Slot{
		ID:              uuid.New(),
		ProviderID:      ns.ProviderID,
		Date:            ns.Date,
		Time:            ns.Time,
		DurationMinutes: dur,
		State:           SlotActive,
		Description:     ns.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.slots[slot.ID] = slot

	out := *slot
	return &out, nil
}

func (m *MemStore) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	out := *slot
	return &out, nil
}

func (m *MemStore) ListActiveSlots(_ context.Context, providerID uuid.UUID, fromDate string) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Slot
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.State == SlotActive && s.Date >= fromDate {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Time < result[j].Time
	})
	return result, nil
}

func (m *MemStore) TryClaim(_ context.Context, slotID, reservationID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok || slot.State != SlotActive {
		return false, nil
	}
	resID := reservationID
	stamp := at
	slot.State = SlotReserved
	slot.ReservedBy = &resID
	slot.ReservedAt = &stamp
	slot.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) Confirm(_ context.Context, slotID, reservationID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok || slot.State != SlotReserved || slot.ReservedBy == nil || *slot.ReservedBy != reservationID {
		return false, nil
	}
	slot.State = SlotBooked
	slot.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) Release(_ context.Context, slotID, reservationID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok || slot.State != SlotReserved || slot.ReservedBy == nil || *slot.ReservedBy != reservationID {
		return false, nil
	}
	slot.State = SlotActive
	slot.ReservedBy = nil
	slot.ReservedAt = nil
	slot.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) CancelBooked(_ context.Context, slotID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok || slot.State != SlotBooked {
		return false, nil
	}
	slot.State = SlotCancelled
	slot.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) CreateReservation(_ context.Context, id, slotID, holderID uuid.UUID, at time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &Reservation{
		ID:        id,
		SlotID:    slotID,
		HolderID:  holderID,
		Status:    ReservationPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	m.reservations[id] = r

	out := *r
	return &out, nil
}

func (m *MemStore) GetReservationByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := *r
	return &out, nil
}

func (m *MemStore) UpdateReservationStatus(_ context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.UpdatedAt = time.Now()

	out := *r
	return &out, nil
}

func (m *MemStore) FindExpiredPending(_ context.Context, cutoff time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Reservation
	for _, r := range m.reservations {
		if r.Status == ReservationPending && !r.CreatedAt.After(cutoff) {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (m *MemStore) FindDanglingReserved(_ context.Context, cutoff time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Slot
	for _, s := range m.slots {
		if s.State != SlotReserved || s.ReservedAt == nil || s.ReservedAt.After(cutoff) {
			continue
		}
		if s.ReservedBy != nil {
			if _, ok := m.reservations[*s.ReservedBy]; ok {
				continue
			}
		}
		result = append(result, *s)
	}
	return result, nil
}

func (m *MemStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	ev.ID = m.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the audit log, oldest first.
func (m *MemStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}
