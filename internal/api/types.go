package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateSlotRequest struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Description     string `json:"description,omitempty"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	State           string    `json:"state"`
	Description     string    `json:"description,omitempty"`
}

type CreateReservationRequest struct {
	SlotID   string `json:"slot_id"`
	HolderID string `json:"holder_id"`
}

type CancelReservationRequest struct {
	Actor string `json:"actor,omitempty"`
}

type ReservationResponse struct {
	ID        uuid.UUID  `json:"id"`
	SlotID    uuid.UUID  `json:"slot_id"`
	HolderID  uuid.UUID  `json:"holder_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Set on payment_race_lost so the caller can show the reservation's
	// settled state alongside the failure.
	Reservation *ReservationResponse `json:"reservation,omitempty"`
}
