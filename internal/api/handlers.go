package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caresched/slot-reservation/internal/booking"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

func slotResponse(s *booking.Slot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		Date:            s.Date,
		Time:            s.Time,
		DurationMinutes: s.DurationMinutes,
		State:           string(s.State),
		Description:     s.Description,
	}
}

func reservationResponse(r *booking.Reservation, holdWindow time.Duration) ReservationResponse {
	resp := ReservationResponse{
		ID:        r.ID,
		SlotID:    r.SlotID,
		HolderID:  r.HolderID,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
	}
	if r.Status == booking.ReservationPending {
		deadline := r.Deadline(holdWindow)
		resp.ExpiresAt = &deadline
	}
	return resp
}

func createSlotHandler(coord *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "providerID must be a valid UUID")
			return
		}

		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if _, err := time.Parse(dateLayout, req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		if _, err := time.Parse(timeLayout, req.Time); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}
		if req.DurationMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be positive")
			return
		}

		slot, err := coord.CreateSlot(r.Context(), booking.NewSlot{
			ProviderID:      providerID,
			Date:            req.Date,
			Time:            req.Time,
			DurationMinutes: req.DurationMinutes,
			Description:     req.Description,
		})
		if err != nil {
			if errors.Is(err, booking.ErrDuplicateSlot) {
				writeError(w, http.StatusConflict, "duplicate_slot", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, slotResponse(slot))
	}
}

func listSlotsHandler(coord *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "providerID must be a valid UUID")
			return
		}

		fromDate := r.URL.Query().Get("from")
		if fromDate == "" {
			fromDate = time.Now().Format(dateLayout)
		} else if _, err := time.Parse(dateLayout, fromDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
			return
		}

		slots, err := coord.ListActiveSlots(r.Context(), providerID, fromDate)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, slotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createReservationHandler(coord *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		holderID, err := uuid.Parse(req.HolderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_holder_id", "holder_id must be a valid UUID")
			return
		}

		res, err := coord.Reserve(r.Context(), slotID, holderID)
		if err != nil {
			handleReserveError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, reservationResponse(res, coord.HoldWindow()))
	}
}

func getReservationHandler(coord *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		res, err := coord.GetReservation(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrReservationNotFound) {
				writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, reservationResponse(res, coord.HoldWindow()))
	}
}

func confirmReservationHandler(coord *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		res, err := coord.ConfirmPayment(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrPaymentRaceLost) && res != nil {
				// The refund request has already been published; return the
				// settled reservation so the caller can show its state.
				settled := reservationResponse(res, coord.HoldWindow())
				writeJSON(w, http.StatusConflict, ErrorResponse{
					Error:       "payment_race_lost",
					Details:     err.Error(),
					Reservation: &settled,
				})
				return
			}
			handleConfirmError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, reservationResponse(res, coord.HoldWindow()))
	}
}

func cancelReservationHandler(coord *booking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		actor := booking.ActorHolder
		var req CancelReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Actor == string(booking.ActorProvider) {
			actor = booking.ActorProvider
		}

		res, err := coord.Cancel(r.Context(), id, actor)
		if err != nil {
			handleCancelError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, reservationResponse(res, coord.HoldWindow()))
	}
}

func handleReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		// Not an error page on the frontend: "please pick another time".
		writeError(w, http.StatusConflict, "slot_unavailable", "slot is no longer available, please pick another time")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleConfirmError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, booking.ErrPaymentRaceLost):
		writeError(w, http.StatusConflict, "payment_race_lost", err.Error())
	case errors.Is(err, booking.ErrReservationNotPending):
		writeError(w, http.StatusConflict, "reservation_not_pending", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCancelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotStateMismatch):
		writeError(w, http.StatusConflict, "slot_state_mismatch", err.Error())
	case errors.Is(err, booking.ErrReservationMismatch):
		writeError(w, http.StatusConflict, "reservation_mismatch", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
