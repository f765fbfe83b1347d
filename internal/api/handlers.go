package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campuscare/counselling-booking/internal/auth"
	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/payment"
)

// Auth

func registerHandler(svc *auth.Service, role booking.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Name == "" || req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "name, email and password are required")
			return
		}

		user, err := svc.Register(r.Context(), req.Name, req.Email, req.Password, role)
		if err != nil {
			if errors.Is(err, booking.ErrUserExists) {
				writeError(w, http.StatusConflict, "duplicate_email", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "email": user.Email, "role": user.Role})
	}
}

func loginHandler(svc *auth.Service, role booking.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		token, err := svc.Login(r.Context(), req.Email, req.Password, role)
		if err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				writeError(w, http.StatusUnauthorized, "bad_credentials", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{Token: token})
	}
}

// Counsellor side

func publishSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		var req PublishSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := svc.PublishSlot(r.Context(), ident.UserID, req.StartTime, req.EndTime, req.Price)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func cancelSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		slotID, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be an integer")
			return
		}

		slot, err := svc.CancelSlot(r.Context(), ident.UserID, slotID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func counsellorAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		list, err := svc.ListAppointmentsByCounsellor(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(list))
	}
}

func counsellorCancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		appointmentID, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}

		appt, err := svc.CancelAppointmentByCounsellor(r.Context(), ident.UserID, appointmentID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Student side

func listOpenSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slots, err := svc.ListOpenSlots(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), ident.UserID, req.SlotID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		bookingsTotal.Inc()
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func studentAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		list, err := svc.ListAppointmentsByStudent(r.Context(), ident.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(list))
	}
}

func studentCancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		appointmentID, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), ident.UserID, appointmentID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Payment

func createOrderHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, _ := GetIdentity(r.Context())

		appointmentID, err := parseID(chi.URLParam(r, "appointmentID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}

		order, err := svc.CreateOrder(r.Context(), ident.UserID, appointmentID)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

// verifyPaymentHandler receives the gateway redirect/webhook. The gateway is
// not authenticated; the hash inside the payload is the proof of origin.
func verifyPaymentHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_callback", "could not parse parameters")
			return
		}

		params := make(map[string]string, len(r.Form))
		for key := range r.Form {
			params[key] = r.Form.Get(key)
		}

		result, err := svc.VerifyPayment(r.Context(), params)
		if err != nil {
			paymentsVerified.WithLabelValues("rejected").Inc()
			handlePaymentError(w, err)
			return
		}

		if result.Success {
			paymentsVerified.WithLabelValues("success").Inc()
			writeJSON(w, http.StatusOK, VerifyResponse{Status: "success", AppointmentID: result.AppointmentID})
			return
		}
		paymentsVerified.WithLabelValues("failure").Inc()
		writeJSON(w, http.StatusOK, VerifyResponse{Status: "failure", AppointmentID: result.AppointmentID})
	}
}

// Error mapping

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, booking.ErrUserNotFound),
		errors.Is(err, booking.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrSlotOverlap):
		writeError(w, http.StatusConflict, "slot_overlap", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, booking.ErrInvalidInterval),
		errors.Is(err, booking.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, booking.ErrSlotCancelled),
		errors.Is(err, booking.ErrSlotInPast),
		errors.Is(err, booking.ErrNotSlotOwner),
		errors.Is(err, booking.ErrNotAppointmentOwner),
		errors.Is(err, booking.ErrPastAppointment),
		errors.Is(err, booking.ErrAppointmentDone),
		errors.Is(err, booking.ErrAlreadyRefunded):
		writeError(w, http.StatusUnprocessableEntity, "invalid_operation", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handlePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPaymentNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, payment.ErrHashMismatch):
		writeError(w, http.StatusBadRequest, "hash_mismatch", err.Error())
	case errors.Is(err, payment.ErrTamperedPayment),
		errors.Is(err, payment.ErrAmountMismatch):
		writeError(w, http.StatusBadRequest, "tampered_payment", err.Error())
	case errors.Is(err, payment.ErrAlreadyProcessed),
		errors.Is(err, payment.ErrNotBookingStudent),
		errors.Is(err, payment.ErrWindowExpired),
		errors.Is(err, payment.ErrAppointmentCancelled):
		writeError(w, http.StatusUnprocessableEntity, "invalid_operation", err.Error())
	case errors.Is(err, booking.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
