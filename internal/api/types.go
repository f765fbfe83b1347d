package api

import (
	"time"

	"github.com/campuscare/counselling-booking/internal/booking"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type PublishSlotRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Price     int64     `json:"price"`
}

type SlotResponse struct {
	ID           int64     `json:"id"`
	CounsellorID int64     `json:"counsellor_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Price        int64     `json:"price"`
	Booked       bool      `json:"booked"`
	Cancelled    bool      `json:"cancelled"`
}

type BookAppointmentRequest struct {
	SlotID int64 `json:"slot_id"`
}

type AppointmentResponse struct {
	ID              int64     `json:"id"`
	StudentID       int64     `json:"student_id"`
	CounsellorID    int64     `json:"counsellor_id"`
	SlotID          *int64    `json:"slot_id,omitempty"`
	AppointmentTime time.Time `json:"appointment_time"`
	Status          string    `json:"status"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type VerifyResponse struct {
	Status        string `json:"status"`
	AppointmentID int64  `json:"appointment_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *booking.Slot) SlotResponse {
	return SlotResponse{
		ID:           s.ID,
		CounsellorID: s.CounsellorID,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Price:        s.Price,
		Booked:       s.Booked,
		Cancelled:    s.Cancelled,
	}
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		StudentID:       a.StudentID,
		CounsellorID:    a.CounsellorID,
		SlotID:          a.SlotID,
		AppointmentTime: a.AppointmentTime,
		Status:          string(a.Status),
		ExpiresAt:       a.ExpiresAt,
	}
}

func toAppointmentResponses(list []booking.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}
