package booking

import (
	"time"
)

type AppointmentStatus string

const (
	StatusPendingPayment      AppointmentStatus = "PENDING_PAYMENT"
	StatusConfirmed           AppointmentStatus = "CONFIRMED"
	StatusCompleted           AppointmentStatus = "COMPLETED"
	StatusCancelledStudent    AppointmentStatus = "CANCELLED_STUDENT"
	StatusCancelledCounsellor AppointmentStatus = "CANCELLED_COUNSELLOR"
	StatusCancelledExternal   AppointmentStatus = "CANCELLED_EXTERNAL"
)

// Terminal reports whether no further transition is allowed from the status.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledStudent, StatusCancelledCounsellor, StatusCancelledExternal:
		return true
	}
	return false
}

func (s AppointmentStatus) Cancelled() bool {
	switch s {
	case StatusCancelledStudent, StatusCancelledCounsellor, StatusCancelledExternal:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "PENDING"
	PaymentSuccess      PaymentStatus = "SUCCESS"
	PaymentFailed       PaymentStatus = "FAILED"
	PaymentRefunded     PaymentStatus = "REFUNDED"
	PaymentRefundFailed PaymentStatus = "REFUND_FAILED"
)

func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentFailed, PaymentRefunded, PaymentRefundFailed:
		return true
	}
	return false
}

type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleCounsellor Role = "COUNSELLOR"
)

type User struct {
	ID           int64
	Name         string
	Email        string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Slot is a counsellor-published bookable interval. A cancelled slot never
// becomes bookable again; slots are flagged, not deleted.
type Slot struct {
	ID           int64
	CounsellorID int64
	StudentID    *int64
	StartTime    time.Time
	EndTime      time.Time
	Price        int64
	Booked       bool
	Cancelled    bool
}

// Appointment is a student's reservation against a slot. SlotID goes nil once
// the appointment is detached from its slot on cancellation. ExpiresAt is only
// meaningful while the status is PENDING_PAYMENT.
type Appointment struct {
	ID              int64
	StudentID       int64
	CounsellorID    int64
	SlotID          *int64
	AppointmentTime time.Time
	Status          AppointmentStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Version         int64
}

// Payment tracks one gateway transaction for an appointment. GatewayOrderID is
// the caller-generated correlation token and is immutable once set; it doubles
// as the idempotency key for verification callbacks.
type Payment struct {
	ID               int64
	AppointmentID    int64
	Amount           int64
	Status           PaymentStatus
	GatewayOrderID   string
	GatewayPaymentID string
	GatewayName      string
	CreatedAt        time.Time
}
