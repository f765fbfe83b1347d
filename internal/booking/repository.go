package booking

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPaymentNotFound     = errors.New("payment not found")

	// ErrUserExists is raised by the unique email constraint.
	ErrUserExists = errors.New("a user with this email already exists")

	// ErrSlotExists is raised by the (counsellor, start, end) uniqueness
	// constraint, the last-resort guard behind the in-memory overlap check.
	ErrSlotExists = errors.New("slot already exists for this interval")

	// ErrConcurrentModification means the appointment version check failed.
	ErrConcurrentModification = errors.New("appointment modified concurrently")
)

// Repository contains all DB interactions needed by the services. Mutations
// happen inside InTx; reads that take no locks live on the Repository itself.
type Repository interface {
	// InTx runs fn inside a single transaction. A non-nil error from fn
	// rolls everything back; no partial state is ever persisted.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u *User) (*User, error)

	GetSlotByID(ctx context.Context, id int64) (*Slot, error)
	ListOpenSlots(ctx context.Context, from time.Time) ([]Slot, error)

	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)
	ListAppointmentsByStudent(ctx context.Context, studentID int64) ([]Appointment, error)
	ListAppointmentsByCounsellor(ctx context.Context, counsellorID int64) ([]Appointment, error)

	// FindStalePendingPayment returns PENDING_PAYMENT appointments created
	// before the cutoff, for the expiry reaper.
	FindStalePendingPayment(ctx context.Context, cutoff time.Time) ([]Appointment, error)
}

// Tx exposes the lock-guarded mutation surface. The *ForUpdate loads take an
// exclusive row lock held until the transaction ends; callers must acquire
// locks in slot, then appointment, then payment order.
type Tx interface {
	GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error)
	// GetSlotByID is a plain read inside the transaction, no lock taken.
	GetSlotByID(ctx context.Context, id int64) (*Slot, error)
	ListCounsellorSlotsFrom(ctx context.Context, counsellorID int64, from time.Time) ([]Slot, error)
	InsertSlot(ctx context.Context, s *Slot) (*Slot, error)
	UpdateSlot(ctx context.Context, s *Slot) error

	GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error)
	GetAppointmentBySlotForUpdate(ctx context.Context, slotID int64) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointment compares-and-swaps on Version and bumps it;
	// a stale version yields ErrConcurrentModification.
	UpdateAppointment(ctx context.Context, a *Appointment) error

	GetPaymentForUpdate(ctx context.Context, id int64) (*Payment, error)
	GetPaymentByAppointmentForUpdate(ctx context.Context, appointmentID int64) (*Payment, error)
	GetPaymentByOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*Payment, error)
	GetPendingPaymentByAppointment(ctx context.Context, appointmentID int64) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error

	GetUserByID(ctx context.Context, id int64) (*User, error)
}
