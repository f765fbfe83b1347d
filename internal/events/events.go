package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Exchange topology shared by the publisher and the notify worker.
const (
	Exchange         = "appointment.exchange"
	NotifyQueue      = "appointment.notifications.queue"
	KeyBooked        = "appointment.booked"
	KeyCancelled     = "appointment.cancelled"
	NotifyBindingKey = "appointment.#"
)

type EventType string

const (
	EventBooked                           EventType = "BOOKED"
	EventCancelledStudent                 EventType = "CANCELLED_STUDENT"
	EventCancelledCounsellorRefundSuccess EventType = "CANCELLED_COUNSELLOR_REFUND_SUCCESS"
	EventCancelledCounsellorRefundFailed  EventType = "CANCELLED_COUNSELLOR_REFUND_FAILED"
	EventCancelledCounsellorNoRefund      EventType = "CANCELLED_COUNSELLOR_NO_REFUND"
)

// AppointmentEvent is the snapshot handed to the notification consumer.
// Delivery is at-least-once; consumers must handle duplicates.
type AppointmentEvent struct {
	AppointmentID   int64     `json:"appointment_id"`
	StudentEmail    string    `json:"student_email"`
	CounsellorEmail string    `json:"counsellor_email"`
	AppointmentTime time.Time `json:"appointment_time"`
	EventType       EventType `json:"event_type"`
}

// Publisher emits appointment lifecycle events. Implementations are
// fire-and-forget from the core's perspective.
type Publisher interface {
	PublishBooked(ctx context.Context, ev AppointmentEvent) error
	PublishCancelled(ctx context.Context, ev AppointmentEvent) error
}

func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode event payload: %w", err)
	}
	return t, nil
}
