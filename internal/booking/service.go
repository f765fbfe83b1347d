package booking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/events"
	"github.com/campuscare/counselling-booking/internal/payu"
	redisclient "github.com/campuscare/counselling-booking/internal/redis"
)

var (
	ErrInvalidInterval   = errors.New("start time must be before end time and not in the past")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrSlotOverlap       = errors.New("an existing slot overlaps this interval")
	ErrSlotCancelled     = errors.New("slot was cancelled by the counsellor")
	ErrSlotAlreadyBooked = errors.New("slot is already booked")
	ErrSlotInPast        = errors.New("slot is in the past")
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrNotSlotOwner      = errors.New("slot belongs to another counsellor")

	ErrNotAppointmentOwner = errors.New("appointment belongs to another user")
	ErrPastAppointment     = errors.New("cannot cancel a past appointment")
	ErrAppointmentDone     = errors.New("appointment is already completed")
	ErrAlreadyRefunded     = errors.New("the refund for this payment is already processed")
)

// RefundGateway is the slice of the gateway the cancellation paths need.
// Refund never returns an error; failures come back as a failed result.
type RefundGateway interface {
	Refund(ctx context.Context, gatewayPaymentID string, amount int64) payu.RefundResult
}

// Service owns slot publication and the booking/cancellation transaction
// boundary. All mutations follow the slot, appointment, payment lock order.
type Service struct {
	repo      Repository
	locker    redisclient.Locker
	gateway   RefundGateway
	publisher events.Publisher
	window    time.Duration
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, gateway RefundGateway, publisher events.Publisher, paymentWindow time.Duration, logger *zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		gateway:   gateway,
		publisher: publisher,
		window:    paymentWindow,
		logger:    logger,
		now:       time.Now,
	}
}

// BookAppointment reserves a slot for a student. The Redis lock serializes
// concurrent attempts on the same slot across instances; the row lock inside
// the transaction is the source of truth.
func (s *Service) BookAppointment(ctx context.Context, studentID, slotID int64) (*Appointment, error) {
	var created *Appointment

	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Tx) error {
			slot, err := tx.GetSlotForUpdate(lockCtx, slotID)
			if err != nil {
				return err
			}
			if slot.Cancelled {
				return ErrSlotCancelled
			}
			if slot.Booked {
				return ErrSlotAlreadyBooked
			}

			now := s.now()
			if slot.StartTime.Before(now) {
				return ErrSlotInPast
			}

			if _, err := tx.GetUserByID(lockCtx, studentID); err != nil {
				return err
			}

			appt := &Appointment{
				StudentID:       studentID,
				CounsellorID:    slot.CounsellorID,
				SlotID:          &slot.ID,
				AppointmentTime: slot.StartTime,
				Status:          StatusPendingPayment,
				ExpiresAt:       now.Add(s.window),
			}
			created, err = tx.InsertAppointment(lockCtx, appt)
			if err != nil {
				return err
			}

			slot.Booked = true
			slot.StudentID = &studentID
			return tx.UpdateSlot(lockCtx, slot)
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	// Booking is provisional until payment succeeds; no event yet.
	return created, nil
}

// CancelAppointment cancels a student's own appointment. Re-cancelling an
// already cancelled appointment returns the existing record. A captured
// payment on a confirmed appointment is refunded first.
func (s *Service) CancelAppointment(ctx context.Context, studentID, appointmentID int64) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if current.StudentID != studentID {
		return nil, ErrNotAppointmentOwner
	}
	if current.Status.Cancelled() {
		return current, nil
	}
	if current.SlotID == nil {
		// Non-cancelled appointments always carry a slot.
		return nil, ErrAppointmentNotFound
	}

	var (
		cancelled *Appointment
		ev        events.AppointmentEvent
	)

	err = s.repo.InTx(ctx, func(tx Tx) error {
		slot, err := tx.GetSlotForUpdate(ctx, *current.SlotID)
		if err != nil {
			return err
		}

		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status.Cancelled() {
			cancelled = appt
			return nil
		}
		if appt.Status == StatusCompleted {
			return ErrAppointmentDone
		}
		if appt.AppointmentTime.Before(s.now()) {
			return ErrPastAppointment
		}

		payment, err := tx.GetPaymentByAppointmentForUpdate(ctx, appointmentID)
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return err
		}
		if payment != nil {
			if payment.Status == PaymentRefunded {
				return ErrAlreadyRefunded
			}
			if payment.Status == PaymentSuccess && appt.Status == StatusConfirmed {
				s.applyRefund(ctx, tx, payment)
			}
			if payment.Status == PaymentPending {
				// Close the open order so a late gateway callback has
				// nothing left to confirm.
				payment.Status = PaymentFailed
				if err := tx.UpdatePayment(ctx, payment); err != nil {
					return err
				}
			}
		}

		slot.StudentID = nil
		slot.Booked = false
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}

		appt.SlotID = nil
		appt.Status = StatusCancelledStudent
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}

		ev, err = s.buildEvent(ctx, tx, appt, events.EventCancelledStudent)
		if err != nil {
			return err
		}
		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ev.EventType != "" {
		s.publishCancelled(ctx, ev)
	}
	return cancelled, nil
}

// CancelAppointmentByCounsellor cancels an appointment from the counsellor's
// side and annotates the event with the refund outcome.
func (s *Service) CancelAppointmentByCounsellor(ctx context.Context, counsellorID, appointmentID int64) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if current.CounsellorID != counsellorID {
		return nil, ErrNotAppointmentOwner
	}
	if current.Status.Cancelled() {
		return current, nil
	}
	if current.SlotID == nil {
		return nil, ErrAppointmentNotFound
	}

	var (
		cancelled *Appointment
		ev        events.AppointmentEvent
	)

	err = s.repo.InTx(ctx, func(tx Tx) error {
		slot, err := tx.GetSlotForUpdate(ctx, *current.SlotID)
		if err != nil {
			return err
		}

		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status.Cancelled() {
			cancelled = appt
			return nil
		}
		if appt.Status == StatusCompleted {
			return ErrAppointmentDone
		}
		if appt.AppointmentTime.Before(s.now()) {
			return ErrPastAppointment
		}

		eventType, err := s.refundForCounsellorCancel(ctx, tx, appt)
		if err != nil {
			return err
		}

		slot.StudentID = nil
		slot.Booked = false
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}

		appt.Status = StatusCancelledCounsellor
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}

		ev, err = s.buildEvent(ctx, tx, appt, eventType)
		if err != nil {
			return err
		}
		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ev.EventType != "" {
		s.publishCancelled(ctx, ev)
	}
	return cancelled, nil
}

// refundForCounsellorCancel locks the payment (if any), refunds a captured
// one, and picks the event kind describing the outcome.
func (s *Service) refundForCounsellorCancel(ctx context.Context, tx Tx, appt *Appointment) (events.EventType, error) {
	payment, err := tx.GetPaymentByAppointmentForUpdate(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return events.EventCancelledCounsellorNoRefund, nil
		}
		return "", err
	}

	if payment.Status == PaymentRefunded {
		return "", ErrAlreadyRefunded
	}
	if payment.Status == PaymentPending {
		// Close the open order so a late gateway callback has nothing
		// left to confirm.
		payment.Status = PaymentFailed
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return "", err
		}
		return events.EventCancelledCounsellorNoRefund, nil
	}
	if payment.Status != PaymentSuccess || appt.Status != StatusConfirmed {
		return events.EventCancelledCounsellorNoRefund, nil
	}

	if s.applyRefund(ctx, tx, payment) {
		return events.EventCancelledCounsellorRefundSuccess, nil
	}
	return events.EventCancelledCounsellorRefundFailed, nil
}

// applyRefund issues the gateway refund exactly once and records the outcome.
// Both outcomes are terminal; a failed refund is surfaced for manual
// follow-up rather than retried.
func (s *Service) applyRefund(ctx context.Context, tx Tx, payment *Payment) bool {
	result := s.gateway.Refund(ctx, payment.GatewayPaymentID, payment.Amount)
	if result.Success {
		payment.Status = PaymentRefunded
	} else {
		payment.Status = PaymentRefundFailed
		s.logger.Warn().
			Int64("payment_id", payment.ID).
			Str("gateway_payment_id", payment.GatewayPaymentID).
			Str("status", result.Status).
			Msg("refund failed, payment needs manual follow-up")
	}
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		s.logger.Error().Err(err).Int64("payment_id", payment.ID).Msg("record refund outcome")
		return false
	}
	return result.Success
}

func (s *Service) buildEvent(ctx context.Context, tx Tx, appt *Appointment, eventType events.EventType) (events.AppointmentEvent, error) {
	student, err := tx.GetUserByID(ctx, appt.StudentID)
	if err != nil {
		return events.AppointmentEvent{}, err
	}
	counsellor, err := tx.GetUserByID(ctx, appt.CounsellorID)
	if err != nil {
		return events.AppointmentEvent{}, err
	}
	return events.AppointmentEvent{
		AppointmentID:   appt.ID,
		StudentEmail:    student.Email,
		CounsellorEmail: counsellor.Email,
		AppointmentTime: appt.AppointmentTime,
		EventType:       eventType,
	}, nil
}

func (s *Service) publishCancelled(ctx context.Context, ev events.AppointmentEvent) {
	if err := s.publisher.PublishCancelled(ctx, ev); err != nil {
		s.logger.Error().Err(err).Int64("appointment_id", ev.AppointmentID).Msg("publish cancellation event")
	}
}

// ListAppointmentsByStudent returns a student's appointments ordered by time.
func (s *Service) ListAppointmentsByStudent(ctx context.Context, studentID int64) ([]Appointment, error) {
	return s.repo.ListAppointmentsByStudent(ctx, studentID)
}

// ListAppointmentsByCounsellor returns a counsellor's appointments ordered by time.
func (s *Service) ListAppointmentsByCounsellor(ctx context.Context, counsellorID int64) ([]Appointment, error) {
	return s.repo.ListAppointmentsByCounsellor(ctx, counsellorID)
}

// ListOpenSlots returns bookable future slots.
func (s *Service) ListOpenSlots(ctx context.Context) ([]Slot, error) {
	return s.repo.ListOpenSlots(ctx, s.now())
}
