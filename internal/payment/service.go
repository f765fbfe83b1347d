// Package payment owns the order creation and gateway verification legs of
// the payment lifecycle. Refund orchestration lives with the cancellation
// paths in the booking package.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/events"
	"github.com/campuscare/counselling-booking/internal/payu"
)

var (
	ErrAlreadyProcessed     = errors.New("payment for this appointment is already processed")
	ErrNotBookingStudent    = errors.New("cannot pay for someone else's appointment")
	ErrWindowExpired        = errors.New("time for payment expired")
	ErrAppointmentCancelled = errors.New("the appointment is already cancelled")
	ErrHashMismatch         = errors.New("hash mismatch, payment verification failed")
	ErrTamperedPayment      = errors.New("cannot process tampered payment")
	ErrAmountMismatch       = errors.New("amount mismatch")
)

// Gateway is the slice of the PayU adapter the payment service needs.
type Gateway interface {
	BuildPaymentRequest(txnID string, amount int64, buyerName, buyerEmail string) payu.PaymentRequest
	VerifyResponseHash(params map[string]string) bool
}

type Service struct {
	repo      booking.Repository
	gateway   Gateway
	publisher events.Publisher
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewService(repo booking.Repository, gateway Gateway, publisher events.Publisher, logger *zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateOrder opens (or returns) the pending payment for an appointment and
// builds the signed gateway request. Retries while a payment is still
// pending get the same correlation token back instead of a duplicate row.
func (s *Service) CreateOrder(ctx context.Context, studentID, appointmentID int64) (payu.PaymentRequest, error) {
	var request payu.PaymentRequest

	err := s.repo.InTx(ctx, func(tx booking.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == booking.StatusConfirmed {
			return ErrAlreadyProcessed
		}
		if appt.StudentID != studentID {
			return ErrNotBookingStudent
		}
		if appt.ExpiresAt.Before(s.now()) {
			return ErrWindowExpired
		}
		if appt.Status.Cancelled() {
			return ErrAppointmentCancelled
		}

		student, err := tx.GetUserByID(ctx, studentID)
		if err != nil {
			return err
		}

		existing, err := tx.GetPendingPaymentByAppointment(ctx, appointmentID)
		if err != nil && !errors.Is(err, booking.ErrPaymentNotFound) {
			return err
		}
		if existing != nil {
			request = s.gateway.BuildPaymentRequest(existing.GatewayOrderID, existing.Amount, student.Name, student.Email)
			return nil
		}

		if appt.SlotID == nil {
			return booking.ErrSlotNotFound
		}
		slot, err := tx.GetSlotByID(ctx, *appt.SlotID)
		if err != nil {
			return err
		}

		created, err := tx.InsertPayment(ctx, &booking.Payment{
			AppointmentID:  appointmentID,
			Amount:         slot.Price,
			Status:         booking.PaymentPending,
			GatewayOrderID: newCorrelationToken(),
			GatewayName:    payu.GatewayName,
		})
		if err != nil {
			return err
		}

		request = s.gateway.BuildPaymentRequest(created.GatewayOrderID, created.Amount, student.Name, student.Email)
		return nil
	})
	if err != nil {
		return payu.PaymentRequest{}, err
	}
	return request, nil
}

// VerifyResult is the outcome of a gateway callback.
type VerifyResult struct {
	Success       bool
	AppointmentID int64
}

// VerifyPayment processes the gateway callback. The signature check always
// runs first and a mismatch never mutates state. A callback for an already
// successful payment short-circuits to success, so the gateway can retry the
// redirect safely.
func (s *Service) VerifyPayment(ctx context.Context, params map[string]string) (VerifyResult, error) {
	txnID := params["txnid"]
	mihPayID := params["mihpayid"]
	status := params["status"]

	var result VerifyResult
	var booked *events.AppointmentEvent

	err := s.repo.InTx(ctx, func(tx booking.Tx) error {
		payment, err := tx.GetPaymentByOrderIDForUpdate(ctx, txnID)
		if err != nil {
			return err
		}

		if !s.gateway.VerifyResponseHash(params) {
			return ErrHashMismatch
		}

		if payment.Status == booking.PaymentSuccess {
			result = VerifyResult{Success: true, AppointmentID: payment.AppointmentID}
			return nil
		}

		if payment.Status != booking.PaymentPending {
			return ErrTamperedPayment
		}
		if payment.GatewayOrderID != txnID {
			return ErrTamperedPayment
		}

		appt, err := tx.GetAppointmentForUpdate(ctx, payment.AppointmentID)
		if err != nil {
			return err
		}
		if appt.Status == booking.StatusCancelledExternal {
			return ErrWindowExpired
		}
		// All cancelled states are terminal; a late success callback must
		// never resurrect the appointment.
		if appt.Status.Cancelled() {
			return ErrAppointmentCancelled
		}

		received, err := decimal.NewFromString(params["amount"])
		if err != nil {
			return ErrAmountMismatch
		}
		if !received.Equal(decimal.NewFromInt(payment.Amount)) {
			return ErrAmountMismatch
		}

		payment.GatewayPaymentID = mihPayID
		success := strings.EqualFold(status, "success")
		if success {
			payment.Status = booking.PaymentSuccess
		} else {
			payment.Status = booking.PaymentFailed
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		result = VerifyResult{Success: success, AppointmentID: appt.ID}
		if !success {
			// Appointment stays PENDING_PAYMENT, subject to expiry.
			return nil
		}

		appt.Status = booking.StatusConfirmed
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}

		student, err := tx.GetUserByID(ctx, appt.StudentID)
		if err != nil {
			return err
		}
		counsellor, err := tx.GetUserByID(ctx, appt.CounsellorID)
		if err != nil {
			return err
		}
		booked = &events.AppointmentEvent{
			AppointmentID:   appt.ID,
			StudentEmail:    student.Email,
			CounsellorEmail: counsellor.Email,
			AppointmentTime: appt.AppointmentTime,
			EventType:       events.EventBooked,
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}

	if booked != nil {
		if err := s.publisher.PublishBooked(ctx, *booked); err != nil {
			s.logger.Error().Err(err).Int64("appointment_id", booked.AppointmentID).Msg("publish booked event")
		}
	}
	return result, nil
}

// newCorrelationToken builds the 20-char gateway order id.
func newCorrelationToken() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:20]
}
