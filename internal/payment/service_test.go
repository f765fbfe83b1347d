package payment

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/events"
	"github.com/campuscare/counselling-booking/internal/payu"
)

type capturePublisher struct {
	booked    []events.AppointmentEvent
	cancelled []events.AppointmentEvent
}

func (p *capturePublisher) PublishBooked(ctx context.Context, ev events.AppointmentEvent) error {
	p.booked = append(p.booked, ev)
	return nil
}

func (p *capturePublisher) PublishCancelled(ctx context.Context, ev events.AppointmentEvent) error {
	p.cancelled = append(p.cancelled, ev)
	return nil
}

type fixture struct {
	svc       *Service
	repo      *booking.MemRepository
	client    *payu.Client
	publisher *capturePublisher

	student     *booking.User
	counsellor  *booking.User
	slot        *booking.Slot
	appointment *booking.Appointment
}

// newFixture seeds a booked, unpaid appointment on a 500 rupee slot. The
// gateway is the real signing client so verification exercises real hashes.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := booking.NewMemRepository()
	publisher := &capturePublisher{}
	logger := zerolog.Nop()
	client := payu.NewClient(payu.Config{
		MerchantKey:  "gtKFFx",
		MerchantSalt: "eCwWELxi",
		BaseURL:      "https://test.payu.in/_payment",
	}, &logger)

	svc := NewService(repo, client, publisher, &logger)

	ctx := context.Background()
	student, err := repo.CreateUser(ctx, &booking.User{Name: "Asha", Email: "asha@example.com", Role: booking.RoleStudent})
	require.NoError(t, err)
	counsellor, err := repo.CreateUser(ctx, &booking.User{Name: "Ravi", Email: "ravi@example.com", Role: booking.RoleCounsellor})
	require.NoError(t, err)

	start := time.Now().Add(24 * time.Hour)
	var slot *booking.Slot
	var appt *booking.Appointment
	require.NoError(t, repo.InTx(ctx, func(tx booking.Tx) error {
		var err error
		slot, err = tx.InsertSlot(ctx, &booking.Slot{
			CounsellorID: counsellor.ID,
			StartTime:    start,
			EndTime:      start.Add(time.Hour),
			Price:        500,
			Booked:       true,
			StudentID:    &student.ID,
		})
		if err != nil {
			return err
		}
		appt, err = tx.InsertAppointment(ctx, &booking.Appointment{
			StudentID:       student.ID,
			CounsellorID:    counsellor.ID,
			SlotID:          &slot.ID,
			AppointmentTime: start,
			Status:          booking.StatusPendingPayment,
			ExpiresAt:       time.Now().Add(10 * time.Minute),
		})
		return err
	}))

	return &fixture{
		svc:         svc,
		repo:        repo,
		client:      client,
		publisher:   publisher,
		student:     student,
		counsellor:  counsellor,
		slot:        slot,
		appointment: appt,
	}
}

func (f *fixture) pendingPayment(t *testing.T) *booking.Payment {
	t.Helper()
	var payment *booking.Payment
	require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
		var err error
		payment, err = tx.GetPendingPaymentByAppointment(context.Background(), f.appointment.ID)
		return err
	}))
	return payment
}

// signedCallback produces the parameter set PayU would send back for the
// appointment's pending payment.
func (f *fixture) signedCallback(t *testing.T, amount int64, status string) map[string]string {
	t.Helper()
	payment := f.pendingPayment(t)
	params := map[string]string{
		"key":         "gtKFFx",
		"txnid":       payment.GatewayOrderID,
		"amount":      strconv.FormatInt(amount, 10),
		"productinfo": payu.ProductInfo,
		"firstname":   f.student.Name,
		"email":       f.student.Email,
		"status":      status,
		"mihpayid":    "403993715531816155",
	}
	params["hash"] = f.client.ResponseHash(params)
	return params
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	request, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	assert.Equal(t, "gtKFFx", request.Key)
	assert.Equal(t, int64(500), request.Amount, "amount comes from the slot price")
	assert.Len(t, request.TxnID, 20)
	assert.Equal(t, payu.ProductInfo, request.ProductInfo)
	assert.Equal(t, f.student.Email, request.Email)
	assert.NotEmpty(t, request.Hash)

	payment := f.pendingPayment(t)
	assert.Equal(t, request.TxnID, payment.GatewayOrderID)
	assert.Equal(t, booking.PaymentPending, payment.Status)
}

func TestCreateOrderIdempotentWhilePending(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	assert.Equal(t, first.TxnID, second.TxnID, "retry must reuse the pending order")
}

func TestCreateOrderRejections(t *testing.T) {
	t.Run("someone else's appointment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateOrder(context.Background(), f.counsellor.ID, f.appointment.ID)
		assert.ErrorIs(t, err, ErrNotBookingStudent)
	})

	t.Run("already confirmed", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
			appt, err := tx.GetAppointmentForUpdate(context.Background(), f.appointment.ID)
			if err != nil {
				return err
			}
			appt.Status = booking.StatusConfirmed
			return tx.UpdateAppointment(context.Background(), appt)
		}))

		_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})

	t.Run("window expired", func(t *testing.T) {
		f := newFixture(t)
		f.svc.now = func() time.Time { return f.appointment.ExpiresAt.Add(time.Minute) }

		_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
		assert.ErrorIs(t, err, ErrWindowExpired)
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
			appt, err := tx.GetAppointmentForUpdate(context.Background(), f.appointment.ID)
			if err != nil {
				return err
			}
			appt.Status = booking.StatusCancelledStudent
			return tx.UpdateAppointment(context.Background(), appt)
		}))

		_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
		assert.ErrorIs(t, err, ErrAppointmentCancelled)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateOrder(context.Background(), f.student.ID, 9999)
		assert.ErrorIs(t, err, booking.ErrAppointmentNotFound)
	})
}

func TestVerifyPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	params := f.signedCallback(t, 500, "success")
	result, err := f.svc.VerifyPayment(context.Background(), params)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, f.appointment.ID, result.AppointmentID)

	appt, err := f.repo.GetAppointmentByID(context.Background(), f.appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, appt.Status)

	var payment *booking.Payment
	require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
		var err error
		payment, err = tx.GetPaymentByAppointmentForUpdate(context.Background(), f.appointment.ID)
		return err
	}))
	assert.Equal(t, booking.PaymentSuccess, payment.Status)
	assert.Equal(t, "403993715531816155", payment.GatewayPaymentID)

	require.Len(t, f.publisher.booked, 1)
	ev := f.publisher.booked[0]
	assert.Equal(t, events.EventBooked, ev.EventType)
	assert.Equal(t, f.student.Email, ev.StudentEmail)
	assert.Equal(t, f.counsellor.Email, ev.CounsellorEmail)
}

func TestVerifyPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	params := f.signedCallback(t, 500, "success")

	first, err := f.svc.VerifyPayment(context.Background(), params)
	require.NoError(t, err)
	require.True(t, first.Success)

	// The gateway retries the redirect; nothing may change the second time.
	second, err := f.svc.VerifyPayment(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, first.AppointmentID, second.AppointmentID)

	assert.Len(t, f.publisher.booked, 1, "duplicate callback must not publish again")
}

func TestVerifyPaymentHashMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	params := f.signedCallback(t, 500, "success")
	params["status"] = "failure" // signature no longer matches

	_, err = f.svc.VerifyPayment(context.Background(), params)
	assert.ErrorIs(t, err, ErrHashMismatch)

	// No mutation happened.
	payment := f.pendingPayment(t)
	assert.Equal(t, booking.PaymentPending, payment.Status)
	appt, err := f.repo.GetAppointmentByID(context.Background(), f.appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, appt.Status)
}

func TestVerifyPaymentAmountMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	// Correctly signed, but for the wrong amount.
	params := f.signedCallback(t, 1, "success")

	_, err = f.svc.VerifyPayment(context.Background(), params)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	payment := f.pendingPayment(t)
	assert.Equal(t, booking.PaymentPending, payment.Status)
}

func TestVerifyPaymentFailureStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	params := f.signedCallback(t, 500, "failure")
	result, err := f.svc.VerifyPayment(context.Background(), params)
	require.NoError(t, err)

	assert.False(t, result.Success)

	// The appointment stays pending; the reaper owns its fate now.
	appt, err := f.repo.GetAppointmentByID(context.Background(), f.appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, appt.Status)

	var payment *booking.Payment
	require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
		var err error
		payment, err = tx.GetPaymentByAppointmentForUpdate(context.Background(), f.appointment.ID)
		return err
	}))
	assert.Equal(t, booking.PaymentFailed, payment.Status)
	assert.Empty(t, f.publisher.booked)
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)

	params := map[string]string{"txnid": "doesnotexist", "status": "success"}
	_, err := f.svc.VerifyPayment(context.Background(), params)
	assert.ErrorIs(t, err, booking.ErrPaymentNotFound)
}

func TestVerifyPaymentAfterExpiry(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	// The reaper got there first.
	require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(context.Background(), f.appointment.ID)
		if err != nil {
			return err
		}
		appt.Status = booking.StatusCancelledExternal
		return tx.UpdateAppointment(context.Background(), appt)
	}))

	params := f.signedCallback(t, 500, "success")
	_, err = f.svc.VerifyPayment(context.Background(), params)
	assert.ErrorIs(t, err, ErrWindowExpired)

	payment := f.pendingPayment(t)
	assert.Equal(t, booking.PaymentPending, payment.Status)
}

func TestVerifyPaymentAfterStudentCancel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	// The student cancelled while the gateway redirect was in flight; the
	// payment row is still pending.
	require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(context.Background(), f.appointment.ID)
		if err != nil {
			return err
		}
		appt.Status = booking.StatusCancelledStudent
		appt.SlotID = nil
		return tx.UpdateAppointment(context.Background(), appt)
	}))

	params := f.signedCallback(t, 500, "success")
	_, err = f.svc.VerifyPayment(context.Background(), params)
	assert.ErrorIs(t, err, ErrAppointmentCancelled)

	// Cancelled is terminal: the callback must not capture the payment or
	// resurrect the appointment.
	payment := f.pendingPayment(t)
	assert.Equal(t, booking.PaymentPending, payment.Status)
	appt, err := f.repo.GetAppointmentByID(context.Background(), f.appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelledStudent, appt.Status)
	assert.Empty(t, f.publisher.booked)
}

func TestVerifyPaymentProcessedPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), f.student.ID, f.appointment.ID)
	require.NoError(t, err)

	// Force the payment into a terminal non-success state, then replay.
	var orderID string
	require.NoError(t, f.repo.InTx(context.Background(), func(tx booking.Tx) error {
		payment, err := tx.GetPaymentByAppointmentForUpdate(context.Background(), f.appointment.ID)
		if err != nil {
			return err
		}
		orderID = payment.GatewayOrderID
		payment.Status = booking.PaymentFailed
		return tx.UpdatePayment(context.Background(), payment)
	}))

	params := map[string]string{
		"key":         "gtKFFx",
		"txnid":       orderID,
		"amount":      "500",
		"productinfo": payu.ProductInfo,
		"firstname":   f.student.Name,
		"email":       f.student.Email,
		"status":      "success",
		"mihpayid":    "403993715531816155",
	}
	params["hash"] = f.client.ResponseHash(params)

	_, err = f.svc.VerifyPayment(context.Background(), params)
	assert.ErrorIs(t, err, ErrTamperedPayment)
}
