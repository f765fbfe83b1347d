package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireStalePendingPayments(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), f.student.ID, slot.ID)
	require.NoError(t, err)

	// Open the pending payment the student abandoned.
	require.NoError(t, f.repo.InTx(context.Background(), func(tx Tx) error {
		_, err := tx.InsertPayment(context.Background(), &Payment{
			AppointmentID:  appt.ID,
			Amount:         500,
			Status:         PaymentPending,
			GatewayOrderID: "ab12cd34ef56ab12cd34",
			GatewayName:    "payu",
		})
		return err
	}))

	// Not stale yet.
	expired, err := f.svc.ExpireStalePendingPayments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	// Jump past the payment window.
	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	defer func() { f.svc.now = time.Now }()

	expired, err = f.svc.ExpireStalePendingPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledExternal, stored.Status)

	freed, err := f.repo.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, freed.Booked)
	assert.Nil(t, freed.StudentID)

	var payment *Payment
	require.NoError(t, f.repo.InTx(context.Background(), func(tx Tx) error {
		var err error
		payment, err = tx.GetPaymentByAppointmentForUpdate(context.Background(), appt.ID)
		return err
	}))
	assert.Equal(t, PaymentFailed, payment.Status)

	// The reaper never talks to the gateway; nothing here can be refundable.
	assert.Zero(t, f.gateway.calls)
}

func TestExpireSkipsConfirmed(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), f.student.ID, slot.ID)
	require.NoError(t, err)
	f.confirmWithPayment(t, appt.ID)

	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	defer func() { f.svc.now = time.Now }()

	expired, err := f.svc.ExpireStalePendingPayments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

func TestExpireWithoutPayment(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), f.student.ID, slot.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	defer func() { f.svc.now = time.Now }()

	expired, err := f.svc.ExpireStalePendingPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledExternal, stored.Status)
}
