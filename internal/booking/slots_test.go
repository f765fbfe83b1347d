package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscare/counselling-booking/internal/events"
	"github.com/campuscare/counselling-booking/internal/payu"
)

func TestPublishSlot(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour).Truncate(time.Second)

	slot, err := f.svc.PublishSlot(context.Background(), f.counsellor.ID, start, start.Add(time.Hour), 500)
	require.NoError(t, err)

	assert.NotZero(t, slot.ID)
	assert.Equal(t, f.counsellor.ID, slot.CounsellorID)
	assert.Equal(t, int64(500), slot.Price)
	assert.False(t, slot.Booked)
	assert.False(t, slot.Cancelled)
}

func TestPublishSlotValidation(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		price   int64
		wantErr error
	}{
		{"end before start", start, start.Add(-time.Hour), 500, ErrInvalidInterval},
		{"zero length", start, start, 500, ErrInvalidInterval},
		{"start in past", time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 500, ErrInvalidInterval},
		{"zero price", start, start.Add(time.Hour), 0, ErrInvalidPrice},
		{"negative price", start, start.Add(time.Hour), -100, ErrInvalidPrice},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PublishSlot(context.Background(), f.counsellor.ID, tc.start, tc.end, tc.price)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPublishSlotOverlap(t *testing.T) {
	f := newFixture(t)
	day := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	f.publishSlot(t, at(10, 0), at(11, 0))

	rejected := []struct {
		name       string
		start, end time.Time
	}{
		{"straddles the end", at(10, 30), at(11, 30)},
		{"straddles the start", at(9, 30), at(10, 30)},
		{"identical interval", at(10, 0), at(11, 0)},
		{"contained inside", at(10, 15), at(10, 45)},
		{"contains existing", at(9, 0), at(12, 0)},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PublishSlot(context.Background(), f.counsellor.ID, tc.start, tc.end, 500)
			assert.ErrorIs(t, err, ErrSlotOverlap)
		})
	}

	t.Run("adjacent intervals are fine", func(t *testing.T) {
		_, err := f.svc.PublishSlot(context.Background(), f.counsellor.ID, at(9, 0), at(10, 0), 500)
		assert.NoError(t, err)
		_, err = f.svc.PublishSlot(context.Background(), f.counsellor.ID, at(11, 0), at(12, 0), 500)
		assert.NoError(t, err)
	})

	t.Run("other counsellors are independent", func(t *testing.T) {
		other, err := f.repo.CreateUser(context.Background(), &User{Name: "Mira", Email: "mira@example.com", Role: RoleCounsellor})
		require.NoError(t, err)

		_, err = f.svc.PublishSlot(context.Background(), other.ID, at(10, 0), at(11, 0), 500)
		assert.NoError(t, err)
	})
}

func TestCancelSlotUnbooked(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	cancelled, err := f.svc.CancelSlot(context.Background(), f.counsellor.ID, slot.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)

	// Cancelled slots drop out of the open listing.
	open, err := f.svc.ListOpenSlots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	// And cancelling again reports the state rather than succeeding twice.
	_, err = f.svc.CancelSlot(context.Background(), f.counsellor.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotCancelled)
}

func TestCancelSlotNotOwner(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	other, err := f.repo.CreateUser(context.Background(), &User{Name: "Mira", Email: "mira@example.com", Role: RoleCounsellor})
	require.NoError(t, err)

	_, err = f.svc.CancelSlot(context.Background(), other.ID, slot.ID)
	assert.ErrorIs(t, err, ErrNotSlotOwner)
}

func TestCancelSlotInPast(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	f.svc.now = func() time.Time { return start.Add(2 * time.Hour) }
	defer func() { f.svc.now = time.Now }()

	_, err := f.svc.CancelSlot(context.Background(), f.counsellor.ID, slot.ID)
	assert.ErrorIs(t, err, ErrSlotInPast)
}

func TestCancelSlotBookedAndPaid(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), f.student.ID, slot.ID)
	require.NoError(t, err)
	f.confirmWithPayment(t, appt.ID)

	cancelled, err := f.svc.CancelSlot(context.Background(), f.counsellor.ID, slot.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledCounsellor, stored.Status)

	assert.Equal(t, 1, f.gateway.calls)
	require.Len(t, f.publisher.cancelled, 1)
	assert.Equal(t, events.EventCancelledCounsellorRefundSuccess, f.publisher.cancelled[0].EventType)
}

func TestCancelSlotBookedRefundFails(t *testing.T) {
	f := newFixture(t)
	f.gateway.result = payu.RefundResult{Success: false, Status: "error"}

	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), f.student.ID, slot.ID)
	require.NoError(t, err)
	f.confirmWithPayment(t, appt.ID)

	_, err = f.svc.CancelSlot(context.Background(), f.counsellor.ID, slot.ID)
	require.NoError(t, err)

	require.Len(t, f.publisher.cancelled, 1)
	assert.Equal(t, events.EventCancelledCounsellorRefundFailed, f.publisher.cancelled[0].EventType)
}

func TestCancelSlotBookedUnpaid(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	slot := f.publishSlot(t, start, start.Add(time.Hour))

	appt, err := f.svc.BookAppointment(context.Background(), f.student.ID, slot.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelSlot(context.Background(), f.counsellor.ID, slot.ID)
	require.NoError(t, err)

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledCounsellor, stored.Status)

	assert.Zero(t, f.gateway.calls)
	require.Len(t, f.publisher.cancelled, 1)
	assert.Equal(t, events.EventCancelledCounsellorNoRefund, f.publisher.cancelled[0].EventType)
}

func TestListOpenSlots(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)
	open := f.publishSlot(t, start, start.Add(time.Hour))
	booked := f.publishSlot(t, start.Add(2*time.Hour), start.Add(3*time.Hour))

	_, err := f.svc.BookAppointment(context.Background(), f.student.ID, booked.ID)
	require.NoError(t, err)

	slots, err := f.svc.ListOpenSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, open.ID, slots[0].ID)
}
