package booking

import (
	"context"
	"errors"
	"time"

	"github.com/campuscare/counselling-booking/internal/events"
	redisclient "github.com/campuscare/counselling-booking/internal/redis"
)

// PublishSlot validates and stores a new bookable slot for a counsellor.
// Overlap is checked in memory over the counsellor's non-past slots; the
// (counsellor, start, end) uniqueness constraint catches the race between
// that check and the insert.
func (s *Service) PublishSlot(ctx context.Context, counsellorID int64, start, end time.Time, price int64) (*Slot, error) {
	now := s.now()
	if !start.Before(end) || start.Before(now) {
		return nil, ErrInvalidInterval
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	var created *Slot
	err := s.repo.InTx(ctx, func(tx Tx) error {
		existing, err := tx.ListCounsellorSlotsFrom(ctx, counsellorID, now)
		if err != nil {
			return err
		}
		for _, other := range existing {
			// Half-open intervals: [start, end) intersects [other.Start, other.End).
			if start.Before(other.EndTime) && end.After(other.StartTime) {
				return ErrSlotOverlap
			}
		}

		created, err = tx.InsertSlot(ctx, &Slot{
			CounsellorID: counsellorID,
			StartTime:    start,
			EndTime:      end,
			Price:        price,
		})
		if errors.Is(err, ErrSlotExists) {
			return ErrSlotOverlap
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelSlot marks a counsellor's slot cancelled. A cancelled slot never
// becomes bookable again. If the slot was booked, the linked appointment is
// cancelled in the same transaction, refunding a captured payment.
func (s *Service) CancelSlot(ctx context.Context, counsellorID, slotID int64) (*Slot, error) {
	var (
		cancelled *Slot
		ev        events.AppointmentEvent
	)

	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Tx) error {
			slot, err := tx.GetSlotForUpdate(lockCtx, slotID)
			if err != nil {
				return err
			}
			if slot.Cancelled {
				return ErrSlotCancelled
			}
			if slot.CounsellorID != counsellorID {
				return ErrNotSlotOwner
			}
			if slot.StartTime.Before(s.now()) {
				return ErrSlotInPast
			}

			slot.Cancelled = true
			if err := tx.UpdateSlot(lockCtx, slot); err != nil {
				return err
			}

			if slot.Booked {
				appt, err := tx.GetAppointmentBySlotForUpdate(lockCtx, slotID)
				if err != nil {
					return err
				}

				eventType, err := s.refundForCounsellorCancel(lockCtx, tx, appt)
				if err != nil {
					return err
				}

				appt.Status = StatusCancelledCounsellor
				if err := tx.UpdateAppointment(lockCtx, appt); err != nil {
					return err
				}

				ev, err = s.buildEvent(lockCtx, tx, appt, eventType)
				if err != nil {
					return err
				}
			}

			cancelled = slot
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	if ev.EventType != "" {
		s.publishCancelled(ctx, ev)
	}
	return cancelled, nil
}
