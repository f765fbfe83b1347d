package booking

import (
	"context"
	"errors"
)

// ExpireStalePendingPayments cancels appointments whose payment window has
// lapsed: status goes to CANCELLED_EXTERNAL, the slot is freed and a pending
// payment is failed. No refund can be due here; a successful payment would
// have confirmed the appointment already. Intended to run from the reaper
// worker on a fixed interval.
func (s *Service) ExpireStalePendingPayments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.window)
	candidates, err := s.repo.FindStalePendingPayment(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		if err := s.expireOne(ctx, candidate); err != nil {
			s.logger.Error().Err(err).Int64("appointment_id", candidate.ID).Msg("expire appointment")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, candidate Appointment) error {
	if candidate.SlotID == nil {
		return nil
	}

	return s.repo.InTx(ctx, func(tx Tx) error {
		slot, err := tx.GetSlotForUpdate(ctx, *candidate.SlotID)
		if err != nil {
			return err
		}

		appt, err := tx.GetAppointmentForUpdate(ctx, candidate.ID)
		if err != nil {
			return err
		}
		// A payment may have confirmed it since the sweep query ran.
		if appt.Status != StatusPendingPayment {
			return nil
		}

		appt.Status = StatusCancelledExternal
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}

		slot.StudentID = nil
		slot.Booked = false
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}

		payment, err := tx.GetPaymentByAppointmentForUpdate(ctx, appt.ID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				return nil
			}
			return err
		}
		if payment.Status == PaymentPending {
			payment.Status = PaymentFailed
			return tx.UpdatePayment(ctx, payment)
		}
		return nil
	})
}
