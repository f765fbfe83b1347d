package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/events"
)

// Mailer delivers a rendered notification. The core treats delivery as
// fire-and-forget; implementations decide transport.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes notifications to the log instead of sending real email.
type LogMailer struct {
	Logger *zerolog.Logger
}

func NewLogMailer(logger *zerolog.Logger) *LogMailer {
	return &LogMailer{Logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email notification")
	return nil
}

// Render builds the recipient, subject and body for an event. Unknown event
// kinds are an error so a schema drift never gets silently dropped.
func Render(ev events.AppointmentEvent) (to, subject, body string, err error) {
	when := ev.AppointmentTime.Format("Mon, 02 Jan 2006 15:04")

	switch ev.EventType {
	case events.EventBooked:
		return ev.CounsellorEmail,
			"New appointment booked",
			fmt.Sprintf("Appointment %d on %s has been booked and paid for by %s.", ev.AppointmentID, when, ev.StudentEmail),
			nil
	case events.EventCancelledStudent:
		return ev.CounsellorEmail,
			"Appointment cancelled by student",
			fmt.Sprintf("Appointment %d on %s was cancelled by %s.", ev.AppointmentID, when, ev.StudentEmail),
			nil
	case events.EventCancelledCounsellorRefundSuccess:
		return ev.StudentEmail,
			"Appointment cancelled, refund issued",
			fmt.Sprintf("Your appointment %d on %s was cancelled by the counsellor. Your payment has been refunded.", ev.AppointmentID, when),
			nil
	case events.EventCancelledCounsellorRefundFailed:
		return ev.StudentEmail,
			"Appointment cancelled, refund pending",
			fmt.Sprintf("Your appointment %d on %s was cancelled by the counsellor. The refund could not be processed automatically; our team will follow up.", ev.AppointmentID, when),
			nil
	case events.EventCancelledCounsellorNoRefund:
		return ev.StudentEmail,
			"Appointment cancelled",
			fmt.Sprintf("Your appointment %d on %s was cancelled by the counsellor. No payment was captured, so nothing is owed.", ev.AppointmentID, when),
			nil
	default:
		return "", "", "", fmt.Errorf("unknown event type %q", ev.EventType)
	}
}
