package checkin

import (
	"time"

	"ms-checkin/internal/models"
)

// Validate runs the ordered, side-effect-free checks against a snapshot of
// ticket and event state. The first failing check determines the reported
// outcome; existence comes before the time window, the window before the
// duplicate check, so the caller always sees the most actionable reason.
//
// A passing result (OutcomeAdmitted) is provisional: the snapshot can be
// stale by the time the transition runs, and the store's compare-and-swap
// remains the authoritative de-duplication point.
func Validate(ticket *models.Ticket, event *models.Event, requestedEventID string, now time.Time, lead, lag time.Duration) string {
	if ticket == nil {
		return models.OutcomeInvalidTicket
	}

	if requestedEventID != "" && requestedEventID != ticket.EventID {
		return models.OutcomeWrongEvent
	}

	if event == nil || event.Status != models.EventStatusPublished {
		return models.OutcomeEventNotActive
	}

	if now.Before(event.StartTime.Add(-lead)) {
		return models.OutcomeNotYetOpen
	}
	if now.After(event.EndTime.Add(lag)) {
		return models.OutcomeExpired
	}

	// Revocation outranks the duplicate check: a revoked ticket reports
	// revoked even if it was somehow checked in before revocation.
	if ticket.Status == models.TicketStatusRevoked {
		return models.OutcomeRevoked
	}
	if ticket.Status == models.TicketStatusCheckedIn {
		return models.OutcomeDuplicate
	}
	if ticket.Status == models.TicketStatusExpired {
		return models.OutcomeExpired
	}

	return models.OutcomeAdmitted
}
