package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Check-in methods accepted at the gate.
const (
	MethodQR     = "qr"
	MethodNFC    = "nfc"
	MethodManual = "manual"
)

// Outcomes of a check-in invocation. Every call that identifies a ticket ends
// in exactly one of these.
const (
	OutcomeAdmitted       = "admitted"
	OutcomeDuplicate      = "duplicate"
	OutcomeInvalidTicket  = "invalid_ticket"
	OutcomeWrongEvent     = "wrong_event"
	OutcomeEventNotActive = "event_not_active"
	OutcomeNotYetOpen     = "not_yet_open"
	OutcomeExpired        = "expired"
	OutcomeRevoked        = "revoked"
	OutcomeTimeout        = "timeout"
)

// CheckInRecord is the durable admission fact. One per ticket, written in the
// same transaction as the status flip, immutable afterwards.
type CheckInRecord struct {
	bun.BaseModel `bun:"table:check_in_records"`

	TicketID    string                 `bun:"ticket_id,pk" json:"ticket_id"`
	EventID     string                 `bun:"event_id,notnull" json:"event_id"`
	Method      string                 `bun:"method,notnull" json:"method"`
	CheckedInBy string                 `bun:"checked_in_by" json:"checked_in_by"`
	Metadata    map[string]interface{} `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CheckedInAt time.Time              `bun:"checked_in_at,notnull" json:"checked_in_at"`
}

// CheckInAttempt is the append-only audit row. One per engine invocation,
// success or failure. TicketID is empty when resolution failed.
type CheckInAttempt struct {
	bun.BaseModel `bun:"table:check_in_attempts"`

	AttemptID   string                 `bun:"attempt_id,pk" json:"attempt_id"`
	TicketID    string                 `bun:"ticket_id" json:"ticket_id,omitempty"`
	EventID     string                 `bun:"event_id" json:"event_id,omitempty"`
	Outcome     string                 `bun:"outcome,notnull" json:"outcome"`
	Method      string                 `bun:"method,notnull" json:"method"`
	Operator    string                 `bun:"operator" json:"operator,omitempty"`
	RawInput    string                 `bun:"raw_input" json:"raw_input"`
	Metadata    map[string]interface{} `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	AttemptedAt time.Time              `bun:"attempted_at,notnull" json:"attempted_at"`
}

// CheckInRequest is the gate-facing contract. Exactly one of TicketCode and
// TicketID must be set; EventID is advisory and verified against the ticket's
// true event rather than trusted.
type CheckInRequest struct {
	TicketCode  string                 `json:"ticketCode,omitempty"`
	TicketID    string                 `json:"ticketId,omitempty"`
	EventID     string                 `json:"eventId,omitempty"`
	Method      string                 `json:"method,omitempty"`
	CheckedInBy string                 `json:"checkedInBy,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type TicketRef struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	EventID string `json:"eventId"`
}

type CheckInStamp struct {
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	CheckedInBy string    `json:"checkedInBy"`
}

type CheckInResponse struct {
	Outcome       string        `json:"outcome"`
	Ticket        *TicketRef    `json:"ticket,omitempty"`
	CheckInRecord *CheckInStamp `json:"checkInRecord,omitempty"`
	PriorCheckIn  *CheckInStamp `json:"priorCheckIn,omitempty"`
	Warning       string        `json:"warning,omitempty"`
}
