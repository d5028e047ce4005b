package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket lifecycle statuses. A ticket moves from issued to checked_in at most
// once; revoked and expired are administrative states set outside the engine.
const (
	TicketStatusIssued    = "issued"
	TicketStatusCheckedIn = "checked_in"
	TicketStatusRevoked   = "revoked"
	TicketStatusExpired   = "expired"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID string    `bun:"ticket_id,pk" json:"ticket_id"`
	Code     string    `bun:"code,unique,notnull" json:"code"`
	EventID  string    `bun:"event_id,notnull" json:"event_id"`
	Status   string    `bun:"status,notnull" json:"status"`
	IssuedAt time.Time `bun:"issued_at" json:"issued_at"`
}
