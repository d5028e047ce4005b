package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event statuses. Check-in is only admissible while the event is published.
const (
	EventStatusDraft     = "draft"
	EventStatusPublished = "published"
	EventStatusCancelled = "cancelled"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	EventID   string    `bun:"event_id,pk" json:"event_id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Status    string    `bun:"status,notnull" json:"status"`
	StartTime time.Time `bun:"start_time,notnull" json:"start_time"`
	EndTime   time.Time `bun:"end_time,notnull" json:"end_time"`
	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}
