package db

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

// CreateTables creates the check-in schema through bun. Used by the in-memory
// test setup and dev mode; production schema is managed by the SQL migrations
// under migrations/.
func CreateTables(ctx context.Context, db *bun.DB) error {
	modelsToCreate := []interface{}{
		(*models.Event)(nil),
		(*models.Ticket)(nil),
		(*models.CheckInRecord)(nil),
		(*models.CheckInAttempt)(nil),
	}

	for _, model := range modelsToCreate {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}
	}

	log.Println("check-in tables ready")
	return nil
}
