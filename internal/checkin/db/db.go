package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

// Conflict errors returned by CheckIn when the compare-and-swap loses. They
// carry the ticket status observed at the moment of the swap, not the
// pipeline's earlier snapshot.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCheckedIn = errors.New("ticket already checked in")
	ErrTicketRevoked    = errors.New("ticket revoked")
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketByCode looks up a ticket by its canonical (upper-case) code. The
// code column carries a unique index, so this stays O(1) for gate scanning.
func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// CheckIn performs the atomic issued -> checked_in transition and writes the
// CheckInRecord in the same transaction. The UPDATE only matches while the
// status is still "issued"; zero rows affected means another attempt won the
// race (or the ticket was revoked meanwhile), and the status re-read inside
// the transaction decides which conflict to report.
func (d *DB) CheckIn(ctx context.Context, record models.CheckInRecord) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketStatusCheckedIn).
			Where("ticket_id = ?", record.TicketID).
			Where("status = ?", models.TicketStatusIssued).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("check-in swap failed: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check-in swap failed: %w", err)
		}

		if rows == 0 {
			var ticket models.Ticket
			err := tx.NewSelect().
				Model(&ticket).
				Where("ticket_id = ?", record.TicketID).
				Limit(1).
				Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check-in status re-read failed: %w", err)
			}
			switch ticket.Status {
			case models.TicketStatusRevoked:
				return ErrTicketRevoked
			case models.TicketStatusCheckedIn:
				return ErrAlreadyCheckedIn
			default:
				return fmt.Errorf("check-in swap failed for status %q", ticket.Status)
			}
		}

		if _, err := tx.NewInsert().Model(&record).Exec(ctx); err != nil {
			return fmt.Errorf("check-in record write failed: %w", err)
		}
		return nil
	})
}

func (d *DB) GetCheckInRecord(ctx context.Context, ticketID string) (*models.CheckInRecord, error) {
	var record models.CheckInRecord
	err := d.Bun.NewSelect().
		Model(&record).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AppendAttempt writes one audit row. Rows are never updated or deleted.
func (d *DB) AppendAttempt(ctx context.Context, attempt models.CheckInAttempt) error {
	_, err := d.Bun.NewInsert().Model(&attempt).Exec(ctx)
	return err
}

func (d *DB) AttemptsByTicket(ctx context.Context, ticketID string) ([]models.CheckInAttempt, error) {
	var attempts []models.CheckInAttempt
	err := d.Bun.NewSelect().
		Model(&attempts).
		Where("ticket_id = ?", ticketID).
		Order("attempted_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (d *DB) AttemptsByEvent(ctx context.Context, eventID string) ([]models.CheckInAttempt, error) {
	var attempts []models.CheckInAttempt
	err := d.Bun.NewSelect().
		Model(&attempts).
		Where("event_id = ?", eventID).
		Order("attempted_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// CheckedInCountByEvent returns how many tickets for the event hold a
// check-in record.
func (d *DB) CheckedInCountByEvent(ctx context.Context, eventID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.CheckInRecord)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count check-ins for event %s: %w", eventID, err)
	}
	return count, nil
}
