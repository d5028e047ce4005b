package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
)

// Input errors. These reject the call before a ticket is identified, so no
// audit attempt is recorded for them.
var (
	ErrMissingReference   = errors.New("exactly one of ticketCode or ticketId is required")
	ErrAmbiguousReference = errors.New("ticketCode and ticketId refer to different tickets")
	ErrBadTicketCode      = errors.New("ticket code must be 12 alphanumeric characters")
	ErrBadMethod          = errors.New("method must be one of qr, nfc, manual")
	ErrMetadataTooLarge   = errors.New("metadata exceeds the allowed size")

	// ErrTicketNotFound maps to the invalid_ticket outcome: the reference was
	// well-formed but no ticket matches it.
	ErrTicketNotFound = errors.New("ticket not found")
)

const ticketCodeLength = 12

// TicketStore is the lookup surface the resolver needs.
type TicketStore interface {
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
}

type Resolver struct {
	Store TicketStore
}

func NewResolver(store TicketStore) *Resolver {
	return &Resolver{Store: store}
}

// CanonicalCode validates a ticket code and returns its canonical upper-case
// form. Codes are matched case-insensitively but stored canonically.
func CanonicalCode(code string) (string, error) {
	if len(code) != ticketCodeLength {
		return "", ErrBadTicketCode
	}
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return "", ErrBadTicketCode
		}
	}
	return strings.ToUpper(code), nil
}

// Resolve maps a check-in request onto the canonical (ticket, event) pair.
// The request's eventId is advisory and is NOT used for the lookup; the
// validation pipeline compares it against the ticket's true owning event.
func (r *Resolver) Resolve(ctx context.Context, req models.CheckInRequest) (*models.Ticket, *models.Event, error) {
	ticket, err := r.resolveTicket(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	event, err := r.Store.GetEventByID(ctx, ticket.EventID)
	if errors.Is(err, db.ErrNotFound) {
		// A ticket without its owning event is a storage consistency problem,
		// not a bad scan.
		return nil, nil, fmt.Errorf("event %s for ticket %s missing", ticket.EventID, ticket.TicketID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load event %s: %w", ticket.EventID, err)
	}

	return ticket, event, nil
}

func (r *Resolver) resolveTicket(ctx context.Context, req models.CheckInRequest) (*models.Ticket, error) {
	if req.TicketCode == "" && req.TicketID == "" {
		return nil, ErrMissingReference
	}

	if req.TicketID != "" {
		ticket, err := r.Store.GetTicketByID(ctx, req.TicketID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("ticket lookup failed: %w", err)
		}
		if req.TicketCode != "" {
			code, err := CanonicalCode(req.TicketCode)
			if err != nil {
				return nil, err
			}
			if code != ticket.Code {
				return nil, ErrAmbiguousReference
			}
		}
		return ticket, nil
	}

	code, err := CanonicalCode(req.TicketCode)
	if err != nil {
		return nil, err
	}
	ticket, err := r.Store.GetTicketByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ticket lookup failed: %w", err)
	}
	return ticket, nil
}
