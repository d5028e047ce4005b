package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/config"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

type DBLayer interface {
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
	CheckIn(ctx context.Context, record models.CheckInRecord) error
	GetCheckInRecord(ctx context.Context, ticketID string) (*models.CheckInRecord, error)
	AppendAttempt(ctx context.Context, attempt models.CheckInAttempt) error
	AttemptsByTicket(ctx context.Context, ticketID string) ([]models.CheckInAttempt, error)
	AttemptsByEvent(ctx context.Context, eventID string) ([]models.CheckInAttempt, error)
	CheckedInCountByEvent(ctx context.Context, eventID string) (int, error)
}

type GateLock interface {
	LockTicket(ctx context.Context, ticketID, token string) (bool, error)
	UnlockTicket(ctx context.Context, ticketID, token string) error
}

type KafkaPublisher interface {
	PublishAdmitted(record models.CheckInRecord) error
	PublishAttempt(attempt models.CheckInAttempt) error
}

type CheckinService struct {
	DB       DBLayer
	Gate     GateLock
	Kafka    KafkaPublisher
	Logger   *logger.Logger
	Cfg      config.CheckinConfig
	resolver *Resolver
}

func NewCheckinService(dbLayer DBLayer, gate GateLock, kafka KafkaPublisher, log *logger.Logger, cfg config.CheckinConfig) *CheckinService {
	return &CheckinService{
		DB:       dbLayer,
		Gate:     gate,
		Kafka:    kafka,
		Logger:   log,
		Cfg:      cfg,
		resolver: NewResolver(dbLayer),
	}
}

// CheckIn runs one attempt through resolution, validation, the gate lock and
// the atomic transition. Input errors return an error and leave no audit
// trace; every other path produces exactly one attempt record and a definite
// outcome.
func (s *CheckinService) CheckIn(ctx context.Context, req models.CheckInRequest) (*models.CheckInResponse, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	attemptID := uuid.New().String()
	rawInput := req.TicketCode
	if rawInput == "" {
		rawInput = req.TicketID
	}

	ticket, event, err := s.resolver.Resolve(ctx, req)
	if errors.Is(err, ErrTicketNotFound) {
		s.audit(ctx, attemptID, nil, req, rawInput, models.OutcomeInvalidTicket)
		return &models.CheckInResponse{Outcome: models.OutcomeInvalidTicket}, nil
	}
	if err != nil {
		// Input errors and transient storage failures both surface here;
		// neither identified a ticket, so neither is audited.
		return nil, err
	}

	outcome := Validate(ticket, event, req.EventID, time.Now(), s.Cfg.LeadTolerance, s.Cfg.LagTolerance)
	if outcome != models.OutcomeAdmitted {
		s.audit(ctx, attemptID, ticket, req, rawInput, outcome)
		resp := &models.CheckInResponse{Outcome: outcome, Ticket: ticketRef(ticket)}
		if outcome == models.OutcomeDuplicate {
			resp.PriorCheckIn = s.priorCheckIn(ctx, ticket.TicketID)
		}
		return resp, nil
	}

	locked, err := s.acquireGate(ctx, ticket.TicketID, attemptID)
	if err != nil {
		s.audit(ctx, attemptID, ticket, req, rawInput, models.OutcomeTimeout)
		return &models.CheckInResponse{Outcome: models.OutcomeTimeout, Ticket: ticketRef(ticket)}, nil
	}
	if locked {
		defer func() {
			if err := s.Gate.UnlockTicket(context.Background(), ticket.TicketID, attemptID); err != nil {
				s.Logger.Warn("GATE", fmt.Sprintf("failed to release gate lock for ticket %s: %v", ticket.TicketID, err))
			}
		}()
	}

	record := models.CheckInRecord{
		TicketID:    ticket.TicketID,
		EventID:     ticket.EventID,
		Method:      req.Method,
		CheckedInBy: req.CheckedInBy,
		Metadata:    req.Metadata,
		CheckedInAt: time.Now(),
	}

	switch err := s.DB.CheckIn(ctx, record); {
	case err == nil:
		resp := &models.CheckInResponse{
			Outcome:       models.OutcomeAdmitted,
			Ticket:        ticketRef(ticket),
			CheckInRecord: stamp(&record),
		}
		if auditErr := s.auditErr(ctx, attemptID, ticket, req, rawInput, models.OutcomeAdmitted); auditErr != nil {
			// A logging failure never reverses an admission.
			resp.Warning = "admission recorded but audit log append failed"
			s.Logger.Error("AUDIT", fmt.Sprintf("attempt append failed after admission of ticket %s: %v", ticket.TicketID, auditErr))
		}
		if s.Kafka != nil {
			if err := s.Kafka.PublishAdmitted(record); err != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish admission for ticket %s: %v", ticket.TicketID, err))
			}
		}
		s.Logger.LogCheckin(models.OutcomeAdmitted, ticket.TicketID, "ticket admitted")
		return resp, nil

	case errors.Is(err, db.ErrAlreadyCheckedIn):
		s.audit(ctx, attemptID, ticket, req, rawInput, models.OutcomeDuplicate)
		return &models.CheckInResponse{
			Outcome:      models.OutcomeDuplicate,
			Ticket:       ticketRef(ticket),
			PriorCheckIn: s.priorCheckIn(ctx, ticket.TicketID),
		}, nil

	case errors.Is(err, db.ErrTicketRevoked):
		s.audit(ctx, attemptID, ticket, req, rawInput, models.OutcomeRevoked)
		return &models.CheckInResponse{Outcome: models.OutcomeRevoked, Ticket: ticketRef(ticket)}, nil

	default:
		// Storage failure during the transition: the swap is all-or-nothing,
		// so the caller can safely retry. Not translated into a domain
		// outcome — "we don't know" stays distinct from "this is invalid".
		return nil, fmt.Errorf("check-in transition failed: %w", err)
	}
}

// AttemptsByTicket returns the audit trail for one ticket, newest first.
func (s *CheckinService) AttemptsByTicket(ctx context.Context, ticketID string) ([]models.CheckInAttempt, error) {
	attempts, err := s.DB.AttemptsByTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attempts for ticket %s: %w", ticketID, err)
	}
	return attempts, nil
}

func (s *CheckinService) AttemptsByEvent(ctx context.Context, eventID string) ([]models.CheckInAttempt, error) {
	attempts, err := s.DB.AttemptsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attempts for event %s: %w", eventID, err)
	}
	return attempts, nil
}

func (s *CheckinService) CheckedInCount(ctx context.Context, eventID string) (int, error) {
	return s.DB.CheckedInCountByEvent(ctx, eventID)
}

// TicketByCode exposes canonical code lookup for the gate-pass endpoint.
func (s *CheckinService) TicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	canonical, err := CanonicalCode(code)
	if err != nil {
		return nil, err
	}
	ticket, err := s.DB.GetTicketByCode(ctx, canonical)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	return ticket, err
}

func (s *CheckinService) normalize(req *models.CheckInRequest) error {
	if req.Method == "" {
		req.Method = models.MethodQR
	}
	switch req.Method {
	case models.MethodQR, models.MethodNFC, models.MethodManual:
	default:
		return ErrBadMethod
	}

	// Both references together are fine; the resolver checks they agree.
	if req.TicketCode == "" && req.TicketID == "" {
		return ErrMissingReference
	}

	// Metadata is operator-controlled input headed for durable storage; cap
	// its serialized size before it gets anywhere near the store.
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return fmt.Errorf("metadata is not serializable: %w", err)
		}
		if len(raw) > s.Cfg.MetadataMaxSize {
			return ErrMetadataTooLarge
		}
	}
	return nil
}

// acquireGate takes the per-ticket critical section, waiting at most
// GateLockWait. A coordinator timeout is an error; coordinator
// *unavailability* is not — the lock is advisory and the store's
// compare-and-swap remains the correctness backstop.
func (s *CheckinService) acquireGate(ctx context.Context, ticketID, token string) (bool, error) {
	if s.Gate == nil {
		return false, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.Cfg.GateLockWait)
	defer cancel()

	ok, err := s.Gate.LockTicket(lockCtx, ticketID, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		s.Logger.Warn("GATE", fmt.Sprintf("gate coordinator unavailable for ticket %s, relying on store CAS: %v", ticketID, err))
		return false, nil
	}
	if !ok {
		return false, context.DeadlineExceeded
	}
	return true, nil
}

func (s *CheckinService) audit(ctx context.Context, attemptID string, ticket *models.Ticket, req models.CheckInRequest, rawInput, outcome string) {
	if err := s.auditErr(ctx, attemptID, ticket, req, rawInput, outcome); err != nil {
		s.Logger.Error("AUDIT", fmt.Sprintf("attempt append failed (outcome %s): %v", outcome, err))
	}
}

func (s *CheckinService) auditErr(ctx context.Context, attemptID string, ticket *models.Ticket, req models.CheckInRequest, rawInput, outcome string) error {
	attempt := models.CheckInAttempt{
		AttemptID:   attemptID,
		EventID:     req.EventID,
		Outcome:     outcome,
		Method:      req.Method,
		Operator:    req.CheckedInBy,
		RawInput:    rawInput,
		Metadata:    req.Metadata,
		AttemptedAt: time.Now(),
	}
	if ticket != nil {
		attempt.TicketID = ticket.TicketID
		attempt.EventID = ticket.EventID
	}

	err := s.DB.AppendAttempt(ctx, attempt)
	if err == nil && s.Kafka != nil {
		if pubErr := s.Kafka.PublishAttempt(attempt); pubErr != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish attempt %s: %v", attempt.AttemptID, pubErr))
		}
	}
	return err
}

func (s *CheckinService) priorCheckIn(ctx context.Context, ticketID string) *models.CheckInStamp {
	record, err := s.DB.GetCheckInRecord(ctx, ticketID)
	if err != nil {
		s.Logger.Warn("CHECKIN", fmt.Sprintf("prior check-in record missing for ticket %s: %v", ticketID, err))
		return nil
	}
	return stamp(record)
}

func ticketRef(t *models.Ticket) *models.TicketRef {
	return &models.TicketRef{ID: t.TicketID, Code: t.Code, EventID: t.EventID}
}

func stamp(r *models.CheckInRecord) *models.CheckInStamp {
	return &models.CheckInStamp{
		Timestamp:   r.CheckedInAt,
		Method:      r.Method,
		CheckedInBy: r.CheckedInBy,
	}
}
