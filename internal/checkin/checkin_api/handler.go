package checkin_api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

type PassGenerator interface {
	GeneratePass(ticket models.Ticket) ([]byte, error)
}

type Handler struct {
	Service *checkin.CheckinService
	Pass    PassGenerator
}

// NewHandler creates a new Handler instance
func NewHandler(service *checkin.CheckinService, pass PassGenerator) *Handler {
	return &Handler{Service: service, Pass: pass}
}

// Routes mounts the check-in endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkin", h.CheckIn)
	r.Get("/checkin/attempts/ticket/{ticketID}", h.AttemptsByTicket)
	r.Get("/checkin/attempts/event/{eventID}", h.AttemptsByEvent)
	r.Get("/checkin/count/{eventID}", h.CheckedInCount)
	r.Get("/tickets/{code}/pass", h.TicketPass)
}

// CheckIn handles a gate scan or manual code entry.
// Expected POST request body: the check-in request DTO; exactly one of
// ticketCode/ticketId must be set.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req models.CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Fall back to the authenticated operator when the request doesn't name one.
	if req.CheckedInBy == "" {
		if operator := auth.OperatorID(r.Context()); operator != "" {
			req.CheckedInBy = operator
		} else if token, err := auth.ExtractTokenFromRequest(r); err == nil {
			if sub, err := auth.ExtractOperatorFromJWT(token); err == nil {
				req.CheckedInBy = sub
			}
		}
	}

	resp, err := h.Service.CheckIn(r.Context(), req)
	if err != nil {
		if isInputError(err) {
			utils.WriteError(w, http.StatusBadRequest, "Invalid check-in request", err)
			return
		}
		utils.WriteError(w, http.StatusServiceUnavailable, "Checkin failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForOutcome(resp.Outcome))
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) AttemptsByTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	attempts, err := h.Service.AttemptsByTicket(r.Context(), ticketID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to fetch attempts", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("attempts for ticket "+ticketID, attempts))
}

func (h *Handler) AttemptsByEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	attempts, err := h.Service.AttemptsByEvent(r.Context(), eventID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to fetch attempts", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(utils.SuccessResponse("attempts for event "+eventID, attempts))
}

// CheckedInCount returns the number of admitted tickets for an event.
func (h *Handler) CheckedInCount(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	count, err := h.Service.CheckedInCount(r.Context(), eventID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to get checked-in count", err)
		return
	}

	response := map[string]interface{}{
		"event_id":         eventID,
		"checked_in_count": count,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// TicketPass renders an encrypted QR gate pass for an issued ticket.
func (h *Handler) TicketPass(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ticket, err := h.Service.TicketByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, checkin.ErrTicketNotFound) || errors.Is(err, checkin.ErrBadTicketCode) {
			utils.WriteError(w, http.StatusNotFound, "Ticket not found", err)
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load ticket", err)
		return
	}

	png, err := h.Pass.GeneratePass(*ticket)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "Failed to render pass", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func statusForOutcome(outcome string) int {
	switch outcome {
	case models.OutcomeAdmitted:
		return http.StatusOK
	case models.OutcomeDuplicate:
		return http.StatusConflict
	case models.OutcomeInvalidTicket:
		return http.StatusNotFound
	case models.OutcomeTimeout:
		return http.StatusServiceUnavailable
	default:
		// wrong_event, event_not_active, not_yet_open, expired, revoked
		return http.StatusUnprocessableEntity
	}
}

func isInputError(err error) bool {
	switch {
	case errors.Is(err, checkin.ErrMissingReference),
		errors.Is(err, checkin.ErrAmbiguousReference),
		errors.Is(err, checkin.ErrBadTicketCode),
		errors.Is(err, checkin.ErrBadMethod),
		errors.Is(err, checkin.ErrMetadataTooLarge):
		return true
	}
	return false
}
