package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/example/dining-coordinator/internal/application"
)

type credibilityService interface {
	AdjustScore(ctx context.Context, userID string, action application.CredibilityAction, notes string) (application.CredibilityChange, error)
	Stats(ctx context.Context, userID string) (application.CredibilityStats, error)
	Logs(ctx context.Context, userID string, limit int) ([]application.CredibilityLog, error)
}

type CredibilityHandler struct {
	service   credibilityService
	responder responder
}

func NewCredibilityHandler(service credibilityService, logger *slog.Logger) *CredibilityHandler {
	return &CredibilityHandler{
		service:   service,
		responder: newResponder(logger),
	}
}

// CheckIn rewards the caller for showing up at the chosen restaurant.
func (h *CredibilityHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	change, err := h.service.AdjustScore(r.Context(), userID, application.CredibilityCheckIn, "checked in at the restaurant")
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "Check-in recorded", change)
}

// Deduct penalizes the caller for leaving a group without checking in.
func (h *CredibilityHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	change, err := h.service.AdjustScore(r.Context(), userID, application.CredibilityNoShow, "left group without checking in")
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	text := fmt.Sprintf("Credibility score reduced by %d points", change.PreviousScore-change.NewScore)
	h.responder.writeBody(r.Context(), w, http.StatusOK, text, change)
}

// Stats reports the caller's current score and history summary.
func (h *CredibilityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "", stats)
}

// Logs returns the caller's newest history entries. An optional limit query
// parameter caps the page size.
func (h *CredibilityHandler) Logs(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = parsed
	}

	userID, _ := UserIDFromContext(r.Context())
	logs, err := h.service.Logs(r.Context(), userID, limit)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if logs == nil {
		logs = []application.CredibilityLog{}
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "", map[string]any{"logs": logs})
}
