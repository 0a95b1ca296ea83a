package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/dining-coordinator/internal/application"
)

type votingService interface {
	Initialize(ctx context.Context, groupID string) (application.Group, error)
	SubmitVote(ctx context.Context, userID, groupID string, vote bool) (application.VoteOutcome, error)
	CurrentRound(ctx context.Context, groupID string) (application.RoundView, error)
}

type VotingHandler struct {
	service   votingService
	responder responder
	logger    *slog.Logger
}

func NewVotingHandler(service votingService, logger *slog.Logger) *VotingHandler {
	return &VotingHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *VotingHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	groupID, ok := GroupIDFromContext(r.Context())
	if !ok || strings.TrimSpace(groupID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGroupID)
		return
	}

	group, err := h.service.Initialize(r.Context(), groupID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "Voting initialized", group)
}

type sequentialVoteRequest struct {
	Vote *bool `json:"vote"`
}

type sequentialVoteResponse struct {
	Recorded        bool                    `json:"recorded"`
	RoundExpired    bool                    `json:"roundExpired"`
	MajorityReached bool                    `json:"majorityReached"`
	Restaurant      *application.Restaurant `json:"restaurant,omitempty"`
	Group           application.Group       `json:"group"`
}

func (h *VotingHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	groupID, ok := GroupIDFromContext(r.Context())
	if !ok || strings.TrimSpace(groupID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGroupID)
		return
	}

	var req sequentialVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errVoteMustBeBoolean)
		return
	}
	if req.Vote == nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errVoteMustBeBoolean)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	outcome, err := h.service.SubmitVote(r.Context(), userID, groupID, *req.Vote)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	message := "Vote recorded"
	switch {
	case outcome.RoundExpired:
		message = "Round expired, moved to the next restaurant"
	case outcome.MajorityReached && outcome.Restaurant != nil:
		message = "Majority reached, restaurant selected"
	case outcome.MajorityReached:
		message = "Majority reached, moved to the next restaurant"
	}
	h.responder.writeBody(r.Context(), w, http.StatusOK, message, sequentialVoteResponse{
		Recorded:        outcome.Recorded,
		RoundExpired:    outcome.RoundExpired,
		MajorityReached: outcome.MajorityReached,
		Restaurant:      outcome.Restaurant,
		Group:           outcome.Group,
	})
}

func (h *VotingHandler) CurrentRound(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	groupID, ok := GroupIDFromContext(r.Context())
	if !ok || strings.TrimSpace(groupID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGroupID)
		return
	}

	round, err := h.service.CurrentRound(r.Context(), groupID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "", round)
}
