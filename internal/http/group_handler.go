package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/dining-coordinator/internal/application"
)

type groupService interface {
	GroupStatus(ctx context.Context, groupID string) (application.Group, error)
	LeaveGroup(ctx context.Context, userID, groupID string) error
	VoteForRestaurant(ctx context.Context, userID, groupID, restaurantID string, restaurant application.Restaurant) error
}

type restaurantDetails interface {
	Detail(ctx context.Context, id string) (application.Restaurant, error)
}

type GroupHandler struct {
	service   groupService
	details   restaurantDetails
	responder responder
	logger    *slog.Logger
}

func NewGroupHandler(service groupService, details restaurantDetails, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		service:   service,
		details:   details,
		responder: newResponder(logger),
		logger:    defaultLogger(logger),
	}
}

func (h *GroupHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	groupID, ok := GroupIDFromContext(r.Context())
	if !ok || strings.TrimSpace(groupID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGroupID)
		return
	}

	group, err := h.service.GroupStatus(r.Context(), groupID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "", group)
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	groupID, ok := GroupIDFromContext(r.Context())
	if !ok || strings.TrimSpace(groupID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGroupID)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	if err := h.service.LeaveGroup(r.Context(), userID, groupID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "Successfully left group", map[string]string{"groupId": groupID})
}

type legacyVoteRequest struct {
	RestaurantID string                  `json:"restaurantId"`
	Restaurant   *application.Restaurant `json:"restaurant"`
}

// Vote records a named-restaurant vote for groups in list mode. The
// restaurant record travels with the request when the client already has it;
// otherwise the details source fills it in.
func (h *GroupHandler) Vote(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	groupID, ok := GroupIDFromContext(r.Context())
	if !ok || strings.TrimSpace(groupID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGroupID)
		return
	}

	var req legacyVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if strings.TrimSpace(req.RestaurantID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingRestaurant)
		return
	}

	restaurant := application.Restaurant{ID: req.RestaurantID}
	if req.Restaurant != nil {
		restaurant = *req.Restaurant
		restaurant.ID = req.RestaurantID
	} else if h.details != nil {
		if detailed, err := h.details.Detail(r.Context(), req.RestaurantID); err == nil {
			restaurant = detailed
		} else {
			handlerLogger(r.Context(), h.logger, "GroupHandler", "Vote").WarnContext(r.Context(), "restaurant detail lookup failed", "restaurant_id", req.RestaurantID, "error", err)
		}
	}

	userID, _ := UserIDFromContext(r.Context())
	if err := h.service.VoteForRestaurant(r.Context(), userID, groupID, req.RestaurantID, restaurant); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "Vote recorded", map[string]string{
		"groupId":      groupID,
		"restaurantId": req.RestaurantID,
	})
}
