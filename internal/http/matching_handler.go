package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/dining-coordinator/internal/application"
)

type matchingService interface {
	JoinMatching(ctx context.Context, userID string, prefs application.Preferences) (application.JoinResult, error)
	LeaveRoom(ctx context.Context, userID, roomID string) error
	RoomStatus(ctx context.Context, roomID string) (application.Room, error)
}

type MatchingHandler struct {
	service   matchingService
	responder responder
	logger    *slog.Logger
}

func NewMatchingHandler(service matchingService, logger *slog.Logger) *MatchingHandler {
	return &MatchingHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

type joinRequest struct {
	Cuisines  []string `json:"cuisine"`
	Budget    float64  `json:"budget"`
	RadiusKm  float64  `json:"radiusKm"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	PushToken string   `json:"pushToken"`
}

type joinResponse struct {
	Room     application.Room   `json:"room"`
	Promoted *application.Group `json:"group,omitempty"`
}

func (h *MatchingHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	result, err := h.service.JoinMatching(r.Context(), userID, application.Preferences{
		Cuisines:  req.Cuisines,
		Budget:    req.Budget,
		RadiusKm:  req.RadiusKm,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		PushToken: req.PushToken,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	message := "Successfully joined matching"
	if result.Promoted != nil {
		message = "Room is full, voting group formed"
	}
	h.responder.writeBody(r.Context(), w, http.StatusOK, message, joinResponse{
		Room:     result.Room,
		Promoted: result.Promoted,
	})
}

type leaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

func (h *MatchingHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req leaveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if strings.TrimSpace(req.RoomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	userID, _ := UserIDFromContext(r.Context())
	if err := h.service.LeaveRoom(r.Context(), userID, req.RoomID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "Successfully left room", map[string]string{"roomId": req.RoomID})
}

func (h *MatchingHandler) RoomStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	room, err := h.service.RoomStatus(r.Context(), roomID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeBody(r.Context(), w, http.StatusOK, "", room)
}
