package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/dining-coordinator/internal/application"
	"github.com/example/dining-coordinator/internal/logging"
)

var (
	errBadRequestBody    = errors.New("invalid request body")
	errInvalidRoomID     = errors.New("invalid room id")
	errInvalidGroupID    = errors.New("invalid group id")
	errMissingIdentity   = errors.New("missing identity token")
	errUnknownIdentity   = errors.New("unknown identity token")
	errVoteMustBeBoolean = errors.New("vote must be a boolean (true/false)")
	errMissingRestaurant = errors.New("restaurant id is required")
	errInvalidLimit      = errors.New("limit must be a non-negative integer")
)

// envelope is the uniform response wrapper. Message carries either a text
// note for successes or an error description for failures.
type envelope struct {
	Status  int            `json:"status"`
	Message map[string]any `json:"message"`
	Body    any            `json:"body"`
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeBody(ctx context.Context, w http.ResponseWriter, status int, text string, body any) {
	message := map[string]any{}
	if text != "" {
		message["text"] = text
	}
	r.write(ctx, w, envelope{Status: status, Message: message, Body: body})
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := map[string]any{"error": http.StatusText(status)}
	if err != nil {
		message["error"] = err.Error()
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}
	r.write(ctx, w, envelope{Status: status, Message: message, Body: nil})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.Is(err, application.ErrNotFound):
		r.writeError(ctx, w, http.StatusNotFound, err)
	case errors.As(err, &vErr):
		message := map[string]any{"error": vErr.Error()}
		if len(vErr.FieldErrors) > 0 {
			message["errors"] = vErr.FieldErrors
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", http.StatusBadRequest, "error", err, "error_kind", application.ErrorKind(err))
		r.write(ctx, w, envelope{Status: http.StatusBadRequest, Message: message, Body: nil})
	case errors.Is(err, application.ErrNotMember),
		errors.Is(err, application.ErrAlreadySelected),
		errors.Is(err, application.ErrNoActiveRound),
		errors.Is(err, application.ErrActiveRoomMembership),
		errors.Is(err, application.ErrActiveGroupMembership),
		errors.Is(err, application.ErrEmptyPool):
		r.writeError(ctx, w, http.StatusBadRequest, err)
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", http.StatusInternalServerError, "error", err, "error_kind", application.ErrorKind(err))
		r.write(ctx, w, envelope{
			Status:  http.StatusInternalServerError,
			Message: map[string]any{"error": "internal server error"},
			Body:    nil,
		})
	}
}

func (r responder) write(ctx context.Context, w http.ResponseWriter, resp envelope) {
	if w == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}
