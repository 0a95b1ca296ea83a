package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/dining-coordinator/internal/logging"
	"github.com/example/dining-coordinator/internal/persistence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrAlreadySelected):
		return "already_selected"
	case errors.Is(err, ErrNoActiveRound):
		return "no_active_round"
	case errors.Is(err, ErrActiveRoomMembership):
		return "active_room_membership"
	case errors.Is(err, ErrActiveGroupMembership):
		return "active_group_membership"
	case errors.Is(err, ErrEmptyPool):
		return "empty_pool"
	case errors.Is(err, persistence.ErrVersionConflict):
		return "version_conflict"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}
