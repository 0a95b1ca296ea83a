package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/dining-coordinator/internal/application"
	"github.com/example/dining-coordinator/internal/logging"
)

// IdentityResolver turns a bearer token into a known user id. Token
// verification belongs to the external account system; this layer only
// checks that the id resolves to a stored user.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (string, error)
}

// RequireIdentity rejects requests without a resolvable bearer identity.
func RequireIdentity(resolver IdentityResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingIdentity)
				return
			}

			userID, err := resolver.ResolveIdentity(r.Context(), token)
			if err != nil {
				if errors.Is(err, application.ErrNotFound) {
					responder.writeError(r.Context(), w, http.StatusUnauthorized, errUnknownIdentity)
					return
				}
				responder.handleServiceError(r.Context(), w, err)
				return
			}

			ctx := ContextWithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request-scoped logger to the context and records
// request lifecycle events.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, prefix))
	}
	return ""
}
