// Package push delivers best-effort notifications to group and room members.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TokenResolver maps user ids to their registered push tokens. Users without
// a token are simply skipped.
type TokenResolver interface {
	PushTokens(ctx context.Context, userIDs []string) (map[string]string, error)
}

// TokenPruner removes a push token the delivery endpoint reported as invalid.
type TokenPruner interface {
	ClearPushToken(ctx context.Context, userID string) error
}

type message struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type batchRequest struct {
	Messages []message `json:"messages"`
}

type batchResponse struct {
	InvalidTokens []string `json:"invalidTokens"`
}

// Sender posts batched notifications to an HTTP delivery endpoint. Invalid
// tokens reported by the endpoint are pruned from the user store.
type Sender struct {
	endpoint string
	client   *http.Client
	tokens   TokenResolver
	pruner   TokenPruner
	logger   *slog.Logger
}

// NewSender constructs a sender for the given endpoint.
func NewSender(endpoint string, tokens TokenResolver, pruner TokenPruner, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		tokens:   tokens,
		pruner:   pruner,
		logger:   logger,
	}
}

// Notify resolves the recipients' tokens and posts one batch. Recipients
// without tokens are skipped; an empty batch is a no-op.
func (s *Sender) Notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) error {
	if s == nil || len(userIDs) == 0 {
		return nil
	}

	tokens, err := s.tokens.PushTokens(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("resolving push tokens: %w", err)
	}

	byToken := make(map[string]string, len(tokens))
	messages := make([]message, 0, len(tokens))
	for _, userID := range userIDs {
		token, ok := tokens[userID]
		if !ok || token == "" {
			continue
		}
		byToken[token] = userID
		messages = append(messages, message{Token: token, Title: title, Body: body, Data: data})
	}
	if len(messages) == 0 {
		return nil
	}

	payload, err := json.Marshal(batchRequest{Messages: messages})
	if err != nil {
		return fmt.Errorf("encoding push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering push batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}

	var result batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		s.logger.WarnContext(ctx, "unreadable push response, skipping token pruning", "error", err)
		return nil
	}
	s.pruneInvalid(ctx, result.InvalidTokens, byToken)
	return nil
}

func (s *Sender) pruneInvalid(ctx context.Context, invalid []string, byToken map[string]string) {
	for _, token := range invalid {
		userID, ok := byToken[token]
		if !ok {
			continue
		}
		if err := s.pruner.ClearPushToken(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "failed to prune invalid push token", "user_id", userID, "error", err)
			continue
		}
		s.logger.InfoContext(ctx, "pruned invalid push token", "user_id", userID)
	}
}

// NopSender satisfies the notification contract without delivering anything.
// Used when no push endpoint is configured.
type NopSender struct {
	Logger *slog.Logger
}

// Notify logs the would-be notification at debug level and succeeds.
func (n NopSender) Notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) error {
	if n.Logger != nil {
		n.Logger.DebugContext(ctx, "push delivery disabled", "recipients", len(userIDs), "title", title)
	}
	return nil
}
