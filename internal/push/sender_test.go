package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type resolverStub struct {
	tokens map[string]string
	err    error
}

func (r *resolverStub) PushTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string)
	for _, id := range userIDs {
		if token, ok := r.tokens[id]; ok {
			out[id] = token
		}
	}
	return out, nil
}

type prunerStub struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (p *prunerStub) ClearPushToken(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.cleared = append(p.cleared, userID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSender_Notify(t *testing.T) {
	t.Parallel()

	t.Run("posts one batch and prunes invalid tokens", func(t *testing.T) {
		t.Parallel()

		var got batchRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decoding batch: %v", err)
			}
			json.NewEncoder(w).Encode(batchResponse{InvalidTokens: []string{"token-b"}})
		}))
		defer server.Close()

		resolver := &resolverStub{tokens: map[string]string{
			"user-a": "token-a",
			"user-b": "token-b",
		}}
		pruner := &prunerStub{}
		sender := NewSender(server.URL, resolver, pruner, discardLogger())

		err := sender.Notify(context.Background(), []string{"user-a", "user-b", "user-c"}, "Match found!", "Voting starts now", map[string]string{"groupId": "g1"})
		if err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}

		if len(got.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(got.Messages))
		}
		if got.Messages[0].Token != "token-a" || got.Messages[0].Title != "Match found!" {
			t.Fatalf("unexpected first message %+v", got.Messages[0])
		}
		if got.Messages[0].Data["groupId"] != "g1" {
			t.Fatalf("data not forwarded: %+v", got.Messages[0].Data)
		}
		if len(pruner.cleared) != 1 || pruner.cleared[0] != "user-b" {
			t.Fatalf("expected user-b pruned, got %v", pruner.cleared)
		}
	})

	t.Run("skips delivery when nobody has a token", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected delivery request")
		}))
		defer server.Close()

		sender := NewSender(server.URL, &resolverStub{}, &prunerStub{}, discardLogger())
		if err := sender.Notify(context.Background(), []string{"user-a"}, "t", "b", nil); err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}
	})

	t.Run("reports endpoint failures", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		resolver := &resolverStub{tokens: map[string]string{"user-a": "token-a"}}
		sender := NewSender(server.URL, resolver, &prunerStub{}, discardLogger())
		if err := sender.Notify(context.Background(), []string{"user-a"}, "t", "b", nil); err == nil {
			t.Fatal("expected error for non-2xx response")
		}
	})

	t.Run("reports resolver failures", func(t *testing.T) {
		t.Parallel()

		sender := NewSender("http://localhost:0", &resolverStub{err: errors.New("store down")}, &prunerStub{}, discardLogger())
		if err := sender.Notify(context.Background(), []string{"user-a"}, "t", "b", nil); err == nil {
			t.Fatal("expected resolver error to surface")
		}
	})

	t.Run("tolerates an unreadable response body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		resolver := &resolverStub{tokens: map[string]string{"user-a": "token-a"}}
		pruner := &prunerStub{}
		sender := NewSender(server.URL, resolver, pruner, discardLogger())
		if err := sender.Notify(context.Background(), []string{"user-a"}, "t", "b", nil); err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}
		if len(pruner.cleared) != 0 {
			t.Fatalf("unexpected pruning: %v", pruner.cleared)
		}
	})
}

func TestNopSender_Notify(t *testing.T) {
	t.Parallel()

	if err := (NopSender{}).Notify(context.Background(), []string{"user-a"}, "t", "b", nil); err != nil {
		t.Fatalf("NopSender returned error: %v", err)
	}
}
