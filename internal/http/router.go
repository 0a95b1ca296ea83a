package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Matching    *MatchingHandler
	Groups      *GroupHandler
	Voting      *VotingHandler
	Credibility *CredibilityHandler

	// WebSocket serves realtime subscriptions. It is mounted outside the API
	// middleware chain since browsers cannot set headers on socket upgrades.
	WebSocket http.HandlerFunc

	// Middleware wraps the /api subtree, outermost first.
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	api := http.NewServeMux()

	if cfg.Matching != nil {
		api.HandleFunc("/api/matching/join", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Matching.Join(w, r)
		})
		api.HandleFunc("/api/matching/leave", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Matching.Leave(w, r)
		})
		api.HandleFunc("/api/matching/rooms/", func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimPrefix(r.URL.Path, "/api/matching/rooms/")
			if id == "" || strings.Contains(id, "/") {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			r = r.WithContext(ContextWithRoomID(r.Context(), id))
			cfg.Matching.RoomStatus(w, r)
		})
	}

	if cfg.Groups != nil || cfg.Voting != nil {
		api.HandleFunc("/api/groups/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.TrimPrefix(r.URL.Path, "/api/groups/")
			id, action, _ := strings.Cut(rest, "/")
			if id == "" {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithGroupID(r.Context(), id))

			switch action {
			case "":
				if cfg.Groups == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Groups.Status(w, r)
			case "leave":
				if cfg.Groups == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Groups.Leave(w, r)
			case "vote":
				if cfg.Groups == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Groups.Vote(w, r)
			case "voting/initialize":
				if cfg.Voting == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Voting.Initialize(w, r)
			case "voting/vote":
				if cfg.Voting == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Voting.SubmitVote(w, r)
			case "voting/current":
				if cfg.Voting == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Voting.CurrentRound(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Credibility != nil {
		api.HandleFunc("/api/credibility/check-in", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Credibility.CheckIn(w, r)
		})
		api.HandleFunc("/api/credibility/deduct", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Credibility.Deduct(w, r)
		})
		api.HandleFunc("/api/credibility/stats", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Credibility.Stats(w, r)
		})
		api.HandleFunc("/api/credibility/logs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Credibility.Logs(w, r)
		})
	}

	var apiHandler http.Handler = api
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			apiHandler = cfg.Middleware[i](apiHandler)
		}
	}

	root := http.NewServeMux()
	root.Handle("/api/", apiHandler)
	if cfg.WebSocket != nil {
		root.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.WebSocket(w, r)
		})
	}
	return root
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
