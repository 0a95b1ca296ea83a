package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/dining-coordinator/internal/locking"
)

const (
	minCredibilityScore = 0
	maxCredibilityScore = 100

	checkInScoreDelta = 5
	noShowScoreDelta  = -10

	// statsLogWindow bounds how much history feeds the statistics; the trend
	// looks at the newest trendWindow entries within it.
	statsLogWindow = 100
	trendWindow    = 10
	trendThreshold = 5

	defaultLogLimit = 20
)

// CredibilityService maintains the 0-100 reliability score users build by
// checking in at the selected restaurant and lose by walking away without
// doing so. Every adjustment is recorded in an append-only log.
type CredibilityService struct {
	users  UserStore
	logs   CredibilityStore
	locks  *locking.Registry
	now    func() time.Time
	logger *slog.Logger
}

// NewCredibilityService wires dependencies for score adjustments and stats.
func NewCredibilityService(users UserStore, logs CredibilityStore, locks *locking.Registry, now func() time.Time, logger *slog.Logger) *CredibilityService {
	if now == nil {
		now = time.Now
	}
	if locks == nil {
		locks = locking.NewRegistry()
	}
	return &CredibilityService{
		users:  users,
		logs:   logs,
		locks:  locks,
		now:    now,
		logger: defaultLogger(logger),
	}
}

func (s *CredibilityService) operationLogger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CredibilityService", operation, attrs...)
}

// AdjustScore applies the action's delta to the user's score, clamped to the
// 0-100 range, and appends a history entry referencing the user's current
// group. The raw delta is logged even when clamping absorbs part of it.
func (s *CredibilityService) AdjustScore(ctx context.Context, userID string, action CredibilityAction, notes string) (change CredibilityChange, err error) {
	if s == nil {
		err = fmt.Errorf("CredibilityService is nil")
		return
	}

	logger := s.operationLogger(ctx, "AdjustScore", "user_id", userID, "action", string(action))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "credibility adjustment failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "credibility adjusted",
			"previous_score", change.PreviousScore, "new_score", change.NewScore)
	}()

	delta, ok := credibilityDelta(action)
	if !ok {
		vErr := &ValidationError{}
		vErr.add("action", fmt.Sprintf("unknown credibility action %q", action))
		err = vErr
		return
	}

	err = s.locks.WithLock(userScope(userID), func() error {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			if isNotFoundError(err) {
				return ErrNotFound
			}
			return err
		}

		previous := user.CredibilityScore
		next := clampCredibility(previous + delta)

		user.CredibilityScore = next
		user.UpdatedAt = s.now()
		if err := s.users.UpdateUser(ctx, user); err != nil {
			return err
		}

		if err := s.logs.AppendCredibilityLog(ctx, CredibilityLog{
			UserID:        userID,
			Action:        action,
			ScoreChange:   delta,
			GroupID:       user.GroupID,
			RoomID:        user.RoomID,
			PreviousScore: previous,
			NewScore:      next,
			Notes:         notes,
			CreatedAt:     s.now(),
		}); err != nil {
			return err
		}

		change = CredibilityChange{PreviousScore: previous, NewScore: next, ScoreChange: delta}
		return nil
	})
	return
}

// Stats summarizes the user's current score and recent history. The trend
// sums the newest entries: a swing beyond the threshold reads as improving
// or declining, anything else as stable.
func (s *CredibilityService) Stats(ctx context.Context, userID string) (CredibilityStats, error) {
	if s == nil {
		return CredibilityStats{}, fmt.Errorf("CredibilityService is nil")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if isNotFoundError(err) {
			return CredibilityStats{}, ErrNotFound
		}
		return CredibilityStats{}, err
	}

	logs, err := s.logs.ListCredibilityLogs(ctx, userID, statsLogWindow)
	if err != nil {
		return CredibilityStats{}, err
	}

	stats := CredibilityStats{CurrentScore: user.CredibilityScore, TotalLogs: len(logs), RecentTrend: "stable"}
	for _, entry := range logs {
		switch {
		case entry.ScoreChange > 0:
			stats.PositiveActions++
		case entry.ScoreChange < 0:
			stats.NegativeActions++
		}
	}

	recent := logs
	if len(recent) > trendWindow {
		recent = recent[:trendWindow]
	}
	swing := 0
	for _, entry := range recent {
		swing += entry.ScoreChange
	}
	if swing > trendThreshold {
		stats.RecentTrend = "improving"
	} else if swing < -trendThreshold {
		stats.RecentTrend = "declining"
	}

	return stats, nil
}

// Logs returns the user's newest history entries, at most limit. A limit of
// zero or less falls back to the default page size.
func (s *CredibilityService) Logs(ctx context.Context, userID string, limit int) ([]CredibilityLog, error) {
	if s == nil {
		return nil, fmt.Errorf("CredibilityService is nil")
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	return s.logs.ListCredibilityLogs(ctx, userID, limit)
}

func credibilityDelta(action CredibilityAction) (int, bool) {
	switch action {
	case CredibilityCheckIn:
		return checkInScoreDelta, true
	case CredibilityNoShow:
		return noShowScoreDelta, true
	default:
		return 0, false
	}
}

func clampCredibility(score int) int {
	if score < minCredibilityScore {
		return minCredibilityScore
	}
	if score > maxCredibilityScore {
		return maxCredibilityScore
	}
	return score
}
