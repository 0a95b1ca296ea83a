package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

// CredibilityRepository implements persistence.CredibilityLogRepository on
// SQLite. The log is append-only; rows are never updated or deleted.
type CredibilityRepository struct {
	store *Store
	now   func() time.Time
}

// NewCredibilityRepository constructs a credibility log repository bound to
// the store.
func NewCredibilityRepository(store *Store, now func() time.Time) *CredibilityRepository {
	if now == nil {
		now = time.Now
	}
	return &CredibilityRepository{store: store, now: now}
}

// AppendCredibilityLog inserts a new history entry.
func (r *CredibilityRepository) AppendCredibilityLog(ctx context.Context, log persistence.CredibilityLog) error {
	if log.UserID == "" {
		return fmt.Errorf("sqlite: credibility log user id is required")
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.now().UTC()
	}

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO credibility_logs (user_id, action, score_change, group_id, room_id,
			previous_score, new_score, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.UserID,
		string(log.Action),
		log.ScoreChange,
		nullString(log.GroupID),
		nullString(log.RoomID),
		log.PreviousScore,
		log.NewScore,
		log.Notes,
		formatTime(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append credibility log for %s: %w", log.UserID, err)
	}
	return nil
}

// ListCredibilityLogs returns the user's newest entries first, at most limit.
func (r *CredibilityRepository) ListCredibilityLogs(ctx context.Context, userID string, limit int) ([]persistence.CredibilityLog, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, user_id, action, score_change, group_id, room_id,
			previous_score, new_score, notes, created_at
		FROM credibility_logs WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list credibility logs: %w", err)
	}
	defer rows.Close()

	var logs []persistence.CredibilityLog
	for rows.Next() {
		var (
			log             persistence.CredibilityLog
			action          string
			groupID, roomID sql.NullString
			createdAt       string
		)
		err := rows.Scan(
			&log.ID,
			&log.UserID,
			&action,
			&log.ScoreChange,
			&groupID,
			&roomID,
			&log.PreviousScore,
			&log.NewScore,
			&log.Notes,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan credibility log: %w", err)
		}
		log.Action = persistence.CredibilityAction(action)
		log.GroupID = stringPtr(groupID)
		log.RoomID = stringPtr(roomID)
		if log.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list credibility logs: %w", err)
	}
	return logs, nil
}
