package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

// UserRepository implements persistence.UserRepository on SQLite.
type UserRepository struct {
	store *Store
	now   func() time.Time
}

// NewUserRepository constructs a user repository bound to the store.
func NewUserRepository(store *Store, now func() time.Time) *UserRepository {
	if now == nil {
		now = time.Now
	}
	return &UserRepository{store: store, now: now}
}

// CreateUser inserts a new user record.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return fmt.Errorf("sqlite: user id is required")
	}
	cuisines, err := marshalJSON(user.Cuisines)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	// New accounts start at full credibility.
	if user.CredibilityScore == 0 {
		user.CredibilityScore = 100
	}

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, status, room_id, group_id, cuisines,
			budget, radius_km, latitude, longitude, push_token, credibility_score,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.DisplayName,
		string(user.Status),
		nullString(user.RoomID),
		nullString(user.GroupID),
		cuisines,
		user.Budget,
		user.RadiusKm,
		nullFloat(user.Latitude),
		nullFloat(user.Longitude),
		nullString(user.PushToken),
		user.CredibilityScore,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create user %s: %w", user.ID, err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT id, display_name, status, room_id, group_id, cuisines,
			budget, radius_km, latitude, longitude, push_token, credibility_score,
			created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UpdateUser replaces the stored record for the user.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	cuisines, err := marshalJSON(user.Cuisines)
	if err != nil {
		return err
	}
	user.UpdatedAt = r.now().UTC()

	result, err := r.store.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, status = ?, room_id = ?, group_id = ?,
			cuisines = ?, budget = ?, radius_km = ?, latitude = ?, longitude = ?,
			push_token = ?, credibility_score = ?, updated_at = ?
		WHERE id = ?`,
		user.DisplayName,
		string(user.Status),
		nullString(user.RoomID),
		nullString(user.GroupID),
		cuisines,
		user.Budget,
		user.RadiusKm,
		nullFloat(user.Latitude),
		nullFloat(user.Longitude),
		nullString(user.PushToken),
		user.CredibilityScore,
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update user %s: %w", user.ID, err)
	}
	return requireRow(result)
}

// UpdateUsers applies the same status transition to every listed user.
func (r *UserRepository) UpdateUsers(ctx context.Context, ids []string, update persistence.UserUpdate) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{
		string(update.Status),
		nullString(update.RoomID),
		nullString(update.GroupID),
		formatTime(r.now().UTC()),
	}
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE users SET status = ?, room_id = ?, group_id = ?, updated_at = ?
		WHERE id IN (%s)`, placeholders)
	if _, err := r.store.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: bulk update users: %w", err)
	}
	return nil
}

// ClearPushToken removes a stale push token after the sink rejected it.
func (r *UserRepository) ClearPushToken(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, `
		UPDATE users SET push_token = NULL, updated_at = ? WHERE id = ?`,
		formatTime(r.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("sqlite: clear push token for %s: %w", id, err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                 persistence.User
		status               string
		roomID, groupID      sql.NullString
		cuisines             string
		latitude, longitude  sql.NullFloat64
		pushToken            sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&status,
		&roomID,
		&groupID,
		&cuisines,
		&user.Budget,
		&user.RadiusKm,
		&latitude,
		&longitude,
		&pushToken,
		&user.CredibilityScore,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.User{}, persistence.ErrNotFound
		}
		return persistence.User{}, fmt.Errorf("sqlite: scan user: %w", err)
	}

	user.Status = persistence.UserStatus(status)
	user.RoomID = stringPtr(roomID)
	user.GroupID = stringPtr(groupID)
	user.Latitude = floatPtr(latitude)
	user.Longitude = floatPtr(longitude)
	user.PushToken = stringPtr(pushToken)
	if err := unmarshalJSON(cuisines, &user.Cuisines); err != nil {
		return persistence.User{}, err
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
