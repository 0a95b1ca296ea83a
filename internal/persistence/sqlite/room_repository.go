package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository on SQLite.
type RoomRepository struct {
	store *Store
	now   func() time.Time
}

// NewRoomRepository constructs a room repository bound to the store.
func NewRoomRepository(store *Store, now func() time.Time) *RoomRepository {
	if now == nil {
		now = time.Now
	}
	return &RoomRepository{store: store, now: now}
}

// CreateRoom inserts a new waiting room with version 1.
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" {
		return fmt.Errorf("sqlite: room id is required")
	}
	members, err := marshalJSON(room.Members)
	if err != nil {
		return err
	}
	cuisines, err := marshalJSON(room.Cuisines)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO rooms (id, status, members, max_members, completion_time, cuisines,
			average_budget, average_radius, average_latitude, average_longitude,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		room.ID,
		string(room.Status),
		members,
		room.MaxMembers,
		formatTime(room.CompletionTime),
		cuisines,
		room.AverageBudget,
		room.AverageRadius,
		nullFloat(room.AverageLatitude),
		nullFloat(room.AverageLongitude),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create room %s: %w", room.ID, err)
	}
	return nil
}

// GetRoom retrieves a room by ID.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	row := r.store.db.QueryRowContext(ctx, roomColumns+` FROM rooms WHERE id = ?`, id)
	return scanRoom(row)
}

// SaveRoom writes the room back, guarded by the version read earlier. A save
// against a stale version returns ErrVersionConflict; a missing row returns
// ErrNotFound. The returned room carries the incremented version.
func (r *RoomRepository) SaveRoom(ctx context.Context, room persistence.Room) (persistence.Room, error) {
	members, err := marshalJSON(room.Members)
	if err != nil {
		return persistence.Room{}, err
	}
	cuisines, err := marshalJSON(room.Cuisines)
	if err != nil {
		return persistence.Room{}, err
	}

	room.UpdatedAt = r.now().UTC()
	result, err := r.store.db.ExecContext(ctx, `
		UPDATE rooms SET status = ?, members = ?, max_members = ?, completion_time = ?,
			cuisines = ?, average_budget = ?, average_radius = ?,
			average_latitude = ?, average_longitude = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(room.Status),
		members,
		room.MaxMembers,
		formatTime(room.CompletionTime),
		cuisines,
		room.AverageBudget,
		room.AverageRadius,
		nullFloat(room.AverageLatitude),
		nullFloat(room.AverageLongitude),
		formatTime(room.UpdatedAt),
		room.ID,
		room.Version,
	)
	if err != nil {
		return persistence.Room{}, fmt.Errorf("sqlite: save room %s: %w", room.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Room{}, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetRoom(ctx, room.ID); errors.Is(getErr, persistence.ErrNotFound) {
			return persistence.Room{}, persistence.ErrNotFound
		}
		return persistence.Room{}, persistence.ErrVersionConflict
	}

	room.Version++
	return room, nil
}

// DeleteRoom removes a room by ID.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete room %s: %w", id, err)
	}
	return requireRow(result)
}

// ListRooms returns rooms matching the filter ordered by creation time.
func (r *RoomRepository) ListRooms(ctx context.Context, filter persistence.RoomFilter) ([]persistence.Room, error) {
	query := roomColumns + ` FROM rooms WHERE 1=1`
	args := make([]any, 0, 3)

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.DeadlineBefore != nil {
		query += ` AND completion_time < ?`
		args = append(args, formatTime(*filter.DeadlineBefore))
	}
	if filter.DeadlineAfter != nil {
		query += ` AND completion_time > ?`
		args = append(args, formatTime(*filter.DeadlineAfter))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []persistence.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		// Capacity lives in a JSON column, so the cap filter is applied here.
		if filter.BelowCapacity && len(room.Members) >= room.MaxMembers {
			continue
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list rooms: %w", err)
	}
	return rooms, nil
}

const roomColumns = `
	SELECT id, status, members, max_members, completion_time, cuisines,
		average_budget, average_radius, average_latitude, average_longitude,
		version, created_at, updated_at`

func scanRoom(row rowScanner) (persistence.Room, error) {
	var (
		room                 persistence.Room
		status               string
		members, cuisines    string
		completionTime       string
		avgLat, avgLng       sql.NullFloat64
		createdAt, updatedAt string
	)

	err := row.Scan(
		&room.ID,
		&status,
		&members,
		&room.MaxMembers,
		&completionTime,
		&cuisines,
		&room.AverageBudget,
		&room.AverageRadius,
		&avgLat,
		&avgLng,
		&room.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Room{}, persistence.ErrNotFound
		}
		return persistence.Room{}, fmt.Errorf("sqlite: scan room: %w", err)
	}

	room.Status = persistence.RoomStatus(status)
	room.AverageLatitude = floatPtr(avgLat)
	room.AverageLongitude = floatPtr(avgLng)
	if err := unmarshalJSON(members, &room.Members); err != nil {
		return persistence.Room{}, err
	}
	if err := unmarshalJSON(cuisines, &room.Cuisines); err != nil {
		return persistence.Room{}, err
	}
	if room.CompletionTime, err = parseTime(completionTime); err != nil {
		return persistence.Room{}, err
	}
	if room.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Room{}, err
	}
	if room.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Room{}, err
	}
	return room, nil
}
