package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

// GroupRepository implements persistence.GroupRepository on SQLite. Nested
// voting state (pool, rounds, history, vote maps) is stored as JSON columns.
type GroupRepository struct {
	store *Store
	now   func() time.Time
}

// NewGroupRepository constructs a group repository bound to the store.
func NewGroupRepository(store *Store, now func() time.Time) *GroupRepository {
	if now == nil {
		now = time.Now
	}
	return &GroupRepository{store: store, now: now}
}

// CreateGroup inserts a new group with version 1.
func (r *GroupRepository) CreateGroup(ctx context.Context, group persistence.Group) error {
	if group.ID == "" {
		return fmt.Errorf("sqlite: group id is required")
	}
	cols, err := encodeGroupColumns(group)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO groups (id, room_id, members, completion_time, restaurant_selected,
			restaurant, voting_mode, restaurant_pool, voting_history, history_detailed,
			current_round, max_rounds, voting_timeout, list_votes, restaurant_votes,
			cuisines, average_budget, average_radius, average_latitude, average_longitude,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		group.ID,
		group.RoomID,
		cols.members,
		formatTime(group.CompletionTime),
		boolToInt(group.RestaurantSelected),
		cols.restaurant,
		string(group.VotingMode),
		cols.pool,
		cols.history,
		cols.historyDetailed,
		cols.currentRound,
		group.MaxRounds,
		group.VotingTimeout,
		cols.listVotes,
		cols.restaurantVotes,
		cols.cuisines,
		group.AverageBudget,
		group.AverageRadius,
		nullFloat(group.AverageLatitude),
		nullFloat(group.AverageLongitude),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create group %s: %w", group.ID, err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (r *GroupRepository) GetGroup(ctx context.Context, id string) (persistence.Group, error) {
	row := r.store.db.QueryRowContext(ctx, groupColumns+` FROM groups WHERE id = ?`, id)
	return scanGroup(row)
}

// SaveGroup writes the group back under the optimistic version check. The
// returned group carries the incremented version.
func (r *GroupRepository) SaveGroup(ctx context.Context, group persistence.Group) (persistence.Group, error) {
	cols, err := encodeGroupColumns(group)
	if err != nil {
		return persistence.Group{}, err
	}

	group.UpdatedAt = r.now().UTC()
	result, err := r.store.db.ExecContext(ctx, `
		UPDATE groups SET members = ?, completion_time = ?, restaurant_selected = ?,
			restaurant = ?, voting_mode = ?, restaurant_pool = ?, voting_history = ?,
			history_detailed = ?, current_round = ?, max_rounds = ?, voting_timeout = ?,
			list_votes = ?, restaurant_votes = ?, cuisines = ?,
			average_budget = ?, average_radius = ?,
			average_latitude = ?, average_longitude = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		cols.members,
		formatTime(group.CompletionTime),
		boolToInt(group.RestaurantSelected),
		cols.restaurant,
		string(group.VotingMode),
		cols.pool,
		cols.history,
		cols.historyDetailed,
		cols.currentRound,
		group.MaxRounds,
		group.VotingTimeout,
		cols.listVotes,
		cols.restaurantVotes,
		cols.cuisines,
		group.AverageBudget,
		group.AverageRadius,
		nullFloat(group.AverageLatitude),
		nullFloat(group.AverageLongitude),
		formatTime(group.UpdatedAt),
		group.ID,
		group.Version,
	)
	if err != nil {
		return persistence.Group{}, fmt.Errorf("sqlite: save group %s: %w", group.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Group{}, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetGroup(ctx, group.ID); errors.Is(getErr, persistence.ErrNotFound) {
			return persistence.Group{}, persistence.ErrNotFound
		}
		return persistence.Group{}, persistence.ErrVersionConflict
	}

	group.Version++
	return group, nil
}

// DeleteGroup removes a group by ID.
func (r *GroupRepository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete group %s: %w", id, err)
	}
	return requireRow(result)
}

// ListGroups returns groups matching the filter ordered by creation time.
func (r *GroupRepository) ListGroups(ctx context.Context, filter persistence.GroupFilter) ([]persistence.Group, error) {
	query := groupColumns + ` FROM groups WHERE 1=1`
	args := make([]any, 0, 3)

	if filter.RestaurantSelected != nil {
		query += ` AND restaurant_selected = ?`
		args = append(args, boolToInt(*filter.RestaurantSelected))
	}
	if filter.DeadlineBefore != nil {
		query += ` AND completion_time < ?`
		args = append(args, formatTime(*filter.DeadlineBefore))
	}
	if filter.VotingMode != nil {
		query += ` AND voting_mode = ?`
		args = append(args, string(*filter.VotingMode))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list groups: %w", err)
	}
	defer rows.Close()

	var groups []persistence.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		// Round state lives in a JSON column, so this filter is applied here.
		if filter.ActiveRoundOnly {
			if group.CurrentRound == nil || group.CurrentRound.Status != persistence.RoundStatusActive {
				continue
			}
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list groups: %w", err)
	}
	return groups, nil
}

const groupColumns = `
	SELECT id, room_id, members, completion_time, restaurant_selected, restaurant,
		voting_mode, restaurant_pool, voting_history, history_detailed, current_round,
		max_rounds, voting_timeout, list_votes, restaurant_votes, cuisines,
		average_budget, average_radius, average_latitude, average_longitude,
		version, created_at, updated_at`

type groupJSONColumns struct {
	members         string
	restaurant      sql.NullString
	pool            string
	history         string
	historyDetailed string
	currentRound    sql.NullString
	listVotes       string
	restaurantVotes string
	cuisines        string
}

func encodeGroupColumns(group persistence.Group) (groupJSONColumns, error) {
	var cols groupJSONColumns
	var err error

	if cols.members, err = marshalJSON(group.Members); err != nil {
		return cols, err
	}
	if group.Restaurant != nil {
		raw, err := marshalJSON(group.Restaurant)
		if err != nil {
			return cols, err
		}
		cols.restaurant = sql.NullString{String: raw, Valid: true}
	}
	if cols.pool, err = marshalJSON(group.RestaurantPool); err != nil {
		return cols, err
	}
	if cols.history, err = marshalJSON(group.VotingHistory); err != nil {
		return cols, err
	}
	if cols.historyDetailed, err = marshalJSON(group.HistoryDetailed); err != nil {
		return cols, err
	}
	if group.CurrentRound != nil {
		raw, err := marshalJSON(group.CurrentRound)
		if err != nil {
			return cols, err
		}
		cols.currentRound = sql.NullString{String: raw, Valid: true}
	}
	if group.ListVotes == nil {
		group.ListVotes = map[string]string{}
	}
	if cols.listVotes, err = marshalJSON(group.ListVotes); err != nil {
		return cols, err
	}
	if group.RestaurantVotes == nil {
		group.RestaurantVotes = map[string]int{}
	}
	if cols.restaurantVotes, err = marshalJSON(group.RestaurantVotes); err != nil {
		return cols, err
	}
	if cols.cuisines, err = marshalJSON(group.Cuisines); err != nil {
		return cols, err
	}
	return cols, nil
}

func scanGroup(row rowScanner) (persistence.Group, error) {
	var (
		group                persistence.Group
		selected             int
		restaurant           sql.NullString
		votingMode           string
		members, pool        string
		history, detailed    string
		currentRound         sql.NullString
		listVotes            string
		restaurantVotes      string
		cuisines             string
		avgLat, avgLon       sql.NullFloat64
		completionTime       string
		createdAt, updatedAt string
	)

	err := row.Scan(
		&group.ID,
		&group.RoomID,
		&members,
		&completionTime,
		&selected,
		&restaurant,
		&votingMode,
		&pool,
		&history,
		&detailed,
		&currentRound,
		&group.MaxRounds,
		&group.VotingTimeout,
		&listVotes,
		&restaurantVotes,
		&cuisines,
		&group.AverageBudget,
		&group.AverageRadius,
		&avgLat,
		&avgLon,
		&group.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Group{}, persistence.ErrNotFound
		}
		return persistence.Group{}, fmt.Errorf("sqlite: scan group: %w", err)
	}

	group.RestaurantSelected = selected != 0
	group.VotingMode = persistence.VotingMode(votingMode)
	group.AverageLatitude = floatPtr(avgLat)
	group.AverageLongitude = floatPtr(avgLon)
	if restaurant.Valid {
		group.Restaurant = &persistence.Restaurant{}
		if err := unmarshalJSON(restaurant.String, group.Restaurant); err != nil {
			return persistence.Group{}, err
		}
	}
	if currentRound.Valid {
		group.CurrentRound = &persistence.VotingRound{}
		if err := unmarshalJSON(currentRound.String, group.CurrentRound); err != nil {
			return persistence.Group{}, err
		}
	}
	if err := unmarshalJSON(members, &group.Members); err != nil {
		return persistence.Group{}, err
	}
	if err := unmarshalJSON(pool, &group.RestaurantPool); err != nil {
		return persistence.Group{}, err
	}
	if err := unmarshalJSON(history, &group.VotingHistory); err != nil {
		return persistence.Group{}, err
	}
	if err := unmarshalJSON(detailed, &group.HistoryDetailed); err != nil {
		return persistence.Group{}, err
	}
	if err := unmarshalJSON(listVotes, &group.ListVotes); err != nil {
		return persistence.Group{}, err
	}
	if err := unmarshalJSON(restaurantVotes, &group.RestaurantVotes); err != nil {
		return persistence.Group{}, err
	}
	if err := unmarshalJSON(cuisines, &group.Cuisines); err != nil {
		return persistence.Group{}, err
	}
	if group.CompletionTime, err = parseTime(completionTime); err != nil {
		return persistence.Group{}, err
	}
	if group.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Group{}, err
	}
	if group.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Group{}, err
	}
	return group, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
