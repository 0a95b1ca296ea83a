package persistence

import "context"
import "time"

// UserUpdate describes a bulk status transition applied to a set of users.
// RoomID and GroupID are assigned as given; nil clears the reference.
type UserUpdate struct {
	Status  UserStatus
	RoomID  *string
	GroupID *string
}

// UserRepository exposes the user mutations the coordinator needs.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, user User) error
	UpdateUsers(ctx context.Context, ids []string, update UserUpdate) error
	ClearPushToken(ctx context.Context, id string) error
}

// CredibilityLogRepository stores the append-only score history. Listing
// returns the newest entries first.
type CredibilityLogRepository interface {
	AppendCredibilityLog(ctx context.Context, log CredibilityLog) error
	ListCredibilityLogs(ctx context.Context, userID string, limit int) ([]CredibilityLog, error)
}

// RoomFilter narrows room queries.
type RoomFilter struct {
	Status         *RoomStatus
	DeadlineBefore *time.Time
	DeadlineAfter  *time.Time
	BelowCapacity  bool
}

// RoomRepository stores waiting rooms. SaveRoom performs an optimistic
// version check and returns ErrVersionConflict when the stored version no
// longer matches the one read.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	SaveRoom(ctx context.Context, room Room) (Room, error)
	DeleteRoom(ctx context.Context, id string) error
	ListRooms(ctx context.Context, filter RoomFilter) ([]Room, error)
}

// GroupFilter narrows group queries.
type GroupFilter struct {
	RestaurantSelected *bool
	DeadlineBefore     *time.Time
	VotingMode         *VotingMode
	ActiveRoundOnly    bool
}

// GroupRepository stores voting groups with the same optimistic save
// contract as RoomRepository.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group Group) error
	GetGroup(ctx context.Context, id string) (Group, error)
	SaveGroup(ctx context.Context, group Group) (Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context, filter GroupFilter) ([]Group, error)
}
