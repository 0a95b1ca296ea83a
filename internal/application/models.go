package application

import (
	"context"
	"time"
)

// UserStatus tracks where a user currently sits in the matching flow.
type UserStatus string

const (
	UserStatusOnline        UserStatus = "ONLINE"
	UserStatusInWaitingRoom UserStatus = "IN_WAITING_ROOM"
	UserStatusInGroup       UserStatus = "IN_GROUP"
)

// RoomStatus tracks the lifecycle of a waiting room.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "WAITING"
	RoomStatusMatched RoomStatus = "MATCHED"
	RoomStatusExpired RoomStatus = "EXPIRED"
)

// VotingMode selects the voting protocol used by a group.
type VotingMode string

const (
	VotingModeSequential VotingMode = "sequential"
	VotingModeList       VotingMode = "list"
)

// RoundStatus tracks the state of a voting round.
type RoundStatus string

const (
	RoundStatusActive          RoundStatus = "active"
	RoundStatusMajorityReached RoundStatus = "majority_reached"
	RoundStatusExpired         RoundStatus = "expired"
)

// RoundResult records how a finished round ended.
type RoundResult string

const (
	RoundResultAccepted RoundResult = "accepted"
	RoundResultRejected RoundResult = "rejected"
	RoundResultTimeout  RoundResult = "timeout"
)

// User represents an account participating in matching. Accounts are owned by
// the external account system; this core only mutates matching state.
type User struct {
	ID               string     `json:"userId"`
	DisplayName      string     `json:"displayName"`
	Status           UserStatus `json:"status"`
	RoomID           *string    `json:"roomId,omitempty"`
	GroupID          *string    `json:"groupId,omitempty"`
	Cuisines         []string   `json:"cuisines"`
	Budget           float64    `json:"budget"`
	RadiusKm         float64    `json:"radiusKm"`
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	PushToken        *string    `json:"-"`
	CredibilityScore int        `json:"credibilityScore"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Room is a capacity-bounded waiting pool with aggregate member preferences.
type Room struct {
	ID               string     `json:"roomId"`
	Status           RoomStatus `json:"status"`
	Members          []string   `json:"members"`
	MaxMembers       int        `json:"maxMembers"`
	CompletionTime   time.Time  `json:"completionTime"`
	Cuisines         []string   `json:"cuisines"`
	AverageBudget    float64    `json:"averageBudget"`
	AverageRadius    float64    `json:"averageRadius"`
	AverageLatitude  *float64   `json:"averageLatitude,omitempty"`
	AverageLongitude *float64   `json:"averageLongitude,omitempty"`
	Version          int64      `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Restaurant is a candidate served by the place source. The voting engine
// depends only on ID, Name, and Location; the remaining fields are opaque
// detail carried through to clients.
type Restaurant struct {
	ID          string   `json:"restaurantId"`
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Address     string   `json:"address,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	PriceLevel  int      `json:"priceLevel,omitempty"`
	Photos      []string `json:"photos,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Website     string   `json:"website,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// VotingRound is the single active yes/no round of a sequential group.
type VotingRound struct {
	RestaurantID string          `json:"restaurantId"`
	Restaurant   Restaurant      `json:"restaurant"`
	StartedAt    time.Time       `json:"startedAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	Votes        map[string]bool `json:"votes"`
	YesVotes     int             `json:"yesVotes"`
	NoVotes      int             `json:"noVotes"`
	Status       RoundStatus     `json:"status"`
}

// VotingHistoryEntry is an immutable snapshot of a finished round.
type VotingHistoryEntry struct {
	RestaurantID string      `json:"restaurantId"`
	Restaurant   Restaurant  `json:"restaurant"`
	YesVotes     int         `json:"yesVotes"`
	NoVotes      int         `json:"noVotes"`
	Result       RoundResult `json:"result"`
	VotedAt      time.Time   `json:"votedAt"`
}

// Group is the post-matching entity in which restaurant voting happens.
type Group struct {
	ID                 string               `json:"groupId"`
	RoomID             string               `json:"roomId"`
	Members            []string             `json:"members"`
	CompletionTime     time.Time            `json:"completionTime"`
	RestaurantSelected bool                 `json:"restaurantSelected"`
	Restaurant         *Restaurant          `json:"restaurant,omitempty"`
	VotingMode         VotingMode           `json:"votingMode"`
	RestaurantPool     []Restaurant         `json:"restaurantPool"`
	VotingHistory      []string             `json:"votingHistory"`
	HistoryDetailed    []VotingHistoryEntry `json:"votingHistoryDetailed"`
	CurrentRound       *VotingRound         `json:"currentRound,omitempty"`
	MaxRounds          int                  `json:"maxRounds"`
	VotingTimeout      int                  `json:"votingTimeoutSeconds"`
	ListVotes          map[string]string    `json:"votes,omitempty"`
	RestaurantVotes    map[string]int       `json:"restaurantVotes,omitempty"`
	Cuisines           []string             `json:"cuisines"`
	AverageBudget      float64              `json:"averageBudget"`
	AverageRadius      float64              `json:"averageRadius"`
	AverageLatitude    *float64             `json:"averageLatitude,omitempty"`
	AverageLongitude   *float64             `json:"averageLongitude,omitempty"`
	Version            int64                `json:"-"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// CredibilityAction names a reputation-relevant event in a user's dining
// history.
type CredibilityAction string

const (
	// CredibilityCheckIn rewards showing up at the chosen restaurant.
	CredibilityCheckIn CredibilityAction = "check_in"
	// CredibilityNoShow penalizes leaving a group without checking in.
	CredibilityNoShow CredibilityAction = "left_without_checkin"
)

// CredibilityLog is one append-only entry in a user's score history.
type CredibilityLog struct {
	UserID        string            `json:"userId"`
	Action        CredibilityAction `json:"action"`
	ScoreChange   int               `json:"scoreChange"`
	GroupID       *string           `json:"groupId,omitempty"`
	RoomID        *string           `json:"roomId,omitempty"`
	PreviousScore int               `json:"previousScore"`
	NewScore      int               `json:"newScore"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// CredibilityChange reports the effect of a single score adjustment.
type CredibilityChange struct {
	PreviousScore int `json:"previousScore"`
	NewScore      int `json:"newScore"`
	ScoreChange   int `json:"scoreChange"`
}

// CredibilityStats summarizes a user's score history.
type CredibilityStats struct {
	CurrentScore    int    `json:"currentScore"`
	TotalLogs       int    `json:"totalLogs"`
	PositiveActions int    `json:"positiveActions"`
	NegativeActions int    `json:"negativeActions"`
	RecentTrend     string `json:"recentTrend"`
}

// UserUpdate describes a bulk status transition applied to a set of users.
// RoomID and GroupID are assigned as given; nil clears the reference.
type UserUpdate struct {
	Status  UserStatus
	RoomID  *string
	GroupID *string
}

// UserStore captures the user interactions needed by the services.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, user User) error
	UpdateUsers(ctx context.Context, ids []string, update UserUpdate) error
	ClearPushToken(ctx context.Context, id string) error
}

// CredibilityStore persists the append-only score history.
type CredibilityStore interface {
	AppendCredibilityLog(ctx context.Context, log CredibilityLog) error
	ListCredibilityLogs(ctx context.Context, userID string, limit int) ([]CredibilityLog, error)
}

// RoomQuery narrows queries issued to the room store.
type RoomQuery struct {
	Status         *RoomStatus
	DeadlineBefore *time.Time
	DeadlineAfter  *time.Time
	BelowCapacity  bool
}

// RoomStore persists waiting rooms. SaveRoom performs an optimistic version
// check and fails with persistence.ErrVersionConflict on a stale write.
type RoomStore interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	SaveRoom(ctx context.Context, room Room) (Room, error)
	DeleteRoom(ctx context.Context, id string) error
	ListRooms(ctx context.Context, query RoomQuery) ([]Room, error)
}

// GroupQuery narrows queries issued to the group store.
type GroupQuery struct {
	RestaurantSelected *bool
	DeadlineBefore     *time.Time
	VotingMode         *VotingMode
	ActiveRoundOnly    bool
}

// GroupStore persists voting groups with the same optimistic save contract as
// RoomStore.
type GroupStore interface {
	CreateGroup(ctx context.Context, group Group) error
	GetGroup(ctx context.Context, id string) (Group, error)
	SaveGroup(ctx context.Context, group Group) (Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context, query GroupQuery) ([]Group, error)
}

// EventSink broadcasts realtime events to clients subscribed to a scope.
// Implementations must never block the caller; delivery is best effort.
type EventSink interface {
	Publish(scope, event string, payload any)
}

// PushSender delivers push notifications to the given users. Delivery is best
// effort; failures are logged by the caller and never abort an operation.
type PushSender interface {
	Notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) error
}

// PoolPreferences aggregates group member preferences for a candidate fetch.
type PoolPreferences struct {
	Cuisines  []string
	Budget    float64
	RadiusKm  float64
	Latitude  *float64
	Longitude *float64
}

// CandidateSource supplies restaurant candidates for voting.
type CandidateSource interface {
	FetchPool(ctx context.Context, prefs PoolPreferences) ([]Restaurant, error)
	Detail(ctx context.Context, id string) (Restaurant, error)
}

// Preferences carries the caller supplied matching preferences.
type Preferences struct {
	Cuisines  []string
	Budget    float64
	RadiusKm  float64
	Latitude  *float64
	Longitude *float64
	PushToken string
}

// MatchingSettings tunes room creation and candidate scoring.
type MatchingSettings struct {
	RoomDuration time.Duration
	MaxMembers   int
	MinMembers   int
	MinScore     float64
}

// VotingSettings tunes the group voting window and round cadence.
type VotingSettings struct {
	Window       time.Duration
	MaxRounds    int
	RoundTimeout time.Duration
}

// JoinResult is the outcome of a join request. Promoted is set when the join
// filled the room and a voting group was created synchronously.
type JoinResult struct {
	Room     Room
	Promoted *Group
}

// VoteOutcome describes how a sequential vote submission resolved.
type VoteOutcome struct {
	// Recorded reports whether the vote was counted toward the round.
	Recorded bool
	// RoundExpired is set when the targeted round had already timed out; the
	// vote is not counted and the round is advanced instead.
	RoundExpired bool
	// MajorityReached is set when this vote settled the round either way.
	MajorityReached bool
	// Restaurant is the selected restaurant when the round was accepted, or
	// the fallback winner when the pool was exhausted.
	Restaurant *Restaurant
	Group      Group
}

// RoundView is the read-only snapshot served for an active round.
type RoundView struct {
	RoundNumber      int             `json:"roundNumber"`
	TotalRounds      int             `json:"totalRounds"`
	RestaurantID     string          `json:"restaurantId"`
	Restaurant       Restaurant      `json:"restaurant"`
	Votes            map[string]bool `json:"votes"`
	YesVotes         int             `json:"yesVotes"`
	NoVotes          int             `json:"noVotes"`
	StartedAt        time.Time       `json:"startedAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	SecondsRemaining int             `json:"secondsRemaining"`
}
