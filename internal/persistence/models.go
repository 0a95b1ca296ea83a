package persistence

import "time"

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
	// VotingModeSequential runs one candidate at a time with yes/no rounds.
	VotingModeSequential VotingMode = "sequential"
	// VotingModeList is the deprecated vote-for-any-restaurant protocol.
	VotingModeList VotingMode = "list"
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

// User is the persisted account record owned by the external account system.
// The coordinator mutates matching state only; it never deletes users.
type User struct {
	ID               string
	DisplayName      string
	Status           UserStatus
	RoomID           *string
	GroupID          *string
	Cuisines         []string
	Budget           float64
	RadiusKm         float64
	Latitude         *float64
	Longitude        *float64
	PushToken        *string
	CredibilityScore int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CredibilityAction names a reputation-relevant event in a user's history.
type CredibilityAction string

const (
	CredibilityCheckIn CredibilityAction = "check_in"
	CredibilityNoShow  CredibilityAction = "left_without_checkin"
)

// CredibilityLog is one append-only entry in a user's score history.
type CredibilityLog struct {
	ID            int64
	UserID        string
	Action        CredibilityAction
	ScoreChange   int
	GroupID       *string
	RoomID        *string
	PreviousScore int
	NewScore      int
	Notes         string
	CreatedAt     time.Time
}

// Room is a capacity-bounded waiting pool with aggregate member preferences.
type Room struct {
	ID               string
	Status           RoomStatus
	Members          []string
	MaxMembers       int
	CompletionTime   time.Time
	Cuisines         []string
	AverageBudget    float64
	AverageRadius    float64
	AverageLatitude  *float64
	AverageLongitude *float64
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Restaurant is a candidate fetched from the place source. The engine depends
// only on ID, Name, and Location; the rest is opaque detail carried through.
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

// VotingRound is the single active yes/no round embedded in a group.
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
	ID                 string
	RoomID             string
	Members            []string
	CompletionTime     time.Time
	RestaurantSelected bool
	Restaurant         *Restaurant
	VotingMode         VotingMode
	RestaurantPool     []Restaurant
	VotingHistory      []string
	HistoryDetailed    []VotingHistoryEntry
	CurrentRound       *VotingRound
	MaxRounds          int
	VotingTimeout      int
	ListVotes          map[string]string
	RestaurantVotes    map[string]int
	Cuisines           []string
	AverageBudget      float64
	AverageRadius      float64
	AverageLatitude    *float64
	AverageLongitude   *float64
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
