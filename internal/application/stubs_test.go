package application

import (
	"context"
	"sync"

	"github.com/example/dining-coordinator/internal/persistence"
)

// userStoreStub keeps users in memory behind a mutex so concurrent service
// calls in tests behave like the real store.
type userStoreStub struct {
	mu    sync.Mutex
	users map[string]User
	err   error
}

func newUserStoreStub(users ...User) *userStoreStub {
	stub := &userStoreStub{users: make(map[string]User)}
	for _, user := range users {
		stub.users[user.ID] = user
	}
	return stub
}

func (s *userStoreStub) GetUser(ctx context.Context, id string) (User, error) {
	if s.err != nil {
		return User{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, persistence.ErrNotFound
	}
	return user, nil
}

func (s *userStoreStub) UpdateUser(ctx context.Context, user User) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *userStoreStub) UpdateUsers(ctx context.Context, ids []string, update UserUpdate) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		user, ok := s.users[id]
		if !ok {
			continue
		}
		user.Status = update.Status
		user.RoomID = update.RoomID
		user.GroupID = update.GroupID
		s.users[id] = user
	}
	return nil
}

func (s *userStoreStub) ClearPushToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		user.PushToken = nil
		s.users[id] = user
	}
	return nil
}

func (s *userStoreStub) get(id string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

// roomStoreStub enforces the optimistic version contract like the SQLite
// repository does. failSaves forces the first N saves to report a conflict.
type roomStoreStub struct {
	mu        sync.Mutex
	rooms     map[string]Room
	failSaves int
	err       error
}

func newRoomStoreStub(rooms ...Room) *roomStoreStub {
	stub := &roomStoreStub{rooms: make(map[string]Room)}
	for _, room := range rooms {
		if room.Version == 0 {
			room.Version = 1
		}
		stub.rooms[room.ID] = room
	}
	return stub
}

func (s *roomStoreStub) CreateRoom(ctx context.Context, room Room) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Version = 1
	s.rooms[room.ID] = room
	return nil
}

func (s *roomStoreStub) GetRoom(ctx context.Context, id string) (Room, error) {
	if s.err != nil {
		return Room{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return Room{}, persistence.ErrNotFound
	}
	return room, nil
}

func (s *roomStoreStub) SaveRoom(ctx context.Context, room Room) (Room, error) {
	if s.err != nil {
		return Room{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves > 0 {
		s.failSaves--
		return Room{}, persistence.ErrVersionConflict
	}
	stored, ok := s.rooms[room.ID]
	if !ok {
		return Room{}, persistence.ErrNotFound
	}
	if stored.Version != room.Version {
		return Room{}, persistence.ErrVersionConflict
	}
	room.Version++
	s.rooms[room.ID] = room
	return room, nil
}

func (s *roomStoreStub) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

func (s *roomStoreStub) ListRooms(ctx context.Context, query RoomQuery) ([]Room, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Room
	for _, room := range s.rooms {
		if query.Status != nil && room.Status != *query.Status {
			continue
		}
		if query.DeadlineBefore != nil && !room.CompletionTime.Before(*query.DeadlineBefore) {
			continue
		}
		if query.DeadlineAfter != nil && !room.CompletionTime.After(*query.DeadlineAfter) {
			continue
		}
		if query.BelowCapacity && len(room.Members) >= room.MaxMembers {
			continue
		}
		out = append(out, room)
	}
	return out, nil
}

func (s *roomStoreStub) get(id string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

// groupStoreStub mirrors roomStoreStub for groups.
type groupStoreStub struct {
	mu        sync.Mutex
	groups    map[string]Group
	failSaves int
	err       error
}

func newGroupStoreStub(groups ...Group) *groupStoreStub {
	stub := &groupStoreStub{groups: make(map[string]Group)}
	for _, group := range groups {
		if group.Version == 0 {
			group.Version = 1
		}
		stub.groups[group.ID] = group
	}
	return stub
}

func (s *groupStoreStub) CreateGroup(ctx context.Context, group Group) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	group.Version = 1
	s.groups[group.ID] = group
	return nil
}

func (s *groupStoreStub) GetGroup(ctx context.Context, id string) (Group, error) {
	if s.err != nil {
		return Group{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return Group{}, persistence.ErrNotFound
	}
	return group, nil
}

func (s *groupStoreStub) SaveGroup(ctx context.Context, group Group) (Group, error) {
	if s.err != nil {
		return Group{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves > 0 {
		s.failSaves--
		return Group{}, persistence.ErrVersionConflict
	}
	stored, ok := s.groups[group.ID]
	if !ok {
		return Group{}, persistence.ErrNotFound
	}
	if stored.Version != group.Version {
		return Group{}, persistence.ErrVersionConflict
	}
	group.Version++
	s.groups[group.ID] = group
	return group, nil
}

func (s *groupStoreStub) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func (s *groupStoreStub) ListGroups(ctx context.Context, query GroupQuery) ([]Group, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Group
	for _, group := range s.groups {
		if query.RestaurantSelected != nil && group.RestaurantSelected != *query.RestaurantSelected {
			continue
		}
		if query.DeadlineBefore != nil && !group.CompletionTime.Before(*query.DeadlineBefore) {
			continue
		}
		if query.VotingMode != nil && group.VotingMode != *query.VotingMode {
			continue
		}
		if query.ActiveRoundOnly && (group.CurrentRound == nil || group.CurrentRound.Status != RoundStatusActive) {
			continue
		}
		out = append(out, group)
	}
	return out, nil
}

func (s *groupStoreStub) get(id string) (Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	return group, ok
}

// credibilityStoreStub keeps history entries newest first, like the SQLite
// repository does.
type credibilityStoreStub struct {
	mu   sync.Mutex
	logs []CredibilityLog
	err  error
}

func (s *credibilityStoreStub) AppendCredibilityLog(ctx context.Context, log CredibilityLog) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append([]CredibilityLog{log}, s.logs...)
	return nil
}

func (s *credibilityStoreStub) ListCredibilityLogs(ctx context.Context, userID string, limit int) ([]CredibilityLog, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CredibilityLog
	for _, entry := range s.logs {
		if entry.UserID != userID {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type publishedEvent struct {
	Scope string
	Event string
}

// eventSinkStub records broadcasts for assertions.
type eventSinkStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (s *eventSinkStub) Publish(scope, event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, publishedEvent{Scope: scope, Event: event})
}

func (s *eventSinkStub) has(scope, event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Scope == scope && e.Event == event {
			return true
		}
	}
	return false
}

type pushNotification struct {
	UserIDs []string
	Title   string
}

// pushSenderStub records notifications; an injected error must never abort
// the calling operation.
type pushSenderStub struct {
	mu   sync.Mutex
	sent []pushNotification
	err  error
}

func (s *pushSenderStub) Notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, pushNotification{UserIDs: userIDs, Title: title})
	return s.err
}

func (s *pushSenderStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// candidateSourceStub serves a fixed pool and counts fetches.
type candidateSourceStub struct {
	mu      sync.Mutex
	pool    []Restaurant
	err     error
	fetches int
}

func (s *candidateSourceStub) FetchPool(ctx context.Context, prefs PoolPreferences) ([]Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Restaurant, len(s.pool))
	copy(out, s.pool)
	return out, nil
}

func (s *candidateSourceStub) Detail(ctx context.Context, id string) (Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, restaurant := range s.pool {
		if restaurant.ID == id {
			return restaurant, nil
		}
	}
	return Restaurant{}, ErrNotFound
}

func (s *candidateSourceStub) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
