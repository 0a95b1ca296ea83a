package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/dining-coordinator/internal/locking"
)

// errRoomUnavailable signals inside the join path that the chosen candidate
// room stopped being eligible between scoring and locking.
var errRoomUnavailable = errors.New("application: room no longer available")

// MatchingService places users into waiting rooms and expires stale rooms.
type MatchingService struct {
	users       UserStore
	rooms       RoomStore
	groups      GroupStore
	promoter    *GroupService
	events      EventSink
	push        PushSender
	locks       *locking.Registry
	settings    MatchingSettings
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewMatchingService wires dependencies for matching operations.
func NewMatchingService(users UserStore, rooms RoomStore, groups GroupStore, promoter *GroupService, events EventSink, push PushSender, locks *locking.Registry, settings MatchingSettings, idGenerator func() string, now func() time.Time, logger *slog.Logger) *MatchingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if locks == nil {
		locks = locking.NewRegistry()
	}
	if settings.MaxMembers <= 0 {
		settings.MaxMembers = 10
	}
	if settings.MinMembers <= 0 {
		settings.MinMembers = 2
	}
	if settings.RoomDuration <= 0 {
		settings.RoomDuration = 2 * time.Minute
	}
	return &MatchingService{
		users:       users,
		rooms:       rooms,
		groups:      groups,
		promoter:    promoter,
		events:      events,
		push:        push,
		locks:       locks,
		settings:    settings,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *MatchingService) operationLogger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MatchingService", operation, attrs...)
}

// JoinMatching places the user into the best scoring waiting room, creating a
// fresh room when none clears the score threshold. Stale room or group
// references left by crashed sessions are cleared on the way in; genuinely
// live memberships reject the request.
func (s *MatchingService) JoinMatching(ctx context.Context, userID string, prefs Preferences) (result JoinResult, err error) {
	if s == nil {
		err = fmt.Errorf("MatchingService is nil")
		return
	}
	if s.users == nil || s.rooms == nil {
		err = fmt.Errorf("stores not configured")
		return
	}

	logger := s.operationLogger(ctx, "JoinMatching", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "join matching failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", result.Room.ID, "members", len(result.Room.Members), "promoted", result.Promoted != nil).
			InfoContext(ctx, "join matching succeeded")
	}()

	if vErr := validatePreferences(prefs); vErr != nil {
		err = vErr
		return
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if isNotFoundError(err) {
			err = ErrNotFound
		}
		return
	}

	if err = s.clearStaleReferences(ctx, &user); err != nil {
		return
	}

	applyPreferences(&user, prefs)
	user.UpdatedAt = s.now()
	if err = s.users.UpdateUser(ctx, user); err != nil {
		return
	}

	candidateID, found, err := s.bestRoom(ctx, prefs)
	if err != nil {
		return
	}

	if found {
		result, err = s.joinRoom(ctx, user, candidateID)
		if err == nil {
			return
		}
		if !errors.Is(err, errRoomUnavailable) {
			return
		}
		// The room filled or expired while we were deciding; open a new one.
	}

	result, err = s.createRoom(ctx, user)
	return
}

// LeaveRoom removes the user from a waiting room. A missing room only clears
// the user's stale reference.
func (s *MatchingService) LeaveRoom(ctx context.Context, userID, roomID string) (err error) {
	if s == nil {
		return fmt.Errorf("MatchingService is nil")
	}

	logger := s.operationLogger(ctx, "LeaveRoom", "user_id", userID, "room_id", roomID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "leave room failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "leave room succeeded")
	}()

	return s.locks.WithLock(roomScope(roomID), func() error {
		return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
			room, err := s.rooms.GetRoom(ctx, roomID)
			if err != nil {
				if isNotFoundError(err) {
					return s.clearRoomReference(ctx, userID, roomID)
				}
				return err
			}

			if !containsString(room.Members, userID) {
				return ErrNotMember
			}

			room.Members = removeString(room.Members, userID)
			room.UpdatedAt = s.now()

			if err := s.users.UpdateUsers(ctx, []string{userID}, UserUpdate{Status: UserStatusOnline}); err != nil {
				return err
			}

			if len(room.Members) == 0 {
				if err := s.rooms.DeleteRoom(ctx, room.ID); err != nil {
					return err
				}
				s.publish(roomScope(room.ID), "member_left", map[string]any{"roomId": room.ID, "userId": userID})
				return nil
			}

			members, err := s.memberUsers(ctx, room.Members)
			if err != nil {
				return err
			}
			recomputeRoomAggregates(&room, members)

			saved, err := s.rooms.SaveRoom(ctx, room)
			if err != nil {
				return err
			}

			s.publish(roomScope(saved.ID), "member_left", map[string]any{"roomId": saved.ID, "userId": userID})
			s.publish(roomScope(saved.ID), "room_update", map[string]any{"room": saved})
			return nil
		})
	})
}

// RoomStatus returns a read-only snapshot of a room without locking.
func (s *MatchingService) RoomStatus(ctx context.Context, roomID string) (Room, error) {
	if s == nil {
		return Room{}, fmt.Errorf("MatchingService is nil")
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if isNotFoundError(err) {
			return Room{}, ErrNotFound
		}
		return Room{}, err
	}
	return room, nil
}

// ExpireRooms sweeps past-deadline waiting rooms: rooms that gathered enough
// members are promoted to groups, the rest expire and release their members.
// Rooms whose lock is held are skipped this cycle; per-room failures are
// logged and never abort the sweep.
func (s *MatchingService) ExpireRooms(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("MatchingService is nil")
	}

	logger := s.operationLogger(ctx, "ExpireRooms")

	deadline := s.now()
	status := RoomStatusWaiting
	rooms, err := s.rooms.ListRooms(ctx, RoomQuery{Status: &status, DeadlineBefore: &deadline})
	if err != nil {
		logger.ErrorContext(ctx, "listing expirable rooms failed", "error", err)
		return err
	}

	for _, candidate := range rooms {
		roomID := candidate.ID
		ran, err := s.locks.TryWithLock(roomScope(roomID), func() error {
			return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
				return s.expireRoom(ctx, roomID)
			})
		})
		if err != nil {
			logger.ErrorContext(ctx, "room expiry failed", "room_id", roomID, "error", err, "error_kind", ErrorKind(err))
			continue
		}
		if !ran {
			logger.DebugContext(ctx, "room busy, skipping this cycle", "room_id", roomID)
		}
	}

	return nil
}

func (s *MatchingService) expireRoom(ctx context.Context, roomID string) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return err
	}
	if room.Status != RoomStatusWaiting || room.CompletionTime.After(s.now()) {
		return nil
	}

	if len(room.Members) >= s.settings.MinMembers && s.promoter != nil {
		_, err := s.promoter.PromoteRoom(ctx, room)
		return err
	}

	room.Status = RoomStatusExpired
	room.UpdatedAt = s.now()
	if _, err := s.rooms.SaveRoom(ctx, room); err != nil {
		return err
	}
	if len(room.Members) > 0 {
		if err := s.users.UpdateUsers(ctx, room.Members, UserUpdate{Status: UserStatusOnline}); err != nil {
			return err
		}
	}

	s.publish(roomScope(room.ID), "room_expired", map[string]any{"roomId": room.ID})
	s.notify(ctx, room.Members, "Matching expired", "Not enough people joined in time. Try again!", map[string]string{"type": "room_expired", "roomId": room.ID})
	return nil
}

func (s *MatchingService) joinRoom(ctx context.Context, user User, roomID string) (JoinResult, error) {
	var result JoinResult

	err := s.locks.WithLock(roomScope(roomID), func() error {
		return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
			room, err := s.rooms.GetRoom(ctx, roomID)
			if err != nil {
				if isNotFoundError(err) {
					return errRoomUnavailable
				}
				return err
			}
			if room.Status != RoomStatusWaiting ||
				!room.CompletionTime.After(s.now()) ||
				len(room.Members) >= room.MaxMembers {
				return errRoomUnavailable
			}

			if !containsString(room.Members, user.ID) {
				room.Members = append(room.Members, user.ID)
			}

			members, err := s.memberUsers(ctx, room.Members)
			if err != nil {
				return err
			}
			recomputeRoomAggregates(&room, members)
			room.UpdatedAt = s.now()

			saved, err := s.rooms.SaveRoom(ctx, room)
			if err != nil {
				return err
			}

			roomRef := saved.ID
			if err := s.users.UpdateUsers(ctx, []string{user.ID}, UserUpdate{Status: UserStatusInWaitingRoom, RoomID: &roomRef}); err != nil {
				return err
			}

			s.publish(roomScope(saved.ID), "member_joined", map[string]any{"roomId": saved.ID, "userId": user.ID})
			s.publish(roomScope(saved.ID), "room_update", map[string]any{"room": saved})
			s.publish(userScope(user.ID), "room_update", map[string]any{"room": saved})

			result = JoinResult{Room: saved}

			if len(saved.Members) >= saved.MaxMembers && s.promoter != nil {
				group, err := s.promoter.PromoteRoom(ctx, saved)
				if err != nil {
					return err
				}
				result.Promoted = &group
				result.Room.Status = RoomStatusMatched
			}
			return nil
		})
	})

	return result, err
}

func (s *MatchingService) createRoom(ctx context.Context, user User) (JoinResult, error) {
	now := s.now()
	room := Room{
		ID:             s.idGenerator(),
		Status:         RoomStatusWaiting,
		Members:        []string{user.ID},
		MaxMembers:     s.settings.MaxMembers,
		CompletionTime: now.Add(s.settings.RoomDuration),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	recomputeRoomAggregates(&room, []User{user})

	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		return JoinResult{}, err
	}

	roomRef := room.ID
	if err := s.users.UpdateUsers(ctx, []string{user.ID}, UserUpdate{Status: UserStatusInWaitingRoom, RoomID: &roomRef}); err != nil {
		return JoinResult{}, err
	}

	s.publish(roomScope(room.ID), "room_update", map[string]any{"room": room})
	s.publish(userScope(user.ID), "room_update", map[string]any{"room": room})

	return JoinResult{Room: room}, nil
}

// bestRoom scores every open room against the preferences and returns the
// highest scorer at or above the threshold.
func (s *MatchingService) bestRoom(ctx context.Context, prefs Preferences) (string, bool, error) {
	now := s.now()
	status := RoomStatusWaiting
	rooms, err := s.rooms.ListRooms(ctx, RoomQuery{Status: &status, DeadlineAfter: &now, BelowCapacity: true})
	if err != nil {
		return "", false, err
	}

	bestID := ""
	bestScore := 0.0
	for _, room := range rooms {
		score, reachable := roomMatchScore(prefs, room)
		if !reachable || score < s.settings.MinScore {
			continue
		}
		if bestID == "" || score > bestScore {
			bestID = room.ID
			bestScore = score
		}
	}
	return bestID, bestID != "", nil
}

// clearStaleReferences drops room and group references that no longer point
// at live memberships; live ones reject the join.
func (s *MatchingService) clearStaleReferences(ctx context.Context, user *User) error {
	now := s.now()

	if user.RoomID != nil {
		room, err := s.rooms.GetRoom(ctx, *user.RoomID)
		switch {
		case err != nil && !isNotFoundError(err):
			return err
		case err == nil && room.Status == RoomStatusWaiting && room.CompletionTime.After(now) && containsString(room.Members, user.ID):
			return ErrActiveRoomMembership
		}
		user.RoomID = nil
		user.Status = UserStatusOnline
	}

	if user.GroupID != nil && s.groups != nil {
		group, err := s.groups.GetGroup(ctx, *user.GroupID)
		switch {
		case err != nil && !isNotFoundError(err):
			return err
		case err == nil && !group.RestaurantSelected && group.CompletionTime.After(now) && containsString(group.Members, user.ID):
			return ErrActiveGroupMembership
		}
		user.GroupID = nil
		user.Status = UserStatusOnline
	}

	return nil
}

func (s *MatchingService) clearRoomReference(ctx context.Context, userID, roomID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return err
	}
	if user.RoomID == nil || *user.RoomID != roomID {
		return nil
	}
	return s.users.UpdateUsers(ctx, []string{userID}, UserUpdate{Status: UserStatusOnline})
}

func (s *MatchingService) memberUsers(ctx context.Context, ids []string) ([]User, error) {
	members := make([]User, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.GetUser(ctx, id)
		if err != nil {
			if isNotFoundError(err) {
				continue
			}
			return nil, err
		}
		members = append(members, user)
	}
	return members, nil
}

func (s *MatchingService) publish(scope, event string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(scope, event, payload)
}

func (s *MatchingService) notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) {
	if s.push == nil || len(userIDs) == 0 {
		return
	}
	if err := s.push.Notify(ctx, userIDs, title, body, data); err != nil {
		s.operationLogger(ctx, "notify").WarnContext(ctx, "push notification failed", "error", err)
	}
}

func validatePreferences(prefs Preferences) *ValidationError {
	vErr := &ValidationError{}
	if prefs.Budget < 0 {
		vErr.add("budget", "budget must not be negative")
	}
	if prefs.RadiusKm <= 0 {
		vErr.add("radius_km", "radius must be positive")
	}
	if (prefs.Latitude == nil) != (prefs.Longitude == nil) {
		vErr.add("location", "latitude and longitude must be provided together")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func applyPreferences(user *User, prefs Preferences) {
	user.Cuisines = prefs.Cuisines
	user.Budget = prefs.Budget
	user.RadiusKm = prefs.RadiusKm
	user.Latitude = prefs.Latitude
	user.Longitude = prefs.Longitude
	if prefs.PushToken != "" {
		token := prefs.PushToken
		user.PushToken = &token
	}
}

func roomScope(roomID string) string   { return "room:" + roomID }
func groupScope(groupID string) string { return "group:" + groupID }
func userScope(userID string) string   { return "user:" + userID }

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func removeString(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value != target {
			out = append(out, value)
		}
	}
	return out
}
