package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/dining-coordinator/internal/locking"
)

// GroupService owns the group lifecycle: promotion from rooms, membership
// changes, the deprecated list voting protocol, and group expiry.
type GroupService struct {
	users       UserStore
	rooms       RoomStore
	groups      GroupStore
	voting      *VotingService
	events      EventSink
	push        PushSender
	locks       *locking.Registry
	settings    VotingSettings
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewGroupService wires dependencies for group operations.
func NewGroupService(users UserStore, rooms RoomStore, groups GroupStore, voting *VotingService, events EventSink, push PushSender, locks *locking.Registry, settings VotingSettings, idGenerator func() string, now func() time.Time, logger *slog.Logger) *GroupService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if locks == nil {
		locks = locking.NewRegistry()
	}
	if settings.Window <= 0 {
		settings.Window = 30 * time.Minute
	}
	if settings.MaxRounds <= 0 {
		settings.MaxRounds = 15
	}
	if settings.RoundTimeout <= 0 {
		settings.RoundTimeout = 90 * time.Second
	}
	return &GroupService{
		users:       users,
		rooms:       rooms,
		groups:      groups,
		voting:      voting,
		events:      events,
		push:        push,
		locks:       locks,
		settings:    settings,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *GroupService) operationLogger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "GroupService", operation, attrs...)
}

// PromoteRoom turns a full or expired-but-viable room into a voting group and
// starts sequential voting. The caller must hold the room's lock; the group
// is initialized under its own lock afterwards.
func (s *GroupService) PromoteRoom(ctx context.Context, room Room) (group Group, err error) {
	if s == nil {
		err = fmt.Errorf("GroupService is nil")
		return
	}

	logger := s.operationLogger(ctx, "PromoteRoom", "room_id", room.ID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "room promotion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("group_id", group.ID, "members", len(group.Members)).InfoContext(ctx, "room promoted")
	}()

	now := s.now()

	room.Status = RoomStatusMatched
	room.UpdatedAt = now
	if _, err = s.rooms.SaveRoom(ctx, room); err != nil {
		return
	}

	group = Group{
		ID:               s.idGenerator(),
		RoomID:           room.ID,
		Members:          append([]string(nil), room.Members...),
		CompletionTime:   now.Add(s.settings.Window),
		VotingMode:       VotingModeSequential,
		MaxRounds:        s.settings.MaxRounds,
		VotingTimeout:    int(s.settings.RoundTimeout / time.Second),
		Cuisines:         append([]string(nil), room.Cuisines...),
		AverageBudget:    room.AverageBudget,
		AverageRadius:    room.AverageRadius,
		AverageLatitude:  room.AverageLatitude,
		AverageLongitude: room.AverageLongitude,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err = s.groups.CreateGroup(ctx, group); err != nil {
		return
	}

	groupRef := group.ID
	if err = s.users.UpdateUsers(ctx, group.Members, UserUpdate{Status: UserStatusInGroup, GroupID: &groupRef}); err != nil {
		return
	}

	s.publish(roomScope(room.ID), "group_ready", map[string]any{"roomId": room.ID, "groupId": group.ID})
	s.publish(groupScope(group.ID), "group_ready", map[string]any{"group": group})
	s.notify(ctx, group.Members, "Match found!", "Your dining group is ready. Vote on restaurants now!", map[string]string{"type": "group_ready", "groupId": group.ID})

	if s.voting != nil {
		// Initialization is idempotent; a failure here leaves a resumable
		// group behind, so it only gets logged.
		if _, initErr := s.voting.Initialize(ctx, group.ID); initErr != nil {
			logger.WarnContext(ctx, "voting initialization failed", "group_id", group.ID, "error", initErr, "error_kind", ErrorKind(initErr))
		} else if refreshed, getErr := s.groups.GetGroup(ctx, group.ID); getErr == nil {
			group = refreshed
		}
	}

	return group, nil
}

// LeaveGroup removes the user from a group, withdrawing any votes they cast.
// A departure can complete the active round when the remaining members
// already form a majority.
func (s *GroupService) LeaveGroup(ctx context.Context, userID, groupID string) (err error) {
	if s == nil {
		return fmt.Errorf("GroupService is nil")
	}

	logger := s.operationLogger(ctx, "LeaveGroup", "user_id", userID, "group_id", groupID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "leave group failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "leave group succeeded")
	}()

	return s.locks.WithLock(groupScope(groupID), func() error {
		return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
			group, err := s.groups.GetGroup(ctx, groupID)
			if err != nil {
				if isNotFoundError(err) {
					return ErrNotFound
				}
				return err
			}

			if !containsString(group.Members, userID) {
				return ErrNotMember
			}

			now := s.now()
			group.Members = removeString(group.Members, userID)
			group.UpdatedAt = now

			if group.ListVotes != nil {
				delete(group.ListVotes, userID)
				group.RestaurantVotes = tallyListVotes(group.ListVotes)
			}
			if group.CurrentRound != nil {
				delete(group.CurrentRound.Votes, userID)
				recountRound(group.CurrentRound)
			}

			if err := s.users.UpdateUsers(ctx, []string{userID}, UserUpdate{Status: UserStatusOnline}); err != nil {
				return err
			}

			if len(group.Members) == 0 {
				if err := s.groups.DeleteGroup(ctx, group.ID); err != nil {
					return err
				}
				s.publish(groupScope(group.ID), "member_left", map[string]any{"groupId": group.ID, "userId": userID})
				return nil
			}

			var outcome roundOutcome
			switch {
			case group.VotingMode == VotingModeSequential && s.voting != nil &&
				group.CurrentRound != nil && group.CurrentRound.Status == RoundStatusActive:
				outcome = s.voting.evaluateRound(&group, now)
			case group.VotingMode == VotingModeList && !group.RestaurantSelected:
				s.completeListVotingIfDone(&group, now)
			}

			saved, err := s.groups.SaveGroup(ctx, group)
			if err != nil {
				return err
			}

			s.publish(groupScope(saved.ID), "member_left", map[string]any{"groupId": saved.ID, "userId": userID})
			if s.voting != nil {
				s.voting.announce(ctx, saved, outcome)
			}
			if group.VotingMode == VotingModeList && saved.RestaurantSelected && saved.Restaurant != nil {
				s.announceListSelection(ctx, saved)
			}
			return nil
		})
	})
}

// CloseGroup releases all members back to ONLINE and deletes the group.
func (s *GroupService) CloseGroup(ctx context.Context, groupID string) (err error) {
	if s == nil {
		return fmt.Errorf("GroupService is nil")
	}

	logger := s.operationLogger(ctx, "CloseGroup", "group_id", groupID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "close group failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "group closed")
	}()

	return s.locks.WithLock(groupScope(groupID), func() error {
		return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
			return s.closeGroupLocked(ctx, groupID)
		})
	})
}

func (s *GroupService) closeGroupLocked(ctx context.Context, groupID string) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFoundError(err) {
			return ErrNotFound
		}
		return err
	}

	if len(group.Members) > 0 {
		if err := s.users.UpdateUsers(ctx, group.Members, UserUpdate{Status: UserStatusOnline}); err != nil {
			return err
		}
	}
	return s.groups.DeleteGroup(ctx, group.ID)
}

// GroupStatus returns a read-only snapshot of a group without locking.
func (s *GroupService) GroupStatus(ctx context.Context, groupID string) (Group, error) {
	if s == nil {
		return Group{}, fmt.Errorf("GroupService is nil")
	}
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFoundError(err) {
			return Group{}, ErrNotFound
		}
		return Group{}, err
	}
	return group, nil
}

// GroupByUser resolves the group the user currently belongs to.
func (s *GroupService) GroupByUser(ctx context.Context, userID string) (Group, error) {
	if s == nil {
		return Group{}, fmt.Errorf("GroupService is nil")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if isNotFoundError(err) {
			return Group{}, ErrNotFound
		}
		return Group{}, err
	}
	if user.GroupID == nil {
		return Group{}, ErrNotFound
	}
	return s.GroupStatus(ctx, *user.GroupID)
}

// VoteForRestaurant records a vote in the deprecated list protocol: every
// member names any restaurant, and the group settles once everyone voted.
func (s *GroupService) VoteForRestaurant(ctx context.Context, userID, groupID, restaurantID string, restaurant Restaurant) (err error) {
	if s == nil {
		return fmt.Errorf("GroupService is nil")
	}

	logger := s.operationLogger(ctx, "VoteForRestaurant", "user_id", userID, "group_id", groupID, "restaurant_id", restaurantID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "list vote failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "list vote recorded")
	}()

	if restaurantID == "" {
		vErr := &ValidationError{}
		vErr.add("restaurant_id", "restaurant id is required")
		return vErr
	}

	return s.locks.WithLock(groupScope(groupID), func() error {
		return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
			group, err := s.groups.GetGroup(ctx, groupID)
			if err != nil {
				if isNotFoundError(err) {
					return ErrNotFound
				}
				return err
			}

			if !containsString(group.Members, userID) {
				return ErrNotMember
			}
			if group.RestaurantSelected {
				return ErrAlreadySelected
			}
			if group.VotingMode != VotingModeList {
				vErr := &ValidationError{}
				vErr.add("voting_mode", "group uses sequential voting")
				return vErr
			}

			now := s.now()
			if group.ListVotes == nil {
				group.ListVotes = make(map[string]string)
			}
			group.ListVotes[userID] = restaurantID
			group.RestaurantVotes = tallyListVotes(group.ListVotes)
			group.UpdatedAt = now

			if restaurant.ID == "" {
				restaurant.ID = restaurantID
			}
			if !poolContains(group.RestaurantPool, restaurantID) {
				group.RestaurantPool = append(group.RestaurantPool, restaurant)
			}

			s.completeListVotingIfDone(&group, now)

			saved, err := s.groups.SaveGroup(ctx, group)
			if err != nil {
				return err
			}

			s.publish(groupScope(saved.ID), "vote_update", map[string]any{
				"groupId":         saved.ID,
				"restaurantVotes": saved.RestaurantVotes,
			})
			if saved.RestaurantSelected && saved.Restaurant != nil {
				s.announceListSelection(ctx, saved)
			}
			return nil
		})
	})
}

// ExpireGroups sweeps past-deadline groups that never settled. Sequential
// groups fall back to their best-liked candidate; list groups settle on the
// current leader or close when nobody voted. Busy groups are skipped this
// cycle.
func (s *GroupService) ExpireGroups(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("GroupService is nil")
	}

	logger := s.operationLogger(ctx, "ExpireGroups")

	deadline := s.now()
	unselected := false
	groups, err := s.groups.ListGroups(ctx, GroupQuery{RestaurantSelected: &unselected, DeadlineBefore: &deadline})
	if err != nil {
		logger.ErrorContext(ctx, "listing expirable groups failed", "error", err)
		return err
	}

	for _, candidate := range groups {
		groupID := candidate.ID
		ran, err := s.locks.TryWithLock(groupScope(groupID), func() error {
			return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
				return s.expireGroup(ctx, groupID)
			})
		})
		if err != nil {
			logger.ErrorContext(ctx, "group expiry failed", "group_id", groupID, "error", err, "error_kind", ErrorKind(err))
			continue
		}
		if !ran {
			logger.DebugContext(ctx, "group busy, skipping this cycle", "group_id", groupID)
		}
	}

	return nil
}

func (s *GroupService) expireGroup(ctx context.Context, groupID string) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return err
	}
	if group.RestaurantSelected || group.CompletionTime.After(s.now()) {
		return nil
	}

	now := s.now()

	if group.VotingMode == VotingModeList {
		if winner, ok := winningListRestaurant(group); ok {
			selectListRestaurant(&group, winner, now)
			saved, err := s.groups.SaveGroup(ctx, group)
			if err != nil {
				return err
			}
			s.announceListSelection(ctx, saved)
			return nil
		}
		return s.expireWithoutSelection(ctx, group)
	}

	if s.voting == nil {
		return s.expireWithoutSelection(ctx, group)
	}

	outcome := s.voting.fallbackRound(&group, now)
	if outcome.fallbackFailed {
		return s.expireWithoutSelection(ctx, group)
	}

	saved, err := s.groups.SaveGroup(ctx, group)
	if err != nil {
		return err
	}
	s.voting.announce(ctx, saved, outcome)
	return nil
}

func (s *GroupService) expireWithoutSelection(ctx context.Context, group Group) error {
	members := append([]string(nil), group.Members...)
	if err := s.closeGroupLocked(ctx, group.ID); err != nil {
		return err
	}
	s.publish(groupScope(group.ID), "group_expired", map[string]any{"groupId": group.ID})
	s.notify(ctx, members, "Voting expired", "Your group did not settle on a restaurant in time.", map[string]string{"type": "group_expired", "groupId": group.ID})
	return nil
}

// completeListVotingIfDone settles a list group once every current member has
// voted.
func (s *GroupService) completeListVotingIfDone(group *Group, now time.Time) {
	if group.RestaurantSelected || len(group.Members) == 0 {
		return
	}
	for _, member := range group.Members {
		if _, ok := group.ListVotes[member]; !ok {
			return
		}
	}
	if winner, ok := winningListRestaurant(*group); ok {
		selectListRestaurant(group, winner, now)
	}
}

func (s *GroupService) announceListSelection(ctx context.Context, group Group) {
	s.publish(groupScope(group.ID), "restaurant_selected", map[string]any{
		"groupId":    group.ID,
		"restaurant": group.Restaurant,
	})
	name := ""
	if group.Restaurant != nil {
		name = group.Restaurant.Name
	}
	s.notify(ctx, group.Members, "Restaurant selected!", fmt.Sprintf("Your group is going to %s.", name), map[string]string{"type": "restaurant_selected", "groupId": group.ID})
}

func (s *GroupService) publish(scope, event string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(scope, event, payload)
}

func (s *GroupService) notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) {
	if s.push == nil || len(userIDs) == 0 {
		return
	}
	if err := s.push.Notify(ctx, userIDs, title, body, data); err != nil {
		s.operationLogger(ctx, "notify").WarnContext(ctx, "push notification failed", "error", err)
	}
}

func tallyListVotes(votes map[string]string) map[string]int {
	counts := make(map[string]int, len(votes))
	for _, restaurantID := range votes {
		counts[restaurantID]++
	}
	return counts
}

// winningListRestaurant picks the most voted restaurant; ties resolve in pool
// order so repeated sweeps stay deterministic.
func winningListRestaurant(group Group) (Restaurant, bool) {
	if len(group.RestaurantVotes) == 0 {
		return Restaurant{}, false
	}

	bestID := ""
	bestCount := 0
	consider := func(id string) {
		count := group.RestaurantVotes[id]
		if count > bestCount {
			bestID = id
			bestCount = count
		}
	}
	for _, restaurant := range group.RestaurantPool {
		consider(restaurant.ID)
	}
	unpooled := make([]string, 0)
	for id := range group.RestaurantVotes {
		if !poolContains(group.RestaurantPool, id) {
			unpooled = append(unpooled, id)
		}
	}
	sort.Strings(unpooled)
	for _, id := range unpooled {
		consider(id)
	}
	if bestID == "" {
		return Restaurant{}, false
	}

	for _, restaurant := range group.RestaurantPool {
		if restaurant.ID == bestID {
			return restaurant, true
		}
	}
	return Restaurant{ID: bestID}, true
}

func selectListRestaurant(group *Group, restaurant Restaurant, now time.Time) {
	group.RestaurantSelected = true
	group.Restaurant = &restaurant
	group.UpdatedAt = now
}

func poolContains(pool []Restaurant, restaurantID string) bool {
	for _, restaurant := range pool {
		if restaurant.ID == restaurantID {
			return true
		}
	}
	return false
}
