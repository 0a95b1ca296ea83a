package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/dining-coordinator/internal/locking"
)

// VotingService runs the sequential voting protocol: one candidate at a time,
// yes/no majority per round, timeouts, and fallback selection once the pool
// or the round budget runs out.
type VotingService struct {
	users  UserStore
	groups GroupStore
	source CandidateSource
	events EventSink
	push   PushSender
	locks  *locking.Registry
	now    func() time.Time
	logger *slog.Logger
}

// NewVotingService wires dependencies for sequential voting operations.
func NewVotingService(users UserStore, groups GroupStore, source CandidateSource, events EventSink, push PushSender, locks *locking.Registry, now func() time.Time, logger *slog.Logger) *VotingService {
	if now == nil {
		now = time.Now
	}
	if locks == nil {
		locks = locking.NewRegistry()
	}
	return &VotingService{
		users:  users,
		groups: groups,
		source: source,
		events: events,
		push:   push,
		locks:  locks,
		now:    now,
		logger: defaultLogger(logger),
	}
}

func (s *VotingService) operationLogger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "VotingService", operation, attrs...)
}

// roundOutcome records what the in-memory round transition did so the caller
// can broadcast after the group is durably saved.
type roundOutcome struct {
	settled        bool
	accepted       bool
	timedOut       bool
	advanced       bool
	exhausted      bool
	fallbackFailed bool
}

// Initialize fetches the candidate pool for a group and opens round one. The
// call is idempotent: a group that already has a pool (or a selection) is
// returned unchanged, which makes promotion resumable after a crash.
func (s *VotingService) Initialize(ctx context.Context, groupID string) (group Group, err error) {
	if s == nil {
		err = fmt.Errorf("VotingService is nil")
		return
	}

	logger := s.operationLogger(ctx, "Initialize", "group_id", groupID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "voting initialization failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("pool_size", len(group.RestaurantPool)).InfoContext(ctx, "voting initialized")
	}()

	err = s.locks.WithLock(groupScope(groupID), func() error {
		return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
			current, err := s.groups.GetGroup(ctx, groupID)
			if err != nil {
				if isNotFoundError(err) {
					return ErrNotFound
				}
				return err
			}
			if current.RestaurantSelected || len(current.RestaurantPool) > 0 {
				group = current
				return nil
			}

			if s.source == nil {
				return ErrEmptyPool
			}
			pool, err := s.source.FetchPool(ctx, PoolPreferences{
				Cuisines:  current.Cuisines,
				Budget:    current.AverageBudget,
				RadiusKm:  current.AverageRadius,
				Latitude:  current.AverageLatitude,
				Longitude: current.AverageLongitude,
			})
			if err != nil {
				return err
			}
			if len(pool) == 0 {
				return ErrEmptyPool
			}

			now := s.now()
			current.RestaurantPool = pool
			s.startRound(&current, pool[0], now)
			current.UpdatedAt = now

			saved, err := s.groups.SaveGroup(ctx, current)
			if err != nil {
				return err
			}

			s.publishNewRound(saved)
			group = saved
			return nil
		})
	})
	return
}

// SubmitVote records a yes/no vote on the active round, overwriting the
// caller's previous vote. A round found expired is routed to the timeout path
// instead of counting the vote.
func (s *VotingService) SubmitVote(ctx context.Context, userID, groupID string, vote bool) (outcome VoteOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("VotingService is nil")
		return
	}

	logger := s.operationLogger(ctx, "SubmitVote", "user_id", userID, "group_id", groupID, "vote", vote)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "vote submission failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"recorded", outcome.Recorded,
			"round_expired", outcome.RoundExpired,
			"majority_reached", outcome.MajorityReached,
		).InfoContext(ctx, "vote processed")
	}()

	err = s.locks.WithLock(groupScope(groupID), func() error {
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
			round := group.CurrentRound
			if round == nil || round.Status != RoundStatusActive {
				return ErrNoActiveRound
			}

			now := s.now()

			if !round.ExpiresAt.After(now) {
				transition := s.timeoutRound(&group, now)
				saved, err := s.groups.SaveGroup(ctx, group)
				if err != nil {
					return err
				}
				s.announce(ctx, saved, transition)
				outcome = VoteOutcome{RoundExpired: true, Group: saved}
				return nil
			}

			round.Votes[userID] = vote
			recountRound(round)
			group.UpdatedAt = now

			transition := s.evaluateRound(&group, now)

			saved, err := s.groups.SaveGroup(ctx, group)
			if err != nil {
				return err
			}

			s.publish(groupScope(saved.ID), "vote_update", map[string]any{
				"groupId":      saved.ID,
				"restaurantId": round.RestaurantID,
				"yesVotes":     round.YesVotes,
				"noVotes":      round.NoVotes,
				"votes":        round.Votes,
			})
			s.announce(ctx, saved, transition)

			outcome = VoteOutcome{
				Recorded:        true,
				MajorityReached: transition.settled,
				Restaurant:      saved.Restaurant,
				Group:           saved,
			}
			return nil
		})
	})
	return
}

// CurrentRound serves a read-only view of the active round. An expired or
// missing round reports ErrNoActiveRound without mutating anything; expiry is
// applied by the sweep.
func (s *VotingService) CurrentRound(ctx context.Context, groupID string) (RoundView, error) {
	if s == nil {
		return RoundView{}, fmt.Errorf("VotingService is nil")
	}

	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFoundError(err) {
			return RoundView{}, ErrNotFound
		}
		return RoundView{}, err
	}

	if group.RestaurantSelected {
		return RoundView{}, ErrAlreadySelected
	}
	round := group.CurrentRound
	now := s.now()
	if round == nil || round.Status != RoundStatusActive || !round.ExpiresAt.After(now) {
		return RoundView{}, ErrNoActiveRound
	}

	totalRounds := len(group.RestaurantPool)
	if group.MaxRounds > 0 && group.MaxRounds < totalRounds {
		totalRounds = group.MaxRounds
	}

	votes := make(map[string]bool, len(round.Votes))
	for userID, vote := range round.Votes {
		votes[userID] = vote
	}

	return RoundView{
		RoundNumber:      len(group.VotingHistory) + 1,
		TotalRounds:      totalRounds,
		RestaurantID:     round.RestaurantID,
		Restaurant:       round.Restaurant,
		Votes:            votes,
		YesVotes:         round.YesVotes,
		NoVotes:          round.NoVotes,
		StartedAt:        round.StartedAt,
		ExpiresAt:        round.ExpiresAt,
		SecondsRemaining: int(round.ExpiresAt.Sub(now) / time.Second),
	}, nil
}

// ExpireRounds sweeps sequential groups whose active round passed its
// deadline and advances them through the timeout path. Busy groups are
// skipped this cycle rather than queued.
func (s *VotingService) ExpireRounds(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("VotingService is nil")
	}

	logger := s.operationLogger(ctx, "ExpireRounds")

	unselected := false
	mode := VotingModeSequential
	groups, err := s.groups.ListGroups(ctx, GroupQuery{
		RestaurantSelected: &unselected,
		VotingMode:         &mode,
		ActiveRoundOnly:    true,
	})
	if err != nil {
		logger.ErrorContext(ctx, "listing groups with active rounds failed", "error", err)
		return err
	}

	for _, candidate := range groups {
		groupID := candidate.ID
		ran, err := s.locks.TryWithLock(groupScope(groupID), func() error {
			return locking.Retry(ctx, locking.DefaultAttempts, locking.DefaultBackoff, func(ctx context.Context) error {
				return s.expireRound(ctx, groupID)
			})
		})
		if err != nil {
			logger.ErrorContext(ctx, "round expiry failed", "group_id", groupID, "error", err, "error_kind", ErrorKind(err))
			continue
		}
		if !ran {
			logger.DebugContext(ctx, "group busy, skipping this cycle", "group_id", groupID)
		}
	}

	return nil
}

func (s *VotingService) expireRound(ctx context.Context, groupID string) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return err
	}

	round := group.CurrentRound
	now := s.now()
	if group.RestaurantSelected || round == nil || round.Status != RoundStatusActive || round.ExpiresAt.After(now) {
		return nil
	}

	transition := s.timeoutRound(&group, now)
	saved, err := s.groups.SaveGroup(ctx, group)
	if err != nil {
		return err
	}
	s.announce(ctx, saved, transition)
	return nil
}

// evaluateRound applies the majority rule over the current member count: a
// strict yes majority accepts the candidate, a strict no majority rejects it
// and advances. Anything else keeps the round open.
func (s *VotingService) evaluateRound(group *Group, now time.Time) roundOutcome {
	round := group.CurrentRound
	if round == nil || round.Status != RoundStatusActive {
		return roundOutcome{}
	}

	members := len(group.Members)
	switch {
	case round.YesVotes*2 > members:
		restaurant := round.Restaurant
		round.Status = RoundStatusMajorityReached
		s.closeRound(group, RoundResultAccepted, now)
		s.selectRestaurant(group, restaurant, now)
		return roundOutcome{settled: true, accepted: true}
	case round.NoVotes*2 > members:
		s.closeRound(group, RoundResultRejected, now)
		outcome := s.advanceRound(group, now)
		outcome.settled = true
		return outcome
	}
	return roundOutcome{}
}

// timeoutRound archives the active round as timed out and advances.
func (s *VotingService) timeoutRound(group *Group, now time.Time) roundOutcome {
	if group.CurrentRound == nil {
		return s.advanceRound(group, now)
	}
	group.CurrentRound.Status = RoundStatusExpired
	s.closeRound(group, RoundResultTimeout, now)
	outcome := s.advanceRound(group, now)
	outcome.settled = true
	outcome.timedOut = true
	return outcome
}

// advanceRound opens the next round on the first pool candidate that has not
// been voted on yet, or falls back once the pool or round budget is spent.
func (s *VotingService) advanceRound(group *Group, now time.Time) roundOutcome {
	if group.MaxRounds > 0 && len(group.VotingHistory) >= group.MaxRounds {
		return s.fallbackRound(group, now)
	}

	voted := make(map[string]struct{}, len(group.VotingHistory))
	for _, restaurantID := range group.VotingHistory {
		voted[restaurantID] = struct{}{}
	}
	for _, candidate := range group.RestaurantPool {
		if _, ok := voted[candidate.ID]; ok {
			continue
		}
		s.startRound(group, candidate, now)
		return roundOutcome{advanced: true}
	}

	return s.fallbackRound(group, now)
}

// fallbackRound selects the best liked candidate from the detailed history:
// highest yes count, earliest round on a tie. An empty history means voting
// failed outright.
func (s *VotingService) fallbackRound(group *Group, now time.Time) roundOutcome {
	if group.CurrentRound != nil && group.CurrentRound.Status == RoundStatusActive {
		group.CurrentRound.Status = RoundStatusExpired
		s.closeRound(group, RoundResultTimeout, now)
	}

	var winner *VotingHistoryEntry
	for i := range group.HistoryDetailed {
		entry := &group.HistoryDetailed[i]
		if winner == nil ||
			entry.YesVotes > winner.YesVotes ||
			(entry.YesVotes == winner.YesVotes && entry.VotedAt.Before(winner.VotedAt)) {
			winner = entry
		}
	}
	if winner == nil {
		group.UpdatedAt = now
		return roundOutcome{exhausted: true, fallbackFailed: true}
	}

	s.selectRestaurant(group, winner.Restaurant, now)
	return roundOutcome{exhausted: true}
}

func (s *VotingService) startRound(group *Group, restaurant Restaurant, now time.Time) {
	timeout := time.Duration(group.VotingTimeout) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	group.CurrentRound = &VotingRound{
		RestaurantID: restaurant.ID,
		Restaurant:   restaurant,
		StartedAt:    now,
		ExpiresAt:    now.Add(timeout),
		Votes:        make(map[string]bool),
		Status:       RoundStatusActive,
	}
	group.UpdatedAt = now
}

// closeRound archives the current round into both history forms and clears it.
func (s *VotingService) closeRound(group *Group, result RoundResult, now time.Time) {
	round := group.CurrentRound
	if round == nil {
		return
	}
	group.VotingHistory = append(group.VotingHistory, round.RestaurantID)
	group.HistoryDetailed = append(group.HistoryDetailed, VotingHistoryEntry{
		RestaurantID: round.RestaurantID,
		Restaurant:   round.Restaurant,
		YesVotes:     round.YesVotes,
		NoVotes:      round.NoVotes,
		Result:       result,
		VotedAt:      now,
	})
	group.CurrentRound = nil
	group.UpdatedAt = now
}

func (s *VotingService) selectRestaurant(group *Group, restaurant Restaurant, now time.Time) {
	group.RestaurantSelected = true
	group.Restaurant = &restaurant
	group.UpdatedAt = now
}

// announce broadcasts the events matching a saved round transition.
func (s *VotingService) announce(ctx context.Context, group Group, outcome roundOutcome) {
	switch {
	case outcome.settled && outcome.accepted:
		s.publish(groupScope(group.ID), "majority_reached", map[string]any{
			"groupId":    group.ID,
			"restaurant": group.Restaurant,
		})
		s.publishSelection(ctx, group)
	case outcome.exhausted && outcome.fallbackFailed:
		s.publish(groupScope(group.ID), "voting_failed", map[string]any{"groupId": group.ID})
	case outcome.exhausted:
		s.publishSelection(ctx, group)
	case outcome.advanced:
		s.publishNewRound(group)
	}
}

func (s *VotingService) publishSelection(ctx context.Context, group Group) {
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

func (s *VotingService) publishNewRound(group Group) {
	if group.CurrentRound == nil {
		return
	}
	s.publish(groupScope(group.ID), "new_voting_round", map[string]any{
		"groupId":     group.ID,
		"roundNumber": len(group.VotingHistory) + 1,
		"round":       group.CurrentRound,
	})
}

func (s *VotingService) publish(scope, event string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(scope, event, payload)
}

func (s *VotingService) notify(ctx context.Context, userIDs []string, title, body string, data map[string]string) {
	if s.push == nil || len(userIDs) == 0 {
		return
	}
	if err := s.push.Notify(ctx, userIDs, title, body, data); err != nil {
		s.operationLogger(ctx, "notify").WarnContext(ctx, "push notification failed", "error", err)
	}
}

func recountRound(round *VotingRound) {
	yes, no := 0, 0
	for _, vote := range round.Votes {
		if vote {
			yes++
		} else {
			no++
		}
	}
	round.YesVotes = yes
	round.NoVotes = no
}
