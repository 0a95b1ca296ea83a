package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func freshGroup(id string, members ...string) Group {
	group := sequentialGroup(id, members...)
	group.RestaurantPool = nil
	group.CurrentRound = nil
	return group
}

func TestVotingService_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("fetches the pool and opens round one", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(freshGroup("group-1", "alice", "bob")))

		group, err := f.voting.Initialize(context.Background(), "group-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(group.RestaurantPool) != 3 {
			t.Fatalf("expected 3 candidates, got %d", len(group.RestaurantPool))
		}
		round := group.CurrentRound
		if round == nil || round.Status != RoundStatusActive {
			t.Fatalf("expected active round, got %+v", round)
		}
		if round.RestaurantID != "rest-1" {
			t.Fatalf("expected first candidate, got %s", round.RestaurantID)
		}
		want := f.clock.Now().Add(90 * time.Second)
		if !round.ExpiresAt.Equal(want) {
			t.Fatalf("expected round deadline %v, got %v", want, round.ExpiresAt)
		}
		if !f.events.has(groupScope("group-1"), "new_voting_round") {
			t.Fatal("expected new_voting_round broadcast")
		}
	})

	t.Run("is idempotent once a pool exists", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(freshGroup("group-1", "alice")))

		first, err := f.voting.Initialize(context.Background(), "group-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := f.voting.Initialize(context.Background(), "group-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if f.source.fetchCount() != 1 {
			t.Fatalf("expected a single pool fetch, got %d", f.source.fetchCount())
		}
		if second.CurrentRound == nil || second.CurrentRound.RestaurantID != first.CurrentRound.RestaurantID {
			t.Fatalf("expected unchanged round, got %+v", second.CurrentRound)
		}
	})

	t.Run("empty pool fails without opening a round", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(freshGroup("group-1", "alice")))
		f.source.pool = nil

		if _, err := f.voting.Initialize(context.Background(), "group-1"); !errors.Is(err, ErrEmptyPool) {
			t.Fatalf("expected ErrEmptyPool, got %v", err)
		}
		saved, _ := f.groups.get("group-1")
		if saved.CurrentRound != nil {
			t.Fatal("expected no round on an empty pool")
		}
	})

	t.Run("unknown group", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(), newUserStoreStub(), newRoomStoreStub(), newGroupStoreStub())
		if _, err := f.voting.Initialize(context.Background(), "group-gone"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestVotingService_SubmitVote(t *testing.T) {
	t.Parallel()

	t.Run("records votes until a strict yes majority", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice", "bob")))

		outcome, err := f.voting.SubmitVote(context.Background(), "alice", "group-1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !outcome.Recorded || outcome.MajorityReached {
			t.Fatalf("one of two yes votes must not settle the round: %+v", outcome)
		}
		if !f.events.has(groupScope("group-1"), "vote_update") {
			t.Fatal("expected vote_update broadcast")
		}

		outcome, err = f.voting.SubmitVote(context.Background(), "bob", "group-1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !outcome.MajorityReached || outcome.Restaurant == nil || outcome.Restaurant.ID != "rest-1" {
			t.Fatalf("expected acceptance of rest-1, got %+v", outcome)
		}

		saved, _ := f.groups.get("group-1")
		if !saved.RestaurantSelected || saved.CurrentRound != nil {
			t.Fatalf("expected terminal selection, got %+v", saved)
		}
		if len(saved.HistoryDetailed) != 1 || saved.HistoryDetailed[0].Result != RoundResultAccepted {
			t.Fatalf("expected accepted history entry, got %+v", saved.HistoryDetailed)
		}
		if !f.events.has(groupScope("group-1"), "majority_reached") {
			t.Fatal("expected majority_reached broadcast")
		}
		if !f.events.has(groupScope("group-1"), "restaurant_selected") {
			t.Fatal("expected restaurant_selected broadcast")
		}
		if f.push.count() == 0 {
			t.Fatal("expected selection push notification")
		}
	})

	t.Run("strict no majority rejects and advances", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1"), groupMember("carol", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice", "bob", "carol")))

		if _, err := f.voting.SubmitVote(context.Background(), "alice", "group-1", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		outcome, err := f.voting.SubmitVote(context.Background(), "bob", "group-1", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !outcome.MajorityReached {
			t.Fatalf("two of three no votes must settle the round: %+v", outcome)
		}

		saved, _ := f.groups.get("group-1")
		if saved.RestaurantSelected {
			t.Fatal("expected no selection on rejection")
		}
		if saved.CurrentRound == nil || saved.CurrentRound.RestaurantID != "rest-2" {
			t.Fatalf("expected advance to rest-2, got %+v", saved.CurrentRound)
		}
		if len(saved.HistoryDetailed) != 1 || saved.HistoryDetailed[0].Result != RoundResultRejected {
			t.Fatalf("expected rejected history entry, got %+v", saved.HistoryDetailed)
		}
		if !f.events.has(groupScope("group-1"), "new_voting_round") {
			t.Fatal("expected new_voting_round broadcast")
		}
	})

	t.Run("a member can change their vote", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1"), groupMember("carol", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice", "bob", "carol")))

		if _, err := f.voting.SubmitVote(context.Background(), "alice", "group-1", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := f.voting.SubmitVote(context.Background(), "alice", "group-1", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		saved, _ := f.groups.get("group-1")
		round := saved.CurrentRound
		if round.YesVotes != 0 || round.NoVotes != 1 {
			t.Fatalf("expected overwrite to recount, got yes=%d no=%d", round.YesVotes, round.NoVotes)
		}
	})

	t.Run("guards", func(t *testing.T) {
		t.Parallel()

		selected := sequentialGroup("group-selected", "alice")
		selected.RestaurantSelected = true
		winner := Restaurant{ID: "rest-1"}
		selected.Restaurant = &winner
		selected.CurrentRound = nil

		idle := sequentialGroup("group-idle", "alice")
		idle.CurrentRound = nil

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), onlineUser("mallory")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice"), selected, idle))

		if _, err := f.voting.SubmitVote(context.Background(), "mallory", "group-1", true); !errors.Is(err, ErrNotMember) {
			t.Fatalf("expected ErrNotMember, got %v", err)
		}
		if _, err := f.voting.SubmitVote(context.Background(), "alice", "group-selected", true); !errors.Is(err, ErrAlreadySelected) {
			t.Fatalf("expected ErrAlreadySelected, got %v", err)
		}
		if _, err := f.voting.SubmitVote(context.Background(), "alice", "group-idle", true); !errors.Is(err, ErrNoActiveRound) {
			t.Fatalf("expected ErrNoActiveRound, got %v", err)
		}
		if _, err := f.voting.SubmitVote(context.Background(), "alice", "group-gone", true); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expired round routes to the timeout path", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice", "bob")))

		f.clock.Advance(91 * time.Second)

		outcome, err := f.voting.SubmitVote(context.Background(), "alice", "group-1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Recorded || !outcome.RoundExpired {
			t.Fatalf("expected the late vote to be dropped, got %+v", outcome)
		}

		saved, _ := f.groups.get("group-1")
		if len(saved.HistoryDetailed) != 1 || saved.HistoryDetailed[0].Result != RoundResultTimeout {
			t.Fatalf("expected timeout history entry, got %+v", saved.HistoryDetailed)
		}
		if saved.CurrentRound == nil || saved.CurrentRound.RestaurantID != "rest-2" {
			t.Fatalf("expected advance to rest-2, got %+v", saved.CurrentRound)
		}
	})

	t.Run("exhausted pool falls back to the most liked candidate", func(t *testing.T) {
		t.Parallel()

		group := sequentialGroup("group-1", "alice", "bob", "carol")
		group.RestaurantPool = group.RestaurantPool[:2]

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1"), groupMember("carol", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(group))

		ctx := context.Background()
		// Round one: unanimous rejection of rest-1.
		for _, voter := range []string{"alice", "bob"} {
			if _, err := f.voting.SubmitVote(ctx, voter, "group-1", false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		// Round two: one yes, two no. Rejection exhausts the pool.
		if _, err := f.voting.SubmitVote(ctx, "alice", "group-1", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, voter := range []string{"bob", "carol"} {
			if _, err := f.voting.SubmitVote(ctx, voter, "group-1", false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		saved, _ := f.groups.get("group-1")
		if !saved.RestaurantSelected || saved.Restaurant == nil || saved.Restaurant.ID != "rest-2" {
			t.Fatalf("expected fallback to the round with a yes vote, got %+v", saved.Restaurant)
		}
		if !f.events.has(groupScope("group-1"), "restaurant_selected") {
			t.Fatal("expected restaurant_selected broadcast")
		}
	})

	t.Run("round budget exhaustion triggers fallback", func(t *testing.T) {
		t.Parallel()

		group := sequentialGroup("group-1", "alice", "bob", "carol")
		group.MaxRounds = 1

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1"), groupMember("carol", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(group))

		ctx := context.Background()
		if _, err := f.voting.SubmitVote(ctx, "alice", "group-1", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, voter := range []string{"bob", "carol"} {
			if _, err := f.voting.SubmitVote(ctx, voter, "group-1", false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		saved, _ := f.groups.get("group-1")
		if !saved.RestaurantSelected || saved.Restaurant == nil || saved.Restaurant.ID != "rest-1" {
			t.Fatalf("expected fallback after one round, got %+v", saved.Restaurant)
		}
	})

	t.Run("push failures never abort the vote", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice")))
		f.push.err = errors.New("push gateway down")

		outcome, err := f.voting.SubmitVote(context.Background(), "alice", "group-1", true)
		if err != nil {
			t.Fatalf("expected side effect failure to be swallowed, got %v", err)
		}
		if !outcome.MajorityReached {
			t.Fatalf("expected sole member to settle the round, got %+v", outcome)
		}
	})

	t.Run("concurrent votes are serialized per group", func(t *testing.T) {
		t.Parallel()

		members := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
		users := make([]User, 0, len(members))
		for _, id := range members {
			users = append(users, groupMember(id, "group-1"))
		}

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(users...), newRoomStoreStub(),
			newGroupStoreStub(sequentialGroup("group-1", members...)))

		var wg sync.WaitGroup
		errs := make(chan error, len(members))
		for _, id := range members {
			wg.Add(1)
			go func(voter string) {
				defer wg.Done()
				if _, err := f.voting.SubmitVote(context.Background(), voter, "group-1", true); err != nil {
					errs <- err
				}
			}(id)
		}
		wg.Wait()
		close(errs)

		// Votes landing after the majority settled are turned away; nothing
		// else may fail.
		for err := range errs {
			if !errors.Is(err, ErrAlreadySelected) {
				t.Fatalf("unexpected error under contention: %v", err)
			}
		}

		saved, _ := f.groups.get("group-1")
		if !saved.RestaurantSelected || saved.Restaurant == nil || saved.Restaurant.ID != "rest-1" {
			t.Fatalf("expected unanimous yes to settle on rest-1, got %+v", saved.Restaurant)
		}
	})
}

func TestVotingService_CurrentRound(t *testing.T) {
	t.Parallel()

	t.Run("serves the active round snapshot", func(t *testing.T) {
		t.Parallel()

		group := sequentialGroup("group-1", "alice", "bob")
		group.CurrentRound.Votes = map[string]bool{"alice": true}
		group.CurrentRound.YesVotes = 1

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(group))

		view, err := f.voting.CurrentRound(context.Background(), "group-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if view.RoundNumber != 1 || view.TotalRounds != 2 {
			t.Fatalf("expected round 1 of 2, got %d of %d", view.RoundNumber, view.TotalRounds)
		}
		if view.RestaurantID != "rest-1" || view.YesVotes != 1 {
			t.Fatalf("unexpected view: %+v", view)
		}
		if view.SecondsRemaining != 90 {
			t.Fatalf("expected 90 seconds remaining, got %d", view.SecondsRemaining)
		}
	})

	t.Run("expired round reads as no active round without mutation", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice")))

		f.clock.Advance(2 * time.Minute)

		if _, err := f.voting.CurrentRound(context.Background(), "group-1"); !errors.Is(err, ErrNoActiveRound) {
			t.Fatalf("expected ErrNoActiveRound, got %v", err)
		}

		saved, _ := f.groups.get("group-1")
		if saved.CurrentRound == nil || len(saved.HistoryDetailed) != 0 {
			t.Fatal("expected the read to leave the group untouched")
		}
	})

	t.Run("settled group reports the selection", func(t *testing.T) {
		t.Parallel()

		group := sequentialGroup("group-1", "alice")
		group.RestaurantSelected = true
		winner := Restaurant{ID: "rest-1"}
		group.Restaurant = &winner
		group.CurrentRound = nil

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(group))

		if _, err := f.voting.CurrentRound(context.Background(), "group-1"); !errors.Is(err, ErrAlreadySelected) {
			t.Fatalf("expected ErrAlreadySelected, got %v", err)
		}
	})
}

func TestVotingService_ExpireRounds(t *testing.T) {
	t.Parallel()

	t.Run("advances timed out rounds", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1"), groupMember("bob", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice", "bob")))

		f.clock.Advance(91 * time.Second)

		if err := f.voting.ExpireRounds(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		saved, _ := f.groups.get("group-1")
		if len(saved.HistoryDetailed) != 1 || saved.HistoryDetailed[0].Result != RoundResultTimeout {
			t.Fatalf("expected timeout entry, got %+v", saved.HistoryDetailed)
		}
		if saved.CurrentRound == nil || saved.CurrentRound.RestaurantID != "rest-2" {
			t.Fatalf("expected advance to rest-2, got %+v", saved.CurrentRound)
		}
	})

	t.Run("leaves fresh rounds alone", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice")))

		if err := f.voting.ExpireRounds(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		saved, _ := f.groups.get("group-1")
		if saved.CurrentRound == nil || saved.CurrentRound.RestaurantID != "rest-1" {
			t.Fatalf("expected round untouched, got %+v", saved.CurrentRound)
		}
	})

	t.Run("skips groups whose lock is held", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t, defaultMatchingSettings(),
			newUserStoreStub(groupMember("alice", "group-1")),
			newRoomStoreStub(), newGroupStoreStub(sequentialGroup("group-1", "alice")))

		f.clock.Advance(91 * time.Second)

		release := make(chan struct{})
		holding := make(chan struct{})
		go func() {
			_ = f.voting.locks.WithLock(groupScope("group-1"), func() error {
				close(holding)
				<-release
				return nil
			})
		}()
		<-holding

		if err := f.voting.ExpireRounds(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		close(release)

		saved, _ := f.groups.get("group-1")
		if len(saved.HistoryDetailed) != 0 {
			t.Fatal("expected busy group skipped this cycle")
		}
	})
}
