package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

func setupUserRepositoryTest(t *testing.T) *UserRepository {
	t.Helper()

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	return NewUserRepository(newTestStore(t), fixedClock(now))
}

func TestUserRepository_CreateAndGetUser(t *testing.T) {
	repo := setupUserRepositoryTest(t)
	ctx := context.Background()

	lat, lng := 49.2827, -123.1207
	token := "push-token-1"
	user := persistence.User{
		ID:          "user-1",
		DisplayName: "Alice",
		Status:      persistence.UserStatusOnline,
		Cuisines:    []string{"Italian", "Japanese"},
		Budget:      30,
		RadiusKm:    5,
		Latitude:    &lat,
		Longitude:   &lng,
		PushToken:   &token,
	}

	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	fetched, err := repo.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}

	if fetched.DisplayName != "Alice" || fetched.Status != persistence.UserStatusOnline {
		t.Fatalf("unexpected user retrieved: %#v", fetched)
	}
	if len(fetched.Cuisines) != 2 || fetched.Cuisines[0] != "Italian" {
		t.Errorf("Expected cuisines [Italian Japanese], got %v", fetched.Cuisines)
	}
	if fetched.Latitude == nil || *fetched.Latitude != lat {
		t.Errorf("Expected latitude %v, got %v", lat, fetched.Latitude)
	}
	if fetched.PushToken == nil || *fetched.PushToken != token {
		t.Errorf("Expected push token %q, got %v", token, fetched.PushToken)
	}
	if fetched.RoomID != nil || fetched.GroupID != nil {
		t.Errorf("Expected no room or group membership, got %v / %v", fetched.RoomID, fetched.GroupID)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set on create")
	}
	if fetched.CredibilityScore != 100 {
		t.Errorf("Expected new accounts to start at score 100, got %d", fetched.CredibilityScore)
	}
}

func TestUserRepository_CredibilityScoreRoundTrip(t *testing.T) {
	repo := setupUserRepositoryTest(t)
	ctx := context.Background()

	user := persistence.User{ID: "user-1", Status: persistence.UserStatusOnline, CredibilityScore: 60}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user.CredibilityScore = 55
	if err := repo.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	fetched, err := repo.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if fetched.CredibilityScore != 55 {
		t.Errorf("Expected score 55, got %d", fetched.CredibilityScore)
	}
}

func TestUserRepository_CreateUser_RequiresID(t *testing.T) {
	repo := setupUserRepositoryTest(t)

	if err := repo.CreateUser(context.Background(), persistence.User{}); err == nil {
		t.Fatal("Expected error for missing id, got nil")
	}
}

func TestUserRepository_CreateUser_Duplicate(t *testing.T) {
	repo := setupUserRepositoryTest(t)
	ctx := context.Background()

	user := persistence.User{ID: "user-1", Status: persistence.UserStatusOnline}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("First CreateUser failed: %v", err)
	}
	if err := repo.CreateUser(ctx, user); err == nil {
		t.Fatal("Expected duplicate error, got nil")
	}
}

func TestUserRepository_GetUser_NotFound(t *testing.T) {
	repo := setupUserRepositoryTest(t)

	if _, err := repo.GetUser(context.Background(), "nope"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_UpdateUser(t *testing.T) {
	repo := setupUserRepositoryTest(t)
	ctx := context.Background()

	user := persistence.User{
		ID:       "user-1",
		Status:   persistence.UserStatusOnline,
		Cuisines: []string{"Thai"},
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	roomID := "room-1"
	user.Status = persistence.UserStatusInWaitingRoom
	user.RoomID = &roomID
	user.Budget = 45
	if err := repo.UpdateUser(ctx, user); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	fetched, err := repo.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if fetched.Status != persistence.UserStatusInWaitingRoom {
		t.Errorf("Expected status IN_WAITING_ROOM, got %s", fetched.Status)
	}
	if fetched.RoomID == nil || *fetched.RoomID != "room-1" {
		t.Errorf("Expected room-1, got %v", fetched.RoomID)
	}
	if fetched.Budget != 45 {
		t.Errorf("Expected budget 45, got %v", fetched.Budget)
	}

	if err := repo.UpdateUser(ctx, persistence.User{ID: "ghost"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing user, got %v", err)
	}
}

func TestUserRepository_UpdateUsers(t *testing.T) {
	repo := setupUserRepositoryTest(t)
	ctx := context.Background()

	roomID := "room-1"
	for _, id := range []string{"user-1", "user-2", "user-3"} {
		user := persistence.User{ID: id, Status: persistence.UserStatusInWaitingRoom, RoomID: &roomID}
		if err := repo.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser %s failed: %v", id, err)
		}
	}

	groupID := "group-1"
	err := repo.UpdateUsers(ctx, []string{"user-1", "user-2"}, persistence.UserUpdate{
		Status:  persistence.UserStatusInGroup,
		GroupID: &groupID,
	})
	if err != nil {
		t.Fatalf("UpdateUsers failed: %v", err)
	}

	for _, id := range []string{"user-1", "user-2"} {
		fetched, err := repo.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("GetUser %s failed: %v", id, err)
		}
		if fetched.Status != persistence.UserStatusInGroup {
			t.Errorf("Expected %s in group, got %s", id, fetched.Status)
		}
		if fetched.GroupID == nil || *fetched.GroupID != "group-1" {
			t.Errorf("Expected %s in group-1, got %v", id, fetched.GroupID)
		}
		if fetched.RoomID != nil {
			t.Errorf("Expected room cleared for %s, got %v", id, fetched.RoomID)
		}
	}

	// Third user must be untouched.
	fetched, err := repo.GetUser(ctx, "user-3")
	if err != nil {
		t.Fatalf("GetUser user-3 failed: %v", err)
	}
	if fetched.Status != persistence.UserStatusInWaitingRoom || fetched.RoomID == nil {
		t.Fatalf("user-3 modified unexpectedly: %#v", fetched)
	}

	if err := repo.UpdateUsers(ctx, nil, persistence.UserUpdate{}); err != nil {
		t.Fatalf("UpdateUsers with no ids failed: %v", err)
	}
}

func TestUserRepository_ClearPushToken(t *testing.T) {
	repo := setupUserRepositoryTest(t)
	ctx := context.Background()

	token := "stale-token"
	user := persistence.User{ID: "user-1", Status: persistence.UserStatusOnline, PushToken: &token}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := repo.ClearPushToken(ctx, "user-1"); err != nil {
		t.Fatalf("ClearPushToken failed: %v", err)
	}

	fetched, err := repo.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if fetched.PushToken != nil {
		t.Errorf("Expected push token cleared, got %v", *fetched.PushToken)
	}

	if err := repo.ClearPushToken(ctx, "ghost"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing user, got %v", err)
	}
}
