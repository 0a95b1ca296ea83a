package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/example/dining-coordinator/internal/persistence"
)

func setupCredibilityRepositoryTest(t *testing.T) *CredibilityRepository {
	t.Helper()

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	return NewCredibilityRepository(newTestStore(t), fixedClock(now))
}

func TestCredibilityRepository_AppendAndList(t *testing.T) {
	repo := setupCredibilityRepositoryTest(t)
	ctx := context.Background()

	groupID := "group-1"
	entries := []persistence.CredibilityLog{
		{UserID: "alice", Action: persistence.CredibilityCheckIn, ScoreChange: 5,
			GroupID: &groupID, PreviousScore: 80, NewScore: 85, Notes: "checked in at the restaurant"},
		{UserID: "alice", Action: persistence.CredibilityNoShow, ScoreChange: -10,
			PreviousScore: 85, NewScore: 75},
		{UserID: "bob", Action: persistence.CredibilityCheckIn, ScoreChange: 5,
			PreviousScore: 100, NewScore: 100},
	}
	for _, entry := range entries {
		if err := repo.AppendCredibilityLog(ctx, entry); err != nil {
			t.Fatalf("AppendCredibilityLog failed: %v", err)
		}
	}

	logs, err := repo.ListCredibilityLogs(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListCredibilityLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 entries for alice, got %d", len(logs))
	}

	// Newest first.
	if logs[0].Action != persistence.CredibilityNoShow || logs[0].NewScore != 75 {
		t.Errorf("Expected newest entry first, got %+v", logs[0])
	}
	if logs[1].GroupID == nil || *logs[1].GroupID != "group-1" {
		t.Errorf("Expected group reference on the check-in entry, got %v", logs[1].GroupID)
	}
	if logs[1].Notes != "checked in at the restaurant" {
		t.Errorf("Expected notes preserved, got %q", logs[1].Notes)
	}
	if logs[0].CreatedAt.IsZero() {
		t.Error("Expected created_at to be stamped")
	}
}

func TestCredibilityRepository_ListHonorsLimit(t *testing.T) {
	repo := setupCredibilityRepositoryTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := persistence.CredibilityLog{
			UserID: "alice", Action: persistence.CredibilityCheckIn, ScoreChange: 5,
			PreviousScore: 50 + 5*i, NewScore: 55 + 5*i,
		}
		if err := repo.AppendCredibilityLog(ctx, entry); err != nil {
			t.Fatalf("AppendCredibilityLog failed: %v", err)
		}
	}

	logs, err := repo.ListCredibilityLogs(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ListCredibilityLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(logs))
	}
	if logs[0].NewScore != 75 || logs[1].NewScore != 70 {
		t.Errorf("Expected the two newest entries, got %+v", logs)
	}
}

func TestCredibilityRepository_Append_RequiresUserID(t *testing.T) {
	repo := setupCredibilityRepositoryTest(t)

	if err := repo.AppendCredibilityLog(context.Background(), persistence.CredibilityLog{}); err == nil {
		t.Fatal("Expected error for missing user id, got nil")
	}
}

func TestCredibilityRepository_ListUnknownUserIsEmpty(t *testing.T) {
	repo := setupCredibilityRepositoryTest(t)

	logs, err := repo.ListCredibilityLogs(context.Background(), "ghost", 10)
	if err != nil {
		t.Fatalf("ListCredibilityLogs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("Expected no entries, got %v", logs)
	}
}
