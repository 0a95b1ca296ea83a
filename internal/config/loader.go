package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration for the coordinator.
type Config struct {
	HTTPPort  int
	SQLiteDSN string

	// Matching.
	RoomDuration  time.Duration
	MaxMembers    int
	MinMembers    int
	MinMatchScore float64

	// Voting.
	VotingWindow  time.Duration
	MaxRounds     int
	VotingTimeout time.Duration

	// Background sweeps.
	RoomSweepInterval  time.Duration
	GroupSweepInterval time.Duration
	RoundSweepInterval time.Duration

	// Collaborators.
	PlacesAPIKey string
	PushEndpoint string
}

// Load parses configuration from the process environment, applying defaults
// for optional fields and collecting invalid entries into a single error.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:           8080,
		SQLiteDSN:          "file:dining.db?_pragma=foreign_keys(1)",
		RoomDuration:       2 * time.Minute,
		MaxMembers:         10,
		MinMembers:         2,
		MinMatchScore:      30,
		VotingWindow:       30 * time.Minute,
		MaxRounds:          15,
		VotingTimeout:      90 * time.Second,
		RoomSweepInterval:  60 * time.Second,
		GroupSweepInterval: 120 * time.Second,
		RoundSweepInterval: 15 * time.Second,
	}

	invalid := make([]string, 0, 2)

	intVar := func(name string, dst *int, min int) {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed < min {
				invalid = append(invalid, name)
				return
			}
			*dst = parsed
		}
	}
	durationVar := func(name string, dst *time.Duration) {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			parsed, err := time.ParseDuration(value)
			if err != nil || parsed <= 0 {
				invalid = append(invalid, name)
				return
			}
			*dst = parsed
		}
	}

	intVar("DINING_HTTP_PORT", &cfg.HTTPPort, 1)
	if dsn := strings.TrimSpace(os.Getenv("DINING_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	durationVar("DINING_ROOM_DURATION", &cfg.RoomDuration)
	intVar("DINING_MAX_MEMBERS", &cfg.MaxMembers, 2)
	intVar("DINING_MIN_MEMBERS", &cfg.MinMembers, 2)
	if value := strings.TrimSpace(os.Getenv("DINING_MIN_MATCH_SCORE")); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil || parsed < 0 {
			invalid = append(invalid, "DINING_MIN_MATCH_SCORE")
		} else {
			cfg.MinMatchScore = parsed
		}
	}

	durationVar("DINING_VOTING_WINDOW", &cfg.VotingWindow)
	intVar("DINING_MAX_ROUNDS", &cfg.MaxRounds, 1)
	durationVar("DINING_VOTING_TIMEOUT", &cfg.VotingTimeout)

	durationVar("DINING_ROOM_SWEEP_INTERVAL", &cfg.RoomSweepInterval)
	durationVar("DINING_GROUP_SWEEP_INTERVAL", &cfg.GroupSweepInterval)
	durationVar("DINING_ROUND_SWEEP_INTERVAL", &cfg.RoundSweepInterval)

	cfg.PlacesAPIKey = strings.TrimSpace(os.Getenv("DINING_PLACES_API_KEY"))
	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("DINING_PUSH_ENDPOINT"))

	if cfg.MinMembers > cfg.MaxMembers {
		invalid = append(invalid, "DINING_MIN_MEMBERS")
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
