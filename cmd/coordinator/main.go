package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/example/dining-coordinator/internal/application"
	"github.com/example/dining-coordinator/internal/config"
	httptransport "github.com/example/dining-coordinator/internal/http"
	"github.com/example/dining-coordinator/internal/locking"
	"github.com/example/dining-coordinator/internal/persistence"
	"github.com/example/dining-coordinator/internal/persistence/sqlite"
	"github.com/example/dining-coordinator/internal/places"
	"github.com/example/dining-coordinator/internal/push"
	"github.com/example/dining-coordinator/internal/realtime"
	"github.com/example/dining-coordinator/internal/reconcile"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	now := time.Now
	idGenerator := uuid.NewString

	userRepo := sqlite.NewUserRepository(storage, now)
	roomRepo := sqlite.NewRoomRepository(storage, now)
	groupRepo := sqlite.NewGroupRepository(storage, now)
	credibilityRepo := sqlite.NewCredibilityRepository(storage, now)

	userStore := newUserStoreAdapter(userRepo)
	roomStore := newRoomStoreAdapter(roomRepo)
	groupStore := newGroupStoreAdapter(groupRepo)
	credibilityStore := newCredibilityStoreAdapter(credibilityRepo)

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	var sender application.PushSender
	if cfg.PushEndpoint != "" {
		sender = push.NewSender(cfg.PushEndpoint, newTokenResolverAdapter(userRepo), userRepo, logger)
	} else {
		logger.Info("push endpoint not configured, notifications disabled")
		sender = push.NopSender{Logger: logger}
	}

	var source application.CandidateSource
	if cfg.PlacesAPIKey != "" {
		source = places.NewClient(cfg.PlacesAPIKey, logger)
	} else {
		logger.Info("places API key not configured, serving the static candidate pool")
		source = places.Mock{}
	}

	locks := locking.NewRegistry()

	votingService := application.NewVotingService(userStore, groupStore, source, hub, sender, locks, now, logger)
	groupService := application.NewGroupService(userStore, roomStore, groupStore, votingService, hub, sender, locks, application.VotingSettings{
		Window:       cfg.VotingWindow,
		MaxRounds:    cfg.MaxRounds,
		RoundTimeout: cfg.VotingTimeout,
	}, idGenerator, now, logger)
	matchingService := application.NewMatchingService(userStore, roomStore, groupStore, groupService, hub, sender, locks, application.MatchingSettings{
		RoomDuration: cfg.RoomDuration,
		MaxMembers:   cfg.MaxMembers,
		MinMembers:   cfg.MinMembers,
		MinScore:     cfg.MinMatchScore,
	}, idGenerator, now, logger)
	credibilityService := application.NewCredibilityService(userStore, credibilityStore, locks, now, logger)

	scheduler := reconcile.NewScheduler(logger,
		reconcile.Job{Name: "rooms", Interval: cfg.RoomSweepInterval, Run: matchingService.ExpireRooms},
		reconcile.Job{Name: "groups", Interval: cfg.GroupSweepInterval, Run: groupService.ExpireGroups},
		reconcile.Job{Name: "rounds", Interval: cfg.RoundSweepInterval, Run: votingService.ExpireRounds},
	)
	scheduler.Start(ctx)
	defer scheduler.Wait()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Matching:    httptransport.NewMatchingHandler(matchingService, logger),
		Groups:      httptransport.NewGroupHandler(groupService, source, logger),
		Voting:      httptransport.NewVotingHandler(votingService, logger),
		Credibility: httptransport.NewCredibilityHandler(credibilityService, logger),
		WebSocket:   hub.ServeWS,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireIdentity(newIdentityResolverAdapter(userRepo), logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("dining coordinator listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// identityResolverAdapter treats the bearer token as the caller's user id and
// confirms it resolves to a stored account.
type identityResolverAdapter struct {
	repo persistence.UserRepository
}

func newIdentityResolverAdapter(repo persistence.UserRepository) *identityResolverAdapter {
	return &identityResolverAdapter{repo: repo}
}

func (a *identityResolverAdapter) ResolveIdentity(ctx context.Context, token string) (string, error) {
	user, err := a.repo.GetUser(ctx, token)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", application.ErrNotFound
		}
		return "", err
	}
	return user.ID, nil
}

// tokenResolverAdapter collects push tokens for a recipient list, skipping
// unknown users and users without a registered token.
type tokenResolverAdapter struct {
	repo persistence.UserRepository
}

func newTokenResolverAdapter(repo persistence.UserRepository) *tokenResolverAdapter {
	return &tokenResolverAdapter{repo: repo}
}

func (a *tokenResolverAdapter) PushTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	tokens := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		user, err := a.repo.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if user.PushToken != nil && *user.PushToken != "" {
			tokens[id] = *user.PushToken
		}
	}
	return tokens, nil
}

type userStoreAdapter struct {
	repo persistence.UserRepository
}

func newUserStoreAdapter(repo persistence.UserRepository) *userStoreAdapter {
	return &userStoreAdapter{repo: repo}
}

func (a *userStoreAdapter) GetUser(ctx context.Context, id string) (application.User, error) {
	stored, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, err
	}
	return toApplicationUser(stored), nil
}

func (a *userStoreAdapter) UpdateUser(ctx context.Context, user application.User) error {
	return a.repo.UpdateUser(ctx, toPersistenceUser(user))
}

func (a *userStoreAdapter) UpdateUsers(ctx context.Context, ids []string, update application.UserUpdate) error {
	return a.repo.UpdateUsers(ctx, ids, persistence.UserUpdate{
		Status:  persistence.UserStatus(update.Status),
		RoomID:  cloneString(update.RoomID),
		GroupID: cloneString(update.GroupID),
	})
}

func (a *userStoreAdapter) ClearPushToken(ctx context.Context, id string) error {
	return a.repo.ClearPushToken(ctx, id)
}

type credibilityStoreAdapter struct {
	repo persistence.CredibilityLogRepository
}

func newCredibilityStoreAdapter(repo persistence.CredibilityLogRepository) *credibilityStoreAdapter {
	return &credibilityStoreAdapter{repo: repo}
}

func (a *credibilityStoreAdapter) AppendCredibilityLog(ctx context.Context, log application.CredibilityLog) error {
	return a.repo.AppendCredibilityLog(ctx, persistence.CredibilityLog{
		UserID:        log.UserID,
		Action:        persistence.CredibilityAction(log.Action),
		ScoreChange:   log.ScoreChange,
		GroupID:       cloneString(log.GroupID),
		RoomID:        cloneString(log.RoomID),
		PreviousScore: log.PreviousScore,
		NewScore:      log.NewScore,
		Notes:         log.Notes,
		CreatedAt:     log.CreatedAt,
	})
}

func (a *credibilityStoreAdapter) ListCredibilityLogs(ctx context.Context, userID string, limit int) ([]application.CredibilityLog, error) {
	models, err := a.repo.ListCredibilityLogs(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	logs := make([]application.CredibilityLog, 0, len(models))
	for _, model := range models {
		logs = append(logs, application.CredibilityLog{
			UserID:        model.UserID,
			Action:        application.CredibilityAction(model.Action),
			ScoreChange:   model.ScoreChange,
			GroupID:       cloneString(model.GroupID),
			RoomID:        cloneString(model.RoomID),
			PreviousScore: model.PreviousScore,
			NewScore:      model.NewScore,
			Notes:         model.Notes,
			CreatedAt:     model.CreatedAt,
		})
	}
	return logs, nil
}

type roomStoreAdapter struct {
	repo persistence.RoomRepository
}

func newRoomStoreAdapter(repo persistence.RoomRepository) *roomStoreAdapter {
	return &roomStoreAdapter{repo: repo}
}

func (a *roomStoreAdapter) CreateRoom(ctx context.Context, room application.Room) error {
	return a.repo.CreateRoom(ctx, toPersistenceRoom(room))
}

func (a *roomStoreAdapter) GetRoom(ctx context.Context, id string) (application.Room, error) {
	stored, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return application.Room{}, err
	}
	return toApplicationRoom(stored), nil
}

func (a *roomStoreAdapter) SaveRoom(ctx context.Context, room application.Room) (application.Room, error) {
	stored, err := a.repo.SaveRoom(ctx, toPersistenceRoom(room))
	if err != nil {
		return application.Room{}, err
	}
	return toApplicationRoom(stored), nil
}

func (a *roomStoreAdapter) DeleteRoom(ctx context.Context, id string) error {
	return a.repo.DeleteRoom(ctx, id)
}

func (a *roomStoreAdapter) ListRooms(ctx context.Context, query application.RoomQuery) ([]application.Room, error) {
	filter := persistence.RoomFilter{
		DeadlineBefore: cloneTime(query.DeadlineBefore),
		DeadlineAfter:  cloneTime(query.DeadlineAfter),
		BelowCapacity:  query.BelowCapacity,
	}
	if query.Status != nil {
		status := persistence.RoomStatus(*query.Status)
		filter.Status = &status
	}

	models, err := a.repo.ListRooms(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	rooms := make([]application.Room, 0, len(models))
	for _, model := range models {
		rooms = append(rooms, toApplicationRoom(model))
	}
	return rooms, nil
}

type groupStoreAdapter struct {
	repo persistence.GroupRepository
}

func newGroupStoreAdapter(repo persistence.GroupRepository) *groupStoreAdapter {
	return &groupStoreAdapter{repo: repo}
}

func (a *groupStoreAdapter) CreateGroup(ctx context.Context, group application.Group) error {
	return a.repo.CreateGroup(ctx, toPersistenceGroup(group))
}

func (a *groupStoreAdapter) GetGroup(ctx context.Context, id string) (application.Group, error) {
	stored, err := a.repo.GetGroup(ctx, id)
	if err != nil {
		return application.Group{}, err
	}
	return toApplicationGroup(stored), nil
}

func (a *groupStoreAdapter) SaveGroup(ctx context.Context, group application.Group) (application.Group, error) {
	stored, err := a.repo.SaveGroup(ctx, toPersistenceGroup(group))
	if err != nil {
		return application.Group{}, err
	}
	return toApplicationGroup(stored), nil
}

func (a *groupStoreAdapter) DeleteGroup(ctx context.Context, id string) error {
	return a.repo.DeleteGroup(ctx, id)
}

func (a *groupStoreAdapter) ListGroups(ctx context.Context, query application.GroupQuery) ([]application.Group, error) {
	filter := persistence.GroupFilter{
		RestaurantSelected: cloneBool(query.RestaurantSelected),
		DeadlineBefore:     cloneTime(query.DeadlineBefore),
		ActiveRoundOnly:    query.ActiveRoundOnly,
	}
	if query.VotingMode != nil {
		mode := persistence.VotingMode(*query.VotingMode)
		filter.VotingMode = &mode
	}

	models, err := a.repo.ListGroups(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	groups := make([]application.Group, 0, len(models))
	for _, model := range models {
		groups = append(groups, toApplicationGroup(model))
	}
	return groups, nil
}

func toApplicationUser(model persistence.User) application.User {
	return application.User{
		ID:               model.ID,
		DisplayName:      model.DisplayName,
		Status:           application.UserStatus(model.Status),
		RoomID:           cloneString(model.RoomID),
		GroupID:          cloneString(model.GroupID),
		Cuisines:         append([]string(nil), model.Cuisines...),
		Budget:           model.Budget,
		RadiusKm:         model.RadiusKm,
		Latitude:         cloneFloat(model.Latitude),
		Longitude:        cloneFloat(model.Longitude),
		PushToken:        cloneString(model.PushToken),
		CredibilityScore: model.CredibilityScore,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toPersistenceUser(user application.User) persistence.User {
	return persistence.User{
		ID:               user.ID,
		DisplayName:      user.DisplayName,
		Status:           persistence.UserStatus(user.Status),
		RoomID:           cloneString(user.RoomID),
		GroupID:          cloneString(user.GroupID),
		Cuisines:         append([]string(nil), user.Cuisines...),
		Budget:           user.Budget,
		RadiusKm:         user.RadiusKm,
		Latitude:         cloneFloat(user.Latitude),
		Longitude:        cloneFloat(user.Longitude),
		PushToken:        cloneString(user.PushToken),
		CredibilityScore: user.CredibilityScore,
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
}

func toApplicationRoom(model persistence.Room) application.Room {
	return application.Room{
		ID:               model.ID,
		Status:           application.RoomStatus(model.Status),
		Members:          append([]string(nil), model.Members...),
		MaxMembers:       model.MaxMembers,
		CompletionTime:   model.CompletionTime,
		Cuisines:         append([]string(nil), model.Cuisines...),
		AverageBudget:    model.AverageBudget,
		AverageRadius:    model.AverageRadius,
		AverageLatitude:  cloneFloat(model.AverageLatitude),
		AverageLongitude: cloneFloat(model.AverageLongitude),
		Version:          model.Version,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toPersistenceRoom(room application.Room) persistence.Room {
	return persistence.Room{
		ID:               room.ID,
		Status:           persistence.RoomStatus(room.Status),
		Members:          append([]string(nil), room.Members...),
		MaxMembers:       room.MaxMembers,
		CompletionTime:   room.CompletionTime,
		Cuisines:         append([]string(nil), room.Cuisines...),
		AverageBudget:    room.AverageBudget,
		AverageRadius:    room.AverageRadius,
		AverageLatitude:  cloneFloat(room.AverageLatitude),
		AverageLongitude: cloneFloat(room.AverageLongitude),
		Version:          room.Version,
		CreatedAt:        room.CreatedAt,
		UpdatedAt:        room.UpdatedAt,
	}
}

func toApplicationGroup(model persistence.Group) application.Group {
	group := application.Group{
		ID:                 model.ID,
		RoomID:             model.RoomID,
		Members:            append([]string(nil), model.Members...),
		CompletionTime:     model.CompletionTime,
		RestaurantSelected: model.RestaurantSelected,
		VotingMode:         application.VotingMode(model.VotingMode),
		RestaurantPool:     toApplicationRestaurants(model.RestaurantPool),
		VotingHistory:      append([]string(nil), model.VotingHistory...),
		MaxRounds:          model.MaxRounds,
		VotingTimeout:      model.VotingTimeout,
		ListVotes:          cloneStringMap(model.ListVotes),
		RestaurantVotes:    cloneIntMap(model.RestaurantVotes),
		Cuisines:           append([]string(nil), model.Cuisines...),
		AverageBudget:      model.AverageBudget,
		AverageRadius:      model.AverageRadius,
		AverageLatitude:    cloneFloat(model.AverageLatitude),
		AverageLongitude:   cloneFloat(model.AverageLongitude),
		Version:            model.Version,
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
	}
	if model.Restaurant != nil {
		restaurant := toApplicationRestaurant(*model.Restaurant)
		group.Restaurant = &restaurant
	}
	if model.CurrentRound != nil {
		round := application.VotingRound{
			RestaurantID: model.CurrentRound.RestaurantID,
			Restaurant:   toApplicationRestaurant(model.CurrentRound.Restaurant),
			StartedAt:    model.CurrentRound.StartedAt,
			ExpiresAt:    model.CurrentRound.ExpiresAt,
			Votes:        cloneBoolMap(model.CurrentRound.Votes),
			YesVotes:     model.CurrentRound.YesVotes,
			NoVotes:      model.CurrentRound.NoVotes,
			Status:       application.RoundStatus(model.CurrentRound.Status),
		}
		group.CurrentRound = &round
	}
	for _, entry := range model.HistoryDetailed {
		group.HistoryDetailed = append(group.HistoryDetailed, application.VotingHistoryEntry{
			RestaurantID: entry.RestaurantID,
			Restaurant:   toApplicationRestaurant(entry.Restaurant),
			YesVotes:     entry.YesVotes,
			NoVotes:      entry.NoVotes,
			Result:       application.RoundResult(entry.Result),
			VotedAt:      entry.VotedAt,
		})
	}
	return group
}

func toPersistenceGroup(group application.Group) persistence.Group {
	model := persistence.Group{
		ID:                 group.ID,
		RoomID:             group.RoomID,
		Members:            append([]string(nil), group.Members...),
		CompletionTime:     group.CompletionTime,
		RestaurantSelected: group.RestaurantSelected,
		VotingMode:         persistence.VotingMode(group.VotingMode),
		RestaurantPool:     toPersistenceRestaurants(group.RestaurantPool),
		VotingHistory:      append([]string(nil), group.VotingHistory...),
		MaxRounds:          group.MaxRounds,
		VotingTimeout:      group.VotingTimeout,
		ListVotes:          cloneStringMap(group.ListVotes),
		RestaurantVotes:    cloneIntMap(group.RestaurantVotes),
		Cuisines:           append([]string(nil), group.Cuisines...),
		AverageBudget:      group.AverageBudget,
		AverageRadius:      group.AverageRadius,
		AverageLatitude:    cloneFloat(group.AverageLatitude),
		AverageLongitude:   cloneFloat(group.AverageLongitude),
		Version:            group.Version,
		CreatedAt:          group.CreatedAt,
		UpdatedAt:          group.UpdatedAt,
	}
	if group.Restaurant != nil {
		restaurant := toPersistenceRestaurant(*group.Restaurant)
		model.Restaurant = &restaurant
	}
	if group.CurrentRound != nil {
		round := persistence.VotingRound{
			RestaurantID: group.CurrentRound.RestaurantID,
			Restaurant:   toPersistenceRestaurant(group.CurrentRound.Restaurant),
			StartedAt:    group.CurrentRound.StartedAt,
			ExpiresAt:    group.CurrentRound.ExpiresAt,
			Votes:        cloneBoolMap(group.CurrentRound.Votes),
			YesVotes:     group.CurrentRound.YesVotes,
			NoVotes:      group.CurrentRound.NoVotes,
			Status:       persistence.RoundStatus(group.CurrentRound.Status),
		}
		model.CurrentRound = &round
	}
	for _, entry := range group.HistoryDetailed {
		model.HistoryDetailed = append(model.HistoryDetailed, persistence.VotingHistoryEntry{
			RestaurantID: entry.RestaurantID,
			Restaurant:   toPersistenceRestaurant(entry.Restaurant),
			YesVotes:     entry.YesVotes,
			NoVotes:      entry.NoVotes,
			Result:       persistence.RoundResult(entry.Result),
			VotedAt:      entry.VotedAt,
		})
	}
	return model
}

func toApplicationRestaurant(model persistence.Restaurant) application.Restaurant {
	return application.Restaurant{
		ID:          model.ID,
		Name:        model.Name,
		Location:    model.Location,
		Address:     model.Address,
		Rating:      model.Rating,
		PriceLevel:  model.PriceLevel,
		Photos:      append([]string(nil), model.Photos...),
		PhoneNumber: model.PhoneNumber,
		Website:     model.Website,
		URL:         model.URL,
	}
}

func toPersistenceRestaurant(restaurant application.Restaurant) persistence.Restaurant {
	return persistence.Restaurant{
		ID:          restaurant.ID,
		Name:        restaurant.Name,
		Location:    restaurant.Location,
		Address:     restaurant.Address,
		Rating:      restaurant.Rating,
		PriceLevel:  restaurant.PriceLevel,
		Photos:      append([]string(nil), restaurant.Photos...),
		PhoneNumber: restaurant.PhoneNumber,
		Website:     restaurant.Website,
		URL:         restaurant.URL,
	}
}

func toApplicationRestaurants(models []persistence.Restaurant) []application.Restaurant {
	if len(models) == 0 {
		return nil
	}
	out := make([]application.Restaurant, 0, len(models))
	for _, model := range models {
		out = append(out, toApplicationRestaurant(model))
	}
	return out
}

func toPersistenceRestaurants(restaurants []application.Restaurant) []persistence.Restaurant {
	if len(restaurants) == 0 {
		return nil
	}
	out := make([]persistence.Restaurant, 0, len(restaurants))
	for _, restaurant := range restaurants {
		out = append(out, toPersistenceRestaurant(restaurant))
	}
	return out
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneBool(value *bool) *bool {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneIntMap(values map[string]int) map[string]int {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]int, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneBoolMap(values map[string]bool) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
