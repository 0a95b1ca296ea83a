package http

import (
	"context"
)

type contextKey string

const (
	userIDContextKey  contextKey = "user_id"
	roomIDContextKey  contextKey = "room_id"
	groupIDContextKey contextKey = "group_id"
)

// ContextWithUserID returns a derived context carrying the authenticated
// caller's user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the authenticated caller's user id if available.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok
}

// ContextWithRoomID injects the room identifier resolved from the request path.
func ContextWithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDContextKey, roomID)
}

// RoomIDFromContext extracts a room identifier previously associated with the context.
func RoomIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(roomIDContextKey).(string)
	return id, ok
}

// ContextWithGroupID injects the group identifier resolved from the request path.
func ContextWithGroupID(ctx context.Context, groupID string) context.Context {
	return context.WithValue(ctx, groupIDContextKey, groupID)
}

// GroupIDFromContext extracts a group identifier previously associated with the context.
func GroupIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(groupIDContextKey).(string)
	return id, ok
}
