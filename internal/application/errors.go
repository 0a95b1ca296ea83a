package application

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrNotMember is returned when the acting user does not belong to the room or group.
	ErrNotMember = errors.New("application: not a member")
	// ErrAlreadySelected is returned when a group has already settled on a restaurant.
	ErrAlreadySelected = errors.New("application: restaurant already selected")
	// ErrNoActiveRound is returned when a group has no round open for voting.
	ErrNoActiveRound = errors.New("application: no active voting round")
	// ErrActiveRoomMembership is returned when a user tries to match while waiting in a live room.
	ErrActiveRoomMembership = errors.New("application: already in a waiting room")
	// ErrActiveGroupMembership is returned when a user tries to match while voting in a live group.
	ErrActiveGroupMembership = errors.New("application: already in a group")
	// ErrEmptyPool is returned when the candidate source yields no restaurants for a group.
	ErrEmptyPool = errors.New("application: no restaurant candidates")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
