// Package chat implements the room lifecycle and message routing rules on
// top of the persistent document store.
package chat

import "errors"

// Error taxonomy shared by the real-time protocol and the HTTP surface.
// Callers classify with errors.Is; the wrapped text is safe to show users.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("room not found")
	ErrForbidden    = errors.New("user is not a participant in this room")
	ErrRoomInactive = errors.New("room is no longer active")
)

// Kind returns a short label for err, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRoomInactive):
		return "room_inactive"
	default:
		return "internal"
	}
}

// IsClientError reports whether err belongs to the taxonomy above, i.e. it
// is caused by the caller rather than by an internal fault.
func IsClientError(err error) bool {
	return Kind(err) != "internal" && err != nil
}
