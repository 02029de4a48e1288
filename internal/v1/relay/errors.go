package relay

import (
	"errors"

	"github.com/driftwire/relay/internal/v1/protocol"
)

// Domain errors. ErrRoom is deliberately generic: it covers room-not-found,
// hash-collision-on-create, and member-not-present, so that a caller probing
// for live hashes learns nothing from the failure mode.
var (
	ErrRoom               = errors.New("room error")
	ErrRoomFull           = errors.New("room is full")
	ErrNotInRoom          = errors.New("sender is not a room member")
	ErrInvalidDeleteToken = errors.New("delete token mismatch")
	ErrCapacity           = errors.New("server room capacity reached")
)

// CodeFor maps a domain error to its wire error code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrCapacity):
		return protocol.CodeCapacityExceeded
	case errors.Is(err, ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, ErrNotInRoom):
		return protocol.CodeNotInRoom
	case errors.Is(err, ErrInvalidDeleteToken):
		return protocol.CodeInvalidDeleteToken
	default:
		return protocol.CodeRoomError
	}
}
