// Package protocol defines the relay's wire contract: the tagged events
// exchanged over the push connection, the envelope record shared by both
// transports, and the error codes both adapters emit.
//
// Everything on the wire is JSON. The relay validates structure only; the
// payload and nonce fields are opaque ciphertext it never interprets.
package protocol

import (
	"encoding/json"
	"errors"
	"regexp"
)

// MaxFrameBytes bounds a push frame and a poll request body. Frames above
// this are rejected before any counter or room state is touched.
const MaxFrameBytes = 64 * 1024

// Error codes. These are part of the wire contract and must not change.
const (
	CodeRoomError          = "ROOM_ERROR"
	CodeRoomFull           = "ROOM_FULL"
	CodeNotInRoom          = "NOT_IN_ROOM"
	CodeInvalidDeleteToken = "INVALID_DELETE_TOKEN"
	CodeInvalidEnvelope    = "INVALID_ENVELOPE"
	CodeInvalidFormat      = "INVALID_FORMAT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeCapacityExceeded   = "CAPACITY_EXCEEDED"
)

// Client -> server event tags.
const (
	EventCreateRoom = "create_room"
	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
	EventDeleteRoom = "delete_room"
	EventMessage    = "message"
	EventPing       = "ping"
)

// Server -> client event tags.
const (
	EventRoomCreated = "room_created"
	EventRoomJoined  = "room_joined"
	EventPeerJoined  = "peer_joined"
	EventPeerLeft    = "peer_left"
	EventRoomExpired = "room_expired"
	EventRoomDeleted = "room_deleted"
	EventError       = "error"
	EventPong        = "pong"
)

var (
	// ErrUnknownEvent marks a frame with a missing or unrecognized tag.
	ErrUnknownEvent = errors.New("unknown event tag")
	// ErrInvalidEnvelope marks a structurally malformed envelope.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// roomHashPattern bounds registry keys. The hash is an opaque client-chosen
// label; the relay never derives or verifies it, it only refuses keys that
// would be unreasonable to store or echo.
var roomHashPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidRoomHash reports whether a client-supplied hash has an acceptable
// shape.
func ValidRoomHash(hash string) bool {
	return roomHashPattern.MatchString(hash)
}

// ClientEvent is one inbound push frame.
type ClientEvent struct {
	Event       string          `json:"event"`
	RoomHash    string          `json:"roomHash,omitempty"`
	TTL         int64           `json:"ttl,omitempty"`
	DeleteToken string          `json:"deleteToken,omitempty"`
	Envelope    json.RawMessage `json:"envelope,omitempty"`
}

// ParseClientEvent decodes a push frame and checks its tag. The frame size
// must already have been bounded by the caller.
func ParseClientEvent(data []byte) (*ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Event {
	case EventCreateRoom, EventJoinRoom, EventLeaveRoom, EventDeleteRoom, EventMessage, EventPing:
		return &ev, nil
	}
	return nil, ErrUnknownEvent
}

// ServerEvent is one outbound push frame. Fields are omitted when empty so
// that, for example, the delete token can only ever appear in the one event
// that sets it.
type ServerEvent struct {
	Event       string          `json:"event"`
	RoomHash    string          `json:"roomHash,omitempty"`
	PeerID      string          `json:"peerId,omitempty"`
	DeleteToken string          `json:"deleteToken,omitempty"`
	PeerCount   int             `json:"peerCount,omitempty"`
	Envelope    json.RawMessage `json:"envelope,omitempty"`
	Message     string          `json:"message,omitempty"`
	Code        string          `json:"code,omitempty"`
}

// Encode marshals a server event. Marshalling a struct of strings and a
// RawMessage cannot fail; the error path exists for interface hygiene only.
func (ev *ServerEvent) Encode() []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		return []byte(`{"event":"error","code":"` + CodeRoomError + `"}`)
	}
	return data
}

// ErrorEvent builds an error frame. roomHash may be empty.
func ErrorEvent(code, message, roomHash string) *ServerEvent {
	return &ServerEvent{Event: EventError, Code: code, Message: message, RoomHash: roomHash}
}

// Envelope is the parsed form of a client envelope. The raw bytes, not this
// struct, are what the backlog stores and the fan-out forwards: re-encoding
// would break the byte-preservation contract.
type Envelope struct {
	Room    string  `json:"room"`
	From    string  `json:"from"`
	Payload string  `json:"payload"`
	Nonce   string  `json:"nonce"`
	Ts      float64 `json:"ts"`
}

// envelopeShape mirrors Envelope with pointer fields so that absent and
// wrongly-typed fields are distinguishable from zero values.
type envelopeShape struct {
	Room    *string  `json:"room"`
	From    *string  `json:"from"`
	Payload *string  `json:"payload"`
	Nonce   *string  `json:"nonce"`
	Ts      *float64 `json:"ts"`
}

// ParseEnvelope validates an envelope structurally: all five fields present,
// string-typed where required, payload and nonce non-empty, ts numeric.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var shape envelopeShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if shape.Room == nil || shape.From == nil || shape.Payload == nil || shape.Nonce == nil || shape.Ts == nil {
		return nil, ErrInvalidEnvelope
	}
	if *shape.Room == "" || *shape.From == "" || *shape.Payload == "" || *shape.Nonce == "" {
		return nil, ErrInvalidEnvelope
	}
	return &Envelope{
		Room:    *shape.Room,
		From:    *shape.From,
		Payload: *shape.Payload,
		Nonce:   *shape.Nonce,
		Ts:      *shape.Ts,
	}, nil
}
