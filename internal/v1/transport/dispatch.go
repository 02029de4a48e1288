package transport

import (
	"context"

	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/protocol"
	"github.com/driftwire/relay/internal/v1/ratelimit"
	"github.com/driftwire/relay/internal/v1/relay"
	"go.uber.org/zap"
)

// dispatch routes one inbound frame. Every failure is answered with an error
// frame on the same connection; nothing here closes the socket.
func (c *Client) dispatch(data []byte) {
	ev, err := protocol.ParseClientEvent(data)
	if err != nil {
		c.Deliver(protocol.ErrorEvent(protocol.CodeInvalidFormat, "malformed frame", "").Encode())
		return
	}

	switch ev.Event {
	case protocol.EventPing:
		c.Deliver((&protocol.ServerEvent{Event: protocol.EventPong}).Encode())
	case protocol.EventCreateRoom:
		c.handleCreate(ev)
	case protocol.EventJoinRoom:
		c.handleJoin(ev)
	case protocol.EventLeaveRoom:
		c.handleLeave(ev)
	case protocol.EventDeleteRoom:
		c.handleDelete(ev)
	case protocol.EventMessage:
		c.handleMessage(ev)
	}
}

func (c *Client) fail(err error, roomHash string) {
	code := relay.CodeFor(err)
	c.Deliver(protocol.ErrorEvent(code, messageFor(code), roomHash).Encode())
}

// messageFor keeps the human-readable text as uninformative as the code: the
// generic ROOM_ERROR wording must not vary with the actual cause.
func messageFor(code string) string {
	switch code {
	case protocol.CodeRoomFull:
		return "room is full"
	case protocol.CodeNotInRoom:
		return "not a member of this room"
	case protocol.CodeInvalidDeleteToken:
		return "invalid delete token"
	case protocol.CodeCapacityExceeded:
		return "server at capacity"
	case protocol.CodeRateLimited:
		return "rate limit exceeded"
	case protocol.CodeInvalidEnvelope:
		return "invalid envelope"
	default:
		return "room unavailable"
	}
}

func (c *Client) handleCreate(ev *protocol.ClientEvent) {
	// Connection-local duplicate check; leaks nothing the caller
	// does not already know.
	if c.peerFor(ev.RoomHash) != "" {
		c.fail(relay.ErrRoom, ev.RoomHash)
		return
	}
	if !c.relay.AllowAction(c.clientKey, ratelimit.ActionCreate) {
		c.Deliver(protocol.ErrorEvent(protocol.CodeRateLimited, messageFor(protocol.CodeRateLimited), ev.RoomHash).Encode())
		return
	}

	res, err := c.relay.Create(ev.RoomHash, ev.TTL, c)
	if err != nil {
		c.fail(err, ev.RoomHash)
		return
	}

	c.trackRoom(ev.RoomHash, res.PeerID)
	c.Deliver((&protocol.ServerEvent{
		Event:       protocol.EventRoomCreated,
		RoomHash:    ev.RoomHash,
		PeerID:      res.PeerID,
		DeleteToken: res.DeleteToken,
		PeerCount:   res.PeerCount,
	}).Encode())
}

func (c *Client) handleJoin(ev *protocol.ClientEvent) {
	// One membership per room per connection: a second join would orphan
	// the first peer id and leave a ghost member behind on disconnect.
	if c.peerFor(ev.RoomHash) != "" {
		c.fail(relay.ErrRoom, ev.RoomHash)
		return
	}
	if !c.relay.AllowAction(c.clientKey, ratelimit.ActionJoin) {
		c.Deliver(protocol.ErrorEvent(protocol.CodeRateLimited, messageFor(protocol.CodeRateLimited), ev.RoomHash).Encode())
		return
	}

	peerID, peerCount, err := c.relay.Join(ev.RoomHash, c)
	if err != nil {
		c.fail(err, ev.RoomHash)
		return
	}

	c.trackRoom(ev.RoomHash, peerID)
	c.Deliver((&protocol.ServerEvent{
		Event:     protocol.EventRoomJoined,
		RoomHash:  ev.RoomHash,
		PeerID:    peerID,
		PeerCount: peerCount,
	}).Encode())
}

func (c *Client) handleLeave(ev *protocol.ClientEvent) {
	peerID := c.peerFor(ev.RoomHash)
	if peerID == "" {
		c.fail(relay.ErrRoom, ev.RoomHash)
		return
	}

	c.untrackRoom(ev.RoomHash)
	count, err := c.relay.LeavePush(ev.RoomHash, peerID)
	if err != nil {
		c.fail(err, ev.RoomHash)
		return
	}

	c.Deliver((&protocol.ServerEvent{
		Event:     protocol.EventPeerLeft,
		RoomHash:  ev.RoomHash,
		PeerID:    peerID,
		PeerCount: count,
	}).Encode())
}

func (c *Client) handleDelete(ev *protocol.ClientEvent) {
	wasMember := c.peerFor(ev.RoomHash) != ""

	if err := c.relay.Delete(ev.RoomHash, ev.DeleteToken); err != nil {
		c.fail(err, ev.RoomHash)
		return
	}

	logging.Info(context.Background(), "room deleted over push",
		zap.String("room_hash", logging.TruncateHash(ev.RoomHash)))

	// A member already received room_deleted through the fan-out (and was
	// detached by it); a caller deleting a room it never joined still
	// deserves the confirmation. Either way the connection stays open.
	if !wasMember {
		c.Deliver((&protocol.ServerEvent{
			Event:    protocol.EventRoomDeleted,
			RoomHash: ev.RoomHash,
		}).Encode())
	}
}

func (c *Client) handleMessage(ev *protocol.ClientEvent) {
	if !c.relay.AllowAction(c.clientKey, ratelimit.ActionMessage) {
		c.Deliver(protocol.ErrorEvent(protocol.CodeRateLimited, messageFor(protocol.CodeRateLimited), "").Encode())
		return
	}

	env, err := protocol.ParseEnvelope(ev.Envelope)
	if err != nil {
		c.Deliver(protocol.ErrorEvent(protocol.CodeInvalidEnvelope, messageFor(protocol.CodeInvalidEnvelope), "").Encode())
		return
	}

	// An empty peer id is deliberately passed through: the relay answers an
	// unknown room and a known-room non-membership with their own codes.
	if err := c.relay.Message(c.peerFor(env.Room), env, ev.Envelope, "push"); err != nil {
		c.fail(err, env.Room)
		return
	}
}
