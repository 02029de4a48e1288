// Package relay implements the core of the system: the in-memory room
// registry, the per-room state machine unifying push and poll members, and
// the janitor that enforces TTLs and liveness timeouts.
//
// The relay is zero-knowledge: it stores and forwards envelope bytes exactly
// as received and never interprets payloads. Nothing in this package touches
// disk or any external store.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/metrics"
	"github.com/driftwire/relay/internal/v1/protocol"
	"github.com/driftwire/relay/internal/v1/ratelimit"
	"github.com/driftwire/relay/internal/v1/token"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Limits. These are the resource bounds of §8 of the protocol contract.
const (
	MaxRooms        = 10000
	MaxPeersPerRoom = 50
	MaxBacklog      = 200

	MinTTL = 60 * time.Second
	MaxTTL = 86400 * time.Second

	PollPeerTimeout = 120 * time.Second
	JanitorInterval = 10 * time.Second
)

// Relay aggregates the room registry, the rate limiter and the janitor into
// one value so tests can instantiate isolated relays. There is no package
// level mutable state.
type Relay struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	limits *ratelimit.Limiter
	clock  clock.WithTicker

	shuttingDown atomic.Bool
	janitorStop  context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a relay. clk is the single time source for room TTLs, poll
// liveness and the janitor's ticker; pass clock.RealClock{} in production.
func New(limits *ratelimit.Limiter, clk clock.WithTicker) *Relay {
	return &Relay{
		rooms:  make(map[string]*Room),
		limits: limits,
		clock:  clk,
	}
}

// AllowAction runs the rate-limit gate for one client key and action. It
// must be called before any room-state side effect and before any validation
// that could leak room existence.
func (r *Relay) AllowAction(clientKey string, action ratelimit.Action) bool {
	if r.limits.Allow(clientKey, action) {
		return true
	}
	metrics.RateLimited.WithLabelValues(string(action)).Inc()
	return false
}

// CreateResult is the creator-addressed reply to a successful create. It is
// the only place the delete token ever appears on the wire.
type CreateResult struct {
	PeerID      string
	DeleteToken string
	PeerCount   int
}

// Create registers a new room under a client-chosen hash and atomically
// inserts the creator as its first member. pusher is nil for a poll creator.
//
// A hash collision reports the same generic ErrRoom as a failed lookup so
// that create cannot be used to enumerate live hashes.
func (r *Relay) Create(hash string, ttlSeconds int64, pusher PushPeer) (*CreateResult, error) {
	if r.shuttingDown.Load() {
		return nil, ErrRoom
	}
	if !protocol.ValidRoomHash(hash) {
		return nil, ErrRoom
	}

	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.rooms) >= MaxRooms {
		return nil, ErrCapacity
	}
	if _, exists := r.rooms[hash]; exists {
		return nil, ErrRoom
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl < MinTTL {
		ttl = MinTTL
	} else if ttl > MaxTTL {
		ttl = MaxTTL
	}

	rm := newRoom(hash, token.New(), now, ttl)
	peerID := token.New()

	rm.mu.Lock()
	rm.addMemberLocked(peerID, pusher, now)
	rm.mu.Unlock()

	r.rooms[hash] = rm

	metrics.ActiveRooms.Inc()
	metrics.RoomsCreated.Inc()
	logging.Info(context.Background(), "room created",
		zap.String("room_hash", logging.TruncateHash(hash)),
		zap.Duration("ttl", ttl),
		zap.Bool("push_creator", pusher != nil))

	return &CreateResult{PeerID: peerID, DeleteToken: rm.deleteToken, PeerCount: 1}, nil
}

// lookup returns the live room for a hash, or nil.
func (r *Relay) lookup(hash string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[hash]
}

// removeRoom drops a destroyed room from the registry. Pointer-compared so a
// recreated room under the same hash is never removed by a stale destructor.
func (r *Relay) removeRoom(rm *Room) {
	r.mu.Lock()
	if cur, ok := r.rooms[rm.hash]; ok && cur == rm {
		delete(r.rooms, rm.hash)
		metrics.ActiveRooms.Dec()
	}
	r.mu.Unlock()
}

// Join adds a new member to an existing room and fans peer_joined to every
// other push member. pusher is nil for a poll joiner.
func (r *Relay) Join(hash string, pusher PushPeer) (peerID string, peerCount int, err error) {
	rm := r.lookup(hash)
	if rm == nil {
		return "", 0, ErrRoom
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.destroyed {
		return "", 0, ErrRoom
	}
	if rm.memberCountLocked() >= MaxPeersPerRoom {
		return "", 0, ErrRoomFull
	}

	peerID = token.New()
	rm.addMemberLocked(peerID, pusher, r.clock.Now())
	peerCount = rm.memberCountLocked()

	rm.fanLocked((&protocol.ServerEvent{
		Event:     protocol.EventPeerJoined,
		RoomHash:  hash,
		PeerID:    peerID,
		PeerCount: peerCount,
	}).Encode(), peerID)

	return peerID, peerCount, nil
}

// Message accepts an envelope from a current member: it appends the envelope
// bytes to the backlog (the authority on ordering) and then mirrors them to
// every other push member. transport labels the metrics only.
func (r *Relay) Message(senderPeerID string, env *protocol.Envelope, raw json.RawMessage, transport string) error {
	rm := r.lookup(env.Room)
	if rm == nil {
		return ErrRoom
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.destroyed {
		return ErrRoom
	}
	if !rm.isMemberLocked(senderPeerID) {
		return ErrNotInRoom
	}
	rm.touchPollLocked(senderPeerID, r.clock.Now())

	rm.appendBacklogLocked(env.Ts, raw)
	rm.fanLocked((&protocol.ServerEvent{
		Event:    protocol.EventMessage,
		Envelope: raw,
	}).Encode(), senderPeerID)

	metrics.MessagesRelayed.WithLabelValues(transport).Inc()
	return nil
}

// LeavePush removes a push member; used for explicit leave_room and for
// disconnect cleanup. Returns the remaining member count.
func (r *Relay) LeavePush(hash, peerID string) (int, error) {
	return r.leave(hash, peerID, false)
}

// LeavePoll removes a poll member. A peer id that is not in the poll set
// yields the generic ErrRoom even when the room exists; push memberships are
// not reachable through the poll surface.
func (r *Relay) LeavePoll(hash, peerID string) (int, error) {
	return r.leave(hash, peerID, true)
}

func (r *Relay) leave(hash, peerID string, pollOnly bool) (int, error) {
	rm := r.lookup(hash)
	if rm == nil {
		return 0, ErrRoom
	}

	rm.mu.Lock()
	if rm.destroyed {
		rm.mu.Unlock()
		return 0, ErrRoom
	}

	if pollOnly {
		if _, ok := rm.pollMembers[peerID]; !ok {
			rm.mu.Unlock()
			return 0, ErrRoom
		}
	}
	if !rm.removeMemberLocked(peerID) {
		rm.mu.Unlock()
		return 0, ErrRoom
	}

	count := rm.memberCountLocked()
	if count == 0 {
		// Last member out destroys the room on this same transition.
		rm.destroyed = true
		metrics.RoomsDestroyed.WithLabelValues("empty").Inc()
		rm.mu.Unlock()
		r.removeRoom(rm)
		return 0, nil
	}

	rm.fanLocked((&protocol.ServerEvent{
		Event:     protocol.EventPeerLeft,
		RoomHash:  hash,
		PeerID:    peerID,
		PeerCount: count,
	}).Encode(), "")
	rm.mu.Unlock()
	return count, nil
}

// Delete destroys a room if the presented token matches its delete token.
// The comparison is constant-time; a mismatch changes nothing.
func (r *Relay) Delete(hash, presented string) error {
	rm := r.lookup(hash)
	if rm == nil {
		return ErrRoom
	}

	rm.mu.Lock()
	if rm.destroyed {
		rm.mu.Unlock()
		return ErrRoom
	}
	if !token.Equal(presented, rm.deleteToken) {
		rm.mu.Unlock()
		return ErrInvalidDeleteToken
	}

	rm.closeLocked(protocol.EventRoomDeleted, "", "deleted")
	rm.mu.Unlock()

	r.removeRoom(rm)
	logging.Info(context.Background(), "room deleted by token",
		zap.String("room_hash", logging.TruncateHash(hash)))
	return nil
}

// PollResult is the poll adapter's read of a room.
type PollResult struct {
	Messages  []json.RawMessage
	PeerCount int
}

// Poll returns every backlog envelope with ts strictly greater than since,
// in backlog order, plus the current member count. A known peerID has its
// last-seen refreshed; an unknown one is not an error (the backlog is
// readable by any holder of the hash, which is itself a capability).
func (r *Relay) Poll(hash string, since float64, peerID string) (*PollResult, error) {
	rm := r.lookup(hash)
	if rm == nil {
		return nil, ErrRoom
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.destroyed {
		return nil, ErrRoom
	}
	if peerID != "" {
		rm.touchPollLocked(peerID, r.clock.Now())
	}

	return &PollResult{
		Messages:  rm.backlogSinceLocked(since),
		PeerCount: rm.memberCountLocked(),
	}, nil
}

// RoomCount reports the number of live rooms.
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// PeerCounts reports current members by transport across all rooms.
func (r *Relay) PeerCounts() (push, poll int) {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		push += len(rm.pushMembers)
		poll += len(rm.pollMembers)
		rm.mu.Unlock()
	}
	return push, poll
}

// ShuttingDown reports whether Shutdown has begun.
func (r *Relay) ShuttingDown() bool {
	return r.shuttingDown.Load()
}

// Shutdown is idempotent: it stops the janitor, expires every live room
// (room_expired plus a closing push frame) and drains the registry. The
// caller enforces the hard deadline.
func (r *Relay) Shutdown(ctx context.Context) error {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	if r.janitorStop != nil {
		r.janitorStop()
	}

	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.destroyed {
			rm.closeLocked(protocol.EventRoomExpired, "shutting down", "shutdown")
		}
		rm.mu.Unlock()
		r.removeRoom(rm)
	}

	logging.Info(ctx, "relay drained", zap.Int("rooms_closed", len(rooms)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
