package relay

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/driftwire/relay/internal/v1/metrics"
	"github.com/driftwire/relay/internal/v1/protocol"
)

// PushPeer is the hook a room holds for each push member. Deliver must not
// block (the transport backs it with a buffered channel and drops on
// overflow). Detach drops the membership record for one room while leaving
// the connection itself alone; a connection can be a member of other rooms.
// CloseWithReason sends a close frame and tears the connection down, and is
// reserved for process shutdown.
type PushPeer interface {
	Deliver(frame []byte)
	Detach(roomHash string)
	CloseWithReason(reason string)
}

// backlogEntry is one accepted envelope: the sender-asserted ts used as the
// poll cursor, and the envelope bytes exactly as received.
type backlogEntry struct {
	ts  float64
	raw json.RawMessage
}

// Room is the per-room authority over membership, backlog, delete token and
// expiry. All fields are guarded by mu; every observable transition happens
// under it, which is what makes events within one room totally ordered.
type Room struct {
	hash        string
	deleteToken string
	createdAt   time.Time
	ttl         time.Duration

	mu          sync.Mutex
	pushMembers map[string]PushPeer
	pollMembers map[string]time.Time
	backlog     *list.List
	destroyed   bool
}

func newRoom(hash, deleteToken string, createdAt time.Time, ttl time.Duration) *Room {
	return &Room{
		hash:        hash,
		deleteToken: deleteToken,
		createdAt:   createdAt,
		ttl:         ttl,
		pushMembers: make(map[string]PushPeer),
		pollMembers: make(map[string]time.Time),
		backlog:     list.New(),
	}
}

// memberCountLocked is |pushMembers| + |pollMembers|.
func (rm *Room) memberCountLocked() int {
	return len(rm.pushMembers) + len(rm.pollMembers)
}

// addMemberLocked inserts a minted peer id into the appropriate set.
func (rm *Room) addMemberLocked(peerID string, pusher PushPeer, now time.Time) {
	if pusher != nil {
		rm.pushMembers[peerID] = pusher
	} else {
		rm.pollMembers[peerID] = now
		metrics.ActivePollPeers.Inc()
	}
}

// removeMemberLocked removes a peer from whichever set holds it and reports
// whether it was present.
func (rm *Room) removeMemberLocked(peerID string) bool {
	if _, ok := rm.pushMembers[peerID]; ok {
		delete(rm.pushMembers, peerID)
		return true
	}
	if _, ok := rm.pollMembers[peerID]; ok {
		delete(rm.pollMembers, peerID)
		metrics.ActivePollPeers.Dec()
		return true
	}
	return false
}

// isMemberLocked reports membership in either set.
func (rm *Room) isMemberLocked(peerID string) bool {
	if _, ok := rm.pushMembers[peerID]; ok {
		return true
	}
	_, ok := rm.pollMembers[peerID]
	return ok
}

// touchPollLocked refreshes a poll member's last-seen timestamp.
func (rm *Room) touchPollLocked(peerID string, now time.Time) {
	if _, ok := rm.pollMembers[peerID]; ok {
		rm.pollMembers[peerID] = now
	}
}

// fanLocked delivers a frame to every push member except excludePeerID.
func (rm *Room) fanLocked(frame []byte, excludePeerID string) {
	for id, p := range rm.pushMembers {
		if id != excludePeerID {
			p.Deliver(frame)
		}
	}
}

// appendBacklogLocked stores an accepted envelope, evicting the oldest entry
// when the cap is exceeded. Entries are immutable after insertion.
func (rm *Room) appendBacklogLocked(ts float64, raw json.RawMessage) {
	rm.backlog.PushBack(backlogEntry{ts: ts, raw: raw})
	if rm.backlog.Len() > MaxBacklog {
		rm.backlog.Remove(rm.backlog.Front())
		metrics.BacklogEvictions.Inc()
	}
}

// backlogSinceLocked returns every backlog envelope with ts strictly greater
// than since, in backlog order.
func (rm *Room) backlogSinceLocked(since float64) []json.RawMessage {
	msgs := make([]json.RawMessage, 0)
	for e := rm.backlog.Front(); e != nil; e = e.Next() {
		entry := e.Value.(backlogEntry)
		if entry.ts > since {
			msgs = append(msgs, entry.raw)
		}
	}
	return msgs
}

// closeLocked is the terminal transition: it fans the lifecycle event to
// every push member, detaches their memberships, empties both member sets
// and marks the room destroyed. A non-empty closeReason additionally closes
// the underlying sockets; only shutdown does that — a deleted or expired
// room leaves its members' connections open. The caller is responsible for
// removing the room from the registry afterwards.
func (rm *Room) closeLocked(event, closeReason, metricReason string) {
	frame := (&protocol.ServerEvent{Event: event, RoomHash: rm.hash}).Encode()
	for _, p := range rm.pushMembers {
		p.Deliver(frame)
		p.Detach(rm.hash)
		if closeReason != "" {
			p.CloseWithReason(closeReason)
		}
	}
	metrics.ActivePollPeers.Sub(float64(len(rm.pollMembers)))
	rm.pushMembers = make(map[string]PushPeer)
	rm.pollMembers = make(map[string]time.Time)
	rm.destroyed = true
	metrics.RoomsDestroyed.WithLabelValues(metricReason).Inc()
}

// expiredLocked reports whether the room's TTL has elapsed.
func (rm *Room) expiredLocked(now time.Time) bool {
	return now.Sub(rm.createdAt) > rm.ttl
}
