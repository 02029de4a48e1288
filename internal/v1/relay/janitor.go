package relay

import (
	"context"

	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/metrics"
	"github.com/driftwire/relay/internal/v1/protocol"
	"go.uber.org/zap"
)

// StartJanitor launches the periodic sweep. It shares the registry's
// consistency boundary with the request handlers, so a janitor-driven
// destruction is observationally identical to a client-driven one.
func (r *Relay) StartJanitor(ctx context.Context) {
	ctx, r.janitorStop = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := r.clock.NewTicker(JanitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				r.sweep()
			}
		}
	}()
}

// sweep runs the three independent passes: TTL-expired rooms, timed-out poll
// members, stale rate windows.
func (r *Relay) sweep() {
	expired := r.sweepExpiredRooms()
	evicted := r.sweepPollPeers()
	windows := r.limits.Sweep()

	if expired > 0 || evicted > 0 || windows > 0 {
		logging.Info(context.Background(), "janitor sweep",
			zap.Int("rooms_expired", expired),
			zap.Int("poll_peers_evicted", evicted),
			zap.Int("rate_windows_dropped", windows))
	}
}

// sweepExpiredRooms destroys every room whose TTL has elapsed, emitting
// room_expired to its members and closing their push sockets.
func (r *Relay) sweepExpiredRooms() int {
	now := r.clock.Now()

	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	expired := 0
	for _, rm := range rooms {
		rm.mu.Lock()
		if rm.destroyed || !rm.expiredLocked(now) {
			rm.mu.Unlock()
			continue
		}
		rm.closeLocked(protocol.EventRoomExpired, "", "expired")
		rm.mu.Unlock()

		r.removeRoom(rm)
		expired++
	}
	return expired
}

// sweepPollPeers evicts poll members idle past PollPeerTimeout with the same
// peer_left fan-out as an explicit leave, destroying rooms that empty out.
func (r *Relay) sweepPollPeers() int {
	now := r.clock.Now()

	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	evicted := 0
	for _, rm := range rooms {
		rm.mu.Lock()
		if rm.destroyed {
			rm.mu.Unlock()
			continue
		}

		for peerID, lastSeen := range rm.pollMembers {
			if now.Sub(lastSeen) <= PollPeerTimeout {
				continue
			}
			delete(rm.pollMembers, peerID)
			metrics.ActivePollPeers.Dec()
			evicted++

			if count := rm.memberCountLocked(); count > 0 {
				rm.fanLocked((&protocol.ServerEvent{
					Event:     protocol.EventPeerLeft,
					RoomHash:  rm.hash,
					PeerID:    peerID,
					PeerCount: count,
				}).Encode(), "")
			}
		}

		if rm.memberCountLocked() == 0 {
			rm.destroyed = true
			metrics.RoomsDestroyed.WithLabelValues("empty").Inc()
			rm.mu.Unlock()
			r.removeRoom(rm)
			continue
		}
		rm.mu.Unlock()
	}
	return evicted
}
