package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/driftwire/relay/internal/v1/protocol"
	"github.com/stretchr/testify/require"
)

// fakePusher records everything the room delivers to a push member.
type fakePusher struct {
	mu           sync.Mutex
	frames       [][]byte
	detachedFrom []string
	closeReasons []string
}

func (f *fakePusher) Deliver(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
}

func (f *fakePusher) Detach(roomHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachedFrom = append(f.detachedFrom, roomHash)
}

func (f *fakePusher) CloseWithReason(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeReasons = append(f.closeReasons, reason)
}

// events decodes every delivered frame.
func (f *fakePusher) events(t *testing.T) []protocol.ServerEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]protocol.ServerEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev protocol.ServerEvent
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

// eventsOf filters delivered events by tag.
func (f *fakePusher) eventsOf(t *testing.T, tag string) []protocol.ServerEvent {
	t.Helper()
	var out []protocol.ServerEvent
	for _, ev := range f.events(t) {
		if ev.Event == tag {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakePusher) detached() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detachedFrom...)
}

func (f *fakePusher) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closeReasons) > 0
}
