// Package health exposes the relay's single health probe. The relay has no
// external dependencies to check; the probe reports process vitals and the
// current registry load instead.
package health

import (
	"net/http"
	"runtime"
	"time"

	"github.com/driftwire/relay/internal/v1/ratelimit"
	"github.com/driftwire/relay/internal/v1/relay"
	"github.com/gin-gonic/gin"
	"k8s.io/utils/clock"
)

// Handler serves GET /health.
type Handler struct {
	relay   *relay.Relay
	clock   clock.PassiveClock
	started time.Time
}

func NewHandler(r *relay.Relay, clk clock.PassiveClock) *Handler {
	return &Handler{relay: r, clock: clk, started: clk.Now()}
}

// PeersDetail breaks current members down by transport.
type PeersDetail struct {
	WS    int `json:"ws"`
	HTTP  int `json:"http"`
	Total int `json:"total"`
}

// MemoryDetail reports process memory in bytes.
type MemoryDetail struct {
	RSS  uint64 `json:"rss"`
	Heap uint64 `json:"heap"`
}

// LimitsDetail echoes the operational bounds so operators can read them off
// a running instance.
type LimitsDetail struct {
	MaxRooms        int   `json:"maxRooms"`
	MaxPeersPerRoom int   `json:"maxPeersPerRoom"`
	MaxBacklog      int   `json:"maxBacklog"`
	MinTTLSeconds   int64 `json:"minTtlSeconds"`
	MaxTTLSeconds   int64 `json:"maxTtlSeconds"`
	RateWindowSecs  int64 `json:"rateWindowSeconds"`
	CreatePerWindow int   `json:"createPerWindow"`
	JoinPerWindow   int   `json:"joinPerWindow"`
	MsgPerWindow    int   `json:"messagePerWindow"`
}

// Response is the GET /health body.
type Response struct {
	Status string       `json:"status"`
	Uptime int64        `json:"uptime"`
	Rooms  int          `json:"rooms"`
	Peers  PeersDetail  `json:"peers"`
	Memory MemoryDetail `json:"memory"`
	Limits LimitsDetail `json:"limits"`
}

// Check handles GET /health. It answers 200 while serving and 503 once
// shutdown has begun, so orchestrators stop routing before the listener
// closes.
func (h *Handler) Check(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	push, poll := h.relay.PeerCounts()

	status := "ok"
	code := http.StatusOK
	if h.relay.ShuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, Response{
		Status: status,
		Uptime: int64(h.clock.Now().Sub(h.started).Seconds()),
		Rooms:  h.relay.RoomCount(),
		Peers:  PeersDetail{WS: push, HTTP: poll, Total: push + poll},
		Memory: MemoryDetail{RSS: mem.Sys, Heap: mem.HeapAlloc},
		Limits: LimitsDetail{
			MaxRooms:        relay.MaxRooms,
			MaxPeersPerRoom: relay.MaxPeersPerRoom,
			MaxBacklog:      relay.MaxBacklog,
			MinTTLSeconds:   int64(relay.MinTTL.Seconds()),
			MaxTTLSeconds:   int64(relay.MaxTTL.Seconds()),
			RateWindowSecs:  int64(ratelimit.Window.Seconds()),
			CreatePerWindow: ratelimit.CreateLimit,
			JoinPerWindow:   ratelimit.JoinLimit,
			MsgPerWindow:    ratelimit.MessageLimit,
		},
	})
}
