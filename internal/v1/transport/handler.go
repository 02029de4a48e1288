package transport

import (
	"context"
	"net/http"

	"github.com/driftwire/relay/internal/v1/config"
	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/metrics"
	"github.com/driftwire/relay/internal/v1/middleware"
	"github.com/driftwire/relay/internal/v1/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	ulule "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// Handler owns the WebSocket endpoint: the per-client-key upgrade gate, the
// HTTP upgrade itself, and the handoff to a Client's pumps.
type Handler struct {
	relay    *relay.Relay
	gate     *ulule.Limiter
	upgrader websocket.Upgrader
}

// NewHandler builds the push endpoint. The upgrade gate is distinct from the
// in-room action limits: it bounds how often one client key may open a
// socket at all, before any frame is read.
func NewHandler(r *relay.Relay, cfg *config.Config) (*Handler, error) {
	rate, err := ulule.NewRateFromFormatted(cfg.RateLimitConn)
	if err != nil {
		return nil, err
	}

	origin := cfg.CORSOrigin
	return &Handler{
		relay: r,
		gate:  ulule.New(memory.NewStore(), rate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(req *http.Request) bool {
				if origin == "*" {
					return true
				}
				return req.Header.Get("Origin") == origin
			},
		},
	}, nil
}

// ServeWs gates, upgrades and starts one push connection.
func (h *Handler) ServeWs(c *gin.Context) {
	if h.relay.ShuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	clientKey := middleware.ClientKeyFrom(c)

	lctx, err := h.gate.Get(c.Request.Context(), clientKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiter unavailable"})
		return
	}
	if lctx.Reached {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn(context.Background(), "websocket upgrade failed",
			zap.String("client_key", clientKey), zap.Error(err))
		return
	}

	h.handleConnection(conn, clientKey)
}

// handleConnection wires an established socket to the relay. Split from
// ServeWs so tests can drive a fake connection through the full pump cycle.
func (h *Handler) handleConnection(conn wsConnection, clientKey string) {
	metrics.IncConnection()

	client := newClient(conn, h.relay, clientKey)
	go client.writePump()
	go client.readPump()
}
