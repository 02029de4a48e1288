// Package poll is the HTTP adapter: the same state-machine operations as the
// push transport, exposed as stateless REST routes for clients that cannot
// hold a WebSocket open.
package poll

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/middleware"
	"github.com/driftwire/relay/internal/v1/protocol"
	"github.com/driftwire/relay/internal/v1/ratelimit"
	"github.com/driftwire/relay/internal/v1/relay"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the poll routes against one relay.
type Handler struct {
	relay *relay.Relay
}

func NewHandler(r *relay.Relay) *Handler {
	return &Handler{relay: r}
}

// Register mounts the poll routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/rooms", h.CreateRoom)
	r.POST("/rooms/:hash/join", h.JoinRoom)
	r.POST("/rooms/:hash/send", h.SendMessage)
	r.GET("/rooms/:hash/poll", h.PollRoom)
	r.POST("/rooms/:hash/leave", h.LeaveRoom)
	r.DELETE("/rooms/:hash", h.DeleteRoom)
}

// statusFor maps a wire code to its HTTP status. The one create-specific case
// (409 for the generic room error) is handled at the call site.
func statusFor(code string) int {
	switch code {
	case protocol.CodeRoomFull, protocol.CodeNotInRoom, protocol.CodeInvalidDeleteToken:
		return http.StatusForbidden
	case protocol.CodeInvalidEnvelope, protocol.CodeInvalidFormat:
		return http.StatusBadRequest
	case protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	case protocol.CodeCapacityExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusNotFound
	}
}

func abortWithCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := relay.CodeFor(err)
	abortWithCode(c, statusFor(code), code, "request failed")
}

// readBody reads a request body under the frame cap. A body over the cap is
// rejected the same way an unparseable one is.
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, protocol.MaxFrameBytes))
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidFormat, "body too large or unreadable")
		return nil, false
	}
	return body, true
}

func (h *Handler) rateLimited(c *gin.Context, action ratelimit.Action) bool {
	if h.relay.AllowAction(middleware.ClientKeyFrom(c), action) {
		return false
	}
	abortWithCode(c, http.StatusTooManyRequests, protocol.CodeRateLimited, "rate limit exceeded")
	return true
}

type createRequest struct {
	RoomHash string `json:"roomHash"`
	TTL      int64  `json:"ttl"`
}

// CreateRoom handles POST /rooms. The creator becomes the room's first poll
// member; this is the only poll response carrying the delete token.
func (h *Handler) CreateRoom(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if h.rateLimited(c, ratelimit.ActionCreate) {
		return
	}

	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidFormat, "malformed body")
		return
	}
	if !protocol.ValidRoomHash(req.RoomHash) {
		abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidFormat, "invalid room hash")
		return
	}

	res, err := h.relay.Create(req.RoomHash, req.TTL, nil)
	if err != nil {
		code := relay.CodeFor(err)
		status := statusFor(code)
		if code == protocol.CodeRoomError {
			status = http.StatusConflict
		}
		abortWithCode(c, status, code, "request failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"roomHash":    req.RoomHash,
		"peerId":      res.PeerID,
		"deleteToken": res.DeleteToken,
		"peerCount":   res.PeerCount,
	})
}

// JoinRoom handles POST /rooms/:hash/join.
func (h *Handler) JoinRoom(c *gin.Context) {
	if h.rateLimited(c, ratelimit.ActionJoin) {
		return
	}

	hash := c.Param("hash")
	peerID, peerCount, err := h.relay.Join(hash, nil)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roomHash":  hash,
		"peerId":    peerID,
		"peerCount": peerCount,
	})
}

type sendRequest struct {
	PeerID   string          `json:"peerId"`
	Envelope json.RawMessage `json:"envelope"`
}

// SendMessage handles POST /rooms/:hash/send. The envelope's room field, not
// the path, addresses the room in the relay; a mismatch is answered with the
// generic room error.
func (h *Handler) SendMessage(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if h.rateLimited(c, ratelimit.ActionMessage) {
		return
	}

	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidFormat, "malformed body")
		return
	}

	env, err := protocol.ParseEnvelope(req.Envelope)
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidEnvelope, "invalid envelope")
		return
	}
	if env.Room != c.Param("hash") {
		abortWithCode(c, http.StatusNotFound, protocol.CodeRoomError, "request failed")
		return
	}

	if err := h.relay.Message(req.PeerID, env, req.Envelope, "poll"); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": true})
}

// PollRoom handles GET /rooms/:hash/poll?since=T&peerId=P. since is the
// sender-asserted ts cursor; a known peerId has its liveness refreshed.
func (h *Handler) PollRoom(c *gin.Context) {
	hash := c.Param("hash")

	since := 0.0
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidFormat, "invalid since cursor")
			return
		}
		since = parsed
	}

	res, err := h.relay.Poll(hash, since, c.Query("peerId"))
	if err != nil {
		h.fail(c, err)
		return
	}

	messages := res.Messages
	if messages == nil {
		messages = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, gin.H{
		"roomHash":  hash,
		"messages":  messages,
		"peerCount": res.PeerCount,
	})
}

type leaveRequest struct {
	PeerID string `json:"peerId"`
}

// LeaveRoom handles POST /rooms/:hash/leave.
func (h *Handler) LeaveRoom(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	var req leaveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		abortWithCode(c, http.StatusBadRequest, protocol.CodeInvalidFormat, "malformed body")
		return
	}

	if _, err := h.relay.LeavePoll(c.Param("hash"), req.PeerID); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"left": true})
}

// DeleteRoom handles DELETE /rooms/:hash with the token in X-Delete-Token.
func (h *Handler) DeleteRoom(c *gin.Context) {
	hash := c.Param("hash")

	if err := h.relay.Delete(hash, c.GetHeader("X-Delete-Token")); err != nil {
		h.fail(c, err)
		return
	}

	logging.Info(context.Background(), "room deleted over poll",
		zap.String("room_hash", logging.TruncateHash(hash)))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
