package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driftwire/relay/internal/v1/ratelimit"
	"github.com/driftwire/relay/internal/v1/relay"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func newProbe(t *testing.T) (*relay.Relay, *clocktesting.FakeClock, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clocktesting.NewFakeClock(time.Now())
	r := relay.New(ratelimit.New(clk), clk)

	router := gin.New()
	router.GET("/health", NewHandler(r, clk).Check)
	return r, clk, router
}

func get(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	return w
}

func TestCheck(t *testing.T) {
	r, clk, router := newProbe(t)

	_, err := r.Create("H", 300, nil)
	require.NoError(t, err)
	_, _, err = r.Join("H", nil)
	require.NoError(t, err)

	clk.Step(90 * time.Second)

	w := get(router)
	require.Equal(t, http.StatusOK, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(90), body.Uptime)
	assert.Equal(t, 1, body.Rooms)
	assert.Equal(t, 0, body.Peers.WS)
	assert.Equal(t, 2, body.Peers.HTTP)
	assert.Equal(t, 2, body.Peers.Total)
	assert.NotZero(t, body.Memory.RSS)
	assert.NotZero(t, body.Memory.Heap)
	assert.Equal(t, relay.MaxRooms, body.Limits.MaxRooms)
	assert.Equal(t, relay.MaxBacklog, body.Limits.MaxBacklog)
	assert.Equal(t, int64(60), body.Limits.RateWindowSecs)
}

func TestCheck_ShuttingDown(t *testing.T) {
	r, _, router := newProbe(t)
	require.NoError(t, r.Shutdown(context.Background()))

	w := get(router)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "shutting_down", body.Status)
}
