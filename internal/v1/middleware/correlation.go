// Package middleware contains Gin middleware for the relay's HTTP surface.
package middleware

import (
	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXCorrelationID carries a request-scoped ID across services.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID echoes the caller's correlation ID, minting one when the
// request arrives without it. The ID goes into the response header and into
// the Gin context so log lines for the request can be tied together.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(HeaderXCorrelationID, id)
		c.Set(string(logging.CorrelationIDKey), id)

		c.Next()
	}
}
