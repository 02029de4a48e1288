package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextClientKey is the gin context key the resolved client key is stored
// under.
const ContextClientKey = "client_key"

// ResolveClientKey returns the rate-limit key for a request: the client's
// network address, narrowed by the configured trusted-proxy count.
//
// With trustedProxies == 0 the forwarded header is ignored entirely and the
// direct socket address is the key. Otherwise X-Forwarded-For is split and
// the entry at position len-trustedProxies (clamped at 0) is taken: the
// right-most hops were appended by proxies we trust, everything left of them
// is client-asserted and therefore forgeable.
func ResolveClientKey(r *http.Request, trustedProxies int) string {
	if trustedProxies > 0 {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			idx := len(hops) - trustedProxies
			if idx < 0 {
				idx = 0
			}
			if hop := strings.TrimSpace(hops[idx]); hop != "" {
				return hop
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientKey resolves the client key once per request and stores it in the
// gin context for handlers and the logger.
func ClientKey(trustedProxies int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextClientKey, ResolveClientKey(c.Request, trustedProxies))
		c.Next()
	}
}

// ClientKeyFrom reads the resolved key back out of the gin context.
func ClientKeyFrom(c *gin.Context) string {
	if key, ok := c.Get(ContextClientKey); ok {
		if s, ok := key.(string); ok {
			return s
		}
	}
	return c.ClientIP()
}
