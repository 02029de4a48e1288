package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the hardening headers required on every response.
// CORS itself is handled by gin-contrib/cors; these are the non-negotiable
// extras for a service that fronts encrypted content.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	}
}
