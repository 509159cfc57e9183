package apihandlers

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared secret on every /api/v1 request.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey rejects requests whose X-API-Key does not match key.
func RequireAPIKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			Unauthorized(c, "missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			Unauthorized(c, "invalid API key")
			return
		}
		c.Next()
	}
}
