package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pluginhost/core/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// requestID assigns a correlation id to every request, reusing one supplied
// by an upstream caller, and logs the route once the handler returns.
// Adapted from the teacher's middleware.RequestID (api/internal/middleware/
// request_id.go): header-or-generate, stash on the context, echo back on the
// response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		c.Next()

		logger.HTTP().Debug().
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request handled")
	}
}
