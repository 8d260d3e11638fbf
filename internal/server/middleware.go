package server

import (
	"auction-room/utils"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing. WebSocket sessions are
// logged once the connection ends, so their latency is the session duration.
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":    c.Request.Method,
		"path":      c.Request.URL.Path,
		"status":    c.Writer.Status(),
		"latency":   time.Since(start).String(),
		"client_ip": c.ClientIP(),
	}
	if len(c.Errors) > 0 {
		fields["errors"] = c.Errors.String()
	}
	if c.Writer.Status() >= 500 {
		utils.Error("HTTP Request", fields)
		return
	}
	utils.Info("HTTP Request", fields)
}
