package middleware

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// SilentLogger logs requests, skipping health probes and requests that
// failed only because the client went away (broken pipe, reset).
func SilentLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" && !strings.Contains(q, "token=") {
			path += "?" + q
		}

		c.Next()

		if c.Request.URL.Path == "/health" {
			return
		}
		for _, e := range c.Errors {
			if isClientGone(e.Err) {
				return
			}
		}

		slog.Info("http",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func isClientGone(err error) bool {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne *net.OpError
	if errors.As(err, &ne) {
		var se *os.SyscallError
		if errors.As(ne.Err, &se) {
			msg := strings.ToLower(se.Error())
			return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
		}
	}
	return false
}
