package server

import (
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// requestLogger writes per-request logs at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if zerolog.GlobalLevel() > zerolog.DebugLevel {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery

		c.Next()

		if rawQuery != "" {
			path = path + "?" + rawQuery
		}
		s.logger.Debug().
			Str("method", c.Request.Method).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", s.clientAddr(c)).
			Str("path", path).
			Msg("request")
	}
}

// clientAddr returns the address used for throttling and the access log:
// the first X-Forwarded-For entry, then X-Real-IP, then the peer address.
// Forwarding headers are ignored unless trust_proxy_headers is set.
func (s *Server) clientAddr(c *gin.Context) string {
	if s.cfg.TrustProxyHeaders {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if real := strings.TrimSpace(c.GetHeader("X-Real-IP")); real != "" {
			return real
		}
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
