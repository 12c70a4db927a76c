package admin

import (
	"strconv"
	"time"

	"github.com/danmuck/treegrid/internal/observability"
	"github.com/gin-gonic/gin"
)

const (
	// rankAll labels routes that report on every hosted rank.
	rankAll = "all"
	// rankOther labels requests for a rank this process does not host.
	rankOther = "other"
)

// requestRank returns the metrics label for the rank c addresses. Only
// hosted ranks get their own label so the series count stays bounded.
func (s *Server) requestRank(c *gin.Context) string {
	raw := c.Param("rank")
	if raw == "" {
		return rankAll
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return rankOther
	}
	for _, r := range s.ranks {
		if r.ID == id {
			return strconv.Itoa(id)
		}
	}
	return rankOther
}

func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// requestLogger logs one admin.http event per request, at warn for client
// errors and error for server errors.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := s.log.Info()
		if status >= 500 {
			event = s.log.Error()
		} else if status >= 400 {
			event = s.log.Warn()
		}
		event.
			Str("server", s.Name).
			Str("rank", s.requestRank(c)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin.http")
	}
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observability.RecordHTTPRequest(s.requestRank(c), c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}
