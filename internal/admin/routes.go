package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/treegrid/internal/ghost"
	"github.com/danmuck/treegrid/internal/redistribute"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RankStatus is the /status view of one rank.
type RankStatus struct {
	Rank         int                  `json:"rank"`
	Redistribute *redistribute.Report `json:"redistribute,omitempty"`
	Ghost        *ghost.Report        `json:"ghost,omitempty"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"component": s.Name,
			"ranks":     len(s.ranks),
		})
	})

	// Ready once every hosted rank has finished a redistribution.
	s.router.GET("/ready", func(c *gin.Context) {
		ready := true
		for _, st := range s.statuses() {
			if st.Redistribute == nil {
				ready = false
			}
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": ready})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"component": s.Name,
			"uptime":    time.Since(s.Appeared).String(),
			"ranks":     s.statuses(),
		})
	})

	s.router.GET("/status/:rank", func(c *gin.Context) {
		rank, err := strconv.Atoi(c.Param("rank"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rank must be an integer"})
			return
		}
		for _, st := range s.statuses() {
			if st.Rank == rank {
				c.JSON(http.StatusOK, st)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "rank not hosted here"})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) statuses() []RankStatus {
	out := make([]RankStatus, 0, len(s.ranks))
	for _, r := range s.ranks {
		st := RankStatus{Rank: r.ID}
		if r.Redistribute != nil {
			st.Redistribute = r.Redistribute.LastReport()
		}
		if r.Ghost != nil {
			st.Ghost = r.Ghost.LastReport()
		}
		out = append(out, st)
	}
	return out
}
