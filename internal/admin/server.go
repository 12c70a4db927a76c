// Package admin serves the HTTP surface of a treegridctl process: health,
// the last run reports of every local rank, and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/treegrid/internal/ghost"
	"github.com/danmuck/treegrid/internal/logging"
	"github.com/danmuck/treegrid/internal/observability"
	"github.com/danmuck/treegrid/internal/redistribute"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type RedistributeReporter interface {
	LastReport() *redistribute.Report
}

type GhostReporter interface {
	LastReport() *ghost.Report
}

// Rank is one rank hosted by this process. Ghost may be nil when the
// process runs no ghost passes.
type Rank struct {
	ID           int
	Redistribute RedistributeReporter
	Ghost        GhostReporter
}

type Server struct {
	Name     string
	Appeared time.Time

	ranks  []Rank
	router *gin.Engine
	log    zerolog.Logger
}

// New builds the router for ranks. CORS is only enabled when origins are
// given.
func New(name string, ranks []Rank, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		Name:     name,
		Appeared: time.Now(),
		ranks:    ranks,
		log:      logging.For("admin"),
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.requestMetrics())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.router = r
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve answers on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe is Serve on a new TCP listener for addr.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
