package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/mediactl/internal/observability"
	"github.com/danmuck/mediactl/worker"
)

// Server exposes supervision diagnostics for one worker over HTTP.
type Server struct {
	worker    *worker.Worker
	logger    zerolog.Logger
	startedAt time.Time
	http      *http.Server
}

func NewServer(w *worker.Worker, addr string, corsOrigins []string, logger zerolog.Logger) *Server {
	s := &Server{
		worker:    w,
		logger:    logger,
		startedAt: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes(r)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		if s.worker.Closed() {
			status = "closed"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"uptime":    time.Since(s.startedAt).String(),
			"component": "mediactl-admin",
			"worker_id": s.worker.ID().String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/dump", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dump, err := s.worker.Dump(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, dump)
	})

	r.POST("/close", func(c *gin.Context) {
		s.worker.Close()
		c.JSON(http.StatusOK, gin.H{"closed": true})
	})
}

func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("admin server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
