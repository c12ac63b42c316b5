// Package server exposes the wiki over HTTP: per-recipe status, the
// polling delta endpoint, tiddler reads and mutations, and the
// server-sent-events push stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"wikid/internal/wiki"
)

// Server wires the wiki service into a gin engine and manages the HTTP
// listener lifecycle.
type Server struct {
	svc     *wiki.Service
	logger  wiki.Logger
	metrics *Metrics
	engine  *gin.Engine
	addr    string
}

// Options configures optional server surfaces.
type Options struct {
	EnablePush    bool
	EnableMetrics bool
}

// New builds a Server listening on addr.
func New(svc *wiki.Service, logger wiki.Logger, addr string, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		svc:    svc,
		logger: logger,
		addr:   addr,
	}
	if opts.EnableMetrics {
		s.metrics = NewMetrics(svc.Hub().SubscriberCount)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), s.authenticate())

	recipes := engine.Group("/recipes/:recipe")
	recipes.GET("/status", s.handleStatus)
	recipes.GET("/bag-states", s.handleBagStates)
	if opts.EnablePush {
		recipes.GET("/events", s.handleEvents)
	}
	recipes.GET("/tiddlers/*title", s.handleGetTiddler)
	recipes.PUT("/tiddlers/*title", s.handlePutTiddler)
	recipes.DELETE("/tiddlers/*title", s.handleDeleteTiddler)

	engine.POST("/auth/login", s.handleLogin)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	s.engine = engine
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
