// Package server is the REST front end: BLAST job submission and results,
// accession lookups and primer design over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jjtimmons/pcrdesign/internal/blast"
	"github.com/jjtimmons/pcrdesign/internal/design"
	"github.com/jjtimmons/pcrdesign/internal/registry"
)

// Builder validates BLAST parameters before a job is submitted. *blast.Runner satisfies it
type Builder interface {
	Build(p blast.Params, queryIsFile bool) (*blast.Invocation, error)
}

// Resolver looks up accessions. *blast.Resolver satisfies it
type Resolver interface {
	Resolve(ctx context.Context, accessions ...string) (string, error)
}

// Designer runs primer designs. *design.Designer satisfies it
type Designer interface {
	Design(ctx context.Context, req design.Request) (*design.Result, error)
}

// Server serves the REST API
type Server struct {
	Jobs     *registry.Registry
	Builder  Builder
	Resolver Resolver
	Designer Designer

	// ResultTimeout bounds how long a request can wait on a job
	ResultTimeout time.Duration

	Logger *slog.Logger
}

// Router returns the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.POST("/blast/", s.submitBlast)
	r.GET("/blast/:id", s.getBlast)
	r.GET("/blast/hits/:id", s.getHits)
	r.POST("/blast_primers/", s.submitPrimers)
	r.GET("/nucleotide/:accession", s.getNucleotide)
	r.POST("/nucleotide/", s.postNucleotide)
	r.POST("/design/", s.postDesign)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errs := make(chan error, 1)
	go func() {
		s.logger().Info("listening", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logRequests logs each request after it's handled
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger().Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// status maps an error to its HTTP status code
func status(err error) int {
	switch {
	case errors.Is(err, blast.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrJobNotFound), errors.Is(err, blast.ErrLookupFailed):
		return http.StatusNotFound
	case errors.Is(err, design.ErrAlignmentFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		s.logger().Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
