// Package api is the read-only report API over recorded send results. It
// serves the same chi router locally and behind API Gateway.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier/internal/types"
)

// ResultReader is the subset of db.ResultRepository the API needs.
type ResultReader interface {
	Get(ctx context.Context, notificationID, recipientID string) (*types.RecipientResult, error)
	Summarize(ctx context.Context, notificationID string) (*types.ResultSummary, error)
}

// Server holds the API's dependencies.
type Server struct {
	Results      ResultReader
	HealthProbes []HealthProbe
	Logger       *slog.Logger

	router *chi.Mux
}

// NewServer builds a server with all routes mounted.
func NewServer(results ResultReader, logger *slog.Logger, probes ...HealthProbe) (*Server, error) {
	if results == nil {
		return nil, errors.New("result reader must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}

	s := &Server{
		Results:      results,
		HealthProbes: probes,
		Logger:       logger,
		router:       chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
