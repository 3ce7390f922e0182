// Package api composes the request surface (C6): session upgrade,
// read-only text fetch, document creation, and statistics, routed
// with gorilla/mux on top of the registry (C4) and the optional
// durable store.
package api

import (
	"context"
	"time"

	"github.com/cowrite/cowrite/pkg/database"
	"github.com/cowrite/cowrite/pkg/logger"
	"github.com/cowrite/cowrite/pkg/registry"
)

// Dependencies are the handles every handler needs. It holds no
// request-scoped state of its own.
type Dependencies struct {
	Registry *registry.Registry
	DB       *database.Database
	Log      *logger.Logger

	// Ctx is the server's root context: persistence workers run under
	// it rather than under any one request's context, so they outlive
	// the connection that spawned them and stop only on shutdown or
	// document eviction.
	Ctx context.Context

	StartTime time.Time

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MetricsEnabled bool
}
