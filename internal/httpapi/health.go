// Package httpapi exposes the process's read-only health endpoint: a
// GET /health contract reporting overall status, database reachability
// and latency, per-connector health, queue depth, and the paused-
// connector count. Everything else — auth, the management UI, webhook
// delivery — is an external collaborator's concern.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	"github.com/engels74/comradarr/pkg/reconnect"
	"github.com/engels74/comradarr/pkg/store"
)

// Status is the overall health of the process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ConnectorHealth summarizes one connector's reported state.
type ConnectorHealth struct {
	ID     int64              `json:"id"`
	Name   string             `json:"name"`
	Status store.HealthStatus `json:"status"`
}

// Report is the full /health response body.
type Report struct {
	Status            Status            `json:"status"`
	DatabaseReachable bool              `json:"database_reachable"`
	DatabaseLatencyMS int64             `json:"database_latency_ms"`
	Connectors        []ConnectorHealth `json:"connectors"`
	QueueDepth        int               `json:"queue_depth"`
	PausedConnectors  int               `json:"paused_connectors"`
}

// PauseCounter reports how many connectors the reconnect supervisor is
// currently holding paused. *reconnect.Supervisor satisfies this.
type PauseCounter interface {
	PausedCount() int
}

var _ PauseCounter = (*reconnect.Supervisor)(nil)

// Handler builds Report values from the repositories and collaborators
// it reads from. It never writes to any of them.
type Handler struct {
	DB         *sqlx.DB
	Connectors store.ConnectorRepository
	Pending    store.PendingRepository
	Reconnect  PauseCounter
	Timeout    time.Duration
	// Logger receives one entry per request when set; the zero value
	// discards silently, so a Handler built without a Logger call
	// still works.
	Logger logr.Logger
}

// NewHandler builds a Handler with a 2s default DB-ping timeout.
func NewHandler(db *sqlx.DB, connectors store.ConnectorRepository, pending store.PendingRepository, reconnect PauseCounter) *Handler {
	return &Handler{
		DB:         db,
		Connectors: connectors,
		Pending:    pending,
		Reconnect:  reconnect,
		Timeout:    2 * time.Second,
	}
}

// Router builds a chi router exposing GET /health, with permissive CORS
// so a browser-based dashboard on another origin can poll it.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(h.logRequests)
	r.Get("/health", h.ServeHealth)
	return r
}

// logRequests records one logr entry per request with its latency;
// a Handler built without a Logger logs nothing.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.Logger.V(1).Info("request served",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// ServeHealth writes the current Report as JSON.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	report := h.build(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Handler) build(ctx context.Context) Report {
	dbReachable, latency := h.pingDatabase(ctx)

	var connectors []ConnectorHealth
	unhealthyCount := 0
	if h.Connectors != nil {
		if list, err := h.Connectors.List(ctx); err == nil {
			for _, c := range list {
				connectors = append(connectors, ConnectorHealth{ID: c.ID, Name: c.Name, Status: c.HealthStatus})
				if c.HealthStatus != store.HealthHealthy {
					unhealthyCount++
				}
			}
		}
	}

	var queueDepth int
	if h.Pending != nil {
		if open, err := h.Pending.ListOpen(ctx); err == nil {
			queueDepth = len(open)
		}
	}

	var paused int
	if h.Reconnect != nil {
		paused = h.Reconnect.PausedCount()
	}

	status := StatusHealthy
	switch {
	case !dbReachable:
		status = StatusUnhealthy
	case unhealthyCount > 0:
		status = StatusDegraded
	}

	return Report{
		Status:            status,
		DatabaseReachable: dbReachable,
		DatabaseLatencyMS: latency.Milliseconds(),
		Connectors:        connectors,
		QueueDepth:        queueDepth,
		PausedConnectors:  paused,
	}
}

func (h *Handler) pingDatabase(ctx context.Context) (bool, time.Duration) {
	if h.DB == nil {
		return false, 0
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	start := time.Now()
	err := h.DB.PingContext(ctx)
	elapsed := time.Since(start)
	return err == nil, elapsed
}
