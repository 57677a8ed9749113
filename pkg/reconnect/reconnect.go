// Package reconnect implements the Auto-Reconnect Supervisor: a
// background loop that probes unhealthy or offline connectors with
// capped exponential backoff and jitter, and clears them back to
// healthy once a probe succeeds.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/shared/logging"
	"github.com/engels74/comradarr/pkg/store"
)

// BackoffConfig configures the reconnect delay formula (documented
// defaults: base=30s, max=30m, multiplier=2, maxFailures=10).
type BackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxFailures int
}

// DefaultBackoffConfig returns the documented defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        30 * time.Second,
		Max:         30 * time.Minute,
		Multiplier:  2,
		MaxFailures: 10,
	}
}

func (c BackoffConfig) newExponentialBackOff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.Base),
		backoff.WithMaxInterval(c.Max),
		backoff.WithMultiplier(c.Multiplier),
		backoff.WithRandomizationFactor(0.3),
	)
}

// ClientResolver returns the Upstream Client for connectorID, or false
// if the connector is unknown.
type ClientResolver func(connectorID int64) (connector.Client, bool)

// Notifier receives the outbound notification callback for
// connector_health_changed events.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any)
}

// state is one connector's process-resident reconnect state (the
// Reconnect State).
type state struct {
	mu sync.Mutex

	consecutiveFailures int
	nextAttemptAt       time.Time
	lastAttemptAt       time.Time
	paused              bool

	backoff *backoff.ExponentialBackOff
	breaker *gobreaker.CircuitBreaker
}

// Supervisor is the process-wide Auto-Reconnect Supervisor. Connectors
// register lazily on first probe.
type Supervisor struct {
	mu     sync.Mutex
	states map[int64]*state

	Connectors store.ConnectorRepository
	Clients    ClientResolver
	Backoff    BackoffConfig
	Notifier   Notifier

	now func() time.Time
}

// NewSupervisor builds a Supervisor with the default backoff
// configuration.
func NewSupervisor(connectors store.ConnectorRepository, clients ClientResolver) *Supervisor {
	return &Supervisor{
		states:     make(map[int64]*state),
		Connectors: connectors,
		Clients:    clients,
		Backoff:    DefaultBackoffConfig(),
		now:        time.Now,
	}
}

func (s *Supervisor) stateFor(connectorID int64) *state {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[connectorID]
	if !ok {
		st = &state{
			backoff: s.Backoff.newExponentialBackOff(),
			breaker: newProbeBreaker(),
		}
		s.states[connectorID] = st
	}
	return st
}

func newProbeBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reconnect-probe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Result summarizes one Tick call.
type Result struct {
	Probed    int
	Recovered int
	StillDown int
}

// LogFields returns structured fields describing r, for the
// scheduler's per-tick log entry.
func (r Result) LogFields() logging.Fields {
	return logging.NewFields().
		Component("reconnect").
		Operation("tick").
		Custom("probed", r.Probed).
		Custom("recovered", r.Recovered).
		Custom("still_down", r.StillDown)
}

// Tick probes every connector currently unhealthy or offline whose
// reconnect state is due, per the Auto-Reconnect Supervisor's fixed
// cadence.
func (s *Supervisor) Tick(ctx context.Context) (Result, error) {
	connectors, err := s.Connectors.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	now := s.now()
	for _, c := range connectors {
		if c.HealthStatus != store.HealthUnhealthy && c.HealthStatus != store.HealthOffline {
			continue
		}

		st := s.stateFor(c.ID)
		st.mu.Lock()
		due := !st.paused && !now.Before(st.nextAttemptAt)
		st.mu.Unlock()
		if !due {
			continue
		}

		result.Probed++
		if s.probe(ctx, c.ID) {
			result.Recovered++
		} else {
			result.StillDown++
		}
	}

	return result, nil
}

// ManualReconnect probes connectorID immediately, bypassing the
// backoff schedule. A paused connector is still skipped: pausing is an
// explicit operator override that a manual reconnect must not
// silently defeat.
func (s *Supervisor) ManualReconnect(ctx context.Context, connectorID int64) (bool, error) {
	st := s.stateFor(connectorID)
	st.mu.Lock()
	paused := st.paused
	st.mu.Unlock()
	if paused {
		return false, nil
	}
	return s.probe(ctx, connectorID), nil
}

// Pause marks connectorID as paused: the supervisor skips it until
// Resume is called, regardless of its health status.
func (s *Supervisor) Pause(connectorID int64) {
	st := s.stateFor(connectorID)
	st.mu.Lock()
	st.paused = true
	st.mu.Unlock()
}

// Resume clears connectorID's paused flag and resets its backoff, so
// the next tick probes it immediately.
func (s *Supervisor) Resume(connectorID int64) {
	st := s.stateFor(connectorID)
	st.mu.Lock()
	st.paused = false
	st.consecutiveFailures = 0
	st.nextAttemptAt = time.Time{}
	st.backoff.Reset()
	st.mu.Unlock()
}

// PausedCount returns the number of connectors currently paused, for
// the exposed health endpoint.
func (s *Supervisor) PausedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, st := range s.states {
		st.mu.Lock()
		if st.paused {
			n++
		}
		st.mu.Unlock()
	}
	return n
}

// probe pings connectorID's client once and advances its reconnect
// state accordingly, returning whether the probe succeeded.
func (s *Supervisor) probe(ctx context.Context, connectorID int64) bool {
	st := s.stateFor(connectorID)

	client, ok := s.Clients(connectorID)
	if !ok {
		return false
	}

	previous, err := s.Connectors.Get(ctx, connectorID)
	var previousHealth store.HealthStatus
	if err == nil {
		previousHealth = previous.HealthStatus
	}

	now := s.now()
	st.mu.Lock()
	st.lastAttemptAt = now
	st.mu.Unlock()

	_, pingErr := st.breaker.Execute(func() (interface{}, error) {
		return nil, client.Ping(ctx)
	})

	st.mu.Lock()
	defer st.mu.Unlock()

	if pingErr != nil {
		st.consecutiveFailures++
		if st.consecutiveFailures > s.Backoff.MaxFailures {
			st.consecutiveFailures = s.Backoff.MaxFailures
		}
		st.nextAttemptAt = now.Add(st.backoff.NextBackOff())
		_ = s.Connectors.UpdateHealth(ctx, connectorID, store.HealthUnhealthy)
		s.notifyHealthChange(ctx, connectorID, previousHealth, store.HealthUnhealthy)
		return false
	}

	st.consecutiveFailures = 0
	st.nextAttemptAt = time.Time{}
	st.backoff.Reset()
	_ = s.Connectors.UpdateHealth(ctx, connectorID, store.HealthHealthy)
	s.notifyHealthChange(ctx, connectorID, previousHealth, store.HealthHealthy)
	return true
}

func (s *Supervisor) notifyHealthChange(ctx context.Context, connectorID int64, previous, current store.HealthStatus) {
	if s.Notifier == nil || previous == current {
		return
	}
	s.Notifier.Notify(ctx, "connector_health_changed", map[string]any{
		"connector_id": connectorID,
		"previous":     string(previous),
		"current":      string(current),
	})
}
