// Package throttle implements the Throttle Governor: the single
// authoritative admission decision for every outbound request a sweep
// or the pending command tracker wants to make against a connector.
// State is process-resident, keyed per connector, and guarded by a
// per-connector mutex rather than a single global lock so unrelated
// connectors never contend with each other.
package throttle

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// errUpstreamRateLimited is fed to each connector's circuit breaker on
// every OnUpstreamRateLimited call, purely to drive its trip counting;
// it never escapes this package.
var errUpstreamRateLimited = sharederrors.FailedTo("upstream rate limit signal", nil)

// Decision is the Governor's admission verdict.
type Decision string

const (
	DecisionAllow      Decision = "allow"
	DecisionDefer      Decision = "defer"
	DecisionPauseUntil Decision = "pause_until"
)

// PauseReason names why the Governor paused a connector.
type PauseReason string

const (
	PauseReasonDailyBudgetExhausted PauseReason = "daily_budget_exhausted"
	PauseReasonUpstreamRateLimited  PauseReason = "upstream_rate_limited"
	PauseReasonManual               PauseReason = "manual"
)

// Result is the outcome of an admission request.
type Result struct {
	Decision    Decision
	RetryAfter  time.Duration
	PausedUntil time.Time
	PauseReason PauseReason
}

func allow() Result { return Result{Decision: DecisionAllow} }

func deferFor(d time.Duration) Result {
	return Result{Decision: DecisionDefer, RetryAfter: d}
}

func pauseUntil(t time.Time, reason PauseReason) Result {
	return Result{Decision: DecisionPauseUntil, PausedUntil: t, PauseReason: reason}
}

// Profile is a Throttle Profile: the tunables an admission
// decision is evaluated against.
type Profile struct {
	Name                 string
	RequestsPerMinute    int
	DailyBudget          *int // nil means unlimited
	BatchSize            int
	BatchCooldownSeconds int
	RateLimitPauseSeconds int
	IsDefault            bool
}

// state is one connector's process-resident throttle state
// (the Throttle State).
type state struct {
	mu sync.Mutex

	limiter *rate.Limiter

	requestsToday  int
	dayWindowStart time.Time

	isPaused    bool
	pausedUntil time.Time
	pauseReason PauseReason

	consecutiveInBatch int
	lastBatchAt        time.Time

	breaker *gobreaker.CircuitBreaker
}

// Governor is the process-wide Throttle Governor. Connectors register
// lazily on first admission request.
type Governor struct {
	mu     sync.Mutex
	states map[int64]*state
	now    func() time.Time
}

// NewGovernor constructs an empty Governor.
func NewGovernor() *Governor {
	return &Governor{
		states: make(map[int64]*state),
		now:    time.Now,
	}
}

func (g *Governor) stateFor(connectorID int64, profile Profile) *state {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.states[connectorID]
	if !ok {
		s = &state{
			limiter:        rate.NewLimiter(ratePerSecond(profile.RequestsPerMinute), profile.RequestsPerMinute),
			dayWindowStart: g.now(),
			breaker:        newRateLimitBreaker(profile),
		}
		g.states[connectorID] = s
	}
	return s
}

// newRateLimitBreaker trips after three upstream rate-limit signals
// within a minute, so a connector that is being hammered with 429s
// gets a longer escalated pause instead of repeatedly re-pausing for
// just profile.RateLimitPauseSeconds.
func newRateLimitBreaker(profile Profile) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "throttle-rate-limit",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Duration(profile.RateLimitPauseSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

func ratePerSecond(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(perMinute) / 60.0)
}

// Admit evaluates the admission rules in order for
// connectorID under profile, in tz (the connector's configured
// timezone, for calendar-day daily-budget resets).
func (g *Governor) Admit(connectorID int64, profile Profile, tz *time.Location) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = deferFor(5 * time.Second)
			err = sharederrors.FailedToWithDetails("admit request", "throttle", "", errFromRecover(r))
		}
	}()

	s := g.stateFor(connectorID, profile)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := g.now()
	if tz == nil {
		tz = time.UTC
	}

	// Rule 1: an active pause wins outright.
	if s.isPaused && now.Before(s.pausedUntil) {
		return pauseUntil(s.pausedUntil, s.pauseReason), nil
	}
	if s.isPaused && !now.Before(s.pausedUntil) {
		s.isPaused = false
		s.pauseReason = ""
	}

	// Rule 3: calendar-day reset in the connector's timezone.
	if !sameCalendarDay(s.dayWindowStart.In(tz), now.In(tz)) {
		s.requestsToday = 0
		s.dayWindowStart = now
	}

	// Rule 4: daily budget.
	if profile.DailyBudget != nil && s.requestsToday >= *profile.DailyBudget {
		nextDay := startOfNextDay(now, tz)
		s.isPaused = true
		s.pausedUntil = nextDay
		s.pauseReason = PauseReasonDailyBudgetExhausted
		return pauseUntil(nextDay, PauseReasonDailyBudgetExhausted), nil
	}

	// Batch pacing: a cooldown after batchSize consecutive admissions
	// is sweep-internal pacing, not a pause, so it reports as defer.
	if profile.BatchSize > 0 && s.consecutiveInBatch >= profile.BatchSize {
		cooldownEnd := s.lastBatchAt.Add(time.Duration(profile.BatchCooldownSeconds) * time.Second)
		if now.Before(cooldownEnd) {
			return deferFor(cooldownEnd.Sub(now)), nil
		}
		s.consecutiveInBatch = 0
	}

	// Rule 5 (and the rate.Limiter's own minute-window accounting,
	// rule 2): the limiter's reservation tells us whether this second
	// would exceed requestsPerMinute.
	reservation := s.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return deferFor(time.Second), nil
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return deferFor(delay), nil
	}

	// Rule 6: record the admission.
	s.requestsToday++
	s.consecutiveInBatch++
	s.lastBatchAt = now

	return allow(), nil
}

// OnUpstreamRateLimited records an upstream RateLimited response: the
// caller (pkg/sweep, on a connector.Error of kind ErrorRateLimited)
// observed a 429 and the Governor pauses the connector for at least
// profile.RateLimitPauseSeconds.
func (g *Governor) OnUpstreamRateLimited(connectorID int64, profile Profile, retryAfter time.Duration) {
	s := g.stateFor(connectorID, profile)

	_, _ = s.breaker.Execute(func() (interface{}, error) {
		return nil, errUpstreamRateLimited
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	pauseDuration := time.Duration(profile.RateLimitPauseSeconds) * time.Second
	if retryAfter > pauseDuration {
		pauseDuration = retryAfter
	}
	if s.breaker.State() == gobreaker.StateOpen {
		pauseDuration *= 3
	}

	s.isPaused = true
	s.pausedUntil = g.now().Add(pauseDuration)
	s.pauseReason = PauseReasonUpstreamRateLimited
}

// Resume clears any active pause for connectorID, e.g. via a manual
// "resume" operator action.
func (g *Governor) Resume(connectorID int64) {
	g.mu.Lock()
	s, ok := g.states[connectorID]
	g.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPaused = false
	s.pauseReason = ""
	s.pausedUntil = time.Time{}
}

func sameCalendarDay(a, b time.Time) bool {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	return ya == yb && ma == mb && da == db
}

func startOfNextDay(t time.Time, tz *time.Location) time.Time {
	local := t.In(tz)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, tz)
}

func errFromRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return sharederrors.FailedTo("recover from panic", nil)
}
