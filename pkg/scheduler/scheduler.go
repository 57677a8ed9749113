// Package scheduler implements the Scheduler Orchestrator: the single
// in-process set of registered jobs, combining always-on system jobs
// with dynamic per-connector sweep schedules read from the Schedule
// entity.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/engels74/comradarr/pkg/cron"
	"github.com/engels74/comradarr/pkg/mirror"
	"github.com/engels74/comradarr/pkg/pending"
	"github.com/engels74/comradarr/pkg/reconnect"
	"github.com/engels74/comradarr/pkg/shared/logging"
	"github.com/engels74/comradarr/pkg/store"
	"github.com/engels74/comradarr/pkg/sweep"
)

// Notifier is the outbound notification callback the orchestrator
// invokes around sweep lifecycle events. pkg/notify's Dispatcher
// satisfies this.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any)
}

// TargetBuilder resolves one connector's current sweep.Target (its
// client, throttle profile, timezone, weights and batch thresholds)
// from the connector record and the schedule that selected it. The
// caller closes over the connector client registry and the settings
// bridge.
type TargetBuilder func(ctx context.Context, c store.Connector, s store.Schedule) (sweep.Target, error)

const (
	jobPendingPoll           = "system:pendingCommandPoll"
	jobCleanupPendingTimeout = "system:cleanupPendingCommandsTimeout"
	jobCaptureSnapshots      = "system:captureCompletionSnapshots"
	jobPruneSnapshots        = "system:pruneOldSnapshots"
	jobReconnectTick         = "system:reconnectTick"
	jobLogPrune              = "system:logPrune"
	jobThrottleWindowReset   = "system:throttleWindowReset"
)

// pendingPollInterval is the Pending Command Tracker's own polling
// cadence, independent of the hourly timeout/purge cleanup.
const pendingPollInterval = 30 * time.Second

// job tracks one registered job's cancellation and reentrancy state.
// running is CAS-guarded rather than mutex-guarded so a late fire can
// check-and-drop without blocking on the job that is still in flight.
type job struct {
	cancel   context.CancelFunc
	running  int32
	schedule store.Schedule
}

// Orchestrator is the Scheduler Orchestrator.
type Orchestrator struct {
	Schedules  store.ScheduleRepository
	Connectors store.ConnectorRepository
	Cron       *cron.Engine
	Sweep      *sweep.Runner
	Pending    *pending.Tracker
	Reconnect  *reconnect.Supervisor
	Snapshots  *mirror.SnapshotTracker
	Notifier   Notifier
	Build      TargetBuilder

	// SnapshotRetention bounds pruneOldSnapshots; defaults to 30 days.
	SnapshotRetention time.Duration
	// LogPrune runs the logPrune system job when non-nil (log
	// persistence enabled); left nil, the job is never registered.
	LogPrune func(ctx context.Context) error

	Log func(logging.Fields)

	mu      sync.Mutex
	jobs    map[string]*job
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// NewOrchestrator builds an Orchestrator from its collaborators.
func NewOrchestrator(
	schedules store.ScheduleRepository,
	connectors store.ConnectorRepository,
	cronEngine *cron.Engine,
	sweepRunner *sweep.Runner,
	pendingTracker *pending.Tracker,
	reconnectSupervisor *reconnect.Supervisor,
	snapshots *mirror.SnapshotTracker,
	build TargetBuilder,
) *Orchestrator {
	return &Orchestrator{
		Schedules:         schedules,
		Connectors:        connectors,
		Cron:              cronEngine,
		Sweep:             sweepRunner,
		Pending:           pendingTracker,
		Reconnect:         reconnectSupervisor,
		Snapshots:         snapshots,
		Build:             build,
		SnapshotRetention: 30 * 24 * time.Hour,
	}
}

func (o *Orchestrator) log(f logging.Fields) {
	if o.Log != nil {
		o.Log(f)
	}
}

// Start registers the fixed system jobs and the current set of
// enabled Schedule rows, then returns immediately; every job runs in
// its own goroutine until Stop is called. Calling Start twice without
// an intervening Stop is a no-op (the idempotence the orchestrator
// names).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.jobs = make(map[string]*job)
	g, gctx := errgroup.WithContext(runCtx)
	o.group = g
	o.started = true
	o.mu.Unlock()

	g.Go(func() error { o.runFixedJob(gctx, jobReconnectTick, 30*time.Second, o.tickReconnect); return nil })
	g.Go(func() error { o.runFixedJob(gctx, jobThrottleWindowReset, 5*time.Second, o.tickThrottleWindowReset); return nil })
	g.Go(func() error { o.runFixedJob(gctx, jobPendingPoll, pendingPollInterval, o.tickPendingPoll); return nil })
	g.Go(func() error {
		o.runFixedJob(gctx, jobCleanupPendingTimeout, time.Hour, o.tickCleanupPendingTimeout)
		return nil
	})
	g.Go(func() error { o.runFixedJob(gctx, jobCaptureSnapshots, time.Hour, o.tickCaptureSnapshots); return nil })
	g.Go(func() error { o.runFixedJob(gctx, jobPruneSnapshots, 24*time.Hour, o.tickPruneSnapshots); return nil })
	if o.LogPrune != nil {
		g.Go(func() error { o.runFixedJob(gctx, jobLogPrune, 24*time.Hour, o.LogPrune); return nil })
	}

	return o.RefreshDynamicSchedules(gctx)
}

// Stop cancels every registered job and waits for them to exit: each
// in-flight sweep finishes its current registry row before its
// goroutine returns, since sweep.Runner.Run only checks ctx between
// registry rows, not mid-dispatch.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	cancel := o.cancel
	g := o.group
	o.started = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		return g.Wait()
	}
	return nil
}

// RefreshDynamicSchedules re-reads enabled Schedule rows and diffs
// them against the currently registered schedule jobs: new rows are
// started, removed/disabled rows are cancelled, and rows whose
// cron expression, timezone, connector, or throttle profile changed
// are cancelled and restarted. Unchanged jobs are left running.
func (o *Orchestrator) RefreshDynamicSchedules(ctx context.Context) error {
	schedules, err := o.Schedules.ListEnabled(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(schedules))
	for _, s := range schedules {
		id := scheduleJobID(s.ID)
		seen[id] = true

		if existing, ok := o.jobs[id]; ok {
			if sameSchedule(existing.schedule, s) {
				continue
			}
			existing.cancel()
			delete(o.jobs, id)
		}

		jobCtx, cancel := context.WithCancel(ctx)
		j := &job{cancel: cancel, schedule: s}
		o.jobs[id] = j

		sched := s
		o.group.Go(func() error { o.runScheduleJob(jobCtx, sched); return nil })
	}

	for id, j := range o.jobs {
		if isScheduleJobID(id) && !seen[id] {
			j.cancel()
			delete(o.jobs, id)
		}
	}

	return nil
}

func scheduleJobID(id int64) string {
	return "schedule:" + strconv.FormatInt(id, 10)
}

func isScheduleJobID(id string) bool {
	return strings.HasPrefix(id, "schedule:")
}

func sameSchedule(a, b store.Schedule) bool {
	return a.CronExpression == b.CronExpression &&
		a.Timezone == b.Timezone &&
		int64Ptr(a.ConnectorID) == int64Ptr(b.ConnectorID) &&
		int64Ptr(a.ThrottleProfileID) == int64Ptr(b.ThrottleProfileID)
}

func int64Ptr(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// register looks up or creates the job bookkeeping entry for a fixed
// system job id.
func (o *Orchestrator) register(id string) *job {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		j = &job{}
		o.jobs[id] = j
	}
	return j
}

// runFixedJob runs fn on a fixed interval until ctx is cancelled, CAS
// guarding against overlapping fires.
func (o *Orchestrator) runFixedJob(ctx context.Context, id string, interval time.Duration, fn func(ctx context.Context) error) {
	j := o.register(id)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.fire(ctx, id, j, fn)
		}
	}
}

func (o *Orchestrator) fire(ctx context.Context, id string, j *job, fn func(ctx context.Context) error) {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		o.log(logging.NewFields().Component("scheduler").Operation("fire_dropped").Custom("job_id", id))
		return
	}
	defer atomic.StoreInt32(&j.running, 0)

	if err := fn(ctx); err != nil {
		o.log(logging.NewFields().Component("scheduler").Operation("fire_error").Custom("job_id", id).Error(err))
	}
}

// runScheduleJob drives one dynamic sweep schedule: it runs a single
// synthetic catch-up fire if one occurrence was missed since the
// schedule's last recorded run, then waits for each subsequent cron
// occurrence until ctx is cancelled.
func (o *Orchestrator) runScheduleJob(ctx context.Context, s store.Schedule) {
	id := scheduleJobID(s.ID)
	j := o.register(id)

	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}

	since := time.Time{}
	if s.LastRunAt != nil {
		since = *s.LastRunAt
	}
	if caught, err := o.Cron.CatchUp(s.CronExpression, tz, since, time.Now()); err == nil && !caught.IsZero() {
		o.fireSchedule(ctx, id, j, s)
	}

	for {
		next, err := o.Cron.Next(s.CronExpression, tz, time.Now())
		if err != nil {
			o.log(logging.NewFields().Component("scheduler").Operation("schedule_invalid").Custom("schedule_id", s.ID).Error(err))
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			o.fireSchedule(ctx, id, j, s)
		}
	}
}

func (o *Orchestrator) fireSchedule(ctx context.Context, id string, j *job, s store.Schedule) {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		o.log(logging.NewFields().Component("scheduler").Operation("fire_dropped").Custom("job_id", id))
		return
	}
	defer atomic.StoreInt32(&j.running, 0)

	connectors, err := o.resolveConnectors(ctx, s)
	if err != nil {
		o.log(logging.NewFields().Component("scheduler").Operation("schedule_connector_missing").Custom("schedule_id", s.ID).Error(err))
		return
	}

	for _, c := range connectors {
		o.sweepConnector(ctx, s, c)
	}

	now := time.Now()
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if next, nextErr := o.Cron.Next(s.CronExpression, tz, now); nextErr == nil {
		_ = o.Schedules.UpdateRunTimes(ctx, s.ID, now, next)
	}
}

// resolveConnectors returns the connectors a schedule fires against.
// A schedule pinned to one connector (ConnectorID != nil) always runs
// against it, even if unhealthy, so an operator-triggered one-off sync
// still surfaces the failure. A schedule with a nil ConnectorID means
// "all connectors": every enabled connector whose health is healthy or
// unknown is swept; unhealthy and offline ones are skipped and logged
// rather than attempted.
func (o *Orchestrator) resolveConnectors(ctx context.Context, s store.Schedule) ([]store.Connector, error) {
	if s.ConnectorID != nil {
		c, err := o.Connectors.Get(ctx, *s.ConnectorID)
		if err != nil {
			return nil, err
		}
		return []store.Connector{*c}, nil
	}

	all, err := o.Connectors.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	healthy := make([]store.Connector, 0, len(all))
	var skipped []int64
	for _, c := range all {
		if c.HealthStatus == store.HealthHealthy || c.HealthStatus == store.HealthUnknown {
			healthy = append(healthy, c)
			continue
		}
		skipped = append(skipped, c.ID)
	}
	if len(skipped) > 0 {
		o.log(logging.NewFields().Component("scheduler").Operation("sweep_skipped_unhealthy").
			Custom("schedule_id", s.ID).Custom("connector_ids", skipped))
	}
	return healthy, nil
}

// sweepConnector runs one connector's sweep for schedule s and reports
// its outcome. Split out of fireSchedule so an "all connectors"
// schedule can invoke it once per enabled connector.
func (o *Orchestrator) sweepConnector(ctx context.Context, s store.Schedule, c store.Connector) {
	target, err := o.Build(ctx, c, s)
	if err != nil {
		o.log(logging.NewFields().Component("scheduler").Operation("schedule_target_error").Custom("schedule_id", s.ID).Custom("connector_id", c.ID).Error(err))
		return
	}

	o.notify(ctx, "sweep_started", map[string]any{"connector_id": c.ID, "schedule_id": s.ID})

	activity, err := o.Sweep.Run(ctx, target)
	if err != nil {
		o.notify(ctx, "sync_failed", map[string]any{"connector_id": c.ID, "schedule_id": s.ID, "error": err.Error()})
		o.log(activity.LogFields().Custom("schedule_id", s.ID).Error(err))
		return
	}

	o.notify(ctx, "sweep_completed", map[string]any{
		"connector_id": c.ID,
		"schedule_id":  s.ID,
		"dispatched":   activity.Dispatched,
		"deferred":     activity.Deferred,
		"paused_early": activity.PausedEarly,
	})
	o.log(activity.LogFields().Custom("schedule_id", s.ID))
}

func (o *Orchestrator) notify(ctx context.Context, eventType string, payload map[string]any) {
	if o.Notifier != nil {
		o.Notifier.Notify(ctx, eventType, payload)
	}
}

func (o *Orchestrator) tickReconnect(ctx context.Context) error {
	result, err := o.Reconnect.Tick(ctx)
	if err != nil {
		return err
	}
	o.log(result.LogFields())
	return nil
}

// tickThrottleWindowReset exists for parity with the documented
// system-job set: the Throttle Governor's minute window and calendar
// day resets are evaluated lazily at admission time (rate.Limiter and
// the calendar-day check in Admit), so there is no state for this
// tick to touch.
func (o *Orchestrator) tickThrottleWindowReset(ctx context.Context) error {
	return nil
}

func (o *Orchestrator) tickPendingPoll(ctx context.Context) error {
	result, err := o.Pending.Tick(ctx)
	if err != nil {
		return err
	}
	o.log(result.LogFields())
	return nil
}

// tickCleanupPendingTimeout runs both the 24h force-close sweep and
// the completed-row retention purge: the system-job set names only
// the timeout half explicitly, but the retention purge shares the
// same hourly cadence and the same table, so it rides along rather
// than getting its own ticker.
func (o *Orchestrator) tickCleanupPendingTimeout(ctx context.Context) error {
	n, err := o.Pending.TimeoutSweep(ctx)
	if err != nil {
		return err
	}
	o.log(logging.NewFields().Component("pending").Operation("timeout_sweep").Custom("closed", n))

	purged, err := o.Pending.PurgeCompleted(ctx)
	if err != nil {
		return err
	}
	o.log(logging.NewFields().Component("pending").Operation("purge_completed").Custom("removed", purged))
	return nil
}

func (o *Orchestrator) tickCaptureSnapshots(ctx context.Context) error {
	connectors, err := o.Connectors.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, c := range connectors {
		if err := o.Snapshots.Capture(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) tickPruneSnapshots(ctx context.Context) error {
	retention := o.SnapshotRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	n, err := o.Snapshots.PruneOlderThan(ctx, retention)
	if err != nil {
		return err
	}
	o.log(logging.NewFields().Component("mirror").Operation("prune_snapshots").Custom("removed", n))
	return nil
}
