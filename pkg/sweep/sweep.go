// Package sweep implements the Sweep Runner: the discovery (mirror
// reconciliation) and dispatch (priority selection, batching, throttle
// admission, command dispatch) phases for one connector.
package sweep

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/engels74/comradarr/pkg/batch"
	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/mirror"
	"github.com/engels74/comradarr/pkg/registry"
	"github.com/engels74/comradarr/pkg/shared/logging"
	"github.com/engels74/comradarr/pkg/store"
	"github.com/engels74/comradarr/pkg/throttle"
)

// Target bundles everything one connector's sweep needs: the caller
// (pkg/scheduler) resolves these from the connector record, its
// throttle profile, and the settings bridge before calling Run.
type Target struct {
	ConnectorID     int64
	ConnectorType   connector.Type
	Client          connector.Client
	Mode            mirror.Mode
	LastSyncedAt    time.Time
	ThrottleProfile throttle.Profile
	Timezone        *time.Location
	Weights         registry.Weights
	MaxAttempts     int
	BatchThresholds batch.Thresholds
}

// Activity holds one sweep's counts and duration: Run returns it and
// the scheduler logs it (LogFields) and reports its counts in the
// sweep_completed notification. Nothing writes it to the
// sweep_activity table.
type Activity struct {
	ConnectorID int64
	Added       int
	Updated     int
	Removed     int
	Dispatched  int
	Deferred    int
	PausedEarly bool
	PauseReason throttle.PauseReason
	Duration    time.Duration
}

// Runner executes one connector's sweep end to end.
type Runner struct {
	Mirror   *mirror.Syncer
	Registry *registry.Manager
	Content  store.ContentRepository
	Pending  store.PendingRepository
	Throttle *throttle.Governor

	sf singleflight.Group
}

// NewRunner builds a Runner from its collaborators.
func NewRunner(mirrorSyncer *mirror.Syncer, registryManager *registry.Manager, content store.ContentRepository, pending store.PendingRepository, gov *throttle.Governor) *Runner {
	return &Runner{Mirror: mirrorSyncer, Registry: registryManager, Content: content, Pending: pending, Throttle: gov}
}

// Run executes target's sweep, collapsing concurrent fires for the
// same connector into a single run (the reentrancy guard).
func (r *Runner) Run(ctx context.Context, target Target) (Activity, error) {
	key := fmt.Sprintf("connector:%d", target.ConnectorID)
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.run(ctx, target)
	})
	if err != nil {
		return Activity{}, err
	}
	return v.(Activity), nil
}

func (r *Runner) run(ctx context.Context, target Target) (Activity, error) {
	start := time.Now()

	diff, err := r.Mirror.Reconcile(ctx, target.ConnectorID, target.ConnectorType, target.Client, target.Mode, target.LastSyncedAt)
	if err != nil {
		return Activity{}, err
	}

	activity := Activity{ConnectorID: target.ConnectorID, Added: diff.Added, Updated: diff.Updated, Removed: diff.Removed}

	if err := r.Registry.Discover(ctx, target.ConnectorID, diff.GapCandidates, store.SearchTypeGap, target.Weights, target.MaxAttempts); err != nil {
		activity.Duration = time.Since(start)
		return activity, err
	}
	if err := r.Registry.Discover(ctx, target.ConnectorID, diff.UpgradeCandidates, store.SearchTypeUpgrade, target.Weights, target.MaxAttempts); err != nil {
		activity.Duration = time.Since(start)
		return activity, err
	}

	entries, err := r.Registry.ListEligible(ctx, target.ConnectorID)
	if err != nil {
		activity.Duration = time.Since(start)
		return activity, err
	}
	entries = r.rescore(ctx, entries, target.Weights, target.MaxAttempts)

	handledEntries := make(map[int64]bool)

	for _, entry := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			activity.Duration = time.Since(start)
			return activity, ctxErr
		}
		if handledEntries[entry.ID] {
			continue
		}

		result, admitErr := r.Throttle.Admit(target.ConnectorID, target.ThrottleProfile, target.Timezone)
		if admitErr != nil {
			activity.Duration = time.Since(start)
			return activity, admitErr
		}

		switch result.Decision {
		case throttle.DecisionPauseUntil:
			activity.PausedEarly = true
			activity.PauseReason = result.PauseReason
			activity.Duration = time.Since(start)
			return activity, nil

		case throttle.DecisionDefer:
			if deferErr := r.Registry.Defer(ctx, entry.ID, result.RetryAfter); deferErr != nil && deferErr != store.ErrConflict {
				activity.Duration = time.Since(start)
				return activity, deferErr
			}
			activity.Deferred++
			continue
		}

		peers := r.seasonPeers(ctx, entry, entries, handledEntries, target.BatchThresholds)
		group := append([]store.RegistryEntry{entry}, peers...)

		if err := r.dispatchGroup(ctx, target, group); err != nil {
			activity.Duration = time.Since(start)
			return activity, err
		}
		activity.Dispatched += len(group)

		for _, e := range group {
			handledEntries[e.ID] = true
		}
	}

	activity.Duration = time.Since(start)
	return activity, nil
}

// rescore recomputes each entry's priority against its current
// content item before the dispatch phase picks from the list: a
// row's age and missing-duration factors grow between sweeps, so the
// priority persisted at discovery time goes stale. Ties, including
// ties produced by an identical recomputed score, break on createdAt
// ascending then id ascending, so the dispatch order stays
// starvation-free within a priority class regardless of database
// row order.
func (r *Runner) rescore(ctx context.Context, entries []store.RegistryEntry, w registry.Weights, maxAttempts int) []store.RegistryEntry {
	now := time.Now()
	for i := range entries {
		item, err := r.Content.GetByID(ctx, entries[i].ContentItemID)
		if err != nil {
			continue
		}
		entries[i].Priority = int(registry.Score(registry.DeriveScoreInput(entries[i], *item, now), w, maxAttempts))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// seasonPeers finds the other not-yet-handled eligible gap entries
// sharing entry's series/season, and decides (via the Episode Batcher)
// whether they should be folded into entry's dispatch as a single
// season search.
func (r *Runner) seasonPeers(ctx context.Context, entry store.RegistryEntry, all []store.RegistryEntry, handled map[int64]bool, thresholds batch.Thresholds) []store.RegistryEntry {
	if entry.SearchType != store.SearchTypeGap {
		return nil
	}

	item, err := r.Content.GetByID(ctx, entry.ContentItemID)
	if err != nil || item.SeriesUpstreamID == nil || item.SeasonNumber == nil {
		return nil
	}

	seasonItems, err := r.Content.ListBySeason(ctx, entry.ConnectorID, *item.SeriesUpstreamID, *item.SeasonNumber)
	if err != nil {
		return nil
	}

	stats := seasonStatistics(seasonItems)
	if batch.Decide(stats, thresholds) != batch.DecisionSeasonSearch {
		return nil
	}

	var peers []store.RegistryEntry
	for _, candidate := range all {
		if candidate.ID == entry.ID || handled[candidate.ID] || candidate.SearchType != store.SearchTypeGap {
			continue
		}
		peerItem, err := r.Content.GetByID(ctx, candidate.ContentItemID)
		if err != nil || peerItem.SeriesUpstreamID == nil || peerItem.SeasonNumber == nil {
			continue
		}
		if *peerItem.SeriesUpstreamID == *item.SeriesUpstreamID && *peerItem.SeasonNumber == *item.SeasonNumber {
			peers = append(peers, candidate)
		}
	}
	return peers
}

func seasonStatistics(items []store.ContentItem) batch.SeasonStatistics {
	stats := batch.SeasonStatistics{TotalEpisodeCount: len(items)}
	for _, item := range items {
		if !item.Monitored {
			continue
		}
		stats.EligibleEpisodeCount++
		if !item.HasFile {
			stats.MissingCount++
		}
		if item.SeasonNextAiring != nil && !item.SeasonNextAiring.IsZero() {
			t := *item.SeasonNextAiring
			stats.NextAiring = &t
		}
	}
	return stats
}

// dispatchGroup posts one command covering group (a single row for an
// individual search, or every peer row for a season search), creates
// the matching Pending Command rows, and transitions each row to
// searching.
func (r *Runner) dispatchGroup(ctx context.Context, target Target, group []store.RegistryEntry) error {
	kind, args, err := r.commandFor(ctx, target, group)
	if err != nil {
		return err
	}

	for _, e := range group {
		if err := r.Registry.Dispatch(ctx, e.ID); err != nil && err != store.ErrConflict {
			return err
		}
	}

	result, err := target.Client.PostCommand(ctx, kind, args)
	if err != nil {
		if cerr, ok := connector.AsError(err); ok && cerr.Kind == connector.ErrorRateLimited {
			r.Throttle.OnUpstreamRateLimited(target.ConnectorID, target.ThrottleProfile, time.Duration(cerr.RetryAfterSeconds)*time.Second)
		}
		for _, e := range group {
			_, _ = r.Registry.Resolve(ctx, e, registry.OutcomeError, err.Error())
		}
		return nil
	}

	for _, e := range group {
		pending := &store.PendingCommand{
			ConnectorID:       target.ConnectorID,
			RegistryID:        e.ID,
			UpstreamCommandID: result.ID,
			ContentItemID:     e.ContentItemID,
			SearchType:        e.SearchType,
			CommandStatus:     store.CommandQueued,
			DispatchedAt:      time.Now(),
		}
		if _, err := r.Pending.Create(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) commandFor(ctx context.Context, target Target, group []store.RegistryEntry) (string, map[string]any, error) {
	item, err := r.Content.GetByID(ctx, group[0].ContentItemID)
	if err != nil {
		return "", nil, err
	}

	if len(group) > 1 && item.SeriesUpstreamID != nil && item.SeasonNumber != nil {
		return "SeasonSearch", map[string]any{
			"seriesId":     *item.SeriesUpstreamID,
			"seasonNumber": *item.SeasonNumber,
		}, nil
	}

	switch target.ConnectorType {
	case connector.TypeRadarr:
		return "MoviesSearch", map[string]any{"movieIds": []int64{item.UpstreamID}}, nil
	default:
		return "EpisodeSearch", map[string]any{"episodeIds": []int64{item.UpstreamID}}, nil
	}
}

// LogFields returns structured fields describing activity, for the
// scheduler's per-sweep log entry.
func (a Activity) LogFields() logging.Fields {
	return logging.NewFields().
		Component("sweep").
		Operation("run").
		Custom("connector_id", a.ConnectorID).
		Custom("added", a.Added).
		Custom("updated", a.Updated).
		Custom("removed", a.Removed).
		Custom("dispatched", a.Dispatched).
		Custom("deferred", a.Deferred).
		Custom("paused_early", a.PausedEarly).
		Duration(a.Duration)
}
