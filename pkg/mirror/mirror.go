// Package mirror implements the discovery/sync subsystem: it
// reconciles an upstream connector's library into the local content
// mirror and identifies the gaps (monitored, no file) and upgrade
// candidates (monitored, has file, quality cutoff not met) a sweep
// should register for search. A Content Item here stands for the
// per-connector searchable unit — an episode for Sonarr/Whisparr, a
// movie for Radarr — not the full series/season hierarchy; season
// aggregation for the Episode Batcher is computed separately from
// the content mirror at selection time.
package mirror

import (
	"context"
	"time"

	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/shared/logging"
	"github.com/engels74/comradarr/pkg/store"
)

// Mode selects which of the two sweep kinds Reconcile runs.
type Mode string

const (
	ModeIncremental      Mode = "incremental"
	ModeFullReconciliation Mode = "full_reconciliation"
)

func contentTypeFor(connectorType connector.Type) store.ContentType {
	if connectorType == connector.TypeRadarr {
		return store.ContentTypeMovie
	}
	return store.ContentTypeEpisode
}

// Diff summarizes one Reconcile call, for the sweep's activity log.
type Diff struct {
	Added              int
	Updated            int
	Removed            int
	GapCandidates      []store.ContentItem
	UpgradeCandidates  []store.ContentItem
}

// Notifier receives the outbound notification callback for
// sync_completed/sync_failed events, fired around the mirror
// reconciliation itself (distinct from the sweep-wide
// sweep_started/sweep_completed pair the scheduler emits).
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any)
}

// Syncer reconciles one connector's upstream library into the
// content mirror.
type Syncer struct {
	Content  store.ContentRepository
	Notifier Notifier
}

// NewSyncer builds a Syncer backed by content.
func NewSyncer(content store.ContentRepository) *Syncer {
	return &Syncer{Content: content}
}

// Reconcile runs the sync subsystem's §4.6 logic for one connector:
// an incremental sweep calls LibrarySince(state.lastSyncedAt); a full
// reconciliation calls FullLibrary and deletes local content absent
// from the result.
func (s *Syncer) Reconcile(ctx context.Context, connectorID int64, connectorType connector.Type, client connector.Client, mode Mode, lastSyncedAt time.Time) (diffResult Diff, err error) {
	defer func() {
		if s.Notifier == nil {
			return
		}
		if err != nil {
			s.Notifier.Notify(ctx, "sync_failed", map[string]any{"connector_id": connectorID, "error": err.Error()})
			return
		}
		s.Notifier.Notify(ctx, "sync_completed", map[string]any{
			"connector_id": connectorID,
			"added":        diffResult.Added,
			"updated":      diffResult.Updated,
			"removed":      diffResult.Removed,
		})
	}()

	var items []connector.LibraryItem

	switch mode {
	case ModeIncremental:
		items, err = client.LibrarySince(ctx, lastSyncedAt)
	case ModeFullReconciliation:
		items, err = client.FullLibrary(ctx)
	default:
		items, err = client.LibrarySince(ctx, lastSyncedAt)
	}
	if err != nil {
		return Diff{}, err
	}

	contentType := contentTypeFor(connectorType)
	diff := Diff{}
	upstreamIDs := make([]int64, 0, len(items))

	for _, item := range items {
		upstreamIDs = append(upstreamIDs, item.UpstreamID)

		existing, getErr := s.Content.Get(ctx, connectorID, item.UpstreamID, contentType)
		isNew := getErr == store.ErrNotFound

		stored := &store.ContentItem{
			ConnectorID:         connectorID,
			Type:                contentType,
			UpstreamID:          item.UpstreamID,
			Title:               item.Title,
			Monitored:           item.Monitored,
			HasFile:             item.HasFile,
			QualityCutoffNotMet: item.QualityCutoffNotMet,
		}
		if item.Year != 0 {
			year := item.Year
			stored.Year = &year
		}
		if item.SeriesUpstreamID != 0 {
			seriesID := item.SeriesUpstreamID
			stored.SeriesUpstreamID = &seriesID
		}
		if item.SeasonNumber != 0 || item.SeriesUpstreamID != 0 {
			season := item.SeasonNumber
			stored.SeasonNumber = &season
		}
		if !item.NextAiring.IsZero() {
			nextAiring := item.NextAiring
			stored.SeasonNextAiring = &nextAiring
		}

		id, upsertErr := s.Content.Upsert(ctx, stored)
		if upsertErr != nil {
			return diff, upsertErr
		}
		stored.ID = id

		if isNew {
			diff.Added++
		} else if existing != nil && contentChanged(existing, stored) {
			diff.Updated++
		}

		if stored.Monitored && !stored.HasFile {
			diff.GapCandidates = append(diff.GapCandidates, *stored)
		} else if stored.Monitored && stored.HasFile && stored.QualityCutoffNotMet {
			diff.UpgradeCandidates = append(diff.UpgradeCandidates, *stored)
		}
	}

	if mode == ModeFullReconciliation {
		removed, delErr := s.Content.DeleteMissing(ctx, connectorID, contentType, upstreamIDs)
		if delErr != nil {
			return diff, delErr
		}
		diff.Removed = int(removed)
	}

	return diff, nil
}

func contentChanged(existing, latest *store.ContentItem) bool {
	return existing.Monitored != latest.Monitored ||
		existing.HasFile != latest.HasFile ||
		existing.QualityCutoffNotMet != latest.QualityCutoffNotMet ||
		existing.Title != latest.Title
}

// LogFields returns structured fields describing diff, for the sweep
// runner's activity log entry.
func (d Diff) LogFields(connectorID int64) logging.Fields {
	return logging.NewFields().
		Component("mirror").
		Operation("reconcile").
		Custom("connector_id", connectorID).
		Custom("added", d.Added).
		Custom("updated", d.Updated).
		Custom("removed", d.Removed).
		Custom("gap_candidates", len(d.GapCandidates)).
		Custom("upgrade_candidates", len(d.UpgradeCandidates))
}
