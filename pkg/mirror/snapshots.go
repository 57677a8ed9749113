package mirror

import (
	"context"
	"time"

	"github.com/engels74/comradarr/pkg/store"
)

// SnapshotTracker computes and records Completion Snapshots and
// serves the trend query: append-only monitored/downloaded counts
// per connector, for UI sparklines.
type SnapshotTracker struct {
	Snapshots store.SnapshotRepository
	Content   store.ContentRepository
}

// NewSnapshotTracker builds a SnapshotTracker.
func NewSnapshotTracker(snapshots store.SnapshotRepository, content store.ContentRepository) *SnapshotTracker {
	return &SnapshotTracker{Snapshots: snapshots, Content: content}
}

// Capture computes the current monitored/downloaded counts for
// connectorID from the content mirror and records a snapshot.
func (t *SnapshotTracker) Capture(ctx context.Context, connectorID int64) error {
	items, err := t.Content.ListByConnector(ctx, connectorID)
	if err != nil {
		return err
	}

	var monitored, downloaded int
	for _, item := range items {
		if item.Monitored {
			monitored++
			if item.HasFile {
				downloaded++
			}
		}
	}

	percentBps := 0
	if monitored > 0 {
		percentBps = downloaded * 10000 / monitored
	}

	return t.Snapshots.Record(ctx, &store.CompletionSnapshot{
		ConnectorID:     connectorID,
		CapturedAt:      time.Now(),
		MonitoredCount:  monitored,
		DownloadedCount: downloaded,
		PercentBps:      percentBps,
	})
}

// Trend returns the append-only completion-snapshot series for
// connectorID over the last days days, oldest first.
func (t *SnapshotTracker) Trend(ctx context.Context, connectorID int64, days int) ([]store.CompletionSnapshot, error) {
	return t.Snapshots.Trend(ctx, connectorID, days)
}

// PruneOlderThan runs the pruneOldSnapshots system job: deletes every
// snapshot older than retention (retained no longer than 30 days).
func (t *SnapshotTracker) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return t.Snapshots.PruneOlderThan(ctx, time.Now().Add(-retention))
}
