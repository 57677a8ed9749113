package mirror

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/store"
)

type fakeContentRepo struct {
	byKey map[string]*store.ContentItem
	nextID int64
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{byKey: make(map[string]*store.ContentItem)}
}

func key(connectorID, upstreamID int64, t store.ContentType) string {
	return fmt.Sprintf("%s:%d:%d", t, connectorID, upstreamID)
}

func (f *fakeContentRepo) Upsert(ctx context.Context, item *store.ContentItem) (int64, error) {
	k := key(item.ConnectorID, item.UpstreamID, item.Type)
	if existing, ok := f.byKey[k]; ok {
		item.ID = existing.ID
	} else {
		f.nextID++
		item.ID = f.nextID
	}
	stored := *item
	f.byKey[k] = &stored
	return item.ID, nil
}

func (f *fakeContentRepo) Get(ctx context.Context, connectorID, upstreamID int64, t store.ContentType) (*store.ContentItem, error) {
	if existing, ok := f.byKey[key(connectorID, upstreamID, t)]; ok {
		return existing, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeContentRepo) GetByID(ctx context.Context, id int64) (*store.ContentItem, error) {
	for _, v := range f.byKey {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeContentRepo) ListBySeason(ctx context.Context, connectorID, seriesUpstreamID int64, seasonNumber int) ([]store.ContentItem, error) {
	var items []store.ContentItem
	for _, v := range f.byKey {
		if v.ConnectorID == connectorID && v.SeriesUpstreamID != nil && *v.SeriesUpstreamID == seriesUpstreamID &&
			v.SeasonNumber != nil && *v.SeasonNumber == seasonNumber {
			items = append(items, *v)
		}
	}
	return items, nil
}

func (f *fakeContentRepo) ListByConnector(ctx context.Context, connectorID int64) ([]store.ContentItem, error) {
	var items []store.ContentItem
	for _, v := range f.byKey {
		if v.ConnectorID == connectorID {
			items = append(items, *v)
		}
	}
	return items, nil
}

func (f *fakeContentRepo) DeleteMissing(ctx context.Context, connectorID int64, t store.ContentType, keep []int64) (int64, error) {
	keepSet := make(map[int64]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	var removed int64
	for k, v := range f.byKey {
		if v.ConnectorID == connectorID && v.Type == t && !keepSet[v.UpstreamID] {
			delete(f.byKey, k)
			removed++
		}
	}
	return removed, nil
}

type fakeClient struct {
	full  []connector.LibraryItem
	since []connector.LibraryItem
	err   error
}

func (f *fakeClient) Ping(ctx context.Context) error                       { return nil }
func (f *fakeClient) SystemStatus(ctx context.Context) (connector.SystemStatus, error) {
	return connector.SystemStatus{}, nil
}
func (f *fakeClient) FullLibrary(ctx context.Context) ([]connector.LibraryItem, error) {
	return f.full, f.err
}
func (f *fakeClient) LibrarySince(ctx context.Context, since time.Time) ([]connector.LibraryItem, error) {
	return f.since, f.err
}
func (f *fakeClient) PostCommand(ctx context.Context, kind string, args map[string]any) (connector.CommandResult, error) {
	return connector.CommandResult{}, nil
}
func (f *fakeClient) CommandStatus(ctx context.Context, commandID int64) (connector.CommandStatusResult, error) {
	return connector.CommandStatusResult{}, nil
}
func (f *fakeClient) Queue(ctx context.Context) ([]connector.QueueItem, error) {
	return nil, nil
}

func TestReconcileIncrementalAddsGapCandidate(t *testing.T) {
	repo := newFakeContentRepo()
	syncer := NewSyncer(repo)

	client := &fakeClient{
		since: []connector.LibraryItem{
			{UpstreamID: 1, Title: "Missing Episode", Monitored: true, HasFile: false},
			{UpstreamID: 2, Title: "Acquired Episode", Monitored: true, HasFile: true},
		},
	}

	diff, err := syncer.Reconcile(context.Background(), 1, connector.TypeSonarr, client, ModeIncremental, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if diff.Added != 2 {
		t.Errorf("Added = %d, want 2", diff.Added)
	}
	if len(diff.GapCandidates) != 1 || diff.GapCandidates[0].Title != "Missing Episode" {
		t.Errorf("GapCandidates = %+v", diff.GapCandidates)
	}
}

func TestReconcileIdentifiesUpgradeCandidate(t *testing.T) {
	repo := newFakeContentRepo()
	syncer := NewSyncer(repo)

	client := &fakeClient{
		since: []connector.LibraryItem{
			{UpstreamID: 3, Title: "Low Quality", Monitored: true, HasFile: true, QualityCutoffNotMet: true},
		},
	}

	diff, err := syncer.Reconcile(context.Background(), 1, connector.TypeSonarr, client, ModeIncremental, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(diff.UpgradeCandidates) != 1 {
		t.Errorf("UpgradeCandidates = %+v", diff.UpgradeCandidates)
	}
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, eventType string, payload map[string]any) {
	f.events = append(f.events, eventType)
}

func TestReconcileNotifiesSyncCompletedOnSuccess(t *testing.T) {
	repo := newFakeContentRepo()
	syncer := NewSyncer(repo)
	notifier := &fakeNotifier{}
	syncer.Notifier = notifier

	client := &fakeClient{since: []connector.LibraryItem{{UpstreamID: 1, Title: "Episode", Monitored: true}}}
	if _, err := syncer.Reconcile(context.Background(), 1, connector.TypeSonarr, client, ModeIncremental, time.Time{}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "sync_completed" {
		t.Errorf("events = %v, want [sync_completed]", notifier.events)
	}
}

func TestReconcileNotifiesSyncFailedOnUpstreamError(t *testing.T) {
	repo := newFakeContentRepo()
	syncer := NewSyncer(repo)
	notifier := &fakeNotifier{}
	syncer.Notifier = notifier

	client := &fakeClient{err: errors.New("upstream unreachable")}
	if _, err := syncer.Reconcile(context.Background(), 1, connector.TypeSonarr, client, ModeIncremental, time.Time{}); err == nil {
		t.Fatal("expected Reconcile() to return an error")
	}
	if len(notifier.events) != 1 || notifier.events[0] != "sync_failed" {
		t.Errorf("events = %v, want [sync_failed]", notifier.events)
	}
}

func TestReconcileFullReconciliationRemovesAbsent(t *testing.T) {
	repo := newFakeContentRepo()
	syncer := NewSyncer(repo)

	ctx := context.Background()
	seed := &fakeClient{full: []connector.LibraryItem{{UpstreamID: 1, Title: "Stays"}, {UpstreamID: 2, Title: "Goes"}}}
	if _, err := syncer.Reconcile(ctx, 1, connector.TypeRadarr, seed, ModeFullReconciliation, time.Time{}); err != nil {
		t.Fatalf("seed Reconcile() error = %v", err)
	}

	later := &fakeClient{full: []connector.LibraryItem{{UpstreamID: 1, Title: "Stays"}}}
	diff, err := syncer.Reconcile(ctx, 1, connector.TypeRadarr, later, ModeFullReconciliation, time.Time{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if diff.Removed != 1 {
		t.Errorf("Removed = %d, want 1", diff.Removed)
	}

	items, _ := repo.ListByConnector(ctx, 1)
	if len(items) != 1 || items[0].Title != "Stays" {
		t.Errorf("remaining items = %+v", items)
	}
}

func TestContentTypeForRadarrIsMovie(t *testing.T) {
	if contentTypeFor(connector.TypeRadarr) != store.ContentTypeMovie {
		t.Error("Radarr should map to ContentTypeMovie")
	}
	if contentTypeFor(connector.TypeSonarr) != store.ContentTypeEpisode {
		t.Error("Sonarr should map to ContentTypeEpisode")
	}
	if contentTypeFor(connector.TypeWhisparr) != store.ContentTypeEpisode {
		t.Error("Whisparr should map to ContentTypeEpisode")
	}
}
