package pending

import (
	"context"
	"testing"
	"time"

	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/registry"
	"github.com/engels74/comradarr/pkg/store"
)

type fakeRegistryRepo struct {
	entries map[int64]*store.RegistryEntry
}

func newFakeRegistryRepo() *fakeRegistryRepo {
	return &fakeRegistryRepo{entries: make(map[int64]*store.RegistryEntry)}
}

func (f *fakeRegistryRepo) seed(e *store.RegistryEntry) {
	f.entries[e.ID] = e
}

func (f *fakeRegistryRepo) Create(ctx context.Context, e *store.RegistryEntry) (int64, error) {
	f.entries[e.ID] = e
	return e.ID, nil
}

func (f *fakeRegistryRepo) Get(ctx context.Context, id int64) (*store.RegistryEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeRegistryRepo) FindByContent(ctx context.Context, connectorID, contentItemID int64, searchType store.SearchType) (*store.RegistryEntry, error) {
	for _, e := range f.entries {
		if e.ConnectorID == connectorID && e.ContentItemID == contentItemID && e.SearchType == searchType {
			return e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRegistryRepo) ListEligible(ctx context.Context, connectorID int64, now time.Time) ([]store.RegistryEntry, error) {
	return nil, nil
}

func (f *fakeRegistryRepo) Defer(ctx context.Context, id int64, nextEligibleAt time.Time) error {
	return nil
}

func (f *fakeRegistryRepo) Transition(ctx context.Context, id int64, expected, next store.RegistryState) error {
	e, ok := f.entries[id]
	if !ok || e.State != expected {
		return store.ErrConflict
	}
	e.State = next
	return nil
}

func (f *fakeRegistryRepo) TransitionToCooldown(ctx context.Context, id int64, expected store.RegistryState, nextEligibleAt time.Time, lastError string) error {
	e, ok := f.entries[id]
	if !ok || e.State != expected {
		return store.ErrConflict
	}
	e.State = store.RegistryCooldown
	e.NextEligibleAt = &nextEligibleAt
	e.LastError = &lastError
	e.AttemptCount++
	return nil
}

func (f *fakeRegistryRepo) TransitionToExhausted(ctx context.Context, id int64, expected store.RegistryState, lastError string) error {
	e, ok := f.entries[id]
	if !ok || e.State != expected {
		return store.ErrConflict
	}
	e.State = store.RegistryExhausted
	e.LastError = &lastError
	return nil
}

func (f *fakeRegistryRepo) Clear(ctx context.Context, id int64) error {
	if _, ok := f.entries[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeRegistryRepo) MarkExhausted(ctx context.Context, id int64, reason string) error {
	e, ok := f.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	e.State = store.RegistryExhausted
	e.LastError = &reason
	return nil
}

type fakePendingRepo struct {
	commands map[int64]*store.PendingCommand
	purged   int64
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{commands: make(map[int64]*store.PendingCommand)}
}

func (f *fakePendingRepo) seed(p *store.PendingCommand) {
	f.commands[p.ID] = p
}

func (f *fakePendingRepo) Create(ctx context.Context, p *store.PendingCommand) (int64, error) {
	f.commands[p.ID] = p
	return p.ID, nil
}

func (f *fakePendingRepo) Get(ctx context.Context, id int64) (*store.PendingCommand, error) {
	p, ok := f.commands[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakePendingRepo) ListOpen(ctx context.Context) ([]store.PendingCommand, error) {
	var out []store.PendingCommand
	for _, p := range f.commands {
		if p.CommandStatus == store.CommandQueued || p.CommandStatus == store.CommandStarted {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePendingRepo) Complete(ctx context.Context, id int64, fileAcquired bool) error {
	p, ok := f.commands[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CommandStatus = store.CommandCompleted
	p.FileAcquired = &fileAcquired
	now := time.Now()
	p.CompletedAt = &now
	return nil
}

func (f *fakePendingRepo) Fail(ctx context.Context, id int64) error {
	p, ok := f.commands[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CommandStatus = store.CommandFailed
	now := time.Now()
	p.CompletedAt = &now
	return nil
}

func (f *fakePendingRepo) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]store.PendingCommand, error) {
	var out []store.PendingCommand
	for _, p := range f.commands {
		open := p.CommandStatus == store.CommandQueued || p.CommandStatus == store.CommandStarted
		if open && p.DispatchedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePendingRepo) PurgeCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for id, p := range f.commands {
		done := p.CommandStatus == store.CommandCompleted || p.CommandStatus == store.CommandFailed
		if done && p.CompletedAt != nil && p.CompletedAt.Before(cutoff) {
			delete(f.commands, id)
			removed++
		}
	}
	f.purged += removed
	return removed, nil
}

type fakeClient struct {
	status connector.CommandStatusResult
	err    error
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }
func (f *fakeClient) SystemStatus(ctx context.Context) (connector.SystemStatus, error) {
	return connector.SystemStatus{}, nil
}
func (f *fakeClient) FullLibrary(ctx context.Context) ([]connector.LibraryItem, error) { return nil, nil }
func (f *fakeClient) LibrarySince(ctx context.Context, since time.Time) ([]connector.LibraryItem, error) {
	return nil, nil
}
func (f *fakeClient) PostCommand(ctx context.Context, kind string, args map[string]any) (connector.CommandResult, error) {
	return connector.CommandResult{}, nil
}
func (f *fakeClient) CommandStatus(ctx context.Context, commandID int64) (connector.CommandStatusResult, error) {
	return f.status, f.err
}
func (f *fakeClient) Queue(ctx context.Context) ([]connector.QueueItem, error) { return nil, nil }

func newTestTracker(pending *fakePendingRepo, registryRepo *fakeRegistryRepo, clients ClientResolver) *Tracker {
	return NewTracker(pending, registry.NewManager(registryRepo, registry.DefaultCooldownConfig()), clients)
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, eventType string, payload map[string]any) {
	f.events = append(f.events, eventType)
}

func TestTickResolvesCompletedCommandWithFileAcquiredToClear(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching})

	pendingRepo := newFakePendingRepo()
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandQueued, DispatchedAt: time.Now()})

	client := &fakeClient{status: connector.CommandStatusResult{Status: "completed", FileAcquired: true}}
	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return client, true
	})

	result, err := tracker.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if result.Completed != 1 {
		t.Errorf("Completed = %d, want 1", result.Completed)
	}
	if _, ok := registryRepo.entries[1]; ok {
		t.Error("registry entry should have been cleared")
	}
	if pendingRepo.commands[1].CommandStatus != store.CommandCompleted {
		t.Errorf("command status = %v, want completed", pendingRepo.commands[1].CommandStatus)
	}
}

func TestTickResolvesCompletedCommandWithNoResultsToCooldown(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching, AttemptCount: 0})

	pendingRepo := newFakePendingRepo()
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandQueued, DispatchedAt: time.Now()})

	client := &fakeClient{status: connector.CommandStatusResult{Status: "completed", FileAcquired: false}}
	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return client, true
	})

	result, err := tracker.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if result.Completed != 1 {
		t.Errorf("Completed = %d, want 1", result.Completed)
	}
	if registryRepo.entries[1].State != store.RegistryCooldown {
		t.Errorf("state = %v, want cooldown", registryRepo.entries[1].State)
	}
}

func TestTickFailsUpstreamFailedCommandAndCoolsDownRegistry(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching})

	pendingRepo := newFakePendingRepo()
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandStarted, DispatchedAt: time.Now()})

	client := &fakeClient{status: connector.CommandStatusResult{Status: "failed"}}
	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return client, true
	})

	result, err := tracker.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if registryRepo.entries[1].State != store.RegistryCooldown {
		t.Errorf("state = %v, want cooldown", registryRepo.entries[1].State)
	}
	if pendingRepo.commands[1].CommandStatus != store.CommandFailed {
		t.Errorf("command status = %v, want failed", pendingRepo.commands[1].CommandStatus)
	}
}

func TestTickSkipsCommandWhenConnectorClientUnresolved(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching})

	pendingRepo := newFakePendingRepo()
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandQueued, DispatchedAt: time.Now()})

	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return nil, false
	})

	result, err := tracker.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if pendingRepo.commands[1].CommandStatus != store.CommandQueued {
		t.Errorf("command status = %v, want untouched queued", pendingRepo.commands[1].CommandStatus)
	}
}

func TestTimeoutSweepForceClosesStaleCommand(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching})

	pendingRepo := newFakePendingRepo()
	stale := time.Now().Add(-25 * time.Hour)
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandQueued, DispatchedAt: stale})

	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return nil, false
	})

	n, err := tracker.TimeoutSweep(context.Background())
	if err != nil {
		t.Fatalf("TimeoutSweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("closed = %d, want 1", n)
	}
	if pendingRepo.commands[1].CommandStatus != store.CommandFailed {
		t.Errorf("command status = %v, want failed", pendingRepo.commands[1].CommandStatus)
	}
	if registryRepo.entries[1].State != store.RegistryCooldown {
		t.Errorf("state = %v, want cooldown", registryRepo.entries[1].State)
	}
}

func TestTickNotifiesSearchSuccessOnFileAcquired(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching})

	pendingRepo := newFakePendingRepo()
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandQueued, DispatchedAt: time.Now()})

	client := &fakeClient{status: connector.CommandStatusResult{Status: "completed", FileAcquired: true}}
	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return client, true
	})
	notifier := &fakeNotifier{}
	tracker.Notifier = notifier

	if _, err := tracker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "search_success" {
		t.Errorf("events = %v, want [search_success]", notifier.events)
	}
}

func TestTickNotifiesSearchExhaustedAtMaxAttempts(t *testing.T) {
	cfg := registry.DefaultCooldownConfig()
	registryRepo := newFakeRegistryRepo()
	registryRepo.seed(&store.RegistryEntry{ID: 1, ConnectorID: 1, ContentItemID: 10, SearchType: store.SearchTypeGap, State: store.RegistrySearching, AttemptCount: cfg.MaxAttempts})

	pendingRepo := newFakePendingRepo()
	pendingRepo.seed(&store.PendingCommand{ID: 1, ConnectorID: 1, RegistryID: 1, UpstreamCommandID: 99, CommandStatus: store.CommandQueued, DispatchedAt: time.Now()})

	client := &fakeClient{status: connector.CommandStatusResult{Status: "completed", FileAcquired: false}}
	tracker := NewTracker(pendingRepo, registry.NewManager(registryRepo, cfg), func(connectorID int64) (connector.Client, bool) {
		return client, true
	})
	notifier := &fakeNotifier{}
	tracker.Notifier = notifier

	if _, err := tracker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "search_exhausted" {
		t.Errorf("events = %v, want [search_exhausted]", notifier.events)
	}
	if registryRepo.entries[1].State != store.RegistryExhausted {
		t.Errorf("state = %v, want exhausted", registryRepo.entries[1].State)
	}
}

func TestPurgeCompletedRemovesOldRowsOnly(t *testing.T) {
	registryRepo := newFakeRegistryRepo()
	pendingRepo := newFakePendingRepo()

	oldCompleted := time.Now().Add(-10 * 24 * time.Hour)
	recentCompleted := time.Now().Add(-1 * time.Hour)
	pendingRepo.seed(&store.PendingCommand{ID: 1, CommandStatus: store.CommandCompleted, CompletedAt: &oldCompleted})
	pendingRepo.seed(&store.PendingCommand{ID: 2, CommandStatus: store.CommandCompleted, CompletedAt: &recentCompleted})

	tracker := newTestTracker(pendingRepo, registryRepo, func(connectorID int64) (connector.Client, bool) {
		return nil, false
	})

	n, err := tracker.PurgeCompleted(context.Background())
	if err != nil {
		t.Fatalf("PurgeCompleted() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, ok := pendingRepo.commands[1]; ok {
		t.Error("old completed row should have been purged")
	}
	if _, ok := pendingRepo.commands[2]; !ok {
		t.Error("recent completed row should remain")
	}
}
