package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/engels74/comradarr/pkg/store"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

type fakeConnectorRepo struct {
	list []store.Connector
}

func (f *fakeConnectorRepo) Create(ctx context.Context, c *store.Connector) (int64, error) { return 0, nil }
func (f *fakeConnectorRepo) Get(ctx context.Context, id int64) (*store.Connector, error)   { return nil, store.ErrNotFound }
func (f *fakeConnectorRepo) List(ctx context.Context) ([]store.Connector, error)           { return f.list, nil }
func (f *fakeConnectorRepo) ListEnabled(ctx context.Context) ([]store.Connector, error)    { return f.list, nil }
func (f *fakeConnectorRepo) Update(ctx context.Context, c *store.Connector) error          { return nil }
func (f *fakeConnectorRepo) UpdateHealth(ctx context.Context, id int64, status store.HealthStatus) error {
	return nil
}
func (f *fakeConnectorRepo) Delete(ctx context.Context, id int64) error { return nil }

type fakePendingRepo struct {
	open []store.PendingCommand
}

func (f *fakePendingRepo) Create(ctx context.Context, p *store.PendingCommand) (int64, error) {
	return 0, nil
}
func (f *fakePendingRepo) Get(ctx context.Context, id int64) (*store.PendingCommand, error) {
	return nil, store.ErrNotFound
}
func (f *fakePendingRepo) ListOpen(ctx context.Context) ([]store.PendingCommand, error) {
	return f.open, nil
}
func (f *fakePendingRepo) Complete(ctx context.Context, id int64, fileAcquired bool) error { return nil }
func (f *fakePendingRepo) Fail(ctx context.Context, id int64) error                        { return nil }
func (f *fakePendingRepo) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]store.PendingCommand, error) {
	return nil, nil
}
func (f *fakePendingRepo) PurgeCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakePauseCounter struct {
	count int
}

func (f *fakePauseCounter) PausedCount() int { return f.count }

func TestServeHealthReportsHealthyWhenEverythingIsUp(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()

	h := NewHandler(db,
		&fakeConnectorRepo{list: []store.Connector{{ID: 1, Name: "sonarr-main", HealthStatus: store.HealthHealthy}}},
		&fakePendingRepo{},
		&fakePauseCounter{},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Status != StatusHealthy {
		t.Errorf("Status = %v, want %v", report.Status, StatusHealthy)
	}
	if !report.DatabaseReachable {
		t.Error("DatabaseReachable = false, want true")
	}
}

func TestServeHealthReportsDegradedWhenAConnectorIsUnhealthy(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()

	h := NewHandler(db,
		&fakeConnectorRepo{list: []store.Connector{
			{ID: 1, Name: "sonarr-main", HealthStatus: store.HealthHealthy},
			{ID: 2, Name: "radarr-main", HealthStatus: store.HealthUnhealthy},
		}},
		&fakePendingRepo{open: []store.PendingCommand{{ID: 5}, {ID: 6}}},
		&fakePauseCounter{count: 1},
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHealth(rec, req)

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Status != StatusDegraded {
		t.Errorf("Status = %v, want %v", report.Status, StatusDegraded)
	}
	if report.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", report.QueueDepth)
	}
	if report.PausedConnectors != 1 {
		t.Errorf("PausedConnectors = %d, want 1", report.PausedConnectors)
	}
}

func TestServeHealthReportsUnhealthyWhenDatabaseUnreachable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	h := NewHandler(db, &fakeConnectorRepo{}, &fakePendingRepo{}, &fakePauseCounter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want %v", report.Status, StatusUnhealthy)
	}
}

func TestRouterServesHealthEndpoint(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectPing()

	h := NewHandler(db, &fakeConnectorRepo{}, &fakePendingRepo{}, &fakePauseCounter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
