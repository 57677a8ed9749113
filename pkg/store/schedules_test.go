package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestScheduleRepositoryCreate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO schedules`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	connectorID := int64(1)
	id, err := s.Schedules.Create(ctx, &Schedule{
		Name:           "sonarr-nightly",
		SweepType:      SweepIncremental,
		CronExpression: "0 2 * * *",
		Timezone:       "UTC",
		ConnectorID:    &connectorID,
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != 3 {
		t.Errorf("Create() id = %d, want 3", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestScheduleRepositoryGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM schedules WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Schedules.Get(ctx, 99)
	if err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestScheduleRepositoryListEnabled(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "name", "enabled"}).
		AddRow(int64(1), "sonarr-nightly", true)
	mock.ExpectQuery(`SELECT \* FROM schedules WHERE enabled ORDER BY name`).
		WillReturnRows(rows)

	schedules, err := s.Schedules.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	if len(schedules) != 1 {
		t.Errorf("ListEnabled() returned %d schedules, want 1", len(schedules))
	}
}

func TestScheduleRepositoryUpdateRunTimesNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectExec(`UPDATE schedules SET last_run_at`).
		WithArgs(now, now, int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Schedules.UpdateRunTimes(ctx, 404, now, now)
	if err != ErrNotFound {
		t.Errorf("UpdateRunTimes() error = %v, want ErrNotFound", err)
	}
}

func TestScheduleRepositorySetEnabled(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE schedules SET enabled = \$1 WHERE id = \$2`).
		WithArgs(false, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Schedules.SetEnabled(ctx, 7, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
