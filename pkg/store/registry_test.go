package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRegistryRepositoryTransitionSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE registry_entries SET state = \$1`).
		WithArgs(RegistrySearching, int64(1), RegistryPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Registry.Transition(ctx, 1, RegistryPending, RegistrySearching)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
}

func TestRegistryRepositoryTransitionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	// Another sweep already moved the row out of "pending"; the CAS
	// predicate matches zero rows.
	mock.ExpectExec(`UPDATE registry_entries SET state = \$1`).
		WithArgs(RegistrySearching, int64(1), RegistryPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Registry.Transition(ctx, 1, RegistryPending, RegistrySearching)
	if err != ErrConflict {
		t.Errorf("Transition() error = %v, want ErrConflict", err)
	}
}

func TestRegistryRepositoryTransitionToCooldown(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	nextEligible := time.Now().Add(time.Hour)

	mock.ExpectExec(`UPDATE registry_entries\s+SET state = 'cooldown'`).
		WithArgs(nextEligible, "upstream timeout", int64(2), RegistrySearching).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Registry.TransitionToCooldown(ctx, 2, RegistrySearching, nextEligible, "upstream timeout")
	if err != nil {
		t.Fatalf("TransitionToCooldown() error = %v", err)
	}
}

func TestRegistryRepositoryListEligible(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "connector_id", "content_item_id", "search_type", "state",
		"priority", "attempt_count", "next_eligible_at", "last_error",
		"created_at", "updated_at",
	}).AddRow(10, 1, 100, "gap", "pending", 80, 0, nil, nil, now, now)

	mock.ExpectQuery(`SELECT \* FROM registry_entries`).
		WithArgs(int64(1), now).
		WillReturnRows(rows)

	entries, err := s.Registry.ListEligible(ctx, 1, now)
	if err != nil {
		t.Fatalf("ListEligible() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Priority != 80 {
		t.Errorf("ListEligible() = %+v", entries)
	}
}

func TestRegistryRepositoryMarkExhausted(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE registry_entries SET state = 'exhausted'`).
		WithArgs("manual override", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Registry.MarkExhausted(ctx, 4, "manual override"); err != nil {
		t.Fatalf("MarkExhausted() error = %v", err)
	}
}

func TestRegistryRepositoryClear(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM registry_entries WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Registry.Clear(ctx, 9); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}
