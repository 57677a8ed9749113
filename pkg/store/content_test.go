package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestContentRepositoryUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO content_items`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := s.Content.Upsert(ctx, &ContentItem{
		ConnectorID: 1,
		Type:        ContentTypeEpisode,
		UpstreamID:  100,
		Title:       "Pilot",
		Monitored:   true,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if id != 42 {
		t.Errorf("Upsert() id = %d, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestContentRepositoryGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM content_items WHERE connector_id = \$1 AND upstream_id = \$2 AND type = \$3`).
		WithArgs(int64(1), int64(100), ContentTypeEpisode).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Content.Get(ctx, 1, 100, ContentTypeEpisode)
	if err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestContentRepositoryGetByID(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "connector_id", "type", "upstream_id", "title"}).
		AddRow(int64(5), int64(1), ContentTypeMovie, int64(200), "Arrival")
	mock.ExpectQuery(`SELECT \* FROM content_items WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	item, err := s.Content.GetByID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if item.Title != "Arrival" {
		t.Errorf("GetByID() title = %q, want %q", item.Title, "Arrival")
	}
}

func TestContentRepositoryListBySeason(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "connector_id", "type", "upstream_id", "title"}).
		AddRow(int64(1), int64(1), ContentTypeEpisode, int64(10), "Episode One").
		AddRow(int64(2), int64(1), ContentTypeEpisode, int64(11), "Episode Two")
	mock.ExpectQuery(`SELECT \* FROM content_items`).
		WithArgs(int64(1), int64(300), 2).
		WillReturnRows(rows)

	items, err := s.Content.ListBySeason(ctx, 1, 300, 2)
	if err != nil {
		t.Fatalf("ListBySeason() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("ListBySeason() returned %d items, want 2", len(items))
	}
}

func TestContentRepositoryListByConnector(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "connector_id", "type", "upstream_id", "title"}).
		AddRow(int64(1), int64(1), ContentTypeMovie, int64(10), "Movie One")
	mock.ExpectQuery(`SELECT \* FROM content_items WHERE connector_id = \$1 ORDER BY title`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	items, err := s.Content.ListByConnector(ctx, 1)
	if err != nil {
		t.Fatalf("ListByConnector() error = %v", err)
	}
	if len(items) != 1 {
		t.Errorf("ListByConnector() returned %d items, want 1", len(items))
	}
}

func TestContentRepositoryDeleteMissing(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM content_items WHERE connector_id = \$1 AND type = \$2 AND upstream_id NOT IN \(\$3,\$4\)`).
		WithArgs(int64(1), ContentTypeEpisode, int64(10), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := s.Content.DeleteMissing(ctx, 1, ContentTypeEpisode, []int64{10, 11})
	if err != nil {
		t.Fatalf("DeleteMissing() error = %v", err)
	}
	if affected != 3 {
		t.Errorf("DeleteMissing() affected = %d, want 3", affected)
	}
}
