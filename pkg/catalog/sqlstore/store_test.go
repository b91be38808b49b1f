package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/catalog"
)

func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: MemoryPath}, opts...)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords() []catalog.Record {
	created := time.Date(2024, time.February, 3, 4, 5, 6, 7, time.UTC)
	return []catalog.Record{
		{ID: "b", Code: "B-1", Name: "Beta", Status: true, ItemType: catalog.ItemGoods, CreatedAt: created, SortOrder: 20, Supplier: "Acme"},
		{ID: "a", Code: "A-1", Name: "Alpha", Status: false, ItemType: catalog.ItemService, CreatedAt: created, SortOrder: 10, Barcode: "123"},
		{ID: "c", Code: "C-1", Name: "Gamma", Status: true, ItemType: catalog.ItemAsset, CreatedAt: created, SortOrder: 30, Image: "data:image/png;base64,AA=="},
	}
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Upsert(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
}

func TestListOrderedBySortOrder(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)

	records, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}

	ids := catalog.IDs(records)
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("Expected a, b, c, got %v", ids)
	}

	want := sampleRecords()[0]
	got := records[1]
	if got.Name != want.Name || got.Supplier != want.Supplier || !got.Status || got.ItemType != want.ItemType {
		t.Errorf("Record did not round trip: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("Expected created at %v, got %v", want.CreatedAt, got.CreatedAt)
	}
	if records[2].Image == "" {
		t.Error("Expected image to be joined in")
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)
	ctx := context.Background()

	rec, err := s.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	rec.Name = "Gamma Prime"
	rec.Image = ""
	if err := s.Upsert(ctx, []catalog.Record{rec}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	got, err := s.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Name != "Gamma Prime" || got.Image != "" {
		t.Errorf("Expected replaced record without image, got %+v", got)
	}
}

func TestUpsertRequiresID(t *testing.T) {
	s := setupTestStore(t)
	err := s.Upsert(context.Background(), []catalog.Record{{Code: "X"}})
	if !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestSetActiveAndDelete(t *testing.T) {
	m := metrics.Discard()
	s := setupTestStore(t, WithMetrics(m))
	seed(t, s)
	ctx := context.Background()

	if err := s.SetActive(ctx, "a", true); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil || !got.Status {
		t.Fatalf("Expected a to be active, got %+v, %v", got, err)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Expected b to be gone, got %v", err)
	}

	var perr *catalog.PersistenceError
	if err := s.Delete(ctx, "missing"); !errors.As(err, &perr) || perr.Code != catalog.CodeNotFound {
		t.Errorf("Expected 404 persistence error, got %v", err)
	}
	if err := s.SetActive(ctx, "missing", false); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("delete", "error")); got != 1 {
		t.Errorf("Expected 1 failed delete, got %v", got)
	}
}

func TestUpdateSortOrderPartial(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.UpdateSortOrder(ctx, []catalog.Delta{
		{ID: "c", SortOrder: 5},
		{ID: "ghost", SortOrder: 6},
	})
	if ids := catalog.FailedIDs(err); len(ids) != 1 || ids[0] != "ghost" {
		t.Fatalf("Expected ghost to fail, got %v", err)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if records[0].ID != "c" || records[0].SortOrder != 5 {
		t.Errorf("Expected c first with sort order 5, got %+v", records[0])
	}
}

func TestSetImageAndNextSortOrder(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s)
	ctx := context.Background()

	if err := s.SetImage(ctx, "a", "data:image/gif;base64,R0lG"); err != nil {
		t.Fatalf("Failed to set image: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil || got.Image != "data:image/gif;base64,R0lG" {
		t.Errorf("Expected image on a, got %q, %v", got.Image, err)
	}
	if err := s.SetImage(ctx, "ghost", "x"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	next, err := s.NextSortOrder(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to compute next sort order: %v", err)
	}
	if next != 40 {
		t.Errorf("Expected 40, got %d", next)
	}
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	ctx := context.Background()

	s, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	seed(t, s)
	s.Close()

	// Reopening reapplies no migrations and sees the data
	s, err = Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	records, err := s.List(ctx)
	if err != nil || len(records) != 3 {
		t.Fatalf("Expected 3 records after reopen, got %d, %v", len(records), err)
	}
}
