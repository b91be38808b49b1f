// Integration tests for the item service over an in-memory gRPC connection
package remote

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/catalog/sqlstore"
)

const bufSize = 1024 * 1024

func setupTestServer(t *testing.T, store catalog.Store) *Client {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer()
	Register(grpcServer, store)

	go func() {
		// Serve returns when the server is stopped during cleanup
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
	})

	return NewClient(conn, ClientConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}, nil)
}

func setupTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Config{Path: sqlstore.MemoryPath})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	created := time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)
	err = s.Upsert(ctx, []catalog.Record{
		{ID: "a", Code: "A", Name: "Alpha", Status: true, ItemType: catalog.ItemGoods, CreatedAt: created, SortOrder: 10},
		{ID: "b", Code: "B", Name: "Beta", ItemType: catalog.ItemService, CreatedAt: created, SortOrder: 20},
	})
	if err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	return s
}

func TestListOverRPC(t *testing.T) {
	client := setupTestServer(t, setupTestStore(t))

	records, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ID != "a" || records[0].SortOrder != 10 || records[0].ItemType != catalog.ItemGoods {
		t.Errorf("Record did not round trip: %+v", records[0])
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("Expected created at to survive the wire")
	}
}

func TestWritesOverRPC(t *testing.T) {
	store := setupTestStore(t)
	client := setupTestServer(t, store)
	ctx := context.Background()

	if err := client.SetActive(ctx, "b", true); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	if err := client.Delete(ctx, "a"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 1 || records[0].ID != "b" || !records[0].Status {
		t.Errorf("Unexpected store state: %+v", records)
	}
}

func TestNotFoundMapsToPersistenceError(t *testing.T) {
	client := setupTestServer(t, setupTestStore(t))

	err := client.Delete(context.Background(), "ghost")
	var perr *catalog.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PersistenceError, got %v", err)
	}
	if perr.Code != catalog.CodeNotFound || perr.ID != "ghost" {
		t.Errorf("Expected 404 for ghost, got %+v", perr)
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Error("Expected errors.Is ErrNotFound")
	}
}

func TestSortOrderPartialFailure(t *testing.T) {
	store := setupTestStore(t)
	client := setupTestServer(t, store)
	ctx := context.Background()

	err := client.UpdateSortOrder(ctx, []catalog.Delta{
		{ID: "b", SortOrder: 5},
		{ID: "ghost", SortOrder: 6},
	})
	ids := catalog.FailedIDs(err)
	if len(ids) != 1 || ids[0] != "ghost" {
		t.Fatalf("Expected ghost to fail, got %v", err)
	}

	got, err := store.Get(ctx, "b")
	if err != nil || got.SortOrder != 5 {
		t.Errorf("Expected b to move to 5, got %+v, %v", got, err)
	}
}

// flakyStore fails the first calls with a transient error
type flakyStore struct {
	catalog.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) SetActive(ctx context.Context, id string, active bool) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return &catalog.PersistenceError{ID: id, Code: catalog.CodeUnavailable, Message: "try again"}
	}
	return f.Store.SetActive(ctx, id, active)
}

func TestTransientFailuresRetried(t *testing.T) {
	flaky := &flakyStore{Store: setupTestStore(t)}
	flaky.failures.Store(2)
	client := setupTestServer(t, flaky)

	if err := client.SetActive(context.Background(), "b", true); err != nil {
		t.Fatalf("Expected retries to succeed, got %v", err)
	}
	if got := flaky.calls.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	flaky := &flakyStore{Store: setupTestStore(t)}
	flaky.failures.Store(100)
	client := setupTestServer(t, flaky)

	err := client.SetActive(context.Background(), "b", true)
	var perr *catalog.PersistenceError
	if !errors.As(err, &perr) || perr.Code != catalog.CodeUnavailable {
		t.Fatalf("Expected 503 after retries, got %v", err)
	}
	if got := flaky.calls.Load(); got != 4 {
		t.Errorf("Expected 1 call plus 3 retries, got %d", got)
	}
}

func TestStatsCountsOperations(t *testing.T) {
	client := setupTestServer(t, setupTestStore(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.List(ctx); err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
	}

	_, ops, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if ops[methodList] != 2 {
		t.Errorf("Expected 2 List calls, got %d", ops[methodList])
	}
}
