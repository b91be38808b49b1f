package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/export"
)

// fakePersister records calls and fails configured ids
type fakePersister struct {
	mu      sync.Mutex
	calls   []string
	active  map[string]bool
	deleted map[string]bool
	fail    map[string]error
}

func newFakePersister(fail ...string) *fakePersister {
	f := &fakePersister{
		active:  make(map[string]bool),
		deleted: make(map[string]bool),
		fail:    make(map[string]error),
	}
	for _, id := range fail {
		f.fail[id] = &catalog.PersistenceError{ID: id, Code: catalog.CodeInternal, Message: "boom"}
	}
	return f
}

func (f *fakePersister) record(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.fail[id]
}

func (f *fakePersister) SetActive(_ context.Context, id string, active bool) error {
	if err := f.record(id); err != nil {
		return err
	}
	f.mu.Lock()
	f.active[id] = active
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) Delete(_ context.Context, id string) error {
	if err := f.record(id); err != nil {
		return err
	}
	f.mu.Lock()
	f.deleted[id] = true
	f.mu.Unlock()
	return nil
}

func (f *fakePersister) UpdateSortOrder(context.Context, []catalog.Delta) error {
	return nil
}

func (f *fakePersister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupTestRecords() []catalog.Record {
	return []catalog.Record{
		{ID: "a", Code: "A", Name: "Alpha", Status: true},
		{ID: "b", Code: "B", Name: "Beta", Status: true},
		{ID: "c", Code: "C", Name: "Gamma"},
		{ID: "d", Code: "D", Name: "Delta"},
		{ID: "e", Code: "E", Name: "Epsilon", Status: true},
	}
}

func TestPartialFailureIsolated(t *testing.T) {
	p := newFakePersister("b", "d")
	m := metrics.Discard()
	o := New(p, WithConcurrency(2), WithMetrics(m))

	res, err := o.Run(context.Background(), ActionDeactivate, []string{"a", "b", "c", "d", "e"}, setupTestRecords(), nil)
	if err != nil {
		t.Fatalf("Failed to run bulk action: %v", err)
	}

	if len(res.Succeeded) != 3 || len(res.Failed) != 2 {
		t.Fatalf("Expected 3 succeeded and 2 failed, got %s", res.Summary())
	}
	if res.Summary() != "3 succeeded, 2 failed" {
		t.Errorf("Unexpected summary %q", res.Summary())
	}
	if !res.Partial() {
		t.Error("Expected partial result")
	}

	// Every id lands in exactly one list
	seen := make(map[string]int)
	for _, id := range res.Succeeded {
		seen[id]++
	}
	for _, id := range res.FailedIDs() {
		seen[id]++
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if seen[id] != 1 {
			t.Errorf("Expected %s exactly once, got %d", id, seen[id])
		}
	}

	failed := res.FailedIDs()
	sort.Strings(failed)
	if failed[0] != "b" || failed[1] != "d" {
		t.Errorf("Expected b and d to fail, got %v", failed)
	}
	if p.active["a"] || p.active["c"] || p.active["e"] {
		t.Error("Expected successful ids to be deactivated")
	}

	if got := testutil.ToFloat64(m.BulkRunsTotal.WithLabelValues("deactivate", "partial")); got != 1 {
		t.Errorf("Expected partial run metric, got %v", got)
	}
}

func TestEmptySelectionIsNoop(t *testing.T) {
	p := newFakePersister()
	o := New(p)

	for _, kind := range []ActionKind{ActionActivate, ActionDeactivate, ActionDelete} {
		res, err := o.Run(context.Background(), kind, nil, setupTestRecords(), nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if len(res.Succeeded) != 0 || len(res.Failed) != 0 {
			t.Errorf("%s: expected empty result, got %s", kind, res.Summary())
		}
	}

	if p.callCount() != 0 {
		t.Errorf("Expected no persister calls, got %d", p.callCount())
	}
}

func TestDuplicateIDsPersistOnce(t *testing.T) {
	p := newFakePersister()
	o := New(p)

	res, err := o.Run(context.Background(), ActionDelete, []string{"a", "a", "b"}, setupTestRecords(), nil)
	if err != nil {
		t.Fatalf("Failed to run bulk action: %v", err)
	}
	if len(res.Succeeded) != 2 {
		t.Errorf("Expected 2 succeeded, got %v", res.Succeeded)
	}
	if p.callCount() != 2 {
		t.Errorf("Expected 2 persister calls, got %d", p.callCount())
	}
	if !p.deleted["a"] || !p.deleted["b"] {
		t.Error("Expected a and b to be deleted")
	}
}

func TestCancelledContextFailsRemaining(t *testing.T) {
	p := newFakePersister()
	o := New(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, ActionActivate, []string{"a", "b"}, setupTestRecords(), nil)
	if err != nil {
		t.Fatalf("Failed to run bulk action: %v", err)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("Expected both ids to fail, got %s", res.Summary())
	}
	if !errors.Is(res.Failed[0].Err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", res.Failed[0].Err)
	}
}

func TestExportSelectedAcrossFilter(t *testing.T) {
	p := newFakePersister()
	o := New(p, WithExportFormat(export.FormatCSV))
	records := setupTestRecords()
	visible := records[:2]

	// c is hidden by the filter but selected; zz does not exist
	res, err := o.Run(context.Background(), ActionExport, []string{"a", "c", "zz"}, records, visible)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if res.Export == nil {
		t.Fatal("Expected export payload")
	}
	if p.callCount() != 0 {
		t.Error("Expected export to skip persistence")
	}

	rows, err := csv.NewReader(bytes.NewReader(res.Export.Data)).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse export: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "A" || rows[2][0] != "C" {
		t.Errorf("Expected rows for A and C, got %v", rows)
	}

	if len(res.Failed) != 1 || !errors.Is(res.Failed[0].Err, catalog.ErrNotFound) {
		t.Errorf("Expected zz to fail as not found, got %v", res.Failed)
	}
}

func TestExportFollowsDisplayOrder(t *testing.T) {
	o := New(nil, WithExportFormat(export.FormatCSV))
	records := []catalog.Record{
		{ID: "z", Code: "A-1", SortOrder: 10},
		{ID: "y", Code: "B-1", SortOrder: 20},
		{ID: "x", Code: "C-1", SortOrder: 30},
		{ID: "w", Code: "D-1", SortOrder: 40},
	}

	// Selection values arrive sorted by id, the reverse of display order
	res, err := o.Run(context.Background(), ActionExport, []string{"w", "x", "y", "z"}, records, records)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(res.Export.Data)).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse export: %v", err)
	}
	var codes []string
	for _, row := range rows[1:] {
		codes = append(codes, row[0])
	}
	want := []string{"A-1", "B-1", "C-1", "D-1"}
	if len(codes) != len(want) {
		t.Fatalf("Expected %v, got %v", want, codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, codes)
		}
	}
	if got := res.Succeeded; got[0] != "z" || got[3] != "w" {
		t.Errorf("Expected succeeded ids in display order, got %v", got)
	}
}

func TestExportEmptySelectionUsesView(t *testing.T) {
	o := New(nil)
	records := setupTestRecords()
	visible := records[3:]

	res, err := o.Run(context.Background(), ActionExport, nil, records, visible)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if len(res.Succeeded) != 2 || res.Succeeded[0] != "d" {
		t.Errorf("Expected visible ids d and e, got %v", res.Succeeded)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	o := New(newFakePersister())

	_, err := o.Run(context.Background(), ActionKind("archive"), []string{"a"}, nil, nil)
	if !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}

	if _, err := ParseAction("Delete"); err != nil {
		t.Errorf("Expected Delete to parse, got %v", err)
	}
}

func TestPersistenceWithoutPersister(t *testing.T) {
	o := New(nil)
	if _, err := o.Run(context.Background(), ActionDelete, []string{"a"}, nil, nil); !errors.Is(err, ErrNoPersister) {
		t.Fatalf("Expected ErrNoPersister, got %v", err)
	}
}
