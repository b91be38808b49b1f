// ABOUTME: Persistence port consumed by bulk actions and reordering
// ABOUTME: Implemented by the SQLite store, the gRPC client and test fakes

package catalog

import "context"

// Persister performs single-record writes against the backing store
type Persister interface {
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	// UpdateSortOrder applies what it can; unapplied ids come back in a *BatchError
	UpdateSortOrder(ctx context.Context, deltas []Delta) error
}

// Source supplies record snapshots
type Source interface {
	List(ctx context.Context) ([]Record, error)
}

// Store is a Persister that can also supply snapshots
type Store interface {
	Persister
	Source
}

// Funcs adapts plain functions to Persister; nil functions succeed
type Funcs struct {
	SetActiveFunc       func(ctx context.Context, id string, active bool) error
	DeleteFunc          func(ctx context.Context, id string) error
	UpdateSortOrderFunc func(ctx context.Context, deltas []Delta) error
}

func (f Funcs) SetActive(ctx context.Context, id string, active bool) error {
	if f.SetActiveFunc == nil {
		return nil
	}
	return f.SetActiveFunc(ctx, id, active)
}

func (f Funcs) Delete(ctx context.Context, id string) error {
	if f.DeleteFunc == nil {
		return nil
	}
	return f.DeleteFunc(ctx, id)
}

func (f Funcs) UpdateSortOrder(ctx context.Context, deltas []Delta) error {
	if f.UpdateSortOrderFunc == nil {
		return nil
	}
	return f.UpdateSortOrderFunc(ctx, deltas)
}
