// ABOUTME: Drag reordering of the visible view with minimal sort order deltas
// ABOUTME: Optimistic local result, best-effort persistence in the background

package reorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/catalog"
)

// Result is the reordered view and the sort order changes it implies
type Result struct {
	View   []catalog.Record
	Deltas []catalog.Delta
}

// Reorder moves view[src] to position dst. Only records inside the moved
// span receive new sort orders, drawn from the values that span already
// held, so records outside it (visible or filtered out) are untouched.
// A view with repeated sort orders is rejected.
func Reorder(view []catalog.Record, src, dst int) (Result, error) {
	n := len(view)
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return Result{}, &catalog.IndexError{Source: src, Destination: dst, Len: n}
	}

	seen := make(map[int]string, n)
	for _, r := range view {
		if prev, dup := seen[r.SortOrder]; dup {
			return Result{}, &catalog.ValidationError{
				Field:  "SortOrder",
				Reason: fmt.Sprintf("%s and %s share sort order %d", prev, r.ID, r.SortOrder),
			}
		}
		seen[r.SortOrder] = r.ID
	}

	out := append([]catalog.Record(nil), view...)
	if src == dst {
		return Result{View: out}, nil
	}

	moved := out[src]
	if src < dst {
		copy(out[src:dst], out[src+1:dst+1])
	} else {
		copy(out[dst+1:src+1], out[dst:src])
	}
	out[dst] = moved

	lo, hi := min(src, dst), max(src, dst)
	pool := make([]int, 0, hi-lo+1)
	for _, r := range view[lo : hi+1] {
		pool = append(pool, r.SortOrder)
	}
	sort.Ints(pool)

	var deltas []catalog.Delta
	for i := lo; i <= hi; i++ {
		so := pool[i-lo]
		if out[i].SortOrder == so {
			continue
		}
		out[i].SortOrder = so
		deltas = append(deltas, catalog.Delta{ID: out[i].ID, SortOrder: so})
	}

	return Result{View: out, Deltas: deltas}, nil
}

// DefaultPersistTimeout bounds one background persistence call
const DefaultPersistTimeout = 30 * time.Second

// Option configures an Engine
type Option func(*Engine)

// WithLogger attaches a logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPersistTimeout bounds background persistence
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// Engine applies moves and persists them without blocking the caller
type Engine struct {
	persister catalog.Persister
	timeout   time.Duration
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates an engine. A nil persister keeps moves local.
func NewEngine(p catalog.Persister, opts ...Option) *Engine {
	e := &Engine{persister: p, timeout: DefaultPersistTimeout}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrNop(e.log).ComponentLogger("reorder")
	e.metrics = metrics.OrDiscard(e.metrics)
	return e
}

// Move reorders the view and starts persisting the deltas. The result is
// final as returned: persistence failures are logged and reported on the
// channel but never roll the view back. The channel yields at most one
// value and is then closed; callers may ignore it.
func (e *Engine) Move(ctx context.Context, view []catalog.Record, src, dst int) (Result, <-chan error, error) {
	res, err := Reorder(view, src, dst)
	if err != nil {
		return Result{}, nil, err
	}

	done := make(chan error, 1)
	if len(res.Deltas) == 0 || e.persister == nil {
		close(done)
		return res, done, nil
	}

	e.metrics.RecordReorder(len(res.Deltas))

	deltas := append([]catalog.Delta(nil), res.Deltas...)
	go e.persist(context.WithoutCancel(ctx), deltas, done)

	return res, done, nil
}

func (e *Engine) persist(ctx context.Context, deltas []catalog.Delta, done chan<- error) {
	defer close(done)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.persister.UpdateSortOrder(ctx, deltas)
	e.log.LogReorderPersist(len(deltas), time.Since(start), err)
	if err != nil {
		e.metrics.ReorderPersistFailures.Inc()
	}
	done <- err
}
