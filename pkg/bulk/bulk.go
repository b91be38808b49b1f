// ABOUTME: Bulk activate, deactivate, delete and export over a selection
// ABOUTME: Fans out one persistence call per id and isolates failures

package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/export"
)

// ActionKind names a bulk action
type ActionKind string

const (
	ActionActivate   ActionKind = "activate"
	ActionDeactivate ActionKind = "deactivate"
	ActionDelete     ActionKind = "delete"
	ActionExport     ActionKind = "export"
)

// DefaultConcurrency bounds in-flight persistence calls
const DefaultConcurrency = 8

// ErrNoPersister is returned for persistence actions without a backing store
var ErrNoPersister = errors.New("bulk: no persister configured")

// ParseAction converts a string into a known ActionKind
func ParseAction(s string) (ActionKind, error) {
	k := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case ActionActivate, ActionDeactivate, ActionDelete, ActionExport:
		return k, nil
	}
	return "", &catalog.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown bulk action %q", s)}
}

// Result partitions the requested ids by outcome
type Result struct {
	ActionKind ActionKind
	Succeeded  []string
	Failed     []catalog.Failure
	Export     *export.Payload // Set for export actions only
}

// Partial reports a run with both successes and failures
func (r Result) Partial() bool {
	return len(r.Succeeded) > 0 && len(r.Failed) > 0
}

// FailedIDs lists the ids that failed, in request order
func (r Result) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Summary renders the outcome for a notification
func (r Result) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConcurrency bounds in-flight persistence calls
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithExportFormat sets the format used by export actions
func WithExportFormat(f export.Format) Option {
	return func(o *Orchestrator) { o.format = f }
}

// WithExportOptions forwards options to export.Serialize
func WithExportOptions(opts ...export.Option) Option {
	return func(o *Orchestrator) { o.exportOpts = append(o.exportOpts, opts...) }
}

// WithLogger attaches a logger
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs bulk actions against a Persister
type Orchestrator struct {
	persister   catalog.Persister
	concurrency int
	format      export.Format
	exportOpts  []export.Option
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// New creates an orchestrator. persister may be nil when only exports run.
func New(persister catalog.Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		persister:   persister,
		concurrency: DefaultConcurrency,
		format:      export.FormatCSV,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.OrNop(o.log)
	o.metrics = metrics.OrDiscard(o.metrics)
	return o
}

// Run executes kind over selectedIDs. records is the full snapshot and
// visible the current view; both are only read. Per-id failures are
// reported in the Result; the error return is reserved for requests that
// could not start.
func (o *Orchestrator) Run(ctx context.Context, kind ActionKind, selectedIDs []string, records, visible []catalog.Record) (Result, error) {
	start := time.Now()

	var (
		res Result
		err error
	)
	switch kind {
	case ActionActivate, ActionDeactivate, ActionDelete:
		res, err = o.persist(ctx, kind, dedupe(selectedIDs))
	case ActionExport:
		res, err = o.export(selectedIDs, records, visible)
	default:
		return Result{}, &catalog.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown bulk action %q", kind)}
	}
	if err != nil {
		return Result{}, err
	}

	duration := time.Since(start)
	o.metrics.RecordBulkRun(string(kind), len(res.Succeeded), len(res.Failed), duration)
	o.log.LogBulkRun(string(kind), duration, len(res.Succeeded), len(res.Failed))
	return res, nil
}

func (o *Orchestrator) persist(ctx context.Context, kind ActionKind, ids []string) (Result, error) {
	res := Result{ActionKind: kind}
	if len(ids) == 0 {
		return res, nil
	}
	if o.persister == nil {
		return Result{}, ErrNoPersister
	}

	log := o.log.BulkLogger(string(kind))
	outcomes := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			o.metrics.BulkItemsInFlight.Inc()
			defer o.metrics.BulkItemsInFlight.Dec()

			if err := gctx.Err(); err != nil {
				outcomes[i] = err
				return nil
			}
			outcomes[i] = o.apply(gctx, kind, id)
			if outcomes[i] != nil {
				log.Debug("item failed").Str("id", id).Err(outcomes[i]).Send()
			}
			// A failed item never cancels its siblings
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if outcomes[i] != nil {
			res.Failed = append(res.Failed, catalog.Failure{ID: id, Err: outcomes[i]})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func (o *Orchestrator) apply(ctx context.Context, kind ActionKind, id string) error {
	switch kind {
	case ActionActivate:
		return o.persister.SetActive(ctx, id, true)
	case ActionDeactivate:
		return o.persister.SetActive(ctx, id, false)
	default:
		return o.persister.Delete(ctx, id)
	}
}

// export serializes the records whose ids are selected, in records order,
// or the visible view when nothing is selected
func (o *Orchestrator) export(selectedIDs []string, records, visible []catalog.Record) (Result, error) {
	res := Result{ActionKind: ActionExport}

	var rows []catalog.Record
	if len(selectedIDs) == 0 {
		rows = visible
		res.Succeeded = catalog.IDs(visible)
	} else {
		// Rows follow the records' order, not the selection's
		wanted := make(map[string]bool, len(selectedIDs))
		for _, id := range selectedIDs {
			wanted[id] = false
		}
		for _, r := range records {
			if found, ok := wanted[r.ID]; !ok || found {
				continue
			}
			wanted[r.ID] = true
			rows = append(rows, r)
			res.Succeeded = append(res.Succeeded, r.ID)
		}
		for _, id := range dedupe(selectedIDs) {
			if !wanted[id] {
				res.Failed = append(res.Failed, catalog.Failure{ID: id, Err: catalog.NotFound(id)})
			}
		}
	}

	p, err := export.Serialize(rows, o.format, o.exportOpts...)
	if err != nil {
		return Result{}, err
	}
	o.metrics.RecordExport(string(o.format), len(p.Data))
	res.Export = &p
	return res, nil
}

// dedupe drops repeated ids, keeping first occurrence order
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
