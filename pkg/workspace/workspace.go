// ABOUTME: Composes scan, filter, view, selection, bulk, reorder, export and ingest
// ABOUTME: into the state a single item list screen works against

package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/bulk"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/export"
	"github.com/nainya/catalogops/pkg/filter"
	"github.com/nainya/catalogops/pkg/ingest"
	"github.com/nainya/catalogops/pkg/reorder"
	"github.com/nainya/catalogops/pkg/scan"
	"github.com/nainya/catalogops/pkg/selection"
	"github.com/nainya/catalogops/pkg/view"
)

// ErrConfirmationRequired rejects an unconfirmed delete
var ErrConfirmationRequired = errors.New("workspace: delete requires confirmation")

// ImageStore persists encoded images; sqlstore.Store satisfies it
type ImageStore interface {
	SetImage(ctx context.Context, id, dataURI string) error
}

// ScanHandler is told about every recognised code and the record it matched, if any
type ScanHandler func(code string, match *catalog.Record)

type options struct {
	log           *logger.Logger
	metrics       *metrics.Metrics
	scanCfg       scan.Config
	imageCfg      ingest.Config
	cacheSize     int
	searchWait    time.Duration
	searchMaxWait time.Duration
	compileOpts   []filter.CompileOption
	bulkOpts      []bulk.Option
	exportOpts    []export.Option
	images        ImageStore
	onScan        ScanHandler
}

// Option configures a Workspace
type Option func(*options)

// WithLogger attaches a logger to every component
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics attaches metrics to every component
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithScanConfig tunes the scan classifier
func WithScanConfig(c scan.Config) Option {
	return func(o *options) { o.scanCfg = c }
}

// WithImageConfig bounds accepted images
func WithImageConfig(c ingest.Config) Option {
	return func(o *options) { o.imageCfg = c }
}

// WithCacheSize sets how many projections are memoized
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithSearchDebounce sets how search typing is coalesced before the view
// is recomputed
func WithSearchDebounce(wait, maxWait time.Duration) Option {
	return func(o *options) {
		o.searchWait = wait
		o.searchMaxWait = maxWait
	}
}

// WithImageStore persists attached images
func WithImageStore(s ImageStore) Option {
	return func(o *options) { o.images = s }
}

// WithScanHandler observes recognised scans
func WithScanHandler(h ScanHandler) Option {
	return func(o *options) { o.onScan = h }
}

// WithBulkOptions forwards options to the bulk orchestrator
func WithBulkOptions(opts ...bulk.Option) Option {
	return func(o *options) { o.bulkOpts = append(o.bulkOpts, opts...) }
}

// WithExportOptions forwards options to the export serializer
func WithExportOptions(opts ...export.Option) Option {
	return func(o *options) { o.exportOpts = append(o.exportOpts, opts...) }
}

// WithCompileOptions forwards search options to the filter compiler
func WithCompileOptions(opts ...filter.CompileOption) Option {
	return func(o *options) { o.compileOpts = append(o.compileOpts, opts...) }
}

// Workspace owns the record snapshot and everything derived from it.
// Every view change, debounced search included, reconciles the selection.
type Workspace struct {
	session   *view.Session
	selection *selection.Set
	bulk      *bulk.Orchestrator
	reorder   *reorder.Engine
	ingest    *ingest.Pipeline
	scanner   *scan.Classifier
	images    ImageStore
	onScan    ScanHandler

	exportOpts []export.Option
	log        *logger.Logger
	metrics    *metrics.Metrics

	// mu serializes read-modify-write cycles on the snapshot
	mu sync.Mutex
}

// New wires a workspace around persister; a nil persister allows local use only
func New(persister catalog.Persister, opts ...Option) (*Workspace, error) {
	o := options{
		scanCfg:       scan.DefaultConfig(),
		imageCfg:      ingest.DefaultConfig(),
		cacheSize:     view.DefaultCacheSize,
		searchWait:    view.DefaultSearchWait,
		searchMaxWait: view.DefaultSearchMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrNop(o.log)
	m := metrics.OrDiscard(o.metrics)

	projector, err := view.New(o.cacheSize, view.WithMetrics(m), view.WithCompileOptions(o.compileOpts...))
	if err != nil {
		return nil, err
	}

	w := &Workspace{
		selection:  selection.New(),
		bulk:       bulk.New(persister, append([]bulk.Option{bulk.WithLogger(log), bulk.WithMetrics(m)}, o.bulkOpts...)...),
		reorder:    reorder.NewEngine(persister, reorder.WithLogger(log), reorder.WithMetrics(m)),
		ingest:     ingest.New(o.imageCfg, ingest.WithLogger(log), ingest.WithMetrics(m)),
		images:     o.images,
		onScan:     o.onScan,
		exportOpts: o.exportOpts,
		log:        log.ComponentLogger("workspace"),
		metrics:    m,
	}
	w.session = view.NewSession(projector, w.viewChanged,
		view.WithSearchDebounce(o.searchWait, o.searchMaxWait),
		view.WithSessionLogger(log),
	)
	w.scanner = scan.NewClassifier(o.scanCfg, w.handleScan, w.handleScanError, scan.WithLogger(log), scan.WithMetrics(m))
	return w, nil
}

// Close releases the scan classifier and cancels a pending search
func (w *Workspace) Close() {
	w.scanner.Close()
	w.session.Close()
}

// viewChanged keeps the selection a subset of the view
func (w *Workspace) viewChanged(visible []catalog.Record) {
	w.selection.Reconcile(catalog.IDs(visible))
}

// reconciled runs a view change and returns the selected ids it hid
func (w *Workspace) reconciled(change func() error) ([]string, error) {
	before := w.selection.Values()
	if err := change(); err != nil {
		return nil, err
	}
	w.selection.Reconcile(catalog.IDs(w.session.Visible()))

	var dropped []string
	for _, id := range before {
		if !w.selection.IsSelected(id) {
			dropped = append(dropped, id)
		}
	}
	return dropped, nil
}

// Load replaces the snapshot with everything src lists and returns the
// selected ids that no longer exist or are no longer visible
func (w *Workspace) Load(ctx context.Context, src catalog.Source) ([]string, error) {
	records, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	return w.SetRecords(records)
}

// SetRecords replaces the snapshot, ordered by sort order, and returns the
// selected ids it hid
func (w *Workspace) SetRecords(records []catalog.Record) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconciled(func() error {
		return w.session.SetRecords(catalog.SortBySortOrder(records))
	})
}

// SetCriteria applies new filters and returns the selected ids they hid
func (w *Workspace) SetCriteria(c filter.Criteria) ([]string, error) {
	return w.reconciled(func() error {
		return w.session.SetCriteria(c)
	})
}

// SetSearchText schedules a debounced search; the selection is reconciled
// when the search is applied
func (w *Workspace) SetSearchText(text string) {
	w.session.SetSearchText(text)
}

// FlushSearch applies pending search text now and returns the selected ids it hid
func (w *Workspace) FlushSearch() ([]string, error) {
	return w.reconciled(w.session.FlushSearch)
}

// Criteria returns the applied filters
func (w *Workspace) Criteria() filter.Criteria {
	return w.session.Criteria()
}

// Records returns the full snapshot
func (w *Workspace) Records() []catalog.Record {
	return w.session.Records()
}

// Visible returns the filtered view
func (w *Workspace) Visible() []catalog.Record {
	return w.session.Visible()
}

// Toggle flips selection of one record
func (w *Workspace) Toggle(id string) bool {
	return w.selection.Toggle(id)
}

// SelectAllVisible selects exactly the visible records
func (w *Workspace) SelectAllVisible() {
	w.selection.SelectAll(catalog.IDs(w.session.Visible()))
}

// SelectRange adds the visible records between two ids, inclusive
func (w *Workspace) SelectRange(fromID, toID string) bool {
	return w.selection.SelectRange(catalog.IDs(w.session.Visible()), fromID, toID)
}

// AllVisibleSelected reports whether the header checkbox is checked
func (w *Workspace) AllVisibleSelected() bool {
	return w.selection.AllSelected(catalog.IDs(w.session.Visible()))
}

// ClearSelection deselects everything
func (w *Workspace) ClearSelection() {
	w.selection.Clear()
}

// Selected returns the selected ids in sorted order
func (w *Workspace) Selected() []string {
	return w.selection.Values()
}

// RunBulk applies kind to the selection. Delete needs confirmed. Successful
// ids are committed to the snapshot; the selection is cleared only when
// nothing failed, so failed ids stay selected for a retry.
func (w *Workspace) RunBulk(ctx context.Context, kind bulk.ActionKind, confirmed bool) (bulk.Result, error) {
	if kind == bulk.ActionDelete && !confirmed {
		return bulk.Result{}, ErrConfirmationRequired
	}

	// The selection may lag a debounced search; apply it first
	if _, err := w.FlushSearch(); err != nil {
		return bulk.Result{}, err
	}

	res, err := w.bulk.Run(ctx, kind, w.selection.Values(), w.session.Records(), w.session.Visible())
	if err != nil {
		return res, err
	}

	if kind != bulk.ActionExport && len(res.Succeeded) > 0 {
		w.mu.Lock()
		next := w.session.Records()
		switch kind {
		case bulk.ActionActivate:
			next = catalog.WithStatus(next, res.Succeeded, true)
		case bulk.ActionDeactivate:
			next = catalog.WithStatus(next, res.Succeeded, false)
		case bulk.ActionDelete:
			next = catalog.Without(next, res.Succeeded)
		}
		_, err = w.reconciled(func() error { return w.session.SetRecords(next) })
		w.mu.Unlock()
		if err != nil {
			return res, err
		}
	}

	if kind != bulk.ActionExport && len(res.Failed) == 0 {
		w.selection.Clear()
	}
	return res, nil
}

// Reorder moves a visible record and commits the new order locally at once.
// The channel reports the background persistence outcome.
func (w *Workspace) Reorder(ctx context.Context, src, dst int) (reorder.Result, <-chan error, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	res, done, err := w.reorder.Move(ctx, w.session.Visible(), src, dst)
	if err != nil {
		return reorder.Result{}, nil, err
	}
	if len(res.Deltas) == 0 {
		return res, done, nil
	}

	next := catalog.SortBySortOrder(catalog.ApplyDeltas(w.session.Records(), res.Deltas))
	if err := w.session.SetRecords(next); err != nil {
		return reorder.Result{}, nil, err
	}
	return res, done, nil
}

// Export serializes the visible view
func (w *Workspace) Export(format export.Format) (export.Payload, error) {
	p, err := export.Serialize(w.session.Visible(), format, w.exportOpts...)
	if err != nil {
		return export.Payload{}, err
	}
	w.metrics.RecordExport(string(format), len(p.Data))
	return p, nil
}

// AttachImage validates and encodes f, stores it and updates the snapshot
func (w *Workspace) AttachImage(ctx context.Context, id string, f ingest.File) (ingest.Encoded, error) {
	if _, ok := catalog.Index(w.session.Records())[id]; !ok {
		return ingest.Encoded{}, catalog.NotFound(id)
	}

	enc, err := w.ingest.Process(ctx, f)
	if err != nil {
		return ingest.Encoded{}, err
	}
	if w.images != nil {
		if err := w.images.SetImage(ctx, id, enc.DataURI); err != nil {
			return ingest.Encoded{}, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	records := w.session.Records()
	rec, ok := catalog.Index(records)[id]
	if !ok {
		return ingest.Encoded{}, catalog.NotFound(id)
	}
	rec.Image = enc.DataURI
	return enc, w.session.SetRecords(catalog.Replace(records, rec))
}

// HandleKey passes one keystroke to the scan classifier. It never consumes
// the key: callers still deliver it to the focused field.
func (w *Workspace) HandleKey(key string, at time.Time) bool {
	return w.scanner.Feed(key, at)
}

// handleScan searches for the scanned code and selects an exact match
func (w *Workspace) handleScan(code string) {
	var match *catalog.Record
	for _, r := range w.session.Records() {
		if strings.EqualFold(r.Barcode, code) || strings.EqualFold(r.Code, code) {
			match = &r
			break
		}
	}

	c := w.session.Criteria()
	c.SearchText = code
	if _, err := w.SetCriteria(c); err != nil {
		w.log.Warn("scan search rejected").Str("code", code).Err(err).Send()
		return
	}
	if match != nil && !w.selection.IsSelected(match.ID) {
		w.selection.Toggle(match.ID)
	}
	if w.onScan != nil {
		w.onScan(code, match)
	}
}

func (w *Workspace) handleScanError(err error) {
	w.log.Error("scan handling failed").Err(err).Send()
}
