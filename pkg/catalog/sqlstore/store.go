// ABOUTME: SQLite-backed item store implementing the catalog persistence port
// ABOUTME: Embedded goose migrations, squirrel-built SQL, modernc driver

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/catalog"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const (
	itemsTable  = "items"
	imagesTable = "item_images"
	timeLayout  = time.RFC3339Nano
)

var itemColumns = []string{
	"i.id",
	"i.code",
	"i.name",
	"i.status",
	"i.item_type",
	"i.created_at",
	"i.sort_order",
	"i.supplier",
	"i.manufacturer",
	"i.barcode",
	"i.description",
	"i.unit",
	"COALESCE(img.data_uri, '')",
}

// Config describes the database location and pool
type Config struct {
	Path         string        // File path or ":memory:"
	BusyTimeout  time.Duration // Wait on a locked database
	MaxOpenConns int
}

// Option configures a Store
type Option func(*Store)

// WithLogger attaches a logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the clock used for updated_at
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists item records in SQLite
type Store struct {
	db      *sql.DB
	path    string
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ catalog.Store = (*Store)(nil)

// Open connects to the database and applies pending migrations
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, &catalog.ValidationError{Field: "path", Reason: "database path is required"}
	}

	s := &Store{path: cfg.Path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)
	s.metrics = metrics.OrDiscard(s.metrics)

	db, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Path, err)
	}

	// Every connection to ":memory:" is a separate database
	switch {
	case cfg.Path == MemoryPath:
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", cfg.Path, err)
	}
	if err := applyMigrations(ctx, db, s.log.ComponentLogger("migrations")); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	s.log.Info("Item store opened").Str("path", cfg.Path).Send()
	return s, nil
}

// buildDSN encodes pragmas in the modernc connection string
func buildDSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if cfg.Path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}

	path := cfg.Path
	if path != MemoryPath && !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the configured database location
func (s *Store) Path() string {
	return s.path
}

func selectItems() squirrel.SelectBuilder {
	return squirrel.
		Select(itemColumns...).
		From(itemsTable + " i").
		LeftJoin(imagesTable + " img ON img.item_id = i.id")
}

// List returns every record ordered by sort order
func (s *Store) List(ctx context.Context) (records []catalog.Record, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, len(records), err) }()

	query, args, err := selectItems().OrderBy("i.sort_order", "i.id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return records, nil
}

// Get returns one record or a not-found PersistenceError
func (s *Store) Get(ctx context.Context, id string) (rec catalog.Record, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, 1, err) }()

	query, args, err := selectItems().Where(squirrel.Eq{"i.id": id}).ToSql()
	if err != nil {
		return catalog.Record{}, fmt.Errorf("build get query: %w", err)
	}

	rec, err = scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Record{}, catalog.NotFound(id)
	}
	return rec, err
}

// Upsert inserts or fully replaces records in one transaction
func (s *Store) Upsert(ctx context.Context, records []catalog.Record) (err error) {
	start := time.Now()
	defer func() { s.observe("upsert", start, len(records), err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC().Format(timeLayout)
	for _, r := range records {
		if r.ID == "" {
			return &catalog.ValidationError{Field: "id", Reason: "record id is required"}
		}
		query, args, err := buildItemUpsert(r, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert item %s: %w", r.ID, err)
		}
		if err := writeImage(ctx, tx, r.ID, r.Image, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func buildItemUpsert(r catalog.Record, now string) (string, []any, error) {
	return squirrel.
		Insert(itemsTable).
		Columns(
			"id",
			"code",
			"name",
			"status",
			"item_type",
			"created_at",
			"sort_order",
			"supplier",
			"manufacturer",
			"barcode",
			"description",
			"unit",
			"updated_at",
		).
		Values(
			r.ID,
			r.Code,
			r.Name,
			r.Status,
			string(r.ItemType),
			r.CreatedAt.UTC().Format(timeLayout),
			r.SortOrder,
			r.Supplier,
			r.Manufacturer,
			r.Barcode,
			r.Description,
			r.Unit,
			now,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
    code = excluded.code,
    name = excluded.name,
    status = excluded.status,
    item_type = excluded.item_type,
    created_at = excluded.created_at,
    sort_order = excluded.sort_order,
    supplier = excluded.supplier,
    manufacturer = excluded.manufacturer,
    barcode = excluded.barcode,
    description = excluded.description,
    unit = excluded.unit,
    updated_at = excluded.updated_at`).
		ToSql()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeImage(ctx context.Context, db execer, id, dataURI, now string) error {
	var (
		query string
		args  []any
		err   error
	)
	if dataURI == "" {
		query, args, err = squirrel.Delete(imagesTable).Where(squirrel.Eq{"item_id": id}).ToSql()
	} else {
		query, args, err = squirrel.
			Insert(imagesTable).
			Columns("item_id", "data_uri", "updated_at").
			Values(id, dataURI, now).
			Suffix("ON CONFLICT (item_id) DO UPDATE SET data_uri = excluded.data_uri, updated_at = excluded.updated_at").
			ToSql()
	}
	if err != nil {
		return fmt.Errorf("build image query: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write image for %s: %w", id, err)
	}
	return nil
}

// SetImage attaches an encoded image to an existing record
func (s *Store) SetImage(ctx context.Context, id, dataURI string) (err error) {
	start := time.Now()
	defer func() { s.observe("set_image", start, 1, err) }()

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return writeImage(ctx, s.db, id, dataURI, s.now().UTC().Format(timeLayout))
}

// SetActive updates the active flag of one record
func (s *Store) SetActive(ctx context.Context, id string, active bool) (err error) {
	start := time.Now()
	defer func() { s.observe("set_active", start, 1, err) }()

	return s.updateOne(ctx, id, squirrel.
		Update(itemsTable).
		Set("status", active).
		Set("updated_at", s.now().UTC().Format(timeLayout)).
		Where(squirrel.Eq{"id": id}))
}

// Delete removes one record
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, 1, err) }()

	query, args, err := squirrel.Delete(itemsTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	return s.execOne(ctx, s.db, id, query, args)
}

// UpdateSortOrder applies each delta independently inside one transaction;
// ids that could not be updated are returned in a *catalog.BatchError
func (s *Store) UpdateSortOrder(ctx context.Context, deltas []catalog.Delta) (err error) {
	start := time.Now()
	defer func() { s.observe("update_sort_order", start, len(deltas), err) }()

	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sort order update: %w", err)
	}

	now := s.now().UTC().Format(timeLayout)
	var failed []catalog.Failure
	for _, d := range deltas {
		query, args, err := squirrel.
			Update(itemsTable).
			Set("sort_order", d.SortOrder).
			Set("updated_at", now).
			Where(squirrel.Eq{"id": d.ID}).
			ToSql()
		if err == nil {
			err = s.execOne(ctx, tx, d.ID, query, args)
		}
		if err != nil {
			failed = append(failed, catalog.Failure{ID: d.ID, Err: err})
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sort order update: %w", err)
	}
	if len(failed) > 0 {
		return &catalog.BatchError{Op: "update sort order", Failed: failed}
	}
	return nil
}

// NextSortOrder returns a sort order greater than every stored one
func (s *Store) NextSortOrder(ctx context.Context, step int) (int, error) {
	query, args, err := squirrel.Select("COALESCE(MAX(sort_order), 0)").From(itemsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build max sort order: %w", err)
	}
	var maxOrder int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&maxOrder); err != nil {
		return 0, fmt.Errorf("max sort order: %w", err)
	}
	return maxOrder + step, nil
}

func (s *Store) updateOne(ctx context.Context, id string, b squirrel.UpdateBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	return s.execOne(ctx, s.db, id, query, args)
}

// execOne runs a single-row statement and maps zero affected rows to not found
func (s *Store) execOne(ctx context.Context, db execer, id, query string, args []any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return &catalog.PersistenceError{ID: id, Code: catalog.CodeInternal, Message: err.Error()}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &catalog.PersistenceError{ID: id, Code: catalog.CodeInternal, Message: err.Error()}
	}
	if n == 0 {
		return catalog.NotFound(id)
	}
	return nil
}

func (s *Store) observe(op string, start time.Time, n int, err error) {
	d := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status, d)
	s.log.LogStoreOperation(op, d, n, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (catalog.Record, error) {
	var (
		r         catalog.Record
		itemType  string
		createdAt string
	)
	err := row.Scan(
		&r.ID,
		&r.Code,
		&r.Name,
		&r.Status,
		&itemType,
		&createdAt,
		&r.SortOrder,
		&r.Supplier,
		&r.Manufacturer,
		&r.Barcode,
		&r.Description,
		&r.Unit,
		&r.Image,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Record{}, err
		}
		return catalog.Record{}, fmt.Errorf("scan item: %w", err)
	}

	r.ItemType = catalog.ItemType(itemType)
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return catalog.Record{}, fmt.Errorf("parse created_at of %s: %w", r.ID, err)
	}
	return r, nil
}
