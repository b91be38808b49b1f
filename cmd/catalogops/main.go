// Catalog operations CLI
// Serves the item store over gRPC and drives list operations against it
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nainya/catalogops/internal/config"
	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/bulk"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/catalog/remote"
	"github.com/nainya/catalogops/pkg/catalog/sqlstore"
	"github.com/nainya/catalogops/pkg/export"
	"github.com/nainya/catalogops/pkg/filter"
	"github.com/nainya/catalogops/pkg/ingest"
	"github.com/nainya/catalogops/pkg/scan"
	"github.com/nainya/catalogops/pkg/workspace"
)

const version = "1.0.0"

// app carries what every subcommand shares
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	dbPath      string
	backend     string
	logLevel    string
	pretty      bool
	metricsPort int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "catalogops",
		Short:         "Item master list operations: filter, bulk actions, reorder, export, scan",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides store.path)")
	flags.StringVar(&a.backend, "backend", "", "Remote item service address; empty uses the local database")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&a.pretty, "pretty", false, "Human-readable console logs")
	flags.IntVar(&a.metricsPort, "metrics-port", 0, "Observability HTTP port; 0 keeps the configured value")

	cmd.AddCommand(
		newServeCommand(a),
		newImportCommand(a),
		newListCommand(a),
		newBulkCommand(a),
		newReorderCommand(a),
		newExportCommand(a),
		newImageCommand(a),
		newScanCommand(a),
		newStatsCommand(a),
	)
	return cmd
}

// init loads configuration with flag overrides and builds the logger
func (a *app) init(cmd *cobra.Command) error {
	overrides := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("db") {
		overrides["store.path"] = a.dbPath
	}
	if flags.Changed("backend") {
		overrides["backend.address"] = a.backend
	}
	if flags.Changed("log-level") {
		overrides["log.level"] = a.logLevel
	}
	if flags.Changed("pretty") {
		overrides["log.pretty"] = a.pretty
	}
	if flags.Changed("metrics-port") {
		overrides["observability.metrics_port"] = a.metricsPort
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger.InitGlobalLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	a.log = logger.GetGlobalLogger().WithFields(map[string]interface{}{
		"command": cmd.Name(),
	})

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return nil
}

func (a *app) clientConfig() remote.ClientConfig {
	return remote.ClientConfig{
		MaxRetries:  a.cfg.Backend.MaxRetries,
		BaseBackoff: a.cfg.Backend.BaseBackoff,
		CallTimeout: a.cfg.Backend.CallTimeout,
	}
}

// openLocal opens the configured SQLite database
func (a *app) openLocal(ctx context.Context) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, sqlstore.Config{
		Path:         a.cfg.Store.Path,
		BusyTimeout:  a.cfg.Store.BusyTimeout,
		MaxOpenConns: a.cfg.Store.MaxOpenConns,
	}, sqlstore.WithLogger(a.log), sqlstore.WithMetrics(a.metrics))
}

// openStore returns the remote client when a backend is configured and the
// local database otherwise. local is nil in remote mode.
func (a *app) openStore(ctx context.Context) (catalog.Store, *sqlstore.Store, func(), error) {
	if addr := a.cfg.Backend.Address; addr != "" {
		client, conn, err := remote.Dial(addr, a.clientConfig(), a.log)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, nil, func() { conn.Close() }, nil
	}

	s, err := a.openLocal(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, s, func() { s.Close() }, nil
}

func (a *app) secondaryFields() []filter.Field {
	fields := make([]filter.Field, len(a.cfg.Search.SecondaryFields))
	for i, f := range a.cfg.Search.SecondaryFields {
		fields[i] = filter.Field(f)
	}
	return fields
}

func (a *app) exportOptions() []export.Option {
	if a.cfg.Bulk.ExportBOM {
		return []export.Option{export.WithBOM()}
	}
	return nil
}

// openWorkspace loads a workspace over the configured store
func (a *app) openWorkspace(ctx context.Context, extra ...workspace.Option) (*workspace.Workspace, func(), error) {
	store, local, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	format, err := export.ParseFormat(a.cfg.Bulk.ExportFormat)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	opts := []workspace.Option{
		workspace.WithLogger(a.log),
		workspace.WithMetrics(a.metrics),
		workspace.WithCacheSize(a.cfg.Search.CacheSize),
		workspace.WithSearchDebounce(a.cfg.Search.Debounce, a.cfg.Search.MaxWait),
		workspace.WithCompileOptions(filter.SecondaryFields(a.secondaryFields()...)),
		workspace.WithScanConfig(scan.Config{
			MaxGap:      a.cfg.Scan.MaxGap,
			IdleTimeout: a.cfg.Scan.IdleTimeout,
			MinLength:   a.cfg.Scan.MinLength,
		}),
		workspace.WithImageConfig(ingest.Config{
			MaxBytes:      a.cfg.Image.MaxBytes,
			AcceptedTypes: a.cfg.Image.AcceptedTypes,
		}),
		workspace.WithBulkOptions(
			bulk.WithConcurrency(a.cfg.Bulk.Concurrency),
			bulk.WithExportFormat(format),
			bulk.WithExportOptions(a.exportOptions()...),
		),
		workspace.WithExportOptions(a.exportOptions()...),
	}
	if local != nil {
		opts = append(opts, workspace.WithImageStore(local))
	}

	w, err := workspace.New(store, append(opts, extra...)...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if _, err := w.Load(ctx, store); err != nil {
		w.Close()
		closeStore()
		return nil, nil, err
	}
	return w, func() {
		w.Close()
		closeStore()
	}, nil
}

var errRemoteUnsupported = errors.New("command needs the local database; unset --backend")
