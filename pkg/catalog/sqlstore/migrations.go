package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/nainya/catalogops/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its filesystem and dialect in package state
var gooseMu sync.Mutex

// gooseLogger routes goose output through zerolog
type gooseLogger struct {
	log *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Debug(fmt.Sprintf(format, v...)).Send()
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error(fmt.Sprintf(format, v...)).Send()
}

func applyMigrations(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	gooseMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		gooseMu.Unlock()
	}()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlstore: set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	return nil
}
