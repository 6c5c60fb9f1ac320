package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/compozy/knowledgebase/pkg/logger"

	// Register pgx stdlib driver for database/sql usage in migrations.
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	migrationsDir      = "migrations"
	migrationLockSpace = "knowledgebase"
	migrationLockName  = "migrations"
	migrationLockWait  = 45 * time.Second
)

//go:embed migrations/*.sql
var migrationsFS embed.FS
var gooseMu sync.Mutex

// ApplyMigrations brings the knowledge base schema up to date while holding
// a Postgres advisory lock, so concurrent starters apply it once.
func ApplyMigrations(ctx context.Context, dsn string) error {
	return withMigrationLock(ctx, dsn, func(db *sql.DB) error {
		return runGoose(ctx, db, goose.UpContext)
	})
}

// Drop removes every knowledge base table by rolling the schema back to zero.
func Drop(ctx context.Context, dsn string) error {
	return withMigrationLock(ctx, dsn, func(db *sql.DB) error {
		return runGoose(ctx, db, goose.ResetContext)
	})
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(ctx context.Context, dsn string) (int64, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func withMigrationLock(ctx context.Context, dsn string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire dedicated connection: %w", err)
	}
	defer conn.Close()
	log := logger.FromContext(ctx)
	lockCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()
	if _, err := conn.ExecContext(
		lockCtx,
		"select pg_advisory_lock(hashtext($1), hashtext($2))",
		migrationLockSpace,
		migrationLockName,
	); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(
			context.WithoutCancel(ctx),
			"select pg_advisory_unlock(hashtext($1), hashtext($2))",
			migrationLockSpace,
			migrationLockName,
		); err != nil {
			log.Warn("Failed to release migration advisory lock", "error", err)
		}
	}()
	return fn(db)
}

type gooseRun func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func runGoose(ctx context.Context, db *sql.DB, run gooseRun) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := run(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
