// Package migrations wires golang-migrate execution for the fill archive schema.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/coachpo/mangogate/db/migrations"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

// Embedded selects the migrations compiled into the binary.
const Embedded = ""

var (
	errNotDirectory = errors.New("migrations path must be a directory")
	errBadSteps     = errors.New("rollback steps must be >0")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Apply brings the schema at dsn up to date. migrationsDir selects a
// directory of SQL files; Embedded uses the bundled set. A nil logger
// disables informational logging.
func Apply(ctx context.Context, dsn, migrationsDir string, logger *log.Logger) error {
	return run(ctx, dsn, migrationsDir, logger, "up", func(m *migrate.Migrate) error { return m.Up() })
}

// Rollback reverts the last steps migrations.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return errBadSteps
	}
	return run(ctx, dsn, migrationsDir, logger, "down", func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func run(ctx context.Context, dsn, migrationsDir string, logger *log.Logger, direction string, step func(*migrate.Migrate) error) error {
	label := "embedded"
	var resolvedDir string
	if migrationsDir != Embedded {
		dir, err := resolveDir(migrationsDir)
		if err != nil {
			return err
		}
		resolvedDir = dir
		label = dir
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && logger != nil {
			logger.Printf("database migrations close: %v", cerr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	var m *migrate.Migrate
	if resolvedDir == "" {
		source, serr := iofs.New(dbmigrations.Files, ".")
		if serr != nil {
			return fmt.Errorf("open embedded migrations: %w", serr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "pgx5", driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(fileURL(resolvedDir), "pgx5", driver)
	}
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("database migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("database migrations db close: %v", dbErr)
		}
	}()

	if logger != nil {
		logger.Printf("running database migrations %s: source=%s", direction, label)
	}

	if err := step(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, direction, "noop")
			if logger != nil {
				logger.Printf("database migrations up-to-date")
			}
			return nil
		}
		recordMigrationMetric(ctx, direction, "failed")
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	if logger != nil {
		logger.Printf("database migrations %s applied", direction)
	}
	recordMigrationMetric(ctx, direction, "applied")
	return nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationMetric(ctx context.Context, direction, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("mangogate_db_migrations_total",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		attribute.String("direction", direction),
		telemetry.AttrResult.String(result),
	))
}
