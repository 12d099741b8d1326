package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pipewise-ops/config"
	"pipewise-ops/core/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewDB opens the configured database. SQLite is the default; Postgres is
// selected with db_driver=postgres and a db_url.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = "data/pipewise.db"
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("DB sqlite open path=%s", path)
		}
		return db, nil
	case "postgres", "pgx":
		db, err := sql.Open("pgx", strings.TrimSpace(cfg.DBURL))
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Printf("DB postgres open")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// ApplyMigrations runs the embedded goose migrations.
func ApplyMigrations(ctx context.Context, cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) error {
	dialect := "sqlite3"
	if d := strings.ToLower(strings.TrimSpace(cfg.DBDriver)); d == "postgres" || d == "pgx" {
		dialect = "postgres"
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("DB migrations applied dialect=%s", dialect)
	}
	return nil
}
