// Package sqlite implements the persistence repositories on SQLite using the
// pure Go modernc.org/sqlite driver. The schema is managed by goose from
// migrations embedded in the binary.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/example/mess-attendance/internal/persistence"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Config holds SQLite connection settings.
type Config struct {
	// DSN is a file path or a file: URI.
	DSN string
	// BusyTimeout sets how long a writer waits for a lock.
	BusyTimeout time.Duration
	// JournalMode sets the journal mode (WAL, DELETE, ...).
	JournalMode string
	// MaxOpenConns caps the pool. SQLite allows one writer, so the default is 1.
	MaxOpenConns int
}

// DefaultConfig returns the settings used by Open.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:          dsn,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "WAL",
		MaxOpenConns: 1,
	}
}

// Storage is a persistence.Store backed by a SQLite database.
type Storage struct {
	db *sql.DB
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to dsn with DefaultConfig.
func Open(dsn string) (*Storage, error) {
	return OpenWithConfig(DefaultConfig(dsn))
}

// OpenWithConfig connects using cfg. Pragmas are carried in the DSN so every
// pooled connection gets them.
func OpenWithConfig(cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", withPragmas(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Storage{db: db}, nil
}

func withPragmas(cfg Config) string {
	pragmas := []string{"_pragma=foreign_keys(1)"}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=journal_mode(%s)", cfg.JournalMode))
	}
	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + strings.Join(pragmas, "&")
}

// Migrate applies all pending embedded migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("sqlite: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back when fn fails or panics.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", mapError(err))
	}
	return nil
}
