package sqlite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
)

// Options are the per-connection pragmas NewDB sets. Foreign keys are
// always on.
type Options struct {
	BusyTimeout time.Duration
	JournalMode string
}

func defaultOptions() Options {
	return Options{BusyTimeout: 5 * time.Second, JournalMode: "wal"}
}

type Option func(*Options)

// WithBusyTimeout sets how long a statement waits on a locked database
// before failing with SQLITE_BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *Options) { o.BusyTimeout = d }
}

func WithJournalMode(mode string) Option {
	return func(o *Options) { o.JournalMode = strings.ToLower(mode) }
}

func (o Options) dsn(path string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", o.BusyTimeout.Milliseconds()),
	}
	if o.JournalMode != "" {
		pragmas = append(pragmas, "_pragma=journal_mode("+o.JournalMode+")")
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// NewDB opens the database behind a single connection, so orchestrated
// transactions serialize behind it.
func NewDB(path string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", opts.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("cannot open db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

func (s *Store) Migrate(migrationsPath string) error {
	driver, err := sqlite.WithInstance(s.db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migrations driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration setup failed: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration exec failed: %w", err)
	}

	return nil
}
