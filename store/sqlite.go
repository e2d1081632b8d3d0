package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jonwraymond/catalogops/resilience"
)

// ErrNoPath is returned when no database path is configured.
var ErrNoPath = errors.New("store: database path is required")

// Statement is one parameterized SQL statement.
type Statement struct {
	SQL  string
	Args []any
}

// Store is the SQL capability the repository is written against.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: failures are *resilience.StoreError; lock and busy conditions
// set Transient. Context errors are returned unwrapped.
// - Transaction: all statements commit or none do.
type Store interface {
	// Query runs a read statement and scans the rows into dest, which is a
	// pointer to a slice of structs or to a scalar.
	Query(ctx context.Context, dest any, query string, args ...any) error

	// Exec runs a single statement outside a transaction.
	Exec(ctx context.Context, query string, args ...any) error

	// Transaction runs stmts in order inside one transaction.
	Transaction(ctx context.Context, stmts []Statement) error

	// Migrate creates or updates the tables for the given models.
	Migrate(ctx context.Context, models ...any) error

	Close() error
}

// Config configures a SQLite store.
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory
	// database.
	Path string

	// BusyTimeoutMS is how long SQLite waits on a locked database before
	// failing with SQLITE_BUSY.
	// Default: 5000
	BusyTimeoutMS int
}

// SQLite is a Store on an embedded SQLite database.
type SQLite struct {
	db *gorm.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at config.Path.
func Open(config Config) (*SQLite, error) {
	if config.Path == "" {
		return nil, ErrNoPath
	}
	if config.BusyTimeoutMS <= 0 {
		config.BusyTimeoutMS = 5000
	}

	memory := isMemoryPath(config.Path)
	if !memory {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	// journal_mode(WAL) lets readers proceed while one writer commits.
	sep := "?"
	if strings.Contains(config.Path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		config.Path, sep, config.BusyTimeoutMS)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("store: get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &SQLite{db: db}, nil
}

// DB returns the underlying gorm handle.
func (s *SQLite) DB() *gorm.DB {
	return s.db
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
	return classify(query, err)
}

// Exec implements Store.
func (s *SQLite) Exec(ctx context.Context, query string, args ...any) error {
	err := s.db.WithContext(ctx).Exec(query, args...).Error
	return classify(query, err)
}

// Transaction implements Store.
func (s *SQLite) Transaction(ctx context.Context, stmts []Statement) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, st := range stmts {
			if err := tx.Exec(st.SQL, st.Args...).Error; err != nil {
				return classify(st.SQL, err)
			}
		}
		return nil
	})
	return classify("transaction", err)
}

// Migrate implements Store using gorm's AutoMigrate.
func (s *SQLite) Migrate(ctx context.Context, models ...any) error {
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return classify("migrate", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps a driver error to a StoreError. Context errors pass
// through so that deadlines keep their retry classification.
func classify(statement string, err error) error {
	if err == nil {
		return nil
	}
	var se *resilience.StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &resilience.StoreError{
		Statement: summarize(statement),
		Transient: isTransient(err),
		Err:       err,
	}
}

// isTransient reports SQLITE_BUSY and SQLITE_LOCKED conditions.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}

func summarize(statement string) string {
	s := strings.Join(strings.Fields(statement), " ")
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return s
}

func isMemoryPath(path string) bool {
	return path == ":memory:" ||
		strings.HasPrefix(path, "file::memory:") ||
		strings.Contains(path, "mode=memory")
}
