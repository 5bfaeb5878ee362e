// Package sqlite is a persist.StateStorage backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jilio/vstore/persist"
	_ "modernc.org/sqlite"
)

// Item is one stored entry.
type Item struct {
	Name      string
	Value     string
	UpdatedAt time.Time
}

// Store implements persist.StateStorage using SQLite. Each item is one row
// keyed by its name.
type Store struct {
	db          *sql.DB
	cfg         *config
	logger      Logger
	metricsHook MetricsHook

	// Prepared statements.
	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	removeStmt *sql.Stmt
	listStmt   *sql.Stmt
}

var _ persist.StateStorage = (*Store)(nil)

// dbOpener is used to open database connections, injectable for testing.
var dbOpener = sql.Open

// New creates a new Store with the given path and options.
//
// Every ":memory:" store gets its own private in-memory database.
//
// Note: When WithAutoMigrate is enabled (the default), migrations run with
// context.Background() and are not cancellable. This ensures migrations
// complete fully to avoid leaving the database in an inconsistent state.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	// Validate path to prevent URI parameter injection.
	if path != ":memory:" && (strings.Contains(path, "?") || strings.Contains(path, "#")) {
		return nil, errors.New("sqlite: path cannot contain '?' or '#' characters")
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == ":memory:" {
		// Shared cache lets the pool's connections see one database; the
		// random name keeps separate stores apart.
		dsn = fmt.Sprintf("file:vstore-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.path, cfg.busyTimeout.Milliseconds())
	}

	db, err := dbOpener("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// Errors here indicate filesystem issues (read-only, permissions).
	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

// Func returns a persist.StorageFunc that opens the store at path when the
// persisted store is created. An open failure disables persistence.
func Func(path string, opts ...Option) persist.StorageFunc {
	return func() (persist.StateStorage, error) {
		return New(path, opts...)
	}
}

// newFromDB creates a Store from an existing database connection.
func newFromDB(db *sql.DB, cfg *config) (*Store, error) {
	store := &Store{
		db:          db,
		cfg:         cfg,
		logger:      cfg.logger,
		metricsHook: cfg.metricsHook,
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}

	return store, nil
}

// applyPragmas configures SQLite for optimal performance.
func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

// prepareStatements prepares all SQL statements.
func (s *Store) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}

	stmts := []stmtDef{
		{&s.getStmt, "SELECT value FROM state_items WHERE name = ?"},
		{&s.setStmt, `INSERT INTO state_items (name, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`},
		{&s.removeStmt, "DELETE FROM state_items WHERE name = ?"},
		{&s.listStmt, "SELECT name, value, updated_at FROM state_items ORDER BY name"},
	}

	for _, def := range stmts {
		stmt, err := s.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*def.dest = stmt
	}

	return nil
}

// GetItem implements persist.StateStorage.
func (s *Store) GetItem(ctx context.Context, name string) (string, bool, error) {
	start := time.Now()

	var value string
	err := s.getStmt.QueryRowContext(ctx, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if s.metricsHook != nil {
				s.metricsHook.OnGet(time.Since(start), false, nil)
			}
			return "", false, nil
		}
		if s.metricsHook != nil {
			s.metricsHook.OnGet(time.Since(start), false, err)
		}
		return "", false, fmt.Errorf("sqlite: get item: %w", err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnGet(time.Since(start), true, nil)
	}

	return value, true, nil
}

// SetItem implements persist.StateStorage.
func (s *Store) SetItem(ctx context.Context, name, value string) error {
	start := time.Now()

	_, err := s.setStmt.ExecContext(ctx, name, value, start.UTC())
	if s.metricsHook != nil {
		s.metricsHook.OnSet(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: set item: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("stored item", "name", name, "bytes", len(value))
	}

	return nil
}

// RemoveItem implements persist.StateStorage.
func (s *Store) RemoveItem(ctx context.Context, name string) error {
	start := time.Now()

	_, err := s.removeStmt.ExecContext(ctx, name)
	if s.metricsHook != nil {
		s.metricsHook.OnRemove(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: remove item: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("removed item", "name", name)
	}

	return nil
}

// rowScanner abstracts sql.Rows for testing.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Items streams every stored item ordered by name. Rows are closed when the
// iteration completes, when the consumer stops early and when ctx is
// cancelled.
func (s *Store) Items(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		rows, err := s.listStmt.QueryContext(ctx)
		if err != nil {
			yield(Item{}, fmt.Errorf("sqlite: list items: %w", err))
			return
		}
		streamRows(ctx, rows, yield)
	}
}

// streamRows iterates over rows yielding items. Extracted for testability.
func streamRows(ctx context.Context, rows rowScanner, yield func(Item, error) bool) {
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			yield(Item{}, ctx.Err())
			return
		default:
		}

		var item Item
		if err := rows.Scan(&item.Name, &item.Value, &item.UpdatedAt); err != nil {
			yield(Item{}, fmt.Errorf("sqlite: scan item: %w", err))
			return
		}
		if !yield(item, nil) {
			return
		}
	}

	if err := rows.Err(); err != nil {
		yield(Item{}, fmt.Errorf("sqlite: iterate items: %w", err))
	}
}

// Close closes the database connection and releases resources.
// Prepared statement close errors are ignored as db.Close() handles cleanup.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.getStmt,
		s.setStmt,
		s.removeStmt,
		s.listStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.logger != nil {
		s.logger.Info("closing sqlite store")
	}

	return s.db.Close()
}
