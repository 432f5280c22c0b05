// Package sqlite provides a SQLite implementation of store.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/storage/sqldb"
	"github.com/c0deZ3R0/listsync/store"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opOpen     = "sqlite.Open"
	opSnapshot = "sqlite.Snapshot"
	opUpdate   = "sqlite.Update"
	opWatch    = "sqlite.Watch"
	component  = "storage/sqlite"
)

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the SQLite store.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database, which cannot be watched.
	Path string

	// EnableWAL enables Write-Ahead Logging. Enabled by DefaultConfig.
	EnableWAL bool

	// BusyTimeout is how long a writer waits for a lock held by another
	// process. Default: 5s.
	BusyTimeout time.Duration

	// WatchExternal fires change events for commits made by other
	// processes. Enabled by DefaultConfig for file databases.
	WatchExternal bool

	// Debounce coalesces bursts of file events. Default: 50ms.
	Debounce time.Duration

	// Logger defaults to the package logger scoped to the component.
	Logger *slog.Logger
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.Debounce == 0 {
		c.Debounce = 50 * time.Millisecond
	}
	if c.Path == ":memory:" {
		c.WatchExternal = false
	}
	c.Logger = logging.OrDefault(c.Logger, component)
}

// DefaultConfig returns a Config with WAL and external change watching on.
func DefaultConfig(path string) *Config {
	config := &Config{
		Path:          path,
		EnableWAL:     true,
		WatchExternal: true,
	}
	config.setDefaults()
	return config
}

func (c *Config) dsn() string {
	params := []string{
		"_foreign_keys=on",
		fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds()),
	}
	if c.EnableWAL && c.Path != ":memory:" {
		params = append(params, "_journal_mode=WAL")
	}
	return "file:" + c.Path + "?" + strings.Join(params, "&")
}

// Store implements store.Store on a single SQLite connection. One
// connection gives the single-writer discipline and keeps
// PRAGMA data_version meaningful: it only changes on foreign commits.
type Store struct {
	db     *sql.DB
	repo   *sqldb.Repo
	config Config
	logger *slog.Logger

	*store.Notifier

	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool

	watcher *watcher
}

// Compile-time check to ensure Store satisfies the store interface
var _ store.Store = (*Store)(nil)

// Open opens (and migrates) the database at path with DefaultConfig.
func Open(ctx context.Context, path string) (*Store, error) {
	return New(ctx, DefaultConfig(path))
}

// New opens a Store from config.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("config cannot be nil"), opOpen, component, syncErrors.KindInvalid)
	}
	config.setDefaults()
	if config.Path == "" {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("path is required"), opOpen, component, syncErrors.KindInvalid)
	}

	logger := config.Logger
	logger.InfoContext(ctx, "Opening SQLite database",
		slog.String("path", config.Path),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.dsn())
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("open sqlite database: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("connect to sqlite database: %w", err))
	}
	if err := sqldb.Migrate(ctx, db, sqldb.SQLite); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	s := &Store{
		db:       db,
		repo:     sqldb.NewRepo(sqldb.SQLite),
		config:   *config,
		logger:   logger,
		Notifier: store.NewNotifier(logger),
	}

	if config.WatchExternal {
		w, err := newWatcher(s)
		if err != nil {
			db.Close()
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
		}
		s.watcher = w
	}

	logger.InfoContext(ctx, "SQLite store initialized", slog.Bool("watch_external", config.WatchExternal))
	return s, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Snapshot implements store.Store.
func (s *Store) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpSnapshot, err)
	}
	var snap *model.Snapshot
	err := sqldb.WithTx(ctx, s.db, s.repo.SnapshotTxOptions(), func(ctx context.Context, tx sqldb.DBTX) error {
		var err error
		snap, err = s.repo.Snapshot(ctx, tx)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncErrors.NewCancelled(syncErrors.OpSnapshot, err)
		}
		return nil, syncErrors.NewStorageError(syncErrors.OpSnapshot, syncErrors.WrapOpComponent(err, opSnapshot, component))
	}
	return snap, nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := sqldb.WithTx(ctx, s.db, nil, func(ctx context.Context, tx sqldb.DBTX) error {
		return fn(ctx, s.repo.Writer(tx))
	})
	if err != nil {
		return syncErrors.WrapOpComponent(err, opUpdate, component)
	}
	if s.watcher != nil {
		s.watcher.sync()
	}
	s.Notify(store.OriginLocal)
	return nil
}

// Close stops the watcher and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// dataVersion reads PRAGMA data_version on the store's connection.
func (s *Store) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
