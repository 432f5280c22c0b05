// Package postgres provides a PostgreSQL implementation of store.Store with
// LISTEN/NOTIFY based change events across processes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/storage/sqldb"
	"github.com/c0deZ3R0/listsync/store"

	// PostgreSQL driver
	_ "github.com/lib/pq"
)

// Operation constants for consistent error reporting
const (
	opOpen     = "postgres.Open"
	opSnapshot = "postgres.Snapshot"
	opUpdate   = "postgres.Update"
	opListen   = "postgres.Listen"
	component  = "storage/postgres"
)

// DefaultChannel is the NOTIFY channel used when Config.Channel is empty.
const DefaultChannel = "listsync_changes"

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("store is closed")

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds configuration options for the PostgreSQL store.
type Config struct {
	// ConnectionString is the lib/pq connection string (required).
	ConnectionString string

	// Channel is the NOTIFY channel commits are announced on.
	Channel string

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=10, Lifetime=1h, IdleTime=15m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// LISTEN/NOTIFY settings.
	// Defaults: MinReconnect=5s, MaxReconnect=1m, Ping=90s
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration

	// DisableListen skips the LISTEN connection; only local events fire.
	DisableListen bool

	Logger *slog.Logger
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 15 * time.Minute
	}
	if c.MinReconnectInterval == 0 {
		c.MinReconnectInterval = 5 * time.Second
	}
	if c.MaxReconnectInterval == 0 {
		c.MaxReconnectInterval = time.Minute
	}
	if c.PingInterval == 0 {
		c.PingInterval = 90 * time.Second
	}
	c.Logger = logging.OrDefault(c.Logger, component)
}

// DefaultConfig returns a Config with the default pool and listener settings.
func DefaultConfig(connectionString string) *Config {
	config := &Config{ConnectionString: connectionString}
	config.setDefaults()
	return config
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db       *sql.DB
	repo     *sqldb.Repo
	config   Config
	logger   *slog.Logger
	instance string

	*store.Notifier

	mu     sync.RWMutex
	closed bool

	listener *listener
}

// Compile-time check to ensure Store satisfies the store interface
var _ store.Store = (*Store)(nil)

// Open connects with DefaultConfig.
func Open(ctx context.Context, connectionString string) (*Store, error) {
	return New(ctx, DefaultConfig(connectionString))
}

// New connects, migrates the schema and starts the change listener.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("config cannot be nil"), opOpen, component, syncErrors.KindInvalid)
	}
	config.setDefaults()
	if config.ConnectionString == "" {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("ConnectionString is required"), opOpen, component, syncErrors.KindInvalid)
	}
	if !channelPattern.MatchString(config.Channel) {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("invalid channel name %q", config.Channel), opOpen, component, syncErrors.KindInvalid)
	}

	logger := config.Logger
	logger.InfoContext(ctx, "Opening PostgreSQL database",
		slog.String("data_source", maskConnectionString(config.ConnectionString)),
		slog.String("channel", config.Channel),
	)

	db, err := sql.Open("postgres", config.ConnectionString)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("open postgres database: %w", err))
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, fmt.Errorf("connect to postgres database: %w", err))
	}
	if err := sqldb.Migrate(ctx, db, sqldb.Postgres); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	s := &Store{
		db:       db,
		repo:     sqldb.NewRepo(sqldb.Postgres),
		config:   *config,
		logger:   logger,
		instance: uuid.NewString(),
		Notifier: store.NewNotifier(logger),
	}

	if !config.DisableListen {
		l, err := newListener(ctx, s)
		if err != nil {
			db.Close()
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, syncErrors.WrapOpComponent(err, opListen, component))
		}
		s.listener = l
	}

	logger.InfoContext(ctx, "PostgreSQL store initialized",
		slog.String("instance", s.instance),
		slog.Bool("listen_notify_enabled", !config.DisableListen),
	)
	return s, nil
}

// maskConnectionString masks the password in key=value and URL connection strings.
func maskConnectionString(connStr string) string {
	if strings.Contains(connStr, "password=") {
		parts := strings.Split(connStr, " ")
		for i, part := range parts {
			if strings.HasPrefix(part, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	}
	if at := strings.LastIndex(connStr, "@"); at > 0 {
		if scheme := strings.Index(connStr, "://"); scheme >= 0 && scheme < at {
			creds := connStr[scheme+3 : at]
			if colon := strings.Index(creds, ":"); colon >= 0 {
				return connStr[:scheme+3] + creds[:colon] + ":***" + connStr[at:]
			}
		}
	}
	return connStr
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Snapshot implements store.Store with a repeatable-read transaction.
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

// Update implements store.Store. Writers are serialized with a
// transaction-scoped advisory lock, so concurrent processes sharing the
// database also take turns. The commit is announced on the NOTIFY channel.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	err := sqldb.WithTx(ctx, s.db, nil, func(ctx context.Context, tx sqldb.DBTX) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", s.config.Channel); err != nil {
			return fmt.Errorf("acquire writer lock: %w", err)
		}
		if err := fn(ctx, s.repo.Writer(tx)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", s.config.Channel, s.instance); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return syncErrors.WrapOpComponent(err, opUpdate, component)
	}
	s.Notify(store.OriginLocal)
	return nil
}

// Stats exposes the connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Close stops the listener and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
