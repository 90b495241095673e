package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"planner-sync/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// Options configures the connection pool behind a Store.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SlowScope is how long a transaction scope may be held before a warning is logged.
	SlowScope time.Duration
	Logger    *log.Logger
}

// Store owns the connection pool. It is created once at startup, injected into the
// services and closed on shutdown.
type Store struct {
	db        *gorm.DB
	sqlDB     *sql.DB
	slowScope time.Duration
	logger    *log.Logger
}

// Open connects to SQLite or Postgres (chosen by DSN), sizes the pool and runs migrations.
func Open(opts Options) (*Store, error) {
	if opts.DSN == "" {
		opts.DSN = "planner_sync.db"
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	if opts.SlowScope <= 0 {
		opts.SlowScope = 5 * time.Second
	}

	dialector, err := dialectorFor(opts.DSN)
	if err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		opts.Logger,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  dbLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Plan{}, &model.Task{}, &model.TaskInstance{}, &model.SessionLog{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB, slowScope: opts.SlowScope, logger: opts.Logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Repos returns repositories bound to the pool, for reads outside a transaction.
func (s *Store) Repos() Repos {
	return newRepos(s.db)
}

// Atomic runs fn inside one transaction. The repositories handed to fn are bound to that
// transaction; returning an error (or ctx being cancelled) rolls everything back.
func (s *Store) Atomic(ctx context.Context, label string, fn func(r Repos) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sc := s.acquire(label)
		defer sc.release()
		return fn(newRepos(sc.bind(tx)))
	})
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	if isPostgresDSN(dsn) {
		return postgres.Open(dsn), nil
	}
	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}
	return sqlite.Open(dsn), nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	// Ignore DSNs with explicit mode=memory or network.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	// Strip file: prefix if present.
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// Repos bundles the repositories that share one handle (pool or transaction).
type Repos struct {
	Users     *UserRepository
	Plans     *PlanRepository
	Tasks     *TaskRepository
	Instances *InstanceRepository
	Sessions  *SessionRepository
}

func newRepos(db *gorm.DB) Repos {
	return Repos{
		Users:     NewUserRepository(db),
		Plans:     NewPlanRepository(db),
		Tasks:     NewTaskRepository(db),
		Instances: NewInstanceRepository(db),
		Sessions:  NewSessionRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
