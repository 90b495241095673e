package repository

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// txScope decorates one transaction handle for the lifetime of a single Atomic call.
// It remembers the last statement and warns when the scope is held too long.
type txScope struct {
	label   string
	started time.Time
	logger  *log.Logger
	timer   *time.Timer

	mu       sync.Mutex
	lastSQL  string
	released bool
}

func (s *Store) acquire(label string) *txScope {
	sc := &txScope{label: label, started: time.Now(), logger: s.logger}
	sc.timer = time.AfterFunc(s.slowScope, func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if sc.released {
			return
		}
		sc.logger.Printf("[warn] transaction %q held for more than %s, last statement: %s",
			sc.label, s.slowScope, sc.lastSQL)
	})
	return sc
}

// bind returns a session of tx whose logger reports statements to the scope.
// The shared pool and its default logger are left untouched.
func (sc *txScope) bind(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{Logger: &scopeLogger{Interface: tx.Logger, scope: sc}})
}

func (sc *txScope) record(sql string) {
	sc.mu.Lock()
	sc.lastSQL = sql
	sc.mu.Unlock()
}

func (sc *txScope) release() {
	sc.timer.Stop()
	sc.mu.Lock()
	sc.released = true
	sc.mu.Unlock()
}

type scopeLogger struct {
	logger.Interface
	scope *txScope
}

func (l *scopeLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &scopeLogger{Interface: l.Interface.LogMode(level), scope: l.scope}
}

func (l *scopeLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, _ := fc()
	l.scope.record(sql)
	l.Interface.Trace(ctx, begin, fc, err)
}
