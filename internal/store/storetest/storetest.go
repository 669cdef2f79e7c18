// Package storetest opens throwaway sqlite databases for package tests.
package storetest

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"loyalty_service/internal/lock"
	"loyalty_service/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Logger discards output.
func Logger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

const recordedConns = 8

// Open returns a migrated database in the test's temp dir and a unit of work
// backed by in-process locks. The pool holds one connection, so units of work
// run one at a time.
func Open(t testing.TB) (*gorm.DB, *store.UnitOfWork) {
	t.Helper()
	return open(t, false, lock.NewLocal())
}

// OpenRecorded opens the database in WAL mode with a pool of connections, so
// units of work overlap and only their locks keep them apart. Every grant is
// recorded and held for hold before the unit of work continues.
func OpenRecorded(t testing.TB, hold time.Duration) (*gorm.DB, *store.UnitOfWork, *Recorder) {
	t.Helper()
	rec := NewRecorder(lock.NewLocal())
	rec.Hold = hold
	db, uow := open(t, true, rec)
	return db, uow, rec
}

func open(t testing.TB, pooled bool, locker lock.Locker) (*gorm.DB, *store.UnitOfWork) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "loyalty.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if pooled {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := store.Open(store.DriverSQLite, dsn, Logger())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	if pooled {
		sqlDB.SetMaxOpenConns(recordedConns)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db, store.NewUnitOfWork(db, locker, 10*time.Second)
}

// Recorder wraps a Locker and keeps every key it grants, in grant order.
// A non-zero Hold sleeps after each grant while the key is held.
type Recorder struct {
	lock.Locker
	Hold time.Duration

	mu   sync.Mutex
	keys []lock.Key
}

func NewRecorder(inner lock.Locker) *Recorder {
	return &Recorder{Locker: inner}
}

func (r *Recorder) Acquire(ctx context.Context, db *gorm.DB, key lock.Key) (func(), error) {
	release, err := r.Locker.Acquire(ctx, db, key)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	if r.Hold > 0 {
		time.Sleep(r.Hold)
	}
	return release, nil
}

// Keys returns the granted keys and clears the record.
func (r *Recorder) Keys() []lock.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.keys
	r.keys = nil
	return keys
}
