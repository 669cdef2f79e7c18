package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty_service/internal/lock"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrBusy means the unit of work could not get its locks or commit in
	// time. Nothing was applied and the caller may retry.
	ErrBusy = errors.New("resource busy")
	// ErrInvariantViolation signals an accounting or locking bug.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Observer receives the outcome of every unit of work.
type Observer interface {
	ObserveUnitOfWork(name string, took time.Duration, err error)
}

type UnitOfWork struct {
	db         *gorm.DB
	locker     lock.Locker
	timeout    time.Duration
	observer   Observer
	retries    int
	retryDelay time.Duration
}

func NewUnitOfWork(db *gorm.DB, locker lock.Locker, timeout time.Duration) *UnitOfWork {
	return &UnitOfWork{db: db, locker: locker, timeout: timeout}
}

func (u *UnitOfWork) SetObserver(o Observer) {
	u.observer = o
}

// SetRetries makes Do rerun a body that failed on a deadlock or
// serialization conflict, up to n more times, waiting delay between tries.
// Each try starts from a rolled-back transaction.
func (u *UnitOfWork) SetRetries(n int, delay time.Duration) {
	u.retries = n
	u.retryDelay = delay
}

// DB returns the handle for reads that need no lock, such as history.
func (u *UnitOfWork) DB() *gorm.DB {
	return u.db
}

// Do runs fn in one database transaction. fn receives the context bounded by
// the unit-of-work timeout and must use it for every lock and query. Locks
// taken via tx.Lock are held until the transaction ends. AfterCommit
// callbacks run only when the transaction committed.
func (u *UnitOfWork) Do(ctx context.Context, name string, fn func(ctx context.Context, tx *Tx) error) error {
	start := time.Now()
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	tx, err := u.attempt(ctx, fn)
	for i := 0; i < u.retries && transient(err) && ctx.Err() == nil; i++ {
		time.Sleep(u.retryDelay)
		tx, err = u.attempt(ctx, fn)
	}
	err = classify(ctx, err)

	if u.observer != nil {
		u.observer.ObserveUnitOfWork(name, time.Since(start), err)
	}
	if err != nil {
		return err
	}
	for _, f := range tx.afterCommit {
		f()
	}
	return nil
}

func (u *UnitOfWork) attempt(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (*Tx, error) {
	tx := &Tx{locker: u.locker, held: make(map[lock.Key]struct{})}
	defer tx.release()
	err := u.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		tx.DB = dbtx
		return fn(ctx, tx)
	})
	return tx, err
}

// Tx is the handle a unit of work passes to its body.
type Tx struct {
	DB *gorm.DB

	locker      lock.Locker
	held        map[lock.Key]struct{}
	rank        int
	releases    []func()
	afterCommit []func()
}

// Lock acquires key for the rest of the transaction. Locking a key twice is a
// no-op. Keys must be taken in domain rank order: a balance lock after a
// stock lock is refused.
func (t *Tx) Lock(ctx context.Context, key lock.Key) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	rank := key.Domain.Rank()
	if rank < t.rank {
		return fmt.Errorf("%w: lock %s requested out of order", ErrInvariantViolation, key)
	}
	release, err := t.locker.Acquire(ctx, t.DB, key)
	if err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.releases = append(t.releases, release)
	t.rank = rank
	return nil
}

// Holds reports whether the transaction already holds key.
func (t *Tx) Holds(key lock.Key) bool {
	_, ok := t.held[key]
	return ok
}

// AfterCommit registers fn to run once the transaction has committed.
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *Tx) release() {
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i]()
	}
	t.releases = nil
}

// transient reports a conflict that a fresh transaction may not hit again.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}
	return false
}

func classify(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrBusy) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001":
			return fmt.Errorf("%w: %w", ErrBusy, err)
		case "57014":
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrBusy, err)
			}
		}
	}
	var liteErr interface{ Code() int }
	if errors.As(err, &liteErr) {
		// SQLITE_BUSY and SQLITE_LOCKED, extended codes included.
		switch liteErr.Code() & 0xff {
		case 5, 6:
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}
	}
	return err
}
