// Package ledger is the only path that writes point transactions and moves
// user balances.
package ledger

import (
	"context"
	"fmt"
	"math"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/metrics"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Request describes one balance movement. Amount is always positive; the
// entry type decides the sign.
type Request struct {
	UserID        string
	Amount        int64
	RuleID        *string
	Description   string
	ReferenceType string
	ReferenceID   string
}

type Engine struct {
	uow     *store.UnitOfWork
	repo    Repository
	clock   clock.Clock
	sink    notify.Sink
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func NewEngine(uow *store.UnitOfWork, repo Repository, clk clock.Clock, sink notify.Sink, m *metrics.Metrics, log logrus.FieldLogger) *Engine {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Engine{uow: uow, repo: repo, clock: clk, sink: sink, metrics: m, log: log}
}

// AwardTx credits req.Amount inside the caller's unit of work.
func (e *Engine) AwardTx(ctx context.Context, tx *store.Tx, req Request) (*model.LedgerEntry, error) {
	return e.apply(ctx, tx, req, model.EntryTypeEarn)
}

// DeductTx debits req.Amount inside the caller's unit of work. It fails with
// ErrInsufficientBalance, leaving the balance untouched, when the locked
// balance is below the amount.
func (e *Engine) DeductTx(ctx context.Context, tx *store.Tx, req Request) (*model.LedgerEntry, error) {
	return e.apply(ctx, tx, req, model.EntryTypeSpend)
}

func (e *Engine) apply(ctx context.Context, tx *store.Tx, req Request, typ model.EntryType) (*model.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d is not positive", ErrInvalidAmount, req.Amount)
	}
	if err := tx.Lock(ctx, lock.User(req.UserID)); err != nil {
		return nil, err
	}

	user, err := e.repo.GetUser(ctx, tx.DB, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.CurrentPoints < 0 {
		return nil, e.violation(user.ID, fmt.Sprintf("stored balance is %d", user.CurrentPoints))
	}

	delta := req.Amount
	if typ == model.EntryTypeSpend {
		if user.CurrentPoints < req.Amount {
			return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, user.CurrentPoints, req.Amount)
		}
		delta = -req.Amount
	} else if req.Amount > math.MaxInt64-user.CurrentPoints {
		return nil, fmt.Errorf("%w: balance %d cannot take %d more points", ErrInvalidAmount, user.CurrentPoints, req.Amount)
	}

	now := e.clock.Now()
	if err := e.repo.AdjustBalance(ctx, tx.DB, user.ID, delta, now); err != nil {
		return nil, err
	}

	entry := &model.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Amount:        delta,
		Type:          typ,
		Description:   req.Description,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		RuleID:        req.RuleID,
		BalanceAfter:  user.CurrentPoints + delta,
		CreatedAt:     now,
	}
	if err := e.repo.AppendEntry(ctx, tx.DB, entry); err != nil {
		return nil, err
	}

	tx.AfterCommit(func() {
		e.metrics.LedgerEntry(string(typ))
		e.log.WithFields(logrus.Fields{
			"user_id":       entry.UserID,
			"entry_id":      entry.ID,
			"amount":        entry.Amount,
			"balance_after": entry.BalanceAfter,
			"reference":     entry.ReferenceType + ":" + entry.ReferenceID,
		}).Debug("ledger entry committed")
	})
	return entry, nil
}

// Award credits points in its own unit of work and notifies the user once
// committed.
func (e *Engine) Award(ctx context.Context, req Request) (model.LedgerEntry, error) {
	return e.standalone(ctx, "award", req, e.AwardTx, notify.EventPointsEarned)
}

// Deduct debits points in its own unit of work.
func (e *Engine) Deduct(ctx context.Context, req Request) (model.LedgerEntry, error) {
	return e.standalone(ctx, "deduct", req, e.DeductTx, notify.EventPointsSpent)
}

type applyFunc func(ctx context.Context, tx *store.Tx, req Request) (*model.LedgerEntry, error)

func (e *Engine) standalone(ctx context.Context, name string, req Request, fn applyFunc, event string) (model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := e.uow.Do(ctx, name, func(ctx context.Context, tx *store.Tx) error {
		var err error
		entry, err = fn(ctx, tx, req)
		if err != nil {
			return err
		}
		tx.AfterCommit(func() {
			e.send(event, entry.UserID, map[string]any{
				"entry_id":      entry.ID,
				"amount":        entry.Amount,
				"balance_after": entry.BalanceAfter,
				"description":   entry.Description,
			})
		})
		return nil
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return *entry, nil
}

// CreateUser registers a user with a zero balance. An empty id gets a new
// UUID.
func (e *Engine) CreateUser(ctx context.Context, userID string) (model.User, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	now := e.clock.Now()
	u := model.User{ID: userID, CreatedAt: now, UpdatedAt: now}
	if err := e.repo.CreateUser(ctx, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// User reads the user without locking.
func (e *Engine) User(ctx context.Context, userID string) (model.User, error) {
	u, err := e.repo.GetUser(ctx, e.uow.DB(), userID)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// Balance returns the committed balance.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := e.User(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.CurrentPoints, nil
}

// History lists the user's entries, newest first. It takes no lock.
func (e *Engine) History(ctx context.Context, userID string, limit, offset int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.repo.ListEntries(ctx, userID, limit, offset)
}

type Reconciliation struct {
	UserID    string `json:"user_id"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
}

// Reconcile compares the cached balance with the sum of the user's ledger
// under the balance lock.
func (e *Engine) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	var rec Reconciliation
	err := e.uow.Do(ctx, "reconcile", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Lock(ctx, lock.User(userID)); err != nil {
			return err
		}
		user, err := e.repo.GetUser(ctx, tx.DB, userID)
		if err != nil {
			return err
		}
		sum, err := e.repo.SumEntries(ctx, tx.DB, userID)
		if err != nil {
			return err
		}
		rec = Reconciliation{UserID: userID, Balance: user.CurrentPoints, LedgerSum: sum}
		if sum != user.CurrentPoints {
			return e.violation(userID, fmt.Sprintf("balance %d != ledger sum %d", user.CurrentPoints, sum))
		}
		return nil
	})
	return rec, err
}

func (e *Engine) violation(userID, detail string) error {
	e.log.WithFields(logrus.Fields{"user_id": userID, "detail": detail}).Error("ledger invariant violated")
	return fmt.Errorf("%w: user %s: %s", store.ErrInvariantViolation, userID, detail)
}

func (e *Engine) send(event, userID string, payload map[string]any) {
	if err := e.sink.Notify(context.Background(), event, userID, payload); err != nil {
		e.log.WithFields(logrus.Fields{"event": event, "user_id": userID, "error": err.Error()}).Warn("notification not queued")
	}
}
