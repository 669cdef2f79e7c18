// Package earning applies earning rules such as daily visits on top of the
// ledger, enforcing each rule's per-day cap.
package earning

import (
	"context"
	"fmt"
	"time"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/store"

	"github.com/sirupsen/logrus"
)

type Service struct {
	uow    *store.UnitOfWork
	repo   Repository
	users  ledger.Repository
	engine *ledger.Engine
	clock  clock.Clock
	sink   notify.Sink
	log    logrus.FieldLogger
}

func NewService(uow *store.UnitOfWork, repo Repository, users ledger.Repository, engine *ledger.Engine, clk clock.Clock, sink notify.Sink, log logrus.FieldLogger) *Service {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Service{uow: uow, repo: repo, users: users, engine: engine, clock: clk, sink: sink, log: log}
}

// Apply awards the rule's points to the user. The day's count is taken under
// the user's balance lock, so two concurrent applications cannot both slip
// under the cap. Days are UTC.
func (s *Service) Apply(ctx context.Context, userID, ruleID, referenceID string) (model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := s.uow.Do(ctx, "apply_rule", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Lock(ctx, lock.User(userID)); err != nil {
			return err
		}
		rule, err := s.repo.GetRule(ctx, tx.DB, ruleID)
		if err != nil {
			return err
		}
		if !rule.Active {
			return fmt.Errorf("%w: %s", ErrRuleInactive, rule.Title)
		}

		if rule.DailyLimit > 0 {
			from := dayStart(s.clock.Now())
			n, err := s.users.CountRuleEntries(ctx, tx.DB, userID, rule.ID, from, from.Add(24*time.Hour))
			if err != nil {
				return err
			}
			if n >= int64(rule.DailyLimit) {
				return fmt.Errorf("%w: %s allows %d per day", ErrDailyLimitReached, rule.Title, rule.DailyLimit)
			}
		}

		entry, err = s.engine.AwardTx(ctx, tx, ledger.Request{
			UserID:        userID,
			Amount:        rule.Points,
			RuleID:        &rule.ID,
			Description:   rule.Title,
			ReferenceType: model.RefRule,
			ReferenceID:   referenceID,
		})
		return err
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	payload := map[string]any{
		"entry_id":      entry.ID,
		"amount":        entry.Amount,
		"balance_after": entry.BalanceAfter,
		"description":   entry.Description,
	}
	if err := s.sink.Notify(context.Background(), notify.EventPointsEarned, userID, payload); err != nil {
		s.log.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("notification not queued")
	}
	return *entry, nil
}

func (s *Service) Rules(ctx context.Context) ([]model.EarningRule, error) {
	return s.repo.ListRules(ctx)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
