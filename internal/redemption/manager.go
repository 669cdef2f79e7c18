// Package redemption exchanges points for rewards and reverses the exchange
// when a redemption is rejected.
package redemption

import (
	"context"
	"fmt"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/metrics"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Eligibility decides whether a user may access something gated on a club.
type Eligibility interface {
	Eligible(ctx context.Context, tx *gorm.DB, user model.User, requiredClubID *string) error
}

type Manager struct {
	uow      *store.UnitOfWork
	repo     Repository
	users    ledger.Repository
	engine   *ledger.Engine
	eligible Eligibility
	clock    clock.Clock
	sink     notify.Sink
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func NewManager(uow *store.UnitOfWork, repo Repository, users ledger.Repository, engine *ledger.Engine, eligible Eligibility, clk clock.Clock, sink notify.Sink, m *metrics.Metrics, log logrus.FieldLogger) *Manager {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Manager{
		uow:      uow,
		repo:     repo,
		users:    users,
		engine:   engine,
		eligible: eligible,
		clock:    clk,
		sink:     sink,
		metrics:  m,
		log:      log,
	}
}

// Update is a requested status change. Empty Note and TrackingCode leave the
// stored values alone.
type Update struct {
	Status       model.RedemptionStatus
	Note         string
	TrackingCode string
}

// Redeem spends the reward's cost and takes one unit of its stock. The
// redemption starts pending.
func (m *Manager) Redeem(ctx context.Context, userID, rewardID, deliveryInfo string) (model.Redemption, error) {
	var red *model.Redemption
	err := m.uow.Do(ctx, "redeem", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Lock(ctx, lock.User(userID)); err != nil {
			return err
		}
		if err := tx.Lock(ctx, lock.Reward(rewardID)); err != nil {
			return err
		}

		user, err := m.users.GetUser(ctx, tx.DB, userID)
		if err != nil {
			return err
		}
		reward, err := m.repo.GetReward(ctx, tx.DB, rewardID)
		if err != nil {
			return err
		}
		if !reward.Active {
			return fmt.Errorf("%w: %s", ErrRewardInactive, reward.Title)
		}
		if err := m.eligible.Eligible(ctx, tx.DB, *user, reward.RequiredClubID); err != nil {
			return err
		}
		if reward.Stock <= 0 {
			return fmt.Errorf("%w: %s", ErrOutOfStock, reward.Title)
		}

		now := m.clock.Now()
		red = &model.Redemption{
			ID:           uuid.NewString(),
			UserID:       userID,
			RewardID:     &reward.ID,
			Title:        reward.Title,
			PointsSpent:  reward.PointsCost,
			Status:       model.RedemptionPending,
			DeliveryInfo: deliveryInfo,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if reward.PointsCost > 0 {
			_, err := m.engine.DeductTx(ctx, tx, ledger.Request{
				UserID:        userID,
				Amount:        reward.PointsCost,
				Description:   "Redeemed " + reward.Title,
				ReferenceType: model.RefRedemption,
				ReferenceID:   red.ID,
			})
			if err != nil {
				return err
			}
		}
		if err := m.repo.CreateRedemption(ctx, tx.DB, red); err != nil {
			return err
		}
		if err := m.repo.AdjustStock(ctx, tx.DB, reward.ID, -1, now); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			m.metrics.Redemption("created")
			m.send(notify.EventRedemptionCreated, red)
		})
		return nil
	})
	if err != nil {
		return model.Redemption{}, err
	}
	return *red, nil
}

// CreatePendingForSpin records an item won on the wheel. It carries no
// ledger entry and no reward stock; the spin already paid for it.
func (m *Manager) CreatePendingForSpin(ctx context.Context, tx *store.Tx, userID, spinID, title string) (*model.Redemption, error) {
	now := m.clock.Now()
	red := &model.Redemption{
		ID:        uuid.NewString(),
		UserID:    userID,
		SpinID:    &spinID,
		Title:     title,
		Status:    model.RedemptionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.CreateRedemption(ctx, tx.DB, red); err != nil {
		return nil, err
	}
	tx.AfterCommit(func() {
		m.metrics.Redemption("created")
		m.send(notify.EventRedemptionCreated, red)
	})
	return red, nil
}

// UpdateStatus moves a redemption to a new status. Entering rejected refunds
// the points and returns the reward's unit of stock exactly once; rejecting
// again is a no-op and any other move out of rejected fails.
func (m *Manager) UpdateStatus(ctx context.Context, redemptionID string, upd Update) (model.Redemption, error) {
	if !upd.Status.Valid() {
		return model.Redemption{}, fmt.Errorf("%w: %q", ErrInvalidStatus, upd.Status)
	}

	// The owner never changes, so it is safe to read before locking.
	owner, err := m.repo.GetRedemption(ctx, m.uow.DB(), redemptionID)
	if err != nil {
		return model.Redemption{}, err
	}

	var red *model.Redemption
	var from model.RedemptionStatus
	changed := false
	err = m.uow.Do(ctx, "update_redemption", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Lock(ctx, lock.User(owner.UserID)); err != nil {
			return err
		}
		var err error
		red, err = m.repo.GetRedemption(ctx, tx.DB, redemptionID)
		if err != nil {
			return err
		}
		from = red.Status

		if red.Status == model.RedemptionRejected {
			if upd.Status == model.RedemptionRejected {
				return nil
			}
			return fmt.Errorf("%w: redemption %s is rejected", ErrInvalidStatus, red.ID)
		}

		now := m.clock.Now()
		red.Status = upd.Status
		if upd.Note != "" {
			red.Note = upd.Note
		}
		if upd.TrackingCode != "" {
			red.TrackingCode = upd.TrackingCode
		}
		red.UpdatedAt = now
		if err := m.repo.UpdateRedemption(ctx, tx.DB, red); err != nil {
			return err
		}
		changed = true

		if upd.Status != model.RedemptionRejected {
			return nil
		}
		if err := m.reverse(ctx, tx, red); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			m.metrics.Redemption("rejected")
		})
		return nil
	})
	if err != nil {
		return model.Redemption{}, err
	}

	if changed {
		m.log.WithFields(logrus.Fields{
			"redemption_id": red.ID,
			"user_id":       red.UserID,
			"from":          from,
			"to":            red.Status,
		}).Info("redemption status changed")
		m.send(notify.EventRedemptionUpdated, red)
		m.metrics.Redemption("status_changed")
	}
	return *red, nil
}

func (m *Manager) reverse(ctx context.Context, tx *store.Tx, red *model.Redemption) error {
	if red.PointsSpent > 0 {
		_, err := m.engine.AwardTx(ctx, tx, ledger.Request{
			UserID:        red.UserID,
			Amount:        red.PointsSpent,
			Description:   "Refund for rejected redemption " + red.Title,
			ReferenceType: model.RefRedemption,
			ReferenceID:   red.ID,
		})
		if err != nil {
			return err
		}
		tx.AfterCommit(func() {
			m.metrics.Redemption("refunded")
		})
	}
	if red.RewardID == nil {
		return nil
	}
	if err := tx.Lock(ctx, lock.Reward(*red.RewardID)); err != nil {
		return err
	}
	return m.repo.AdjustStock(ctx, tx.DB, *red.RewardID, 1, red.UpdatedAt)
}

func (m *Manager) Get(ctx context.Context, redemptionID string) (model.Redemption, error) {
	red, err := m.repo.GetRedemption(ctx, m.uow.DB(), redemptionID)
	if err != nil {
		return model.Redemption{}, err
	}
	return *red, nil
}

// Rewards lists the active catalog, cheapest first.
func (m *Manager) Rewards(ctx context.Context) ([]model.Reward, error) {
	return m.repo.ListRewards(ctx)
}

func (m *Manager) List(ctx context.Context, userID string, limit int) ([]model.Redemption, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.repo.ListRedemptions(ctx, userID, limit)
}

func (m *Manager) send(event string, red *model.Redemption) {
	payload := map[string]any{
		"redemption_id": red.ID,
		"title":         red.Title,
		"status":        string(red.Status),
		"points_spent":  red.PointsSpent,
	}
	if red.TrackingCode != "" {
		payload["tracking_code"] = red.TrackingCode
	}
	if err := m.sink.Notify(context.Background(), event, red.UserID, payload); err != nil {
		m.log.WithFields(logrus.Fields{"event": event, "user_id": red.UserID, "error": err.Error()}).Warn("notification not queued")
	}
}
