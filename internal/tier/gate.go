// Package tier moves users up the club ladder and answers eligibility
// questions for wheels and rewards.
package tier

import (
	"context"
	"fmt"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Gate struct {
	uow    *store.UnitOfWork
	repo   Repository
	users  ledger.Repository
	engine *ledger.Engine
	clock  clock.Clock
	sink   notify.Sink
	log    logrus.FieldLogger
}

func NewGate(uow *store.UnitOfWork, repo Repository, users ledger.Repository, engine *ledger.Engine, clk clock.Clock, sink notify.Sink, log logrus.FieldLogger) *Gate {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Gate{uow: uow, repo: repo, users: users, engine: engine, clock: clk, sink: sink, log: log}
}

// Upgrade charges the target club's joining cost and moves the user into it.
// Only strictly higher tiers are accepted; a user without a club may join
// any of them.
func (g *Gate) Upgrade(ctx context.Context, userID, targetClubID string) (model.User, error) {
	var from *string
	var target *model.Club
	err := g.uow.Do(ctx, "upgrade_tier", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Lock(ctx, lock.User(userID)); err != nil {
			return err
		}
		user, err := g.users.GetUser(ctx, tx.DB, userID)
		if err != nil {
			return err
		}
		target, err = g.repo.GetClub(ctx, tx.DB, targetClubID)
		if err != nil {
			return err
		}

		if user.ClubID != nil {
			current, err := g.repo.GetClub(ctx, tx.DB, *user.ClubID)
			if err != nil {
				return fmt.Errorf("failed to load current club: %w", err)
			}
			if target.MinPoints <= current.MinPoints {
				return fmt.Errorf("%w: %s (%d) to %s (%d)", ErrInvalidTierTransition,
					current.Title, current.MinPoints, target.Title, target.MinPoints)
			}
		}
		from = user.ClubID

		if user.CurrentPoints < target.JoiningCost {
			return fmt.Errorf("%w: balance %d, joining cost %d", ledger.ErrInsufficientBalance, user.CurrentPoints, target.JoiningCost)
		}
		if target.JoiningCost > 0 {
			_, err := g.engine.DeductTx(ctx, tx, ledger.Request{
				UserID:        userID,
				Amount:        target.JoiningCost,
				Description:   "Joined club " + target.Title,
				ReferenceType: model.RefClub,
				ReferenceID:   target.ID,
			})
			if err != nil {
				return err
			}
		}
		return g.repo.SetUserClub(ctx, tx.DB, userID, target.ID, g.clock.Now())
	})
	if err != nil {
		return model.User{}, err
	}

	payload := map[string]any{"club_id": target.ID, "club_title": target.Title, "cost": target.JoiningCost}
	if from != nil {
		payload["from_club_id"] = *from
	}
	if err := g.sink.Notify(context.Background(), notify.EventClubUpgraded, userID, payload); err != nil {
		g.log.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("notification not queued")
	}
	g.log.WithFields(logrus.Fields{"user_id": userID, "club_id": target.ID, "cost": target.JoiningCost}).Info("club upgraded")

	return g.engine.User(ctx, userID)
}

// Eligible returns ErrNotEligible unless the user's club is at least as high
// as the required one. A nil requirement admits everyone.
func (g *Gate) Eligible(ctx context.Context, tx *gorm.DB, user model.User, requiredClubID *string) error {
	if requiredClubID == nil || *requiredClubID == "" {
		return nil
	}
	if user.ClubID == nil {
		return ErrNotEligible
	}
	if *user.ClubID == *requiredClubID {
		return nil
	}
	required, err := g.repo.GetClub(ctx, tx, *requiredClubID)
	if err != nil {
		return err
	}
	current, err := g.repo.GetClub(ctx, tx, *user.ClubID)
	if err != nil {
		return err
	}
	if current.MinPoints < required.MinPoints {
		return fmt.Errorf("%w: requires %s", ErrNotEligible, required.Title)
	}
	return nil
}

// DisplayTier is the highest club whose threshold the user's current balance
// reaches. It is informational and independent of the purchased club. The
// second result is false when no club qualifies.
func (g *Gate) DisplayTier(ctx context.Context, userID string) (model.Club, bool, error) {
	user, err := g.engine.User(ctx, userID)
	if err != nil {
		return model.Club{}, false, err
	}
	clubs, err := g.repo.ListClubs(ctx)
	if err != nil {
		return model.Club{}, false, err
	}
	var best model.Club
	found := false
	for _, c := range clubs {
		if c.MinPoints <= user.CurrentPoints {
			best, found = c, true
		}
	}
	return best, found, nil
}

func (g *Gate) Clubs(ctx context.Context) ([]model.Club, error) {
	return g.repo.ListClubs(ctx)
}
