// Package spin runs the lucky wheel: pay the cost, draw a prize, settle it,
// all in one unit of work.
package spin

import (
	"context"
	"errors"
	"fmt"

	"loyalty_service/internal/clock"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/lock"
	"loyalty_service/internal/metrics"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/prize"
	"loyalty_service/internal/redemption"
	"loyalty_service/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrWheelInactive = errors.New("wheel is not active")

type Result struct {
	SpinID       string          `json:"spin_id"`
	WheelID      string          `json:"wheel_id"`
	PrizeID      string          `json:"prize_id"`
	PrizeTitle   string          `json:"prize_title"`
	PrizeType    model.PrizeType `json:"prize_type"`
	PrizeValue   int64           `json:"prize_value,omitempty"`
	RedemptionID string          `json:"redemption_id,omitempty"`
	Message      string          `json:"message"`
	NewBalance   int64           `json:"new_balance"`
}

type Service struct {
	uow         *store.UnitOfWork
	wheels      prize.Repository
	users       ledger.Repository
	engine      *ledger.Engine
	resolver    *prize.Resolver
	redemptions *redemption.Manager
	eligible    redemption.Eligibility
	clock       clock.Clock
	sink        notify.Sink
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
}

type Deps struct {
	UnitOfWork  *store.UnitOfWork
	Wheels      prize.Repository
	Users       ledger.Repository
	Engine      *ledger.Engine
	Resolver    *prize.Resolver
	Redemptions *redemption.Manager
	Eligibility redemption.Eligibility
	Clock       clock.Clock
	Sink        notify.Sink
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
}

func NewService(d Deps) *Service {
	if d.Sink == nil {
		d.Sink = notify.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	return &Service{
		uow:         d.UnitOfWork,
		wheels:      d.Wheels,
		users:       d.Users,
		engine:      d.Engine,
		resolver:    d.Resolver,
		redemptions: d.Redemptions,
		eligible:    d.Eligibility,
		clock:       d.Clock,
		sink:        d.Sink,
		metrics:     d.Metrics,
		log:         d.Log,
	}
}

// Spin spins the most recently created active wheel.
func (s *Service) Spin(ctx context.Context, userID string) (Result, error) {
	w, err := s.wheels.ActiveWheel(ctx, s.uow.DB())
	if err != nil {
		if errors.Is(err, prize.ErrWheelNotFound) {
			return Result{}, fmt.Errorf("%w: no active wheel", ErrWheelInactive)
		}
		return Result{}, err
	}
	return s.SpinWheel(ctx, userID, w.ID)
}

// SpinWheel charges the wheel's cost, draws a prize and settles it. Any
// failure rolls the whole spin back, including the cost. NewBalance is read
// after commit.
func (s *Service) SpinWheel(ctx context.Context, userID, wheelID string) (Result, error) {
	var res Result
	var costPaid int64
	err := s.uow.Do(ctx, "spin", func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Lock(ctx, lock.User(userID)); err != nil {
			return err
		}
		user, err := s.users.GetUser(ctx, tx.DB, userID)
		if err != nil {
			return err
		}
		wheel, err := s.wheels.GetWheel(ctx, tx.DB, wheelID)
		if err != nil {
			return err
		}
		if !wheel.Active {
			return fmt.Errorf("%w: %s", ErrWheelInactive, wheel.Title)
		}
		if err := s.eligible.Eligible(ctx, tx.DB, *user, wheel.RequiredClubID); err != nil {
			return err
		}

		spinID := uuid.NewString()
		if wheel.CostPoints > 0 {
			if user.CurrentPoints < wheel.CostPoints {
				return fmt.Errorf("%w: balance %d, spin costs %d", ledger.ErrInsufficientBalance, user.CurrentPoints, wheel.CostPoints)
			}
			_, err := s.engine.DeductTx(ctx, tx, ledger.Request{
				UserID:        userID,
				Amount:        wheel.CostPoints,
				Description:   "Spin on " + wheel.Title,
				ReferenceType: model.RefWheelSpin,
				ReferenceID:   spinID,
			})
			if err != nil {
				return err
			}
			costPaid = wheel.CostPoints
		}

		prizes, err := s.wheels.WheelPrizes(ctx, tx.DB, wheel.ID)
		if err != nil {
			return err
		}
		drawn, err := s.resolver.Draw(prizes)
		if err != nil {
			return err
		}
		won, err := s.resolver.Commit(ctx, tx, prizes, drawn)
		if err != nil {
			return err
		}

		rec := model.Spin{
			ID:        spinID,
			UserID:    userID,
			WheelID:   wheel.ID,
			PrizeID:   won.ID,
			CostPaid:  costPaid,
			IsWin:     isWin(won),
			CreatedAt: s.clock.Now(),
		}
		res = Result{
			SpinID:     spinID,
			WheelID:    wheel.ID,
			PrizeID:    won.ID,
			PrizeTitle: won.Title,
			PrizeType:  won.Type,
			Message:    message(won),
		}

		switch won.Type {
		case model.PrizeTypePoints:
			if won.Value > 0 {
				_, err := s.engine.AwardTx(ctx, tx, ledger.Request{
					UserID:        userID,
					Amount:        won.Value,
					Description:   "Won " + won.Title,
					ReferenceType: model.RefWheelSpin,
					ReferenceID:   spinID,
				})
				if err != nil {
					return err
				}
			}
			res.PrizeValue = won.Value
		case model.PrizeTypeItem:
			red, err := s.redemptions.CreatePendingForSpin(ctx, tx, userID, spinID, won.Title)
			if err != nil {
				return err
			}
			rec.RedemptionID = &red.ID
			res.RedemptionID = red.ID
		}

		return s.wheels.CreateSpin(ctx, tx.DB, &rec)
	})
	if err != nil {
		return Result{}, err
	}

	balance, err := s.engine.Balance(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read balance after spin: %w", err)
	}
	res.NewBalance = balance

	s.metrics.Spin(string(res.PrizeType))
	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"wheel_id":   res.WheelID,
		"spin_id":    res.SpinID,
		"prize_id":   res.PrizeID,
		"prize_type": res.PrizeType,
		"cost":       costPaid,
	}).Info("wheel spun")
	s.send(userID, res, costPaid)
	return res, nil
}

// History lists the user's spins, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.Spin, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.wheels.ListSpins(ctx, userID, limit)
}

// Odds reports the current win chance of each prize on the wheel.
func (s *Service) Odds(ctx context.Context, wheelID string) ([]prize.Odd, error) {
	db := s.uow.DB()
	if _, err := s.wheels.GetWheel(ctx, db, wheelID); err != nil {
		return nil, err
	}
	prizes, err := s.wheels.WheelPrizes(ctx, db, wheelID)
	if err != nil {
		return nil, err
	}
	return prize.Odds(prizes), nil
}

func (s *Service) send(userID string, res Result, cost int64) {
	payload := map[string]any{
		"spin_id":     res.SpinID,
		"prize_id":    res.PrizeID,
		"prize_title": res.PrizeTitle,
		"prize_type":  string(res.PrizeType),
		"cost":        cost,
		"new_balance": res.NewBalance,
	}
	if err := s.sink.Notify(context.Background(), notify.EventWheelSpun, userID, payload); err != nil {
		s.log.WithFields(logrus.Fields{"user_id": userID, "spin_id": res.SpinID, "error": err.Error()}).Warn("notification not queued")
	}
}

func isWin(p model.Prize) bool {
	return p.Type == model.PrizeTypePoints || p.Type == model.PrizeTypeItem
}

func message(p model.Prize) string {
	switch p.Type {
	case model.PrizeTypePoints:
		return fmt.Sprintf("You won %d points!", p.Value)
	case model.PrizeTypeItem:
		return fmt.Sprintf("You won %s! We will contact you about delivery.", p.Title)
	case model.PrizeTypeRetry:
		return "Spin again!"
	default:
		return "Better luck next time."
	}
}
