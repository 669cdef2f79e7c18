package prize

import (
	"context"
	"errors"
	"fmt"

	"loyalty_service/internal/model"
	"loyalty_service/internal/store"

	"gorm.io/gorm"
)

var (
	ErrWheelNotFound = errors.New("wheel not found")
	ErrPrizeNotFound = errors.New("prize not found")
)

type Repository interface {
	GetWheel(ctx context.Context, tx *gorm.DB, wheelID string) (*model.Wheel, error)
	ActiveWheel(ctx context.Context, tx *gorm.DB) (*model.Wheel, error)
	WheelPrizes(ctx context.Context, tx *gorm.DB, wheelID string) ([]model.Prize, error)
	PrizeStock(ctx context.Context, tx *gorm.DB, prizeID string) (*int64, error)
	DecrementStock(ctx context.Context, tx *gorm.DB, prizeID string) error
	CreateSpin(ctx context.Context, tx *gorm.DB, spin *model.Spin) error
	ListSpins(ctx context.Context, userID string, limit int) ([]model.Spin, error)
	CreateWheel(ctx context.Context, wheel *model.Wheel, prizes []model.Prize) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetWheel(ctx context.Context, tx *gorm.DB, wheelID string) (*model.Wheel, error) {
	var w model.Wheel
	err := tx.WithContext(ctx).Where("id = ?", wheelID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWheelNotFound
		}
		return nil, fmt.Errorf("failed to get wheel: %w", err)
	}
	return &w, nil
}

// ActiveWheel returns the most recently created active wheel.
func (r *RepositoryImpl) ActiveWheel(ctx context.Context, tx *gorm.DB) (*model.Wheel, error) {
	var w model.Wheel
	err := tx.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWheelNotFound
		}
		return nil, fmt.Errorf("failed to get active wheel: %w", err)
	}
	return &w, nil
}

func (r *RepositoryImpl) WheelPrizes(ctx context.Context, tx *gorm.DB, wheelID string) ([]model.Prize, error) {
	var prizes []model.Prize
	err := tx.WithContext(ctx).
		Where("wheel_id = ?", wheelID).
		Order("position ASC, id ASC").
		Find(&prizes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wheel prizes: %w", err)
	}
	return prizes, nil
}

func (r *RepositoryImpl) PrizeStock(ctx context.Context, tx *gorm.DB, prizeID string) (*int64, error) {
	var p model.Prize
	err := tx.WithContext(ctx).Select("id", "stock").Where("id = ?", prizeID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrizeNotFound
		}
		return nil, fmt.Errorf("failed to read prize stock: %w", err)
	}
	return p.Stock, nil
}

func (r *RepositoryImpl) DecrementStock(ctx context.Context, tx *gorm.DB, prizeID string) error {
	result := tx.WithContext(ctx).
		Model(&model.Prize{}).
		Where("id = ? AND stock > 0", prizeID).
		Update("stock", gorm.Expr("stock - 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to decrement prize stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: prize %s stock decrement matched no row", store.ErrInvariantViolation, prizeID)
	}
	return nil
}

func (r *RepositoryImpl) CreateSpin(ctx context.Context, tx *gorm.DB, spin *model.Spin) error {
	if err := tx.WithContext(ctx).Create(spin).Error; err != nil {
		return fmt.Errorf("failed to create spin: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListSpins(ctx context.Context, userID string, limit int) ([]model.Spin, error) {
	var spins []model.Spin
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&spins).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list spins: %w", err)
	}
	return spins, nil
}

// CreateWheel stores a wheel with its prizes.
func (r *RepositoryImpl) CreateWheel(ctx context.Context, wheel *model.Wheel, prizes []model.Prize) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wheel).Error; err != nil {
			return fmt.Errorf("failed to create wheel: %w", err)
		}
		for i := range prizes {
			prizes[i].WheelID = wheel.ID
			if err := tx.Create(&prizes[i]).Error; err != nil {
				return fmt.Errorf("failed to create prize: %w", err)
			}
		}
		return nil
	})
}
