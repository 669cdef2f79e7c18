package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty_service/internal/model"
	"loyalty_service/internal/store"
	"loyalty_service/internal/tier"

	"gorm.io/gorm"
)

var (
	ErrRewardNotFound     = errors.New("reward not found")
	ErrRewardInactive     = fmt.Errorf("%w: reward is not active", tier.ErrNotEligible)
	ErrOutOfStock         = errors.New("reward out of stock")
	ErrRedemptionNotFound = errors.New("redemption not found")
	ErrInvalidStatus      = errors.New("invalid redemption status")
)

type Repository interface {
	GetReward(ctx context.Context, tx *gorm.DB, rewardID string) (*model.Reward, error)
	CreateReward(ctx context.Context, reward *model.Reward) error
	ListRewards(ctx context.Context) ([]model.Reward, error)
	AdjustStock(ctx context.Context, tx *gorm.DB, rewardID string, delta int64, at time.Time) error
	CreateRedemption(ctx context.Context, tx *gorm.DB, r *model.Redemption) error
	GetRedemption(ctx context.Context, tx *gorm.DB, redemptionID string) (*model.Redemption, error)
	UpdateRedemption(ctx context.Context, tx *gorm.DB, r *model.Redemption) error
	ListRedemptions(ctx context.Context, userID string, limit int) ([]model.Redemption, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetReward(ctx context.Context, tx *gorm.DB, rewardID string) (*model.Reward, error) {
	var reward model.Reward
	err := tx.WithContext(ctx).Where("id = ?", rewardID).First(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	return &reward, nil
}

func (r *RepositoryImpl) CreateReward(ctx context.Context, reward *model.Reward) error {
	if err := r.db.WithContext(ctx).Create(reward).Error; err != nil {
		return fmt.Errorf("failed to create reward: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListRewards(ctx context.Context) ([]model.Reward, error) {
	var rewards []model.Reward
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("points_cost ASC").Find(&rewards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return rewards, nil
}

// AdjustStock moves the reward's stock by delta. The update only matches
// while the result stays non-negative; callers check stock first, so a miss
// is an invariant violation.
func (r *RepositoryImpl) AdjustStock(ctx context.Context, tx *gorm.DB, rewardID string, delta int64, at time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.Reward{}).
		Where("id = ? AND stock + ? >= 0", rewardID, delta).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update reward stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: reward %s stock update by %d matched no row", store.ErrInvariantViolation, rewardID, delta)
	}
	return nil
}

func (r *RepositoryImpl) CreateRedemption(ctx context.Context, tx *gorm.DB, red *model.Redemption) error {
	if err := tx.WithContext(ctx).Create(red).Error; err != nil {
		return fmt.Errorf("failed to create redemption: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetRedemption(ctx context.Context, tx *gorm.DB, redemptionID string) (*model.Redemption, error) {
	var red model.Redemption
	err := tx.WithContext(ctx).Where("id = ?", redemptionID).First(&red).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("failed to get redemption: %w", err)
	}
	return &red, nil
}

func (r *RepositoryImpl) UpdateRedemption(ctx context.Context, tx *gorm.DB, red *model.Redemption) error {
	err := tx.WithContext(ctx).
		Model(&model.Redemption{}).
		Where("id = ?", red.ID).
		Updates(map[string]any{
			"status":        red.Status,
			"note":          red.Note,
			"tracking_code": red.TrackingCode,
			"updated_at":    red.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update redemption: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListRedemptions(ctx context.Context, userID string, limit int) ([]model.Redemption, error) {
	var list []model.Redemption
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	return list, nil
}
