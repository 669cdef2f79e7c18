package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty_service/internal/model"

	"gorm.io/gorm"
)

var (
	ErrClubNotFound          = errors.New("club not found")
	ErrInvalidTierTransition = errors.New("club upgrade must move to a higher tier")
	ErrNotEligible           = errors.New("club tier not eligible")
)

type Repository interface {
	GetClub(ctx context.Context, tx *gorm.DB, clubID string) (*model.Club, error)
	ListClubs(ctx context.Context) ([]model.Club, error)
	CreateClub(ctx context.Context, club *model.Club) error
	SetUserClub(ctx context.Context, tx *gorm.DB, userID, clubID string, at time.Time) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetClub(ctx context.Context, tx *gorm.DB, clubID string) (*model.Club, error) {
	var c model.Club
	err := tx.WithContext(ctx).Where("id = ?", clubID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClubNotFound
		}
		return nil, fmt.Errorf("failed to get club: %w", err)
	}
	return &c, nil
}

func (r *RepositoryImpl) ListClubs(ctx context.Context) ([]model.Club, error) {
	var clubs []model.Club
	if err := r.db.WithContext(ctx).Order("min_points ASC").Find(&clubs).Error; err != nil {
		return nil, fmt.Errorf("failed to list clubs: %w", err)
	}
	return clubs, nil
}

func (r *RepositoryImpl) CreateClub(ctx context.Context, club *model.Club) error {
	if err := r.db.WithContext(ctx).Create(club).Error; err != nil {
		return fmt.Errorf("failed to create club: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) SetUserClub(ctx context.Context, tx *gorm.DB, userID, clubID string, at time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"club_id":    clubID,
			"updated_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update user club: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to update user club: user %s not found", userID)
	}
	return nil
}
