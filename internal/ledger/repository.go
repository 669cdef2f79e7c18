package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty_service/internal/model"
	"loyalty_service/internal/store"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient points")
	ErrInvalidAmount       = errors.New("invalid amount")
)

type Repository interface {
	GetUser(ctx context.Context, tx *gorm.DB, userID string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	AdjustBalance(ctx context.Context, tx *gorm.DB, userID string, delta int64, at time.Time) error
	AppendEntry(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]model.LedgerEntry, error)
	SumEntries(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
	CountRuleEntries(ctx context.Context, tx *gorm.DB, userID, ruleID string, from, to time.Time) (int64, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetUser(ctx context.Context, tx *gorm.DB, userID string) (*model.User, error) {
	var u model.User
	err := tx.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *RepositoryImpl) CreateUser(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// AdjustBalance applies delta to the cached balance. The update refuses to
// take the balance below zero.
func (r *RepositoryImpl) AdjustBalance(ctx context.Context, tx *gorm.DB, userID string, delta int64, at time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND current_points + ? >= 0", userID, delta).
		Updates(map[string]interface{}{
			"current_points": gorm.Expr("current_points + ?", delta),
			"updated_at":     at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: balance update for user %s matched no row", store.ErrInvariantViolation, userID)
	}
	return nil
}

func (r *RepositoryImpl) AppendEntry(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListEntries(ctx context.Context, userID string, limit, offset int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func (r *RepositoryImpl) SumEntries(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var sum int64
	err := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}

// CountRuleEntries counts entries the rule produced for the user in [from, to).
func (r *RepositoryImpl) CountRuleEntries(ctx context.Context, tx *gorm.DB, userID, ruleID string, from, to time.Time) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("user_id = ? AND rule_id = ? AND created_at >= ? AND created_at < ?", userID, ruleID, from, to).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count rule entries: %w", err)
	}
	return n, nil
}
