package earning

import (
	"context"
	"errors"
	"fmt"

	"loyalty_service/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRuleNotFound      = errors.New("earning rule not found")
	ErrRuleInactive      = errors.New("earning rule is not active")
	ErrDailyLimitReached = errors.New("daily limit reached for earning rule")
)

type Repository interface {
	GetRule(ctx context.Context, tx *gorm.DB, ruleID string) (*model.EarningRule, error)
	CreateRule(ctx context.Context, rule *model.EarningRule) error
	ListRules(ctx context.Context) ([]model.EarningRule, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetRule(ctx context.Context, tx *gorm.DB, ruleID string) (*model.EarningRule, error) {
	var rule model.EarningRule
	err := tx.WithContext(ctx).Where("id = ?", ruleID).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get earning rule: %w", err)
	}
	return &rule, nil
}

func (r *RepositoryImpl) CreateRule(ctx context.Context, rule *model.EarningRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create earning rule: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) ListRules(ctx context.Context) ([]model.EarningRule, error) {
	var rules []model.EarningRule
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("title ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list earning rules: %w", err)
	}
	return rules, nil
}
