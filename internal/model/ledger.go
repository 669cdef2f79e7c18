package model

import "time"

type EntryType string

const (
	EntryTypeEarn  EntryType = "earn"
	EntryTypeSpend EntryType = "spend"
)

// Reference types for the entity that caused a ledger entry.
const (
	RefRule         = "rule"
	RefReward       = "reward"
	RefRedemption   = "redemption"
	RefSurvey       = "survey"
	RefWheelSpin    = "wheel_spin"
	RefRegistration = "registration"
	RefClub         = "club"
)

// LedgerEntry is one immutable signed point movement. Entries are never
// updated or deleted; corrections are new offsetting entries.
type LedgerEntry struct {
	ID            string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"column:user_id;size:36;not null;index" json:"user_id"`
	Amount        int64     `gorm:"column:amount;not null" json:"amount"`
	Type          EntryType `gorm:"column:type;size:10;not null" json:"type"`
	Description   string    `gorm:"column:description;size:255" json:"description"`
	ReferenceType string    `gorm:"column:reference_type;size:30" json:"reference_type,omitempty"`
	ReferenceID   string    `gorm:"column:reference_id;size:64;index" json:"reference_id,omitempty"`
	RuleID        *string   `gorm:"column:rule_id;size:36;index" json:"rule_id,omitempty"`
	BalanceAfter  int64     `gorm:"column:balance_after;not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "point_transactions"
}

// EarningRule awards a fixed number of points for a repeatable action such
// as a daily visit. DailyLimit of 0 means uncapped.
type EarningRule struct {
	ID         string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Title      string    `gorm:"column:title;size:100;not null" json:"title"`
	Points     int64     `gorm:"column:points;not null" json:"points"`
	DailyLimit int       `gorm:"column:daily_limit;not null;default:0" json:"daily_limit"`
	Active     bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (EarningRule) TableName() string {
	return "earning_rules"
}
