package model

import "time"

type PrizeType string

const (
	PrizeTypePoints PrizeType = "points"
	PrizeTypeItem   PrizeType = "item"
	PrizeTypeRetry  PrizeType = "retry"
	PrizeTypeEmpty  PrizeType = "empty"
)

type Wheel struct {
	ID             string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Title          string    `gorm:"column:title;size:100;not null" json:"title"`
	CostPoints     int64     `gorm:"column:cost_points;not null;default:0" json:"cost_points"`
	Active         bool      `gorm:"column:active;not null" json:"active"`
	RequiredClubID *string   `gorm:"column:required_club_id;size:36" json:"required_club_id,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Wheel) TableName() string {
	return "wheels"
}

// Prize is one slice of a wheel. Stock nil means unlimited.
type Prize struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	WheelID     string    `gorm:"column:wheel_id;size:36;not null;index" json:"wheel_id"`
	Title       string    `gorm:"column:title;size:100;not null" json:"title"`
	Type        PrizeType `gorm:"column:type;size:10;not null" json:"type"`
	Value       int64     `gorm:"column:value;not null;default:0" json:"value"`
	Probability int64     `gorm:"column:probability;not null" json:"probability"`
	Stock       *int64    `gorm:"column:stock" json:"stock,omitempty"`
	Position    int       `gorm:"column:position;not null;default:0" json:"position"`
}

func (Prize) TableName() string {
	return "wheel_prizes"
}

// Available reports whether the prize can still be won.
func (p Prize) Available() bool {
	return p.Stock == nil || *p.Stock > 0
}

// IsFallback reports whether the prize carries no value and may stand in
// for an exhausted one.
func (p Prize) IsFallback() bool {
	return p.Type == PrizeTypeRetry || p.Type == PrizeTypeEmpty
}

type Spin struct {
	ID           string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"column:user_id;size:36;not null;index" json:"user_id"`
	WheelID      string    `gorm:"column:wheel_id;size:36;not null;index" json:"wheel_id"`
	PrizeID      string    `gorm:"column:prize_id;size:36;not null" json:"prize_id"`
	CostPaid     int64     `gorm:"column:cost_paid;not null" json:"cost_paid"`
	IsWin        bool      `gorm:"column:is_win;not null" json:"is_win"`
	RedemptionID *string   `gorm:"column:redemption_id;size:36" json:"redemption_id,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Spin) TableName() string {
	return "wheel_spins"
}
