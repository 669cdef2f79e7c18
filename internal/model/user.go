package model

import "time"

type User struct {
	ID            string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	ClubID        *string   `gorm:"column:club_id;size:36" json:"club_id,omitempty"`
	CurrentPoints int64     `gorm:"column:current_points;not null;default:0" json:"current_points"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (User) TableName() string {
	return "loyalty_users"
}

// Club is a membership tier. JoiningCost is the price of upgrading into it,
// MinPoints orders the tiers.
type Club struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Title       string    `gorm:"column:title;size:100;not null" json:"title"`
	MinPoints   int64     `gorm:"column:min_points;not null;index" json:"min_points"`
	JoiningCost int64     `gorm:"column:joining_cost;not null;default:0" json:"joining_cost"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Club) TableName() string {
	return "clubs"
}
