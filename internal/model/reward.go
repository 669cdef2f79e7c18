package model

import "time"

type RedemptionStatus string

const (
	RedemptionPending    RedemptionStatus = "pending"
	RedemptionProcessing RedemptionStatus = "processing"
	RedemptionCompleted  RedemptionStatus = "completed"
	RedemptionRejected   RedemptionStatus = "rejected"
)

func (s RedemptionStatus) Valid() bool {
	switch s {
	case RedemptionPending, RedemptionProcessing, RedemptionCompleted, RedemptionRejected:
		return true
	}
	return false
}

type Reward struct {
	ID             string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Title          string    `gorm:"column:title;size:150;not null" json:"title"`
	PointsCost     int64     `gorm:"column:points_cost;not null" json:"points_cost"`
	Stock          int64     `gorm:"column:stock;not null;default:0" json:"stock"`
	RequiredClubID *string   `gorm:"column:required_club_id;size:36" json:"required_club_id,omitempty"`
	Active         bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Reward) TableName() string {
	return "rewards"
}

// Redemption exchanges points for a reward. RewardID is nil for item prizes
// won on the wheel, which carry SpinID instead.
type Redemption struct {
	ID           string           `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID       string           `gorm:"column:user_id;size:36;not null;index" json:"user_id"`
	RewardID     *string          `gorm:"column:reward_id;size:36;index" json:"reward_id,omitempty"`
	SpinID       *string          `gorm:"column:spin_id;size:36" json:"spin_id,omitempty"`
	Title        string           `gorm:"column:title;size:150" json:"title"`
	PointsSpent  int64            `gorm:"column:points_spent;not null;default:0" json:"points_spent"`
	Status       RedemptionStatus `gorm:"column:status;size:20;not null" json:"status"`
	DeliveryInfo string           `gorm:"column:delivery_info;type:text" json:"delivery_info,omitempty"`
	TrackingCode string           `gorm:"column:tracking_code;size:100" json:"tracking_code,omitempty"`
	Note         string           `gorm:"column:note;type:text" json:"note,omitempty"`
	CreatedAt    time.Time        `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Redemption) TableName() string {
	return "reward_redemptions"
}
