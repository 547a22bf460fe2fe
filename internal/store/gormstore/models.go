package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Program represents the singleton loyalty_program row.
type Program struct {
	ProgramID           int64          `gorm:"primaryKey"`
	EarnRate            float64        `gorm:"not null"`
	MinPointsPerVisit   *int64         `gorm:""`
	MaxPointsPerVisit   *int64         `gorm:""`
	BirthdayBonus       int64          `gorm:"not null"`
	ReferralBonus       int64          `gorm:"not null"`
	SignupBonus         int64          `gorm:"not null"`
	PointValue          float64        `gorm:"not null"`
	MinPointsRedemption int64          `gorm:"not null"`
	ExpirationMonths    *int           `gorm:""`
	TiersEnabled        bool           `gorm:"not null"`
	Tiers               datatypes.JSON `gorm:"type:jsonb;not null"`
	Active              bool           `gorm:"not null"`
	UpdatedAt           time.Time      `gorm:"not null"`
}

func (Program) TableName() string { return "loyalty_program" }

// Balance mirrors the loyalty_balances table, one row per customer.
type Balance struct {
	CustomerID         string    `gorm:"primaryKey"`
	CurrentBalance     int64     `gorm:"not null"`
	TotalEarned        int64     `gorm:"not null"`
	TotalSpent         int64     `gorm:"not null"`
	LifetimeTierPoints int64     `gorm:"not null"`
	CurrentTier        string    `gorm:"not null;default:''"`
	TierMultiplier     float64   `gorm:"not null;default:1"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (Balance) TableName() string { return "loyalty_balances" }

// PointTransaction mirrors the append-only loyalty_transactions table.
type PointTransaction struct {
	TransactionID string     `gorm:"type:uuid;primaryKey"`
	CustomerID    string     `gorm:"not null;index:idx_transactions_customer_created,priority:1"`
	Kind          string     `gorm:"not null"`
	Source        string     `gorm:"not null"`
	Points        int64      `gorm:"not null"`
	BalanceAfter  int64      `gorm:"not null"`
	AppointmentID *string    `gorm:""`
	RewardID      *string    `gorm:""`
	ReferrerID    *string    `gorm:""`
	Description   string     `gorm:"not null;default:''"`
	ActorID       string     `gorm:"not null;default:''"`
	ExpiresAt     *time.Time `gorm:"index:idx_transactions_expiry,priority:2"`
	Expired       bool       `gorm:"not null;index:idx_transactions_expiry,priority:1"`
	CreatedAt     time.Time  `gorm:"not null;index:idx_transactions_customer_created,priority:2"`
}

func (PointTransaction) TableName() string { return "loyalty_transactions" }

func (transaction *PointTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Reward mirrors the loyalty_rewards catalog table.
type Reward struct {
	RewardID           string     `gorm:"type:uuid;primaryKey"`
	Name               string     `gorm:"not null"`
	Description        string     `gorm:"not null;default:''"`
	Type               string     `gorm:"not null"`
	PointsCost         int64      `gorm:"not null"`
	DiscountPercent    float64    `gorm:"not null;default:0"`
	DiscountAmount     int64      `gorm:"not null;default:0"`
	ServiceID          *string    `gorm:""`
	ProductID          *string    `gorm:""`
	GiftCardValue      int64      `gorm:"not null;default:0"`
	AvailableFrom      *time.Time `gorm:""`
	AvailableUntil     *time.Time `gorm:""`
	MaxRedemptions     *int64     `gorm:""`
	CurrentRedemptions int64      `gorm:"not null;default:0"`
	Active             bool       `gorm:"not null"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

func (Reward) TableName() string { return "loyalty_rewards" }

func (reward *Reward) BeforeCreate(tx *gorm.DB) error {
	if reward.RewardID == "" {
		reward.RewardID = uuid.NewString()
	}
	return nil
}

// Redemption mirrors the loyalty_redemptions table.
type Redemption struct {
	RedemptionID      string     `gorm:"type:uuid;primaryKey"`
	CustomerID        string     `gorm:"not null;index:idx_redemptions_customer"`
	RewardID          string     `gorm:"type:uuid;not null"`
	TransactionID     string     `gorm:"type:uuid;not null"`
	PointsSpent       int64      `gorm:"not null"`
	Code              string     `gorm:"not null;uniqueIndex:uniq_redemptions_code"`
	Status            string     `gorm:"not null"`
	ExpiresAt         time.Time  `gorm:"not null"`
	UsedAt            *time.Time `gorm:""`
	UsedAppointmentID *string    `gorm:""`
	ProcessedByID     *string    `gorm:""`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (Redemption) TableName() string { return "loyalty_redemptions" }

func (redemption *Redemption) BeforeCreate(tx *gorm.DB) error {
	if redemption.RedemptionID == "" {
		redemption.RedemptionID = uuid.NewString()
	}
	return nil
}
