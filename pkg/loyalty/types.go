package loyalty

import (
	"context"
	"fmt"
)

// TransactionKind enumerates the ledger entry kinds.
type TransactionKind string

const (
	KindEarn   TransactionKind = "earn"
	KindSpend  TransactionKind = "spend"
	KindAdjust TransactionKind = "adjust"
	KindExpire TransactionKind = "expire"
)

// String returns the wire value of the kind.
func (kind TransactionKind) String() string {
	return string(kind)
}

// ParseTransactionKind validates a raw kind value.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindEarn, KindSpend, KindAdjust, KindExpire:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// PointSource tags where a transaction originated.
type PointSource string

const (
	SourceAppointment PointSource = "appointment"
	SourceProduct     PointSource = "product_purchase"
	SourceReward      PointSource = "reward"
	SourceBirthday    PointSource = "birthday"
	SourceReferral    PointSource = "referral"
	SourceSignup      PointSource = "signup"
	SourceManual      PointSource = "manual"
	SourceExpiration  PointSource = "expiration"
)

// String returns the wire value of the source.
func (source PointSource) String() string {
	return string(source)
}

// ParsePointSource validates a raw source value.
func ParsePointSource(raw string) (PointSource, error) {
	switch PointSource(raw) {
	case SourceAppointment, SourceProduct, SourceReward, SourceBirthday,
		SourceReferral, SourceSignup, SourceManual, SourceExpiration:
		return PointSource(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPointSource, raw)
}

// RewardType enumerates catalog reward kinds.
type RewardType string

const (
	RewardDiscount      RewardType = "discount"
	RewardFreeService   RewardType = "free_service"
	RewardFreeProduct   RewardType = "free_product"
	RewardGiftCardValue RewardType = "gift_card_value"
	RewardCustom        RewardType = "custom"
)

// String returns the wire value of the reward type.
func (rewardType RewardType) String() string {
	return string(rewardType)
}

// ParseRewardType validates a raw reward type.
func ParseRewardType(raw string) (RewardType, error) {
	switch RewardType(raw) {
	case RewardDiscount, RewardFreeService, RewardFreeProduct, RewardGiftCardValue, RewardCustom:
		return RewardType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRewardType, raw)
}

// RedemptionStatus defines the redemption lifecycle.
type RedemptionStatus string

const (
	RedemptionActive  RedemptionStatus = "active"
	RedemptionUsed    RedemptionStatus = "used"
	RedemptionExpired RedemptionStatus = "expired"
)

// String returns the wire value of the status.
func (status RedemptionStatus) String() string {
	return string(status)
}

// ParseRedemptionStatus validates a raw status value.
func ParseRedemptionStatus(raw string) (RedemptionStatus, error) {
	switch RedemptionStatus(raw) {
	case RedemptionActive, RedemptionUsed, RedemptionExpired:
		return RedemptionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRedemptionStatus, raw)
}

// BonusKind selects one of the program's configured bonus amounts.
type BonusKind string

const (
	BonusBirthday BonusKind = "birthday"
	BonusReferral BonusKind = "referral"
	BonusSignup   BonusKind = "signup"
)

// TierThreshold is one rung of the tier ladder.
type TierThreshold struct {
	Name              string
	MinLifetimePoints int64
	Multiplier        float64
}

// ProgramConfig is the single active loyalty rule set.
type ProgramConfig struct {
	EarnRate            float64
	MinPointsPerVisit   *int64
	MaxPointsPerVisit   *int64
	BirthdayBonus       int64
	ReferralBonus       int64
	SignupBonus         int64
	PointValue          float64
	MinPointsRedemption int64
	ExpirationMonths    *int
	TiersEnabled        bool
	Tiers               []TierThreshold
	Active              bool
}

// Balance is the per-customer aggregate over the transaction ledger.
type Balance struct {
	CustomerID         string
	CurrentBalance     int64
	TotalEarned        int64
	TotalSpent         int64
	LifetimeTierPoints int64
	CurrentTier        string
	TierMultiplier     float64
}

// Transaction is one immutable, signed entry in a customer's point history.
// Only the Expired flag ever changes after creation, flipped once by the sweep.
type Transaction struct {
	TransactionID    string
	CustomerID       string
	Kind             TransactionKind
	Source           PointSource
	Points           int64
	BalanceAfter     int64
	AppointmentID    string
	RewardID         string
	ReferrerID       string
	Description      string
	ActorID          string
	ExpiresAtUnixUTC int64
	Expired          bool
	CreatedUnixUTC   int64
}

// Reward is a catalog entry redeemable for a fixed point cost.
type Reward struct {
	RewardID              string
	Name                  string
	Description           string
	Type                  RewardType
	PointsCost            int64
	DiscountPercent       float64
	DiscountAmount        int64
	ServiceID             string
	ProductID             string
	GiftCardValue         int64
	AvailableFromUnixUTC  int64
	AvailableUntilUnixUTC int64
	MaxRedemptions        *int64
	CurrentRedemptions    int64
	Active                bool
	CreatedUnixUTC        int64
}

// Redemption is an issued, coded, time-boxed claim on a reward.
type Redemption struct {
	RedemptionID      string
	CustomerID        string
	RewardID          string
	TransactionID     string
	PointsSpent       int64
	Code              string
	Status            RedemptionStatus
	ExpiresAtUnixUTC  int64
	UsedAtUnixUTC     int64
	UsedAppointmentID string
	ProcessedByID     string
	CreatedUnixUTC    int64
}

// RedemptionUse carries the fields written when a redemption is honored.
type RedemptionUse struct {
	UsedAtUnixUTC     int64
	UsedAppointmentID string
	ProcessedByID     string
}

// AwardMeta carries optional context for an earn transaction.
type AwardMeta struct {
	AppointmentID string
	ReferrerID    string
	Description   string
	ActorID       string
}

// SpendMeta carries optional context for a spend transaction.
type SpendMeta struct {
	RewardID    string
	Description string
	ActorID     string
}

// TransactionFilter narrows ledger queries.
type TransactionFilter struct {
	CustomerID string
	Kind       TransactionKind
	Source     PointSource
	Limit      int
	Offset     int
}

// TransactionPage is one page of ledger entries plus the unpaged total.
type TransactionPage struct {
	Data  []Transaction
	Total int64
}

// RewardFilter narrows catalog queries.
type RewardFilter struct {
	Type       RewardType
	ActiveOnly bool
}

// Stats aggregates ledger totals for reporting.
type Stats struct {
	PointsIssued       int64
	PointsSpent        int64
	PointsExpired      int64
	OutstandingBalance int64
	ActiveRedemptions  int64
}

// Store is the persistence contract used by Service.
// Implementations must serialize balance read-modify-write per customer:
// GetBalanceForUpdate inside WithTx holds the customer's balance until the
// surrounding transaction commits or rolls back.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetProgram(ctx context.Context) (ProgramConfig, error)
	SaveProgram(ctx context.Context, config ProgramConfig) error

	GetBalance(ctx context.Context, customerID string) (Balance, error)
	GetBalanceForUpdate(ctx context.Context, customerID string) (Balance, error)
	SaveBalance(ctx context.Context, balance Balance) error

	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int64, error)
	ListExpirableTransactions(ctx context.Context, nowUnixUTC int64, limit int) ([]Transaction, error)
	// MarkTransactionExpired flips the expired flag only when it is still
	// unset; an already-expired transaction reports ErrTransactionExpired.
	MarkTransactionExpired(ctx context.Context, transactionID string) error
	Stats(ctx context.Context) (Stats, error)

	CreateReward(ctx context.Context, reward Reward) error
	UpdateReward(ctx context.Context, reward Reward) error
	GetReward(ctx context.Context, rewardID string) (Reward, error)
	ListRewards(ctx context.Context, filter RewardFilter) ([]Reward, error)
	IncrementRedemptions(ctx context.Context, rewardID string) error

	CreateRedemption(ctx context.Context, redemption Redemption) error
	GetRedemptionByCode(ctx context.Context, code string) (Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, redemptionID string, from, to RedemptionStatus, use *RedemptionUse) error
	ListRedemptions(ctx context.Context, customerID string) ([]Redemption, error)
	ExpireRedemptions(ctx context.Context, nowUnixUTC int64) (int64, error)
}
