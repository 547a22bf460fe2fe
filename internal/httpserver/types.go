package httpserver

import "github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"

// Config drives the HTTP facade.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

type awardRequest struct {
	Points        int64  `json:"points"`
	Source        string `json:"source"`
	AppointmentID string `json:"appointmentId"`
	ReferrerID    string `json:"referrerId"`
	Description   string `json:"description"`
	ActorID       string `json:"actorId"`
}

type adjustRequest struct {
	Delta   int64  `json:"delta"`
	Reason  string `json:"reason"`
	ActorID string `json:"actorId"`
}

type bonusRequest struct {
	Kind    string `json:"kind"`
	ActorID string `json:"actorId"`
}

type redeemRequest struct {
	RewardID string `json:"rewardId"`
	ActorID  string `json:"actorId"`
}

type useRedemptionRequest struct {
	Code          string `json:"code"`
	AppointmentID string `json:"appointmentId"`
	ActorID       string `json:"actorId"`
}

type balanceResponse struct {
	CustomerID         string  `json:"customerId"`
	CurrentBalance     int64   `json:"currentBalance"`
	TotalEarned        int64   `json:"totalEarned"`
	TotalSpent         int64   `json:"totalSpent"`
	LifetimeTierPoints int64   `json:"lifetimeTierPoints"`
	CurrentTier        string  `json:"currentTier,omitempty"`
	TierMultiplier     float64 `json:"tierMultiplier"`
}

type transactionResponse struct {
	TransactionID string `json:"transactionId"`
	CustomerID    string `json:"customerId"`
	Kind          string `json:"kind"`
	Source        string `json:"source"`
	Points        int64  `json:"points"`
	BalanceAfter  int64  `json:"balanceAfter"`
	AppointmentID string `json:"appointmentId,omitempty"`
	RewardID      string `json:"rewardId,omitempty"`
	ReferrerID    string `json:"referrerId,omitempty"`
	Description   string `json:"description,omitempty"`
	ActorID       string `json:"actorId,omitempty"`
	ExpiresAt     int64  `json:"expiresAt,omitempty"`
	Expired       bool   `json:"expired"`
	CreatedAt     int64  `json:"createdAt"`
}

type transactionPageResponse struct {
	Data  []transactionResponse `json:"data"`
	Total int64                 `json:"total"`
}

type rewardPayload struct {
	RewardID           string  `json:"rewardId,omitempty"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	Type               string  `json:"type"`
	PointsCost         int64   `json:"pointsCost"`
	DiscountPercent    float64 `json:"discountPercent,omitempty"`
	DiscountAmount     int64   `json:"discountAmount,omitempty"`
	ServiceID          string  `json:"serviceId,omitempty"`
	ProductID          string  `json:"productId,omitempty"`
	GiftCardValue      int64   `json:"giftCardValue,omitempty"`
	AvailableFrom      int64   `json:"availableFrom,omitempty"`
	AvailableUntil     int64   `json:"availableUntil,omitempty"`
	MaxRedemptions     *int64  `json:"maxRedemptions,omitempty"`
	CurrentRedemptions int64   `json:"currentRedemptions"`
	Active             bool    `json:"active"`
}

type redemptionResponse struct {
	RedemptionID      string `json:"redemptionId"`
	CustomerID        string `json:"customerId"`
	RewardID          string `json:"rewardId"`
	TransactionID     string `json:"transactionId"`
	PointsSpent       int64  `json:"pointsSpent"`
	Code              string `json:"code"`
	Status            string `json:"status"`
	ExpiresAt         int64  `json:"expiresAt"`
	UsedAt            int64  `json:"usedAt,omitempty"`
	UsedAppointmentID string `json:"usedAppointmentId,omitempty"`
	ProcessedByID     string `json:"processedById,omitempty"`
	CreatedAt         int64  `json:"createdAt"`
}

type tierPayload struct {
	Name              string  `json:"name"`
	MinLifetimePoints int64   `json:"minLifetimePoints"`
	Multiplier        float64 `json:"multiplier"`
}

type programResponse struct {
	EarnRate            float64       `json:"earnRate"`
	MinPointsPerVisit   *int64        `json:"minPointsPerVisit"`
	MaxPointsPerVisit   *int64        `json:"maxPointsPerVisit"`
	BirthdayBonus       int64         `json:"birthdayBonus"`
	ReferralBonus       int64         `json:"referralBonus"`
	SignupBonus         int64         `json:"signupBonus"`
	PointValue          float64       `json:"pointValue"`
	MinPointsRedemption int64         `json:"minPointsRedemption"`
	ExpirationMonths    *int          `json:"expirationMonths"`
	TiersEnabled        bool          `json:"tiersEnabled"`
	Tiers               []tierPayload `json:"tiers"`
	Active              bool          `json:"active"`
}

type programUpdateRequest struct {
	EarnRate            *float64      `json:"earnRate"`
	MinPointsPerVisit   *int64        `json:"minPointsPerVisit"`
	MaxPointsPerVisit   *int64        `json:"maxPointsPerVisit"`
	ClearVisitBounds    bool          `json:"clearVisitBounds"`
	BirthdayBonus       *int64        `json:"birthdayBonus"`
	ReferralBonus       *int64        `json:"referralBonus"`
	SignupBonus         *int64        `json:"signupBonus"`
	PointValue          *float64      `json:"pointValue"`
	MinPointsRedemption *int64        `json:"minPointsRedemption"`
	ExpirationMonths    *int          `json:"expirationMonths"`
	ClearExpiration     bool          `json:"clearExpiration"`
	TiersEnabled        *bool         `json:"tiersEnabled"`
	Tiers               []tierPayload `json:"tiers"`
	Active              *bool         `json:"active"`
}

type statsResponse struct {
	PointsIssued       int64 `json:"pointsIssued"`
	PointsSpent        int64 `json:"pointsSpent"`
	PointsExpired      int64 `json:"pointsExpired"`
	OutstandingBalance int64 `json:"outstandingBalance"`
	ActiveRedemptions  int64 `json:"activeRedemptions"`
}

type sweepResponse struct {
	PointsExpired int64 `json:"pointsExpired"`
}

func balanceView(balance loyalty.Balance) balanceResponse {
	return balanceResponse{
		CustomerID:         balance.CustomerID,
		CurrentBalance:     balance.CurrentBalance,
		TotalEarned:        balance.TotalEarned,
		TotalSpent:         balance.TotalSpent,
		LifetimeTierPoints: balance.LifetimeTierPoints,
		CurrentTier:        balance.CurrentTier,
		TierMultiplier:     balance.TierMultiplier,
	}
}

func transactionView(transaction loyalty.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID: transaction.TransactionID,
		CustomerID:    transaction.CustomerID,
		Kind:          transaction.Kind.String(),
		Source:        transaction.Source.String(),
		Points:        transaction.Points,
		BalanceAfter:  transaction.BalanceAfter,
		AppointmentID: transaction.AppointmentID,
		RewardID:      transaction.RewardID,
		ReferrerID:    transaction.ReferrerID,
		Description:   transaction.Description,
		ActorID:       transaction.ActorID,
		ExpiresAt:     transaction.ExpiresAtUnixUTC,
		Expired:       transaction.Expired,
		CreatedAt:     transaction.CreatedUnixUTC,
	}
}

func rewardView(reward loyalty.Reward) rewardPayload {
	return rewardPayload{
		RewardID:           reward.RewardID,
		Name:               reward.Name,
		Description:        reward.Description,
		Type:               reward.Type.String(),
		PointsCost:         reward.PointsCost,
		DiscountPercent:    reward.DiscountPercent,
		DiscountAmount:     reward.DiscountAmount,
		ServiceID:          reward.ServiceID,
		ProductID:          reward.ProductID,
		GiftCardValue:      reward.GiftCardValue,
		AvailableFrom:      reward.AvailableFromUnixUTC,
		AvailableUntil:     reward.AvailableUntilUnixUTC,
		MaxRedemptions:     reward.MaxRedemptions,
		CurrentRedemptions: reward.CurrentRedemptions,
		Active:             reward.Active,
	}
}

func rewardFromPayload(payload rewardPayload) loyalty.Reward {
	return loyalty.Reward{
		RewardID:              payload.RewardID,
		Name:                  payload.Name,
		Description:           payload.Description,
		Type:                  loyalty.RewardType(payload.Type),
		PointsCost:            payload.PointsCost,
		DiscountPercent:       payload.DiscountPercent,
		DiscountAmount:        payload.DiscountAmount,
		ServiceID:             payload.ServiceID,
		ProductID:             payload.ProductID,
		GiftCardValue:         payload.GiftCardValue,
		AvailableFromUnixUTC:  payload.AvailableFrom,
		AvailableUntilUnixUTC: payload.AvailableUntil,
		MaxRedemptions:        payload.MaxRedemptions,
		Active:                payload.Active,
	}
}

func redemptionView(redemption loyalty.Redemption) redemptionResponse {
	return redemptionResponse{
		RedemptionID:      redemption.RedemptionID,
		CustomerID:        redemption.CustomerID,
		RewardID:          redemption.RewardID,
		TransactionID:     redemption.TransactionID,
		PointsSpent:       redemption.PointsSpent,
		Code:              redemption.Code,
		Status:            redemption.Status.String(),
		ExpiresAt:         redemption.ExpiresAtUnixUTC,
		UsedAt:            redemption.UsedAtUnixUTC,
		UsedAppointmentID: redemption.UsedAppointmentID,
		ProcessedByID:     redemption.ProcessedByID,
		CreatedAt:         redemption.CreatedUnixUTC,
	}
}

func programView(config loyalty.ProgramConfig) programResponse {
	tiers := make([]tierPayload, 0, len(config.Tiers))
	for _, threshold := range config.Tiers {
		tiers = append(tiers, tierPayload(threshold))
	}
	return programResponse{
		EarnRate:            config.EarnRate,
		MinPointsPerVisit:   config.MinPointsPerVisit,
		MaxPointsPerVisit:   config.MaxPointsPerVisit,
		BirthdayBonus:       config.BirthdayBonus,
		ReferralBonus:       config.ReferralBonus,
		SignupBonus:         config.SignupBonus,
		PointValue:          config.PointValue,
		MinPointsRedemption: config.MinPointsRedemption,
		ExpirationMonths:    config.ExpirationMonths,
		TiersEnabled:        config.TiersEnabled,
		Tiers:               tiers,
		Active:              config.Active,
	}
}
