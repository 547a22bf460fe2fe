package loyalty

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Redeem exchanges balance for a reward and issues a coded coupon. The
// balance debit, cap increment, spend transaction, and redemption record are
// one atomic unit: any failure rolls back every effect.
//
// Validation order: reward exists, reward active, cost at or above the
// program minimum, availability window, redemption cap, customer balance.
func (service *Service) Redeem(ctx context.Context, customerID string, rewardID string, actorID string) (Redemption, error) {
	var redemption Redemption
	operationError := func() error {
		if err := validateCustomerID(customerID); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			config, err := transactionStore.GetProgram(ctx)
			if err != nil {
				return err
			}
			reward, err := transactionStore.GetReward(ctx, rewardID)
			if err != nil {
				return err
			}
			nowUnixUTC := service.nowFn()
			if !reward.Active {
				return ErrRewardInactive
			}
			if reward.PointsCost < config.MinPointsRedemption {
				return ErrBelowMinimumRedemption
			}
			if !rewardWindowContains(reward, nowUnixUTC) {
				return ErrOutsideAvailabilityWindow
			}
			if rewardCapExhausted(reward) {
				return ErrRedemptionCapReached
			}
			balance, err := transactionStore.GetBalance(ctx, customerID)
			if err != nil {
				return err
			}
			if balance.CurrentBalance < reward.PointsCost {
				return ErrInsufficientBalance
			}
			spendTransaction, err := service.spendInTx(ctx, transactionStore, customerID, reward.PointsCost, SourceReward, SpendMeta{
				RewardID:    reward.RewardID,
				Description: fmt.Sprintf("redeemed %s", reward.Name),
				ActorID:     actorID,
			})
			if err != nil {
				if errors.Is(err, ErrNegativeBalance) {
					return ErrInsufficientBalance
				}
				return err
			}
			// Guarded increment: the cap re-check happens inside the
			// UPDATE so concurrent redeemers cannot oversell.
			if err := transactionStore.IncrementRedemptions(ctx, reward.RewardID); err != nil {
				return err
			}
			redemption, err = service.issueRedemption(ctx, transactionStore, customerID, reward, spendTransaction.TransactionID, nowUnixUTC)
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationRedeem,
		CustomerID: customerID,
		Points:     redemption.PointsSpent,
		Source:     SourceReward,
		RewardID:   rewardID,
		Code:       redemption.Code,
		ActorID:    actorID,
		Error:      operationError,
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return redemption, nil
}

func (service *Service) issueRedemption(ctx context.Context, transactionStore Store, customerID string, reward Reward, transactionID string, nowUnixUTC int64) (Redemption, error) {
	expiresAt := time.Unix(nowUnixUTC, 0).UTC().AddDate(0, 0, redemptionTTLDays).Unix()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateRedemptionCode()
		if err != nil {
			return Redemption{}, err
		}
		redemption := Redemption{
			RedemptionID:     uuid.NewString(),
			CustomerID:       customerID,
			RewardID:         reward.RewardID,
			TransactionID:    transactionID,
			PointsSpent:      reward.PointsCost,
			Code:             code,
			Status:           RedemptionActive,
			ExpiresAtUnixUTC: expiresAt,
			CreatedUnixUTC:   nowUnixUTC,
		}
		err = transactionStore.CreateRedemption(ctx, redemption)
		if errors.Is(err, ErrCodeCollision) {
			continue
		}
		if err != nil {
			return Redemption{}, err
		}
		return redemption, nil
	}
	return Redemption{}, ErrCodeGenerationExhausted
}

// generateRedemptionCode draws 8 characters from an alphabet without 0/O/1/I
// lookalikes, prefixed for human entry at the till.
func generateRedemptionCode() (string, error) {
	random := make([]byte, codeLength)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("redemption code entropy: %w", err)
	}
	code := make([]byte, codeLength)
	for index, value := range random {
		code[index] = codeAlphabet[int(value)%len(codeAlphabet)]
	}
	return codePrefix + string(code), nil
}

// UseRedemption honors a coupon at the point of sale. A past-expiry active
// record is expired lazily before the status check, so the caller sees
// "expired" rather than a stale success.
func (service *Service) UseRedemption(ctx context.Context, code string, appointmentID string, actorID string) (Redemption, error) {
	var redemption Redemption
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, err := transactionStore.GetRedemptionByCode(ctx, code)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if record.Status == RedemptionActive && record.ExpiresAtUnixUTC != 0 && record.ExpiresAtUnixUTC <= nowUnixUTC {
			if err := transactionStore.UpdateRedemptionStatus(ctx, record.RedemptionID, RedemptionActive, RedemptionExpired, nil); err != nil {
				return err
			}
			return RedemptionNotActiveError{Status: RedemptionExpired}
		}
		if record.Status != RedemptionActive {
			return RedemptionNotActiveError{Status: record.Status}
		}
		use := RedemptionUse{
			UsedAtUnixUTC:     nowUnixUTC,
			UsedAppointmentID: appointmentID,
			ProcessedByID:     actorID,
		}
		if err := transactionStore.UpdateRedemptionStatus(ctx, record.RedemptionID, RedemptionActive, RedemptionUsed, &use); err != nil {
			return err
		}
		record.Status = RedemptionUsed
		record.UsedAtUnixUTC = use.UsedAtUnixUTC
		record.UsedAppointmentID = use.UsedAppointmentID
		record.ProcessedByID = use.ProcessedByID
		redemption = record
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUseRedemption,
		CustomerID: redemption.CustomerID,
		Code:       code,
		ActorID:    actorID,
		Error:      operationError,
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return redemption, nil
}

// ListRedemptions returns a customer's redemption history, newest first.
func (service *Service) ListRedemptions(ctx context.Context, customerID string) ([]Redemption, error) {
	if err := validateCustomerID(customerID); err != nil {
		return nil, err
	}
	return service.store.ListRedemptions(ctx, customerID)
}

// ExpireRedemptions bulk-expires active redemptions past their expiry. The
// lazy check in UseRedemption covers stragglers between runs.
func (service *Service) ExpireRedemptions(ctx context.Context) (int64, error) {
	return service.store.ExpireRedemptions(ctx, service.nowFn())
}
