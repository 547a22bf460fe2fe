package loyalty

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateReward adds a catalog entry. New rewards start active with a zero
// redemption counter.
func (service *Service) CreateReward(ctx context.Context, reward Reward) (Reward, error) {
	operationError := func() error {
		if err := validateReward(reward); err != nil {
			return err
		}
		reward.RewardID = uuid.NewString()
		reward.CurrentRedemptions = 0
		reward.Active = true
		reward.CreatedUnixUTC = service.nowFn()
		return service.store.CreateReward(ctx, reward)
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateReward,
		RewardID:  reward.RewardID,
		Error:     operationError,
	})
	if operationError != nil {
		return Reward{}, operationError
	}
	return reward, nil
}

// UpdateReward replaces a catalog entry's editable fields. The redemption
// counter and creation time are never client-settable.
func (service *Service) UpdateReward(ctx context.Context, reward Reward) (Reward, error) {
	var updated Reward
	operationError := func() error {
		if err := validateReward(reward); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			existing, err := transactionStore.GetReward(ctx, reward.RewardID)
			if err != nil {
				return err
			}
			reward.CurrentRedemptions = existing.CurrentRedemptions
			reward.CreatedUnixUTC = existing.CreatedUnixUTC
			if err := transactionStore.UpdateReward(ctx, reward); err != nil {
				return err
			}
			updated = reward
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateReward,
		RewardID:  reward.RewardID,
		Error:     operationError,
	})
	if operationError != nil {
		return Reward{}, operationError
	}
	return updated, nil
}

// DeactivateReward soft-deletes a catalog entry. Historical redemptions and
// the redemption counter are untouched; transactions keep referencing it.
func (service *Service) DeactivateReward(ctx context.Context, rewardID string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reward, err := transactionStore.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		reward.Active = false
		return transactionStore.UpdateReward(ctx, reward)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeleteReward,
		RewardID:  rewardID,
		Error:     operationError,
	})
	return operationError
}

// GetReward fetches a catalog entry by id.
func (service *Service) GetReward(ctx context.Context, rewardID string) (Reward, error) {
	return service.store.GetReward(ctx, rewardID)
}

// ListRewards lists catalog entries, cheapest first.
func (service *Service) ListRewards(ctx context.Context, filter RewardFilter) ([]Reward, error) {
	return service.store.ListRewards(ctx, filter)
}

// ListAvailableRewards returns the active rewards the customer could redeem
// right now: inside their availability window, under their cap, and within
// the customer's current balance. Ordered by ascending cost.
func (service *Service) ListAvailableRewards(ctx context.Context, customerID string) ([]Reward, error) {
	if err := validateCustomerID(customerID); err != nil {
		return nil, err
	}
	balance, err := service.store.GetBalance(ctx, customerID)
	if err != nil {
		return nil, err
	}
	rewards, err := service.store.ListRewards(ctx, RewardFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	nowUnixUTC := service.nowFn()
	available := make([]Reward, 0, len(rewards))
	for _, reward := range rewards {
		if !rewardWindowContains(reward, nowUnixUTC) {
			continue
		}
		if rewardCapExhausted(reward) {
			continue
		}
		if reward.PointsCost > balance.CurrentBalance {
			continue
		}
		available = append(available, reward)
	}
	return available, nil
}

func validateReward(reward Reward) error {
	if strings.TrimSpace(reward.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidReward)
	}
	if _, err := ParseRewardType(reward.Type.String()); err != nil {
		return err
	}
	if reward.PointsCost <= 0 {
		return fmt.Errorf("%w: points cost must be positive", ErrInvalidReward)
	}
	if reward.AvailableFromUnixUTC != 0 && reward.AvailableUntilUnixUTC != 0 &&
		reward.AvailableFromUnixUTC > reward.AvailableUntilUnixUTC {
		return fmt.Errorf("%w: availability window is inverted", ErrInvalidReward)
	}
	if reward.MaxRedemptions != nil && *reward.MaxRedemptions <= 0 {
		return fmt.Errorf("%w: redemption cap must be positive when set", ErrInvalidReward)
	}
	return nil
}

func rewardWindowContains(reward Reward, nowUnixUTC int64) bool {
	if reward.AvailableFromUnixUTC != 0 && nowUnixUTC < reward.AvailableFromUnixUTC {
		return false
	}
	if reward.AvailableUntilUnixUTC != 0 && nowUnixUTC > reward.AvailableUntilUnixUTC {
		return false
	}
	return true
}

func rewardCapExhausted(reward Reward) bool {
	return reward.MaxRedemptions != nil && reward.CurrentRedemptions >= *reward.MaxRedemptions
}
