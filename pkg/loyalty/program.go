package loyalty

import (
	"context"
	"fmt"
	"sort"
)

// DefaultProgramConfig is the rule set created lazily when none is stored:
// one point per currency unit, no per-visit bounds, never-expiring points,
// tiers enabled with an empty ladder.
func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		EarnRate:            1.0,
		PointValue:          0.01,
		MinPointsRedemption: 0,
		TiersEnabled:        true,
		Tiers:               nil,
		Active:              true,
	}
}

// ValidateProgramConfig checks a full rule set before it is persisted.
func ValidateProgramConfig(config ProgramConfig) error {
	if config.EarnRate < 0 {
		return fmt.Errorf("%w: earn rate must not be negative", ErrInvalidProgramConfig)
	}
	if config.PointValue < 0 {
		return fmt.Errorf("%w: point value must not be negative", ErrInvalidProgramConfig)
	}
	if config.MinPointsRedemption < 0 {
		return fmt.Errorf("%w: minimum redemption must not be negative", ErrInvalidProgramConfig)
	}
	if config.BirthdayBonus < 0 || config.ReferralBonus < 0 || config.SignupBonus < 0 {
		return fmt.Errorf("%w: bonus amounts must not be negative", ErrInvalidProgramConfig)
	}
	if config.ExpirationMonths != nil && *config.ExpirationMonths <= 0 {
		return fmt.Errorf("%w: expiration horizon must be positive when set", ErrInvalidProgramConfig)
	}
	if config.MinPointsPerVisit != nil && *config.MinPointsPerVisit < 0 {
		return fmt.Errorf("%w: min points per visit must not be negative", ErrInvalidProgramConfig)
	}
	if config.MaxPointsPerVisit != nil && *config.MaxPointsPerVisit < 0 {
		return fmt.Errorf("%w: max points per visit must not be negative", ErrInvalidProgramConfig)
	}
	if config.MinPointsPerVisit != nil && config.MaxPointsPerVisit != nil &&
		*config.MinPointsPerVisit > *config.MaxPointsPerVisit {
		return fmt.Errorf("%w: min points per visit exceeds max", ErrInvalidProgramConfig)
	}
	return validateTiers(config.Tiers)
}

func validateTiers(tiers []TierThreshold) error {
	for _, threshold := range tiers {
		if threshold.Name == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidTierThreshold)
		}
		if threshold.MinLifetimePoints < 0 {
			return fmt.Errorf("%w: %s minimum must not be negative", ErrInvalidTierThreshold, threshold.Name)
		}
		if threshold.Multiplier < tierMultiplierFloor || threshold.Multiplier > tierMultiplierCeiling {
			return fmt.Errorf("%w: %s multiplier outside [%.1f, %.1f]", ErrInvalidTierThreshold,
				threshold.Name, tierMultiplierFloor, tierMultiplierCeiling)
		}
	}
	return nil
}

// EvaluateTier maps lifetime tier points onto the program's ladder. The
// highest threshold at or below the lifetime total wins; among equal
// thresholds the first listed wins. With tiers disabled, or no threshold
// reached, the tier is unset and the multiplier is 1.0.
func EvaluateTier(config ProgramConfig, lifetimeTierPoints int64) (string, float64) {
	if !config.TiersEnabled || len(config.Tiers) == 0 {
		return "", 1.0
	}
	ladder := make([]TierThreshold, len(config.Tiers))
	copy(ladder, config.Tiers)
	sort.SliceStable(ladder, func(left, right int) bool {
		return ladder[left].MinLifetimePoints > ladder[right].MinLifetimePoints
	})
	for _, threshold := range ladder {
		if threshold.MinLifetimePoints <= lifetimeTierPoints {
			return threshold.Name, threshold.Multiplier
		}
	}
	return "", 1.0
}

// ProgramUpdate carries a partial rule-set change; nil fields keep the
// stored value. ClearExpiration and ClearVisitBounds unset the nullable
// fields, since a nil pointer here means "leave alone".
type ProgramUpdate struct {
	EarnRate            *float64
	MinPointsPerVisit   *int64
	MaxPointsPerVisit   *int64
	ClearVisitBounds    bool
	BirthdayBonus       *int64
	ReferralBonus       *int64
	SignupBonus         *int64
	PointValue          *float64
	MinPointsRedemption *int64
	ExpirationMonths    *int
	ClearExpiration     bool
	TiersEnabled        *bool
	Tiers               []TierThreshold
	Active              *bool
}

// Program returns the active rule set, creating the default lazily.
func (service *Service) Program(ctx context.Context) (ProgramConfig, error) {
	return service.store.GetProgram(ctx)
}

// UpdateProgram applies a partial change to the singleton rule set.
func (service *Service) UpdateProgram(ctx context.Context, update ProgramUpdate) (ProgramConfig, error) {
	var updated ProgramConfig
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		config, err := transactionStore.GetProgram(ctx)
		if err != nil {
			return err
		}
		applyProgramUpdate(&config, update)
		if err := ValidateProgramConfig(config); err != nil {
			return err
		}
		if err := transactionStore.SaveProgram(ctx, config); err != nil {
			return err
		}
		updated = config
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateProgram,
		Error:     operationError,
	})
	if operationError != nil {
		return ProgramConfig{}, operationError
	}
	return updated, nil
}

func applyProgramUpdate(config *ProgramConfig, update ProgramUpdate) {
	if update.EarnRate != nil {
		config.EarnRate = *update.EarnRate
	}
	if update.ClearVisitBounds {
		config.MinPointsPerVisit = nil
		config.MaxPointsPerVisit = nil
	}
	if update.MinPointsPerVisit != nil {
		config.MinPointsPerVisit = update.MinPointsPerVisit
	}
	if update.MaxPointsPerVisit != nil {
		config.MaxPointsPerVisit = update.MaxPointsPerVisit
	}
	if update.BirthdayBonus != nil {
		config.BirthdayBonus = *update.BirthdayBonus
	}
	if update.ReferralBonus != nil {
		config.ReferralBonus = *update.ReferralBonus
	}
	if update.SignupBonus != nil {
		config.SignupBonus = *update.SignupBonus
	}
	if update.PointValue != nil {
		config.PointValue = *update.PointValue
	}
	if update.MinPointsRedemption != nil {
		config.MinPointsRedemption = *update.MinPointsRedemption
	}
	if update.ClearExpiration {
		config.ExpirationMonths = nil
	}
	if update.ExpirationMonths != nil {
		config.ExpirationMonths = update.ExpirationMonths
	}
	if update.TiersEnabled != nil {
		config.TiersEnabled = *update.TiersEnabled
	}
	if update.Tiers != nil {
		config.Tiers = update.Tiers
	}
	if update.Active != nil {
		config.Active = *update.Active
	}
}
