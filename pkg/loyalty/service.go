package loyalty

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetBalance returns the customer's aggregate record, creating a zeroed one
// (balance 0, no tier, multiplier 1.0) on first sight. Never fails for an
// unknown customer.
func (service *Service) GetBalance(ctx context.Context, customerID string) (Balance, error) {
	if err := validateCustomerID(customerID); err != nil {
		return Balance{}, err
	}
	return service.store.GetBalance(ctx, customerID)
}

// Award credits points for an earn event. The current tier multiplier is
// applied by flooring rawPoints * multiplier, the result is clamped into the
// program's per-visit bounds when both are set, and the earn transaction
// carries the program's expiry horizon.
func (service *Service) Award(ctx context.Context, customerID string, rawPoints int64, source PointSource, meta AwardMeta) (Transaction, error) {
	var transaction Transaction
	operationError := func() error {
		if err := validateCustomerID(customerID); err != nil {
			return err
		}
		if rawPoints <= 0 {
			return fmt.Errorf("%w: award must be a positive integer", ErrInvalidAmount)
		}
		if _, err := ParsePointSource(source.String()); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			config, err := transactionStore.GetProgram(ctx)
			if err != nil {
				return err
			}
			balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID)
			if err != nil {
				return err
			}
			credited := applyMultiplier(rawPoints, effectiveMultiplier(config, balance))
			credited = clampPerVisit(credited, config)

			balance.CurrentBalance += credited
			balance.TotalEarned += credited
			balance.LifetimeTierPoints += credited
			balance.CurrentTier, balance.TierMultiplier = EvaluateTier(config, balance.LifetimeTierPoints)

			nowUnixUTC := service.nowFn()
			transaction = Transaction{
				TransactionID:    uuid.NewString(),
				CustomerID:       customerID,
				Kind:             KindEarn,
				Source:           source,
				Points:           credited,
				BalanceAfter:     balance.CurrentBalance,
				AppointmentID:    meta.AppointmentID,
				ReferrerID:       meta.ReferrerID,
				Description:      meta.Description,
				ActorID:          meta.ActorID,
				ExpiresAtUnixUTC: earnExpiry(config, nowUnixUTC),
				CreatedUnixUTC:   nowUnixUTC,
			}
			if err := transactionStore.SaveBalance(ctx, balance); err != nil {
				return err
			}
			return transactionStore.InsertTransaction(ctx, transaction)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationAward,
		CustomerID: customerID,
		Points:     rawPoints,
		Source:     source,
		ActorID:    meta.ActorID,
		Error:      operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// AwardBonus credits one of the program's configured bonus amounts. A zero
// configured amount rejects with ErrInvalidAmount rather than writing an
// empty transaction.
func (service *Service) AwardBonus(ctx context.Context, customerID string, kind BonusKind, actorID string) (Transaction, error) {
	config, err := service.store.GetProgram(ctx)
	if err != nil {
		return Transaction{}, err
	}
	var (
		amount int64
		source PointSource
	)
	switch kind {
	case BonusBirthday:
		amount, source = config.BirthdayBonus, SourceBirthday
	case BonusReferral:
		amount, source = config.ReferralBonus, SourceReferral
	case BonusSignup:
		amount, source = config.SignupBonus, SourceSignup
	default:
		return Transaction{}, fmt.Errorf("%w: %q", ErrInvalidBonusKind, kind)
	}
	return service.Award(ctx, customerID, amount, source, AwardMeta{
		Description: fmt.Sprintf("%s bonus", kind),
		ActorID:     actorID,
	})
}

// Adjust applies a signed manual correction. The resulting balance must stay
// non-negative. Adjustments never count toward tier progress.
func (service *Service) Adjust(ctx context.Context, customerID string, delta int64, reason string, actorID string) (Transaction, error) {
	var transaction Transaction
	operationError := func() error {
		if err := validateCustomerID(customerID); err != nil {
			return err
		}
		if delta == 0 {
			return fmt.Errorf("%w: adjustment delta must not be zero", ErrInvalidAmount)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID)
			if err != nil {
				return err
			}
			if balance.CurrentBalance+delta < 0 {
				return ErrNegativeBalance
			}
			balance.CurrentBalance += delta
			if delta > 0 {
				balance.TotalEarned += delta
			} else {
				balance.TotalSpent += -delta
			}
			transaction = Transaction{
				TransactionID:  uuid.NewString(),
				CustomerID:     customerID,
				Kind:           KindAdjust,
				Source:         SourceManual,
				Points:         delta,
				BalanceAfter:   balance.CurrentBalance,
				Description:    reason,
				ActorID:        actorID,
				CreatedUnixUTC: service.nowFn(),
			}
			if err := transactionStore.SaveBalance(ctx, balance); err != nil {
				return err
			}
			return transactionStore.InsertTransaction(ctx, transaction)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationAdjust,
		CustomerID: customerID,
		Points:     delta,
		Source:     SourceManual,
		ActorID:    actorID,
		Error:      operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Spend debits points immediately. It is the primitive the redemption unit
// composes with; the same negative-balance guard as Adjust applies.
func (service *Service) Spend(ctx context.Context, customerID string, points int64, source PointSource, meta SpendMeta) (Transaction, error) {
	var transaction Transaction
	operationError := func() error {
		if err := validateCustomerID(customerID); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			var err error
			transaction, err = service.spendInTx(ctx, transactionStore, customerID, points, source, meta)
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:  operationSpend,
		CustomerID: customerID,
		Points:     points,
		Source:     source,
		RewardID:   meta.RewardID,
		ActorID:    meta.ActorID,
		Error:      operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// spendInTx performs the balance debit inside an already-open transaction so
// the redemption unit can compose it with its other effects atomically.
func (service *Service) spendInTx(ctx context.Context, transactionStore Store, customerID string, points int64, source PointSource, meta SpendMeta) (Transaction, error) {
	if points <= 0 {
		return Transaction{}, fmt.Errorf("%w: spend must be a positive integer", ErrInvalidAmount)
	}
	balance, err := transactionStore.GetBalanceForUpdate(ctx, customerID)
	if err != nil {
		return Transaction{}, err
	}
	if balance.CurrentBalance-points < 0 {
		return Transaction{}, ErrNegativeBalance
	}
	balance.CurrentBalance -= points
	balance.TotalSpent += points
	transaction := Transaction{
		TransactionID:  uuid.NewString(),
		CustomerID:     customerID,
		Kind:           KindSpend,
		Source:         source,
		Points:         -points,
		BalanceAfter:   balance.CurrentBalance,
		RewardID:       meta.RewardID,
		Description:    meta.Description,
		ActorID:        meta.ActorID,
		CreatedUnixUTC: service.nowFn(),
	}
	if err := transactionStore.SaveBalance(ctx, balance); err != nil {
		return Transaction{}, err
	}
	if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

// ListTransactions pages through the ledger, newest first.
func (service *Service) ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	data, total, err := service.store.ListTransactions(ctx, filter)
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{Data: data, Total: total}, nil
}

// GetStats returns aggregate ledger totals.
func (service *Service) GetStats(ctx context.Context) (Stats, error) {
	return service.store.Stats(ctx)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateCustomerID(customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	return nil
}

// effectiveMultiplier resolves the multiplier an earn runs under. The stored
// multiplier is authoritative while tiers are enabled; a disabled program
// always earns at 1.0 regardless of the customer's banked tier.
func effectiveMultiplier(config ProgramConfig, balance Balance) float64 {
	if !config.TiersEnabled {
		return 1.0
	}
	if balance.TierMultiplier < 1.0 {
		return 1.0
	}
	return balance.TierMultiplier
}

func applyMultiplier(rawPoints int64, multiplier float64) int64 {
	return int64(math.Floor(float64(rawPoints) * multiplier))
}

// clampPerVisit bounds the credited amount; the clamp is skipped entirely
// unless both bounds are configured.
func clampPerVisit(points int64, config ProgramConfig) int64 {
	if config.MinPointsPerVisit == nil || config.MaxPointsPerVisit == nil {
		return points
	}
	if points < *config.MinPointsPerVisit {
		return *config.MinPointsPerVisit
	}
	if points > *config.MaxPointsPerVisit {
		return *config.MaxPointsPerVisit
	}
	return points
}

func earnExpiry(config ProgramConfig, nowUnixUTC int64) int64 {
	if config.ExpirationMonths == nil {
		return 0
	}
	return time.Unix(nowUnixUTC, 0).UTC().AddDate(0, *config.ExpirationMonths, 0).Unix()
}
