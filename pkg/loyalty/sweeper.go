package loyalty

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// SweepExpired retires points whose per-transaction expiry has passed. Each
// eligible earn transaction is processed in its own scoped transaction under
// the same balance lock live requests take, so a sweep and a concurrent spend
// on the same customer serialize. A transaction's failure is logged and
// skipped rather than aborting the run: sweeps are idempotent and retried on
// the next schedule.
//
// Points already spent cannot be clawed back twice: the expired amount is
// min(transaction points, current balance), a pool-based simplification
// without per-batch lot tracking. Each unit claims the source transaction
// with a compare-and-set on its expired flag before touching the balance, so
// a re-run — or a concurrent run working from the same listing — skips
// batches another run already retired. The source is marked expired even when
// nothing was removed.
func (service *Service) SweepExpired(ctx context.Context) (int64, error) {
	expirable, err := service.store.ListExpirableTransactions(ctx, service.nowFn(), sweepBatchLimit)
	if err != nil {
		return 0, err
	}
	var totalExpired int64
	for _, transaction := range expirable {
		expired, err := service.expireTransaction(ctx, transaction)
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation:  operationSweep,
				CustomerID: transaction.CustomerID,
				Points:     transaction.Points,
				Source:     SourceExpiration,
				Error:      err,
			})
			continue
		}
		totalExpired += expired
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSweep,
		Points:    totalExpired,
	})
	return totalExpired, nil
}

func (service *Service) expireTransaction(ctx context.Context, source Transaction) (int64, error) {
	var expired int64
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := transactionStore.GetBalanceForUpdate(ctx, source.CustomerID)
		if err != nil {
			return err
		}
		if err := transactionStore.MarkTransactionExpired(ctx, source.TransactionID); err != nil {
			if errors.Is(err, ErrTransactionExpired) {
				return nil
			}
			return err
		}
		expireAmount := source.Points
		if balance.CurrentBalance < expireAmount {
			expireAmount = balance.CurrentBalance
		}
		if expireAmount > 0 {
			balance.CurrentBalance -= expireAmount
			if err := transactionStore.SaveBalance(ctx, balance); err != nil {
				return err
			}
			expiry := Transaction{
				TransactionID:  uuid.NewString(),
				CustomerID:     source.CustomerID,
				Kind:           KindExpire,
				Source:         SourceExpiration,
				Points:         -expireAmount,
				BalanceAfter:   balance.CurrentBalance,
				Description:    "points expired",
				CreatedUnixUTC: service.nowFn(),
			}
			if err := transactionStore.InsertTransaction(ctx, expiry); err != nil {
				return err
			}
			expired = expireAmount
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
