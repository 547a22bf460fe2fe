// Package memstore is an in-memory loyalty.Store for tests and demo runs.
// A scoped transaction works on a deep copy of the state and swaps it in on
// commit, so a failed unit leaves no partial effects. The store mutex is held
// for the whole transaction, which gives the same serialization the SQL row
// lock gives per customer (coarser, but correct).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
)

// Store implements loyalty.Store over process memory.
type Store struct {
	mu    *sync.Mutex
	state *state
	inTx  bool
}

type state struct {
	program      *loyalty.ProgramConfig
	balances     map[string]loyalty.Balance
	transactions []loyalty.Transaction
	rewards      map[string]loyalty.Reward
	redemptions  map[string]loyalty.Redemption
	codes        map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		state: &state{
			balances:    make(map[string]loyalty.Balance),
			rewards:     make(map[string]loyalty.Reward),
			redemptions: make(map[string]loyalty.Redemption),
			codes:       make(map[string]string),
		},
	}
}

// WithTx runs fn over a snapshot and commits it only on success.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.state.clone()
	txStore := &Store{mu: store.mu, state: snapshot, inTx: true}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	store.state = txStore.state
	return nil
}

func (store *Store) run(fn func(st *state) error) error {
	if store.inTx {
		return fn(store.state)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(store.state)
}

// GetProgram returns the singleton rule set, creating the default lazily.
func (store *Store) GetProgram(ctx context.Context) (loyalty.ProgramConfig, error) {
	var config loyalty.ProgramConfig
	err := store.run(func(st *state) error {
		if st.program == nil {
			defaults := loyalty.DefaultProgramConfig()
			st.program = &defaults
		}
		config = cloneProgram(*st.program)
		return nil
	})
	return config, err
}

func (store *Store) SaveProgram(ctx context.Context, config loyalty.ProgramConfig) error {
	return store.run(func(st *state) error {
		stored := cloneProgram(config)
		st.program = &stored
		return nil
	})
}

// GetBalance returns the customer's record, creating a zeroed one on first
// sight.
func (store *Store) GetBalance(ctx context.Context, customerID string) (loyalty.Balance, error) {
	var balance loyalty.Balance
	err := store.run(func(st *state) error {
		balance = st.balanceOrZero(customerID)
		return nil
	})
	return balance, err
}

// GetBalanceForUpdate is GetBalance under the store lock; the caller's
// transaction holds the lock until commit.
func (store *Store) GetBalanceForUpdate(ctx context.Context, customerID string) (loyalty.Balance, error) {
	return store.GetBalance(ctx, customerID)
}

func (store *Store) SaveBalance(ctx context.Context, balance loyalty.Balance) error {
	return store.run(func(st *state) error {
		st.balances[balance.CustomerID] = balance
		return nil
	})
}

func (store *Store) InsertTransaction(ctx context.Context, transaction loyalty.Transaction) error {
	return store.run(func(st *state) error {
		st.transactions = append(st.transactions, transaction)
		return nil
	})
}

func (store *Store) ListTransactions(ctx context.Context, filter loyalty.TransactionFilter) ([]loyalty.Transaction, int64, error) {
	var (
		matched []loyalty.Transaction
		total   int64
	)
	err := store.run(func(st *state) error {
		for _, transaction := range st.transactions {
			if filter.CustomerID != "" && transaction.CustomerID != filter.CustomerID {
				continue
			}
			if filter.Kind != "" && transaction.Kind != filter.Kind {
				continue
			}
			if filter.Source != "" && transaction.Source != filter.Source {
				continue
			}
			matched = append(matched, transaction)
		}
		sort.SliceStable(matched, func(left, right int) bool {
			return matched[left].CreatedUnixUTC > matched[right].CreatedUnixUTC
		})
		total = int64(len(matched))
		if filter.Offset > 0 {
			if filter.Offset >= len(matched) {
				matched = nil
			} else {
				matched = matched[filter.Offset:]
			}
		}
		if filter.Limit > 0 && len(matched) > filter.Limit {
			matched = matched[:filter.Limit]
		}
		return nil
	})
	return matched, total, err
}

func (store *Store) ListExpirableTransactions(ctx context.Context, nowUnixUTC int64, limit int) ([]loyalty.Transaction, error) {
	var expirable []loyalty.Transaction
	err := store.run(func(st *state) error {
		for _, transaction := range st.transactions {
			if transaction.Kind != loyalty.KindEarn || transaction.Expired {
				continue
			}
			if transaction.ExpiresAtUnixUTC == 0 || transaction.ExpiresAtUnixUTC > nowUnixUTC {
				continue
			}
			expirable = append(expirable, transaction)
			if limit > 0 && len(expirable) >= limit {
				break
			}
		}
		return nil
	})
	return expirable, err
}

func (store *Store) MarkTransactionExpired(ctx context.Context, transactionID string) error {
	return store.run(func(st *state) error {
		for index := range st.transactions {
			if st.transactions[index].TransactionID == transactionID {
				if st.transactions[index].Expired {
					return loyalty.ErrTransactionExpired
				}
				st.transactions[index].Expired = true
				return nil
			}
		}
		return loyalty.ErrTransactionNotFound
	})
}

func (store *Store) Stats(ctx context.Context) (loyalty.Stats, error) {
	var stats loyalty.Stats
	err := store.run(func(st *state) error {
		for _, transaction := range st.transactions {
			switch {
			case transaction.Points > 0:
				stats.PointsIssued += transaction.Points
			case transaction.Kind == loyalty.KindExpire:
				stats.PointsExpired += -transaction.Points
			case transaction.Points < 0:
				stats.PointsSpent += -transaction.Points
			}
		}
		for _, balance := range st.balances {
			stats.OutstandingBalance += balance.CurrentBalance
		}
		for _, redemption := range st.redemptions {
			if redemption.Status == loyalty.RedemptionActive {
				stats.ActiveRedemptions++
			}
		}
		return nil
	})
	return stats, err
}

func (store *Store) CreateReward(ctx context.Context, reward loyalty.Reward) error {
	return store.run(func(st *state) error {
		st.rewards[reward.RewardID] = reward
		return nil
	})
}

func (store *Store) UpdateReward(ctx context.Context, reward loyalty.Reward) error {
	return store.run(func(st *state) error {
		if _, exists := st.rewards[reward.RewardID]; !exists {
			return loyalty.ErrRewardNotFound
		}
		st.rewards[reward.RewardID] = reward
		return nil
	})
}

func (store *Store) GetReward(ctx context.Context, rewardID string) (loyalty.Reward, error) {
	var reward loyalty.Reward
	err := store.run(func(st *state) error {
		stored, exists := st.rewards[rewardID]
		if !exists {
			return loyalty.ErrRewardNotFound
		}
		reward = stored
		return nil
	})
	return reward, err
}

func (store *Store) ListRewards(ctx context.Context, filter loyalty.RewardFilter) ([]loyalty.Reward, error) {
	var rewards []loyalty.Reward
	err := store.run(func(st *state) error {
		for _, reward := range st.rewards {
			if filter.ActiveOnly && !reward.Active {
				continue
			}
			if filter.Type != "" && reward.Type != filter.Type {
				continue
			}
			rewards = append(rewards, reward)
		}
		sort.SliceStable(rewards, func(left, right int) bool {
			if rewards[left].PointsCost != rewards[right].PointsCost {
				return rewards[left].PointsCost < rewards[right].PointsCost
			}
			return rewards[left].Name < rewards[right].Name
		})
		return nil
	})
	return rewards, err
}

// IncrementRedemptions re-checks the cap under the lock, mirroring the
// guarded UPDATE the SQL store runs.
func (store *Store) IncrementRedemptions(ctx context.Context, rewardID string) error {
	return store.run(func(st *state) error {
		reward, exists := st.rewards[rewardID]
		if !exists {
			return loyalty.ErrRewardNotFound
		}
		if reward.MaxRedemptions != nil && reward.CurrentRedemptions >= *reward.MaxRedemptions {
			return loyalty.ErrRedemptionCapReached
		}
		reward.CurrentRedemptions++
		st.rewards[rewardID] = reward
		return nil
	})
}

func (store *Store) CreateRedemption(ctx context.Context, redemption loyalty.Redemption) error {
	return store.run(func(st *state) error {
		if _, taken := st.codes[redemption.Code]; taken {
			return loyalty.ErrCodeCollision
		}
		st.redemptions[redemption.RedemptionID] = redemption
		st.codes[redemption.Code] = redemption.RedemptionID
		return nil
	})
}

func (store *Store) GetRedemptionByCode(ctx context.Context, code string) (loyalty.Redemption, error) {
	var redemption loyalty.Redemption
	err := store.run(func(st *state) error {
		redemptionID, exists := st.codes[code]
		if !exists {
			return loyalty.ErrRedemptionNotFound
		}
		redemption = st.redemptions[redemptionID]
		return nil
	})
	return redemption, err
}

func (store *Store) UpdateRedemptionStatus(ctx context.Context, redemptionID string, from, to loyalty.RedemptionStatus, use *loyalty.RedemptionUse) error {
	return store.run(func(st *state) error {
		redemption, exists := st.redemptions[redemptionID]
		if !exists {
			return loyalty.ErrRedemptionNotFound
		}
		if redemption.Status != from {
			return loyalty.RedemptionNotActiveError{Status: redemption.Status}
		}
		redemption.Status = to
		if use != nil {
			redemption.UsedAtUnixUTC = use.UsedAtUnixUTC
			redemption.UsedAppointmentID = use.UsedAppointmentID
			redemption.ProcessedByID = use.ProcessedByID
		}
		st.redemptions[redemptionID] = redemption
		return nil
	})
}

func (store *Store) ListRedemptions(ctx context.Context, customerID string) ([]loyalty.Redemption, error) {
	var redemptions []loyalty.Redemption
	err := store.run(func(st *state) error {
		for _, redemption := range st.redemptions {
			if redemption.CustomerID == customerID {
				redemptions = append(redemptions, redemption)
			}
		}
		sort.SliceStable(redemptions, func(left, right int) bool {
			return redemptions[left].CreatedUnixUTC > redemptions[right].CreatedUnixUTC
		})
		return nil
	})
	return redemptions, err
}

func (store *Store) ExpireRedemptions(ctx context.Context, nowUnixUTC int64) (int64, error) {
	var expired int64
	err := store.run(func(st *state) error {
		for redemptionID, redemption := range st.redemptions {
			if redemption.Status != loyalty.RedemptionActive {
				continue
			}
			if redemption.ExpiresAtUnixUTC == 0 || redemption.ExpiresAtUnixUTC > nowUnixUTC {
				continue
			}
			redemption.Status = loyalty.RedemptionExpired
			st.redemptions[redemptionID] = redemption
			expired++
		}
		return nil
	})
	return expired, err
}

func (st *state) balanceOrZero(customerID string) loyalty.Balance {
	if balance, exists := st.balances[customerID]; exists {
		return balance
	}
	balance := loyalty.Balance{CustomerID: customerID, TierMultiplier: 1.0}
	st.balances[customerID] = balance
	return balance
}

func (st *state) clone() *state {
	copied := &state{
		balances:     make(map[string]loyalty.Balance, len(st.balances)),
		transactions: make([]loyalty.Transaction, len(st.transactions)),
		rewards:      make(map[string]loyalty.Reward, len(st.rewards)),
		redemptions:  make(map[string]loyalty.Redemption, len(st.redemptions)),
		codes:        make(map[string]string, len(st.codes)),
	}
	if st.program != nil {
		program := cloneProgram(*st.program)
		copied.program = &program
	}
	for customerID, balance := range st.balances {
		copied.balances[customerID] = balance
	}
	copy(copied.transactions, st.transactions)
	for rewardID, reward := range st.rewards {
		copied.rewards[rewardID] = reward
	}
	for redemptionID, redemption := range st.redemptions {
		copied.redemptions[redemptionID] = redemption
	}
	for code, redemptionID := range st.codes {
		copied.codes[code] = redemptionID
	}
	return copied
}

func cloneProgram(config loyalty.ProgramConfig) loyalty.ProgramConfig {
	cloned := config
	if config.Tiers != nil {
		cloned.Tiers = make([]loyalty.TierThreshold, len(config.Tiers))
		copy(cloned.Tiers, config.Tiers)
	}
	if config.MinPointsPerVisit != nil {
		value := *config.MinPointsPerVisit
		cloned.MinPointsPerVisit = &value
	}
	if config.MaxPointsPerVisit != nil {
		value := *config.MaxPointsPerVisit
		cloned.MaxPointsPerVisit = &value
	}
	if config.ExpirationMonths != nil {
		value := *config.ExpirationMonths
		cloned.ExpirationMonths = &value
	}
	return cloned
}
