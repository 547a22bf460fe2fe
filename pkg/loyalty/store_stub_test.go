package loyalty

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

var errStubInjected = errors.New("injected store failure")

// stubStore mirrors the SQL store's semantics in memory: scoped transactions
// work on a cloned state and commit by swap, so a failed unit leaves no
// partial effects. Failure injection fields simulate store-level faults.
type stubStore struct {
	mu    *sync.Mutex
	state *stubState
	inTx  bool

	// failure injection, decremented/cleared as consumed
	collideCreates          int
	failSaveBalanceCustomer string
}

type stubState struct {
	program      *ProgramConfig
	balances     map[string]Balance
	transactions []Transaction
	rewards      map[string]Reward
	redemptions  map[string]Redemption
	codes        map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{
		mu: &sync.Mutex{},
		state: &stubState{
			balances:    make(map[string]Balance),
			rewards:     make(map[string]Reward),
			redemptions: make(map[string]Redemption),
			codes:       make(map[string]string),
		},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.state.clone()
	txStore := &stubStore{
		mu:                      store.mu,
		state:                   snapshot,
		inTx:                    true,
		collideCreates:          store.collideCreates,
		failSaveBalanceCustomer: store.failSaveBalanceCustomer,
	}
	if err := fn(ctx, txStore); err != nil {
		store.collideCreates = txStore.collideCreates
		return err
	}
	store.state = txStore.state
	store.collideCreates = txStore.collideCreates
	return nil
}

func (store *stubStore) run(fn func(st *stubState) error) error {
	if store.inTx {
		return fn(store.state)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(store.state)
}

func (store *stubStore) GetProgram(ctx context.Context) (ProgramConfig, error) {
	var config ProgramConfig
	err := store.run(func(st *stubState) error {
		if st.program == nil {
			defaults := DefaultProgramConfig()
			st.program = &defaults
		}
		config = *st.program
		return nil
	})
	return config, err
}

func (store *stubStore) SaveProgram(ctx context.Context, config ProgramConfig) error {
	return store.run(func(st *stubState) error {
		st.program = &config
		return nil
	})
}

func (store *stubStore) setProgram(config ProgramConfig) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.state.program = &config
}

func (store *stubStore) GetBalance(ctx context.Context, customerID string) (Balance, error) {
	var balance Balance
	err := store.run(func(st *stubState) error {
		if existing, exists := st.balances[customerID]; exists {
			balance = existing
			return nil
		}
		balance = Balance{CustomerID: customerID, TierMultiplier: 1.0}
		st.balances[customerID] = balance
		return nil
	})
	return balance, err
}

func (store *stubStore) GetBalanceForUpdate(ctx context.Context, customerID string) (Balance, error) {
	return store.GetBalance(ctx, customerID)
}

func (store *stubStore) SaveBalance(ctx context.Context, balance Balance) error {
	return store.run(func(st *stubState) error {
		if store.failSaveBalanceCustomer != "" && balance.CustomerID == store.failSaveBalanceCustomer {
			return errStubInjected
		}
		st.balances[balance.CustomerID] = balance
		return nil
	})
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) error {
	return store.run(func(st *stubState) error {
		st.transactions = append(st.transactions, transaction)
		return nil
	})
}

func (store *stubStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int64, error) {
	var matched []Transaction
	err := store.run(func(st *stubState) error {
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
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC > matched[right].CreatedUnixUTC
	})
	total := int64(len(matched))
	if filter.Offset > 0 && filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else if filter.Offset >= len(matched) && filter.Offset > 0 {
		matched = nil
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (store *stubStore) ListExpirableTransactions(ctx context.Context, nowUnixUTC int64, limit int) ([]Transaction, error) {
	var expirable []Transaction
	err := store.run(func(st *stubState) error {
		for _, transaction := range st.transactions {
			if transaction.Kind != KindEarn || transaction.Expired {
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

func (store *stubStore) MarkTransactionExpired(ctx context.Context, transactionID string) error {
	return store.run(func(st *stubState) error {
		for index := range st.transactions {
			if st.transactions[index].TransactionID == transactionID {
				if st.transactions[index].Expired {
					return ErrTransactionExpired
				}
				st.transactions[index].Expired = true
				return nil
			}
		}
		return ErrTransactionNotFound
	})
}

func (store *stubStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := store.run(func(st *stubState) error {
		for _, transaction := range st.transactions {
			switch {
			case transaction.Points > 0:
				stats.PointsIssued += transaction.Points
			case transaction.Kind == KindExpire:
				stats.PointsExpired += -transaction.Points
			case transaction.Points < 0:
				stats.PointsSpent += -transaction.Points
			}
		}
		for _, balance := range st.balances {
			stats.OutstandingBalance += balance.CurrentBalance
		}
		for _, redemption := range st.redemptions {
			if redemption.Status == RedemptionActive {
				stats.ActiveRedemptions++
			}
		}
		return nil
	})
	return stats, err
}

func (store *stubStore) CreateReward(ctx context.Context, reward Reward) error {
	return store.run(func(st *stubState) error {
		st.rewards[reward.RewardID] = reward
		return nil
	})
}

func (store *stubStore) UpdateReward(ctx context.Context, reward Reward) error {
	return store.run(func(st *stubState) error {
		if _, exists := st.rewards[reward.RewardID]; !exists {
			return ErrRewardNotFound
		}
		st.rewards[reward.RewardID] = reward
		return nil
	})
}

func (store *stubStore) GetReward(ctx context.Context, rewardID string) (Reward, error) {
	var reward Reward
	err := store.run(func(st *stubState) error {
		stored, exists := st.rewards[rewardID]
		if !exists {
			return ErrRewardNotFound
		}
		reward = stored
		return nil
	})
	return reward, err
}

func (store *stubStore) ListRewards(ctx context.Context, filter RewardFilter) ([]Reward, error) {
	var rewards []Reward
	err := store.run(func(st *stubState) error {
		for _, reward := range st.rewards {
			if filter.ActiveOnly && !reward.Active {
				continue
			}
			if filter.Type != "" && reward.Type != filter.Type {
				continue
			}
			rewards = append(rewards, reward)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rewards, func(left, right int) bool {
		return rewards[left].PointsCost < rewards[right].PointsCost
	})
	return rewards, nil
}

func (store *stubStore) IncrementRedemptions(ctx context.Context, rewardID string) error {
	return store.run(func(st *stubState) error {
		reward, exists := st.rewards[rewardID]
		if !exists {
			return ErrRewardNotFound
		}
		if reward.MaxRedemptions != nil && reward.CurrentRedemptions >= *reward.MaxRedemptions {
			return ErrRedemptionCapReached
		}
		reward.CurrentRedemptions++
		st.rewards[rewardID] = reward
		return nil
	})
}

func (store *stubStore) CreateRedemption(ctx context.Context, redemption Redemption) error {
	return store.run(func(st *stubState) error {
		if store.collideCreates > 0 {
			store.collideCreates--
			return ErrCodeCollision
		}
		if _, taken := st.codes[redemption.Code]; taken {
			return ErrCodeCollision
		}
		st.redemptions[redemption.RedemptionID] = redemption
		st.codes[redemption.Code] = redemption.RedemptionID
		return nil
	})
}

func (store *stubStore) GetRedemptionByCode(ctx context.Context, code string) (Redemption, error) {
	var redemption Redemption
	err := store.run(func(st *stubState) error {
		redemptionID, exists := st.codes[code]
		if !exists {
			return ErrRedemptionNotFound
		}
		redemption = st.redemptions[redemptionID]
		return nil
	})
	return redemption, err
}

func (store *stubStore) UpdateRedemptionStatus(ctx context.Context, redemptionID string, from, to RedemptionStatus, use *RedemptionUse) error {
	return store.run(func(st *stubState) error {
		redemption, exists := st.redemptions[redemptionID]
		if !exists {
			return ErrRedemptionNotFound
		}
		if redemption.Status != from {
			return RedemptionNotActiveError{Status: redemption.Status}
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

func (store *stubStore) ListRedemptions(ctx context.Context, customerID string) ([]Redemption, error) {
	var redemptions []Redemption
	err := store.run(func(st *stubState) error {
		for _, redemption := range st.redemptions {
			if redemption.CustomerID == customerID {
				redemptions = append(redemptions, redemption)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(redemptions, func(left, right int) bool {
		return redemptions[left].CreatedUnixUTC > redemptions[right].CreatedUnixUTC
	})
	return redemptions, nil
}

func (store *stubStore) ExpireRedemptions(ctx context.Context, nowUnixUTC int64) (int64, error) {
	var expired int64
	err := store.run(func(st *stubState) error {
		for redemptionID, redemption := range st.redemptions {
			if redemption.Status != RedemptionActive {
				continue
			}
			if redemption.ExpiresAtUnixUTC == 0 || redemption.ExpiresAtUnixUTC > nowUnixUTC {
				continue
			}
			redemption.Status = RedemptionExpired
			st.redemptions[redemptionID] = redemption
			expired++
		}
		return nil
	})
	return expired, err
}

func (st *stubState) clone() *stubState {
	copied := &stubState{
		balances:     make(map[string]Balance, len(st.balances)),
		transactions: make([]Transaction, len(st.transactions)),
		rewards:      make(map[string]Reward, len(st.rewards)),
		redemptions:  make(map[string]Redemption, len(st.redemptions)),
		codes:        make(map[string]string, len(st.codes)),
	}
	if st.program != nil {
		program := *st.program
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

// test helpers

type testClock struct {
	mu   sync.Mutex
	unix int64
}

func newTestClock(start int64) *testClock {
	return &testClock{unix: start}
}

func (clock *testClock) Now() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.unix
}

func (clock *testClock) Advance(seconds int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.unix += seconds
}

func (clock *testClock) Set(unix int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.unix = unix
}

func mustNewService(test *testing.T, store Store, clock *testClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func (store *stubStore) mustBalance(test *testing.T, customerID string) Balance {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, exists := store.state.balances[customerID]
	if !exists {
		test.Fatalf("no balance for customer %s", customerID)
	}
	return balance
}

func (store *stubStore) mustReward(test *testing.T, rewardID string) Reward {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	reward, exists := store.state.rewards[rewardID]
	if !exists {
		test.Fatalf("no reward %s", rewardID)
	}
	return reward
}

func (store *stubStore) mustRedemption(test *testing.T, redemptionID string) Redemption {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	redemption, exists := store.state.redemptions[redemptionID]
	if !exists {
		test.Fatalf("no redemption %s", redemptionID)
	}
	return redemption
}

func (store *stubStore) transactionCount(kind TransactionKind) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	count := 0
	for _, transaction := range store.state.transactions {
		if transaction.Kind == kind {
			count++
		}
	}
	return count
}

func (store *stubStore) pointSum(customerID string) int64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	var sum int64
	for _, transaction := range store.state.transactions {
		if transaction.CustomerID == customerID {
			sum += transaction.Points
		}
	}
	return sum
}

func (store *stubStore) addReward(reward Reward) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.state.rewards[reward.RewardID] = reward
}

func int64Ptr(value int64) *int64 { return &value }

func intPtr(value int) *int { return &value }
