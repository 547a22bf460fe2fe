package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	singletonProgramID    = 1
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	dialectSQLite         = "sqlite"

	errorOperationStore     = "store"
	errorSubjectProgram     = "program"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorSubjectReward      = "reward"
	errorSubjectRedemption  = "redemption"
	errorCodeCreate         = "create"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeSave           = "save"
	errorCodeStats          = "stats"
	errorCodeUpdate         = "update"
)

// Store implements loyalty.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the loyalty schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Program{}, &Balance{}, &PointTransaction{}, &Reward{}, &Redemption{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// forUpdate is the row-lock clause where the dialect supports it. SQLite
// serializes writers at the database level, so the clause is omitted there.
func (store *Store) forUpdate() []clause.Expression {
	if store.db.Dialector.Name() == dialectSQLite {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}

func (store *Store) GetProgram(ctx context.Context) (loyalty.ProgramConfig, error) {
	var model Program
	err := store.db.WithContext(ctx).Take(&model, "program_id = ?", singletonProgramID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := loyalty.DefaultProgramConfig()
		model, err = programModel(defaults)
		if err != nil {
			return loyalty.ProgramConfig{}, wrapStoreError(errorSubjectProgram, errorCodeInvalid, err)
		}
		err = store.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model).Error
		if err != nil {
			return loyalty.ProgramConfig{}, wrapStoreError(errorSubjectProgram, errorCodeCreate, err)
		}
		err = store.db.WithContext(ctx).Take(&model, "program_id = ?", singletonProgramID).Error
	}
	if err != nil {
		return loyalty.ProgramConfig{}, wrapStoreError(errorSubjectProgram, errorCodeGet, err)
	}
	config, err := mapProgram(model)
	if err != nil {
		return loyalty.ProgramConfig{}, wrapStoreError(errorSubjectProgram, errorCodeInvalid, err)
	}
	return config, nil
}

func (store *Store) SaveProgram(ctx context.Context, config loyalty.ProgramConfig) error {
	model, err := programModel(config)
	if err != nil {
		return wrapStoreError(errorSubjectProgram, errorCodeInvalid, err)
	}
	if err := store.db.WithContext(ctx).Save(&model).Error; err != nil {
		return wrapStoreError(errorSubjectProgram, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, customerID string) (loyalty.Balance, error) {
	return store.getBalance(ctx, customerID, nil)
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, customerID string) (loyalty.Balance, error) {
	return store.getBalance(ctx, customerID, store.forUpdate())
}

func (store *Store) getBalance(ctx context.Context, customerID string, locking []clause.Expression) (loyalty.Balance, error) {
	var model Balance
	query := store.db.WithContext(ctx)
	if len(locking) > 0 {
		query = query.Clauses(locking...)
	}
	err := query.Take(&model, "customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := Balance{CustomerID: customerID, TierMultiplier: 1.0}
		err = store.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&created).Error
		if err != nil {
			return loyalty.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeCreate, err)
		}
		query = store.db.WithContext(ctx)
		if len(locking) > 0 {
			query = query.Clauses(locking...)
		}
		err = query.Take(&model, "customer_id = ?", customerID).Error
	}
	if err != nil {
		return loyalty.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return mapBalance(model), nil
}

func (store *Store) SaveBalance(ctx context.Context, balance loyalty.Balance) error {
	updates := map[string]interface{}{
		"current_balance":      balance.CurrentBalance,
		"total_earned":         balance.TotalEarned,
		"total_spent":          balance.TotalSpent,
		"lifetime_tier_points": balance.LifetimeTierPoints,
		"current_tier":         balance.CurrentTier,
		"tier_multiplier":      balance.TierMultiplier,
	}
	result := store.db.WithContext(ctx).
		Model(&Balance{}).
		Where("customer_id = ?", balance.CustomerID).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeSave, gorm.ErrRecordNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction loyalty.Transaction) error {
	model := transactionModel(transaction)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, filter loyalty.TransactionFilter) ([]loyalty.Transaction, int64, error) {
	query := store.db.WithContext(ctx).Model(&PointTransaction{})
	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind.String())
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source.String())
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []PointTransaction
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]loyalty.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, total, nil
}

func (store *Store) ListExpirableTransactions(ctx context.Context, nowUnixUTC int64, limit int) ([]loyalty.Transaction, error) {
	at := time.Unix(nowUnixUTC, 0).UTC()
	var rows []PointTransaction
	err := store.db.WithContext(ctx).
		Where("kind = ? AND expired = ? AND expires_at IS NOT NULL AND expires_at <= ?", loyalty.KindEarn.String(), false, at).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]loyalty.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) MarkTransactionExpired(ctx context.Context, transactionID string) error {
	result := store.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Where("transaction_id = ? AND expired = ?", transactionID, false).
		Update("expired", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var model PointTransaction
		err := store.db.WithContext(ctx).Take(&model, "transaction_id = ?", transactionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapStoreError(errorSubjectTransaction, errorCodeUpdate, loyalty.ErrTransactionNotFound)
		}
		if err != nil {
			return wrapStoreError(errorSubjectTransaction, errorCodeUpdate, err)
		}
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdate, loyalty.ErrTransactionExpired)
	}
	return nil
}

func (store *Store) Stats(ctx context.Context) (loyalty.Stats, error) {
	var stats loyalty.Stats
	var sum sqlSum

	err := store.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Select("coalesce(sum(points),0) as total").
		Where("points > 0").
		Scan(&sum).Error
	if err != nil {
		return loyalty.Stats{}, wrapStoreError(errorSubjectTransaction, errorCodeStats, err)
	}
	stats.PointsIssued = sum.Total

	err = store.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Select("coalesce(sum(-points),0) as total").
		Where("points < 0 AND kind <> ?", loyalty.KindExpire.String()).
		Scan(&sum).Error
	if err != nil {
		return loyalty.Stats{}, wrapStoreError(errorSubjectTransaction, errorCodeStats, err)
	}
	stats.PointsSpent = sum.Total

	err = store.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Select("coalesce(sum(-points),0) as total").
		Where("kind = ?", loyalty.KindExpire.String()).
		Scan(&sum).Error
	if err != nil {
		return loyalty.Stats{}, wrapStoreError(errorSubjectTransaction, errorCodeStats, err)
	}
	stats.PointsExpired = sum.Total

	err = store.db.WithContext(ctx).
		Model(&Balance{}).
		Select("coalesce(sum(current_balance),0) as total").
		Scan(&sum).Error
	if err != nil {
		return loyalty.Stats{}, wrapStoreError(errorSubjectBalance, errorCodeStats, err)
	}
	stats.OutstandingBalance = sum.Total

	err = store.db.WithContext(ctx).
		Model(&Redemption{}).
		Where("status = ?", loyalty.RedemptionActive.String()).
		Count(&stats.ActiveRedemptions).Error
	if err != nil {
		return loyalty.Stats{}, wrapStoreError(errorSubjectRedemption, errorCodeStats, err)
	}
	return stats, nil
}

func (store *Store) CreateReward(ctx context.Context, reward loyalty.Reward) error {
	model := rewardModel(reward)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectReward, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdateReward(ctx context.Context, reward loyalty.Reward) error {
	model := rewardModel(reward)
	updates := map[string]interface{}{
		"name":             model.Name,
		"description":      model.Description,
		"type":             model.Type,
		"points_cost":      model.PointsCost,
		"discount_percent": model.DiscountPercent,
		"discount_amount":  model.DiscountAmount,
		"service_id":       model.ServiceID,
		"product_id":       model.ProductID,
		"gift_card_value":  model.GiftCardValue,
		"available_from":   model.AvailableFrom,
		"available_until":  model.AvailableUntil,
		"max_redemptions":  model.MaxRedemptions,
		"active":           model.Active,
	}
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ?", reward.RewardID).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, loyalty.ErrRewardNotFound)
	}
	return nil
}

func (store *Store) GetReward(ctx context.Context, rewardID string) (loyalty.Reward, error) {
	var model Reward
	err := store.db.WithContext(ctx).Take(&model, "reward_id = ?", rewardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loyalty.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, loyalty.ErrRewardNotFound)
	}
	if err != nil {
		return loyalty.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, err)
	}
	reward, err := mapReward(model)
	if err != nil {
		return loyalty.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	return reward, nil
}

func (store *Store) ListRewards(ctx context.Context, filter loyalty.RewardFilter) ([]loyalty.Reward, error) {
	query := store.db.WithContext(ctx).Model(&Reward{})
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type.String())
	}
	var rows []Reward
	if err := query.Order("points_cost ASC, name ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReward, errorCodeList, err)
	}
	rewards := make([]loyalty.Reward, 0, len(rows))
	for _, row := range rows {
		reward, err := mapReward(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
		}
		rewards = append(rewards, reward)
	}
	return rewards, nil
}

// IncrementRedemptions bumps the counter only while it stays under the cap;
// the check and increment happen in one UPDATE so concurrent redeemers
// cannot oversell.
func (store *Store) IncrementRedemptions(ctx context.Context, rewardID string) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ? AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)", rewardID).
		UpdateColumn("current_redemptions", gorm.Expr("current_redemptions + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectReward, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := store.db.WithContext(ctx).Model(&Reward{}).Where("reward_id = ?", rewardID).Count(&exists).Error; err != nil {
			return wrapStoreError(errorSubjectReward, errorCodeUpdate, err)
		}
		if exists == 0 {
			return wrapStoreError(errorSubjectReward, errorCodeUpdate, loyalty.ErrRewardNotFound)
		}
		return loyalty.ErrRedemptionCapReached
	}
	return nil
}

// CreateRedemption inserts with conflict-do-nothing on the code's unique
// index, so a collision surfaces as a retryable sentinel instead of aborting
// the surrounding transaction.
func (store *Store) CreateRedemption(ctx context.Context, redemption loyalty.Redemption) error {
	model := redemptionModel(redemption)
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).
		Create(&model)
	if isUniqueViolation(result.Error) {
		return loyalty.ErrCodeCollision
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeCreate, result.Error)
	}
	if result.RowsAffected == 0 {
		return loyalty.ErrCodeCollision
	}
	return nil
}

func (store *Store) GetRedemptionByCode(ctx context.Context, code string) (loyalty.Redemption, error) {
	var model Redemption
	query := store.db.WithContext(ctx)
	if locking := store.forUpdate(); len(locking) > 0 {
		query = query.Clauses(locking...)
	}
	err := query.Take(&model, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loyalty.Redemption{}, wrapStoreError(errorSubjectRedemption, errorCodeGet, loyalty.ErrRedemptionNotFound)
	}
	if err != nil {
		return loyalty.Redemption{}, wrapStoreError(errorSubjectRedemption, errorCodeGet, err)
	}
	redemption, err := mapRedemption(model)
	if err != nil {
		return loyalty.Redemption{}, wrapStoreError(errorSubjectRedemption, errorCodeInvalid, err)
	}
	return redemption, nil
}

func (store *Store) UpdateRedemptionStatus(ctx context.Context, redemptionID string, from, to loyalty.RedemptionStatus, use *loyalty.RedemptionUse) error {
	updates := map[string]interface{}{"status": to.String()}
	if use != nil {
		usedAt := time.Unix(use.UsedAtUnixUTC, 0).UTC()
		updates["used_at"] = &usedAt
		if use.UsedAppointmentID != "" {
			updates["used_appointment_id"] = use.UsedAppointmentID
		}
		if use.ProcessedByID != "" {
			updates["processed_by_id"] = use.ProcessedByID
		}
	}
	result := store.db.WithContext(ctx).
		Model(&Redemption{}).
		Where("redemption_id = ? AND status = ?", redemptionID, from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var model Redemption
		err := store.db.WithContext(ctx).Take(&model, "redemption_id = ?", redemptionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapStoreError(errorSubjectRedemption, errorCodeUpdate, loyalty.ErrRedemptionNotFound)
		}
		if err != nil {
			return wrapStoreError(errorSubjectRedemption, errorCodeUpdate, err)
		}
		status, err := loyalty.ParseRedemptionStatus(model.Status)
		if err != nil {
			return wrapStoreError(errorSubjectRedemption, errorCodeInvalid, err)
		}
		return loyalty.RedemptionNotActiveError{Status: status}
	}
	return nil
}

func (store *Store) ListRedemptions(ctx context.Context, customerID string) ([]loyalty.Redemption, error) {
	var rows []Redemption
	err := store.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRedemption, errorCodeList, err)
	}
	redemptions := make([]loyalty.Redemption, 0, len(rows))
	for _, row := range rows {
		redemption, err := mapRedemption(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRedemption, errorCodeInvalid, err)
		}
		redemptions = append(redemptions, redemption)
	}
	return redemptions, nil
}

func (store *Store) ExpireRedemptions(ctx context.Context, nowUnixUTC int64) (int64, error) {
	at := time.Unix(nowUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Redemption{}).
		Where("status = ? AND expires_at <= ?", loyalty.RedemptionActive.String(), at).
		Update("status", loyalty.RedemptionExpired.String())
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectRedemption, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return loyalty.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

type tierJSON struct {
	Name              string  `json:"name"`
	MinLifetimePoints int64   `json:"minLifetimePoints"`
	Multiplier        float64 `json:"multiplier"`
}

func programModel(config loyalty.ProgramConfig) (Program, error) {
	tiers := make([]tierJSON, 0, len(config.Tiers))
	for _, threshold := range config.Tiers {
		tiers = append(tiers, tierJSON(threshold))
	}
	encoded, err := json.Marshal(tiers)
	if err != nil {
		return Program{}, err
	}
	return Program{
		ProgramID:           singletonProgramID,
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
		Tiers:               encoded,
		Active:              config.Active,
	}, nil
}

func mapProgram(model Program) (loyalty.ProgramConfig, error) {
	var tiers []tierJSON
	if len(model.Tiers) > 0 {
		if err := json.Unmarshal(model.Tiers, &tiers); err != nil {
			return loyalty.ProgramConfig{}, err
		}
	}
	thresholds := make([]loyalty.TierThreshold, 0, len(tiers))
	for _, tier := range tiers {
		thresholds = append(thresholds, loyalty.TierThreshold(tier))
	}
	return loyalty.ProgramConfig{
		EarnRate:            model.EarnRate,
		MinPointsPerVisit:   model.MinPointsPerVisit,
		MaxPointsPerVisit:   model.MaxPointsPerVisit,
		BirthdayBonus:       model.BirthdayBonus,
		ReferralBonus:       model.ReferralBonus,
		SignupBonus:         model.SignupBonus,
		PointValue:          model.PointValue,
		MinPointsRedemption: model.MinPointsRedemption,
		ExpirationMonths:    model.ExpirationMonths,
		TiersEnabled:        model.TiersEnabled,
		Tiers:               thresholds,
		Active:              model.Active,
	}, nil
}

func mapBalance(model Balance) loyalty.Balance {
	return loyalty.Balance{
		CustomerID:         model.CustomerID,
		CurrentBalance:     model.CurrentBalance,
		TotalEarned:        model.TotalEarned,
		TotalSpent:         model.TotalSpent,
		LifetimeTierPoints: model.LifetimeTierPoints,
		CurrentTier:        model.CurrentTier,
		TierMultiplier:     model.TierMultiplier,
	}
}

func transactionModel(transaction loyalty.Transaction) PointTransaction {
	var expiresAt *time.Time
	if transaction.ExpiresAtUnixUTC != 0 {
		value := time.Unix(transaction.ExpiresAtUnixUTC, 0).UTC()
		expiresAt = &value
	}
	createdAt := time.Unix(transaction.CreatedUnixUTC, 0).UTC()
	if transaction.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	return PointTransaction{
		TransactionID: transaction.TransactionID,
		CustomerID:    transaction.CustomerID,
		Kind:          transaction.Kind.String(),
		Source:        transaction.Source.String(),
		Points:        transaction.Points,
		BalanceAfter:  transaction.BalanceAfter,
		AppointmentID: optionalString(transaction.AppointmentID),
		RewardID:      optionalString(transaction.RewardID),
		ReferrerID:    optionalString(transaction.ReferrerID),
		Description:   transaction.Description,
		ActorID:       transaction.ActorID,
		ExpiresAt:     expiresAt,
		Expired:       transaction.Expired,
		CreatedAt:     createdAt,
	}
}

func mapTransaction(model PointTransaction) (loyalty.Transaction, error) {
	kind, err := loyalty.ParseTransactionKind(model.Kind)
	if err != nil {
		return loyalty.Transaction{}, err
	}
	source, err := loyalty.ParsePointSource(model.Source)
	if err != nil {
		return loyalty.Transaction{}, err
	}
	return loyalty.Transaction{
		TransactionID:    model.TransactionID,
		CustomerID:       model.CustomerID,
		Kind:             kind,
		Source:           source,
		Points:           model.Points,
		BalanceAfter:     model.BalanceAfter,
		AppointmentID:    stringOrEmpty(model.AppointmentID),
		RewardID:         stringOrEmpty(model.RewardID),
		ReferrerID:       stringOrEmpty(model.ReferrerID),
		Description:      model.Description,
		ActorID:          model.ActorID,
		ExpiresAtUnixUTC: timeOrZero(model.ExpiresAt),
		Expired:          model.Expired,
		CreatedUnixUTC:   model.CreatedAt.Unix(),
	}, nil
}

func rewardModel(reward loyalty.Reward) Reward {
	createdAt := time.Unix(reward.CreatedUnixUTC, 0).UTC()
	if reward.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	return Reward{
		RewardID:           reward.RewardID,
		Name:               reward.Name,
		Description:        reward.Description,
		Type:               reward.Type.String(),
		PointsCost:         reward.PointsCost,
		DiscountPercent:    reward.DiscountPercent,
		DiscountAmount:     reward.DiscountAmount,
		ServiceID:          optionalString(reward.ServiceID),
		ProductID:          optionalString(reward.ProductID),
		GiftCardValue:      reward.GiftCardValue,
		AvailableFrom:      optionalTime(reward.AvailableFromUnixUTC),
		AvailableUntil:     optionalTime(reward.AvailableUntilUnixUTC),
		MaxRedemptions:     reward.MaxRedemptions,
		CurrentRedemptions: reward.CurrentRedemptions,
		Active:             reward.Active,
		CreatedAt:          createdAt,
	}
}

func mapReward(model Reward) (loyalty.Reward, error) {
	rewardType, err := loyalty.ParseRewardType(model.Type)
	if err != nil {
		return loyalty.Reward{}, err
	}
	return loyalty.Reward{
		RewardID:              model.RewardID,
		Name:                  model.Name,
		Description:           model.Description,
		Type:                  rewardType,
		PointsCost:            model.PointsCost,
		DiscountPercent:       model.DiscountPercent,
		DiscountAmount:        model.DiscountAmount,
		ServiceID:             stringOrEmpty(model.ServiceID),
		ProductID:             stringOrEmpty(model.ProductID),
		GiftCardValue:         model.GiftCardValue,
		AvailableFromUnixUTC:  timeOrZero(model.AvailableFrom),
		AvailableUntilUnixUTC: timeOrZero(model.AvailableUntil),
		MaxRedemptions:        model.MaxRedemptions,
		CurrentRedemptions:    model.CurrentRedemptions,
		Active:                model.Active,
		CreatedUnixUTC:        model.CreatedAt.Unix(),
	}, nil
}

func redemptionModel(redemption loyalty.Redemption) Redemption {
	createdAt := time.Unix(redemption.CreatedUnixUTC, 0).UTC()
	if redemption.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	return Redemption{
		RedemptionID:      redemption.RedemptionID,
		CustomerID:        redemption.CustomerID,
		RewardID:          redemption.RewardID,
		TransactionID:     redemption.TransactionID,
		PointsSpent:       redemption.PointsSpent,
		Code:              redemption.Code,
		Status:            redemption.Status.String(),
		ExpiresAt:         time.Unix(redemption.ExpiresAtUnixUTC, 0).UTC(),
		UsedAt:            optionalTime(redemption.UsedAtUnixUTC),
		UsedAppointmentID: optionalString(redemption.UsedAppointmentID),
		ProcessedByID:     optionalString(redemption.ProcessedByID),
		CreatedAt:         createdAt,
	}
}

func mapRedemption(model Redemption) (loyalty.Redemption, error) {
	status, err := loyalty.ParseRedemptionStatus(model.Status)
	if err != nil {
		return loyalty.Redemption{}, err
	}
	return loyalty.Redemption{
		RedemptionID:      model.RedemptionID,
		CustomerID:        model.CustomerID,
		RewardID:          model.RewardID,
		TransactionID:     model.TransactionID,
		PointsSpent:       model.PointsSpent,
		Code:              model.Code,
		Status:            status,
		ExpiresAtUnixUTC:  model.ExpiresAt.Unix(),
		UsedAtUnixUTC:     timeOrZero(model.UsedAt),
		UsedAppointmentID: stringOrEmpty(model.UsedAppointmentID),
		ProcessedByID:     stringOrEmpty(model.ProcessedByID),
		CreatedUnixUTC:    model.CreatedAt.Unix(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
