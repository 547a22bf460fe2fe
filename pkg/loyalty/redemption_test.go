package loyalty

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func seedReward(store *stubStore, reward Reward) Reward {
	if reward.RewardID == "" {
		reward.RewardID = "reward-" + strings.ToLower(strings.ReplaceAll(reward.Name, " ", "-"))
	}
	reward.Active = true
	store.addReward(reward)
	return reward
}

func mustAward(test *testing.T, service *Service, customerID string, points int64) {
	test.Helper()
	if _, err := service.Award(context.Background(), customerID, points, SourceAppointment, AwardMeta{}); err != nil {
		test.Fatalf("seed award: %v", err)
	}
}

func TestRedeemDebitsBalanceAndIssuesCode(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{Name: "Free Blowout", Type: RewardFreeService, PointsCost: 30})
	mustAward(test, service, "customer-1", 50)

	redemption, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "staff-1")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if redemption.Status != RedemptionActive || redemption.PointsSpent != 30 {
		test.Fatalf("unexpected redemption %+v", redemption)
	}
	if !strings.HasPrefix(redemption.Code, "VIP-") || len(redemption.Code) != len("VIP-")+8 {
		test.Fatalf("unexpected code format %q", redemption.Code)
	}
	for _, character := range redemption.Code[len("VIP-"):] {
		if !strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", character) {
			test.Fatalf("code %q contains ambiguous character %q", redemption.Code, character)
		}
	}

	balance := store.mustBalance(test, "customer-1")
	if balance.CurrentBalance != 20 {
		test.Fatalf("expected balance 20 after redeeming 30 of 50, got %d", balance.CurrentBalance)
	}
	if counter := store.mustReward(test, reward.RewardID).CurrentRedemptions; counter != 1 {
		test.Fatalf("expected redemption counter 1, got %d", counter)
	}
	if redemption.TransactionID == "" {
		test.Fatal("redemption must reference its spend transaction")
	}
	if count := store.transactionCount(KindSpend); count != 1 {
		test.Fatalf("expected one spend transaction, got %d", count)
	}
	if redemption.ExpiresAtUnixUTC <= testStartUnixUTC {
		test.Fatalf("expected a redemption expiry in the future, got %d", redemption.ExpiresAtUnixUTC)
	}
}

func TestRedeemUnknownReward(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	if _, err := service.Redeem(context.Background(), "customer-1", "missing", ""); !errors.Is(err, ErrRewardNotFound) {
		test.Fatalf("expected ErrRewardNotFound, got %v", err)
	}
}

func TestRedeemInactiveRewardWinsOverOtherFailures(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := Reward{RewardID: "reward-1", Name: "Retired", Type: RewardDiscount, PointsCost: 500, Active: false}
	store.addReward(reward)

	// The customer also lacks the balance; inactivity is reported first.
	if _, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, ""); !errors.Is(err, ErrRewardInactive) {
		test.Fatalf("expected ErrRewardInactive, got %v", err)
	}
}

func TestRedeemBelowProgramMinimum(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	config := DefaultProgramConfig()
	config.MinPointsRedemption = 50
	store.setProgram(config)
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{Name: "Cheap Treat", Type: RewardFreeProduct, PointsCost: 30})
	mustAward(test, service, "customer-1", 100)

	if _, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, ""); !errors.Is(err, ErrBelowMinimumRedemption) {
		test.Fatalf("expected ErrBelowMinimumRedemption, got %v", err)
	}
}

func TestRedeemOutsideAvailabilityWindow(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	mustAward(test, service, "customer-1", 100)

	future := seedReward(store, Reward{
		Name: "Not Yet", Type: RewardDiscount, PointsCost: 10,
		AvailableFromUnixUTC: testStartUnixUTC + 3600,
	})
	past := seedReward(store, Reward{
		Name: "Too Late", Type: RewardDiscount, PointsCost: 10,
		AvailableUntilUnixUTC: testStartUnixUTC - 3600,
	})
	for _, reward := range []Reward{future, past} {
		if _, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, ""); !errors.Is(err, ErrOutsideAvailabilityWindow) {
			test.Fatalf("%s: expected ErrOutsideAvailabilityWindow, got %v", reward.Name, err)
		}
	}
}

func TestRedeemCapReached(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{
		Name: "Limited", Type: RewardDiscount, PointsCost: 10,
		MaxRedemptions: int64Ptr(2), CurrentRedemptions: 2,
	})
	mustAward(test, service, "customer-1", 100)

	if _, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, ""); !errors.Is(err, ErrRedemptionCapReached) {
		test.Fatalf("expected ErrRedemptionCapReached, got %v", err)
	}
}

func TestRedeemInsufficientBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{Name: "Spa Day", Type: RewardFreeService, PointsCost: 200})
	mustAward(test, service, "customer-1", 50)

	if _, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, ""); !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if balance := store.mustBalance(test, "customer-1"); balance.CurrentBalance != 50 {
		test.Fatalf("failed redeem changed balance: %+v", balance)
	}
}

func TestRedeemRetriesOnCodeCollision(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.collideCreates = 3
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{Name: "Polish", Type: RewardFreeProduct, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	redemption, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem after collisions: %v", err)
	}
	if redemption.Code == "" {
		test.Fatal("expected a code after collision retries")
	}
}

func TestRedeemExhaustsCodeAttemptsAndRollsBack(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.collideCreates = 100
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{Name: "Polish", Type: RewardFreeProduct, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	if _, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, ""); !errors.Is(err, ErrCodeGenerationExhausted) {
		test.Fatalf("expected ErrCodeGenerationExhausted, got %v", err)
	}
	if balance := store.mustBalance(test, "customer-1"); balance.CurrentBalance != 50 {
		test.Fatalf("failed redeem must roll back balance, got %+v", balance)
	}
	if counter := store.mustReward(test, reward.RewardID).CurrentRedemptions; counter != 0 {
		test.Fatalf("failed redeem must roll back counter, got %d", counter)
	}
	if count := store.transactionCount(KindSpend); count != 0 {
		test.Fatalf("failed redeem must roll back spend, got %d transactions", count)
	}
}

func TestConcurrentRedeemsRespectCap(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{
		Name: "Last One", Type: RewardGiftCardValue, PointsCost: 10,
		MaxRedemptions: int64Ptr(1), GiftCardValue: 25,
	})
	mustAward(test, service, "customer-1", 50)
	mustAward(test, service, "customer-2", 50)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, customerID := range []string{"customer-1", "customer-2"} {
		wg.Add(1)
		go func(customerID string) {
			defer wg.Done()
			_, err := service.Redeem(context.Background(), customerID, reward.RewardID, "")
			results <- err
		}(customerID)
	}
	wg.Wait()
	close(results)

	var successes, capFailures int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRedemptionCapReached):
			capFailures++
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || capFailures != 1 {
		test.Fatalf("expected one success and one cap failure, got %d/%d", successes, capFailures)
	}
	if counter := store.mustReward(test, reward.RewardID).CurrentRedemptions; counter != 1 {
		test.Fatalf("expected counter 1, got %d", counter)
	}
}

func TestUseRedemptionMarksUsed(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newTestClock(testStartUnixUTC)
	service := mustNewService(test, store, clock)
	reward := seedReward(store, Reward{Name: "Blowout", Type: RewardFreeService, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	issued, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	clock.Advance(3600)
	used, err := service.UseRedemption(context.Background(), issued.Code, "appt-5", "staff-2")
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	if used.Status != RedemptionUsed || used.UsedAtUnixUTC != clock.Now() {
		test.Fatalf("unexpected used redemption %+v", used)
	}
	if used.UsedAppointmentID != "appt-5" || used.ProcessedByID != "staff-2" {
		test.Fatalf("use context not recorded: %+v", used)
	}
	stored := store.mustRedemption(test, issued.RedemptionID)
	if stored.Status != RedemptionUsed {
		test.Fatalf("stored status not flipped: %+v", stored)
	}
}

func TestUseRedemptionTwiceReportsUsedStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, newTestClock(testStartUnixUTC))
	reward := seedReward(store, Reward{Name: "Blowout", Type: RewardFreeService, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	issued, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if _, err := service.UseRedemption(context.Background(), issued.Code, "", ""); err != nil {
		test.Fatalf("first use: %v", err)
	}
	_, err = service.UseRedemption(context.Background(), issued.Code, "", "")
	var notActive RedemptionNotActiveError
	if !errors.As(err, &notActive) {
		test.Fatalf("expected RedemptionNotActiveError, got %v", err)
	}
	if notActive.Status != RedemptionUsed {
		test.Fatalf("expected status used, got %q", notActive.Status)
	}
	if !errors.Is(err, ErrRedemptionNotActive) {
		test.Fatalf("expected sentinel match, got %v", err)
	}
}

func TestUseRedemptionLazilyExpiresPastTTL(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newTestClock(testStartUnixUTC)
	service := mustNewService(test, store, clock)
	reward := seedReward(store, Reward{Name: "Blowout", Type: RewardFreeService, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	issued, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	clock.Set(issued.ExpiresAtUnixUTC + 1)

	_, err = service.UseRedemption(context.Background(), issued.Code, "", "")
	var notActive RedemptionNotActiveError
	if !errors.As(err, &notActive) || notActive.Status != RedemptionExpired {
		test.Fatalf("expected expired status, got %v", err)
	}
	if stored := store.mustRedemption(test, issued.RedemptionID); stored.Status != RedemptionExpired {
		test.Fatalf("lazy expiry must persist, got %+v", stored)
	}
}

func TestUseRedemptionUnknownCode(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(), newTestClock(testStartUnixUTC))
	if _, err := service.UseRedemption(context.Background(), "VIP-UNKNOWN1", "", ""); !errors.Is(err, ErrRedemptionNotFound) {
		test.Fatalf("expected ErrRedemptionNotFound, got %v", err)
	}
}

func TestExpireRedemptionsBulk(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newTestClock(testStartUnixUTC)
	service := mustNewService(test, store, clock)
	reward := seedReward(store, Reward{Name: "Blowout", Type: RewardFreeService, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	first, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	clock.Advance(3600)
	second, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}

	clock.Set(first.ExpiresAtUnixUTC + 1)
	expired, err := service.ExpireRedemptions(context.Background())
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		test.Fatalf("expected one expiry, got %d", expired)
	}
	if stored := store.mustRedemption(test, first.RedemptionID); stored.Status != RedemptionExpired {
		test.Fatalf("first redemption not expired: %+v", stored)
	}
	if stored := store.mustRedemption(test, second.RedemptionID); stored.Status != RedemptionActive {
		test.Fatalf("second redemption should stay active: %+v", stored)
	}
}

func TestListRedemptionsNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newTestClock(testStartUnixUTC)
	service := mustNewService(test, store, clock)
	reward := seedReward(store, Reward{Name: "Blowout", Type: RewardFreeService, PointsCost: 10})
	mustAward(test, service, "customer-1", 50)

	first, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	clock.Advance(3600)
	second, err := service.Redeem(context.Background(), "customer-1", reward.RewardID, "")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}

	redemptions, err := service.ListRedemptions(context.Background(), "customer-1")
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(redemptions) != 2 {
		test.Fatalf("expected two redemptions, got %d", len(redemptions))
	}
	if redemptions[0].RedemptionID != second.RedemptionID || redemptions[1].RedemptionID != first.RedemptionID {
		test.Fatal("expected newest first ordering")
	}
}
