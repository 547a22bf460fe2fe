package loyalty

import (
	"errors"
	"testing"
)

func TestWrapErrorFormatsSegments(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("redeem", "reward", "not_found", ErrRewardNotFound)
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "redeem" || operationError.Subject() != "reward" || operationError.Code() != "not_found" {
		test.Fatalf("unexpected segments: %v", operationError)
	}
	if wrapped.Error() != "redeem.reward.not_found: reward not found" {
		test.Fatalf("unexpected message %q", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrRewardNotFound) {
		test.Fatal("wrapped error must match its sentinel")
	}
}

func TestWrapErrorPassesNilThrough(test *testing.T) {
	test.Parallel()
	if err := WrapError("award", "balance", "save_failed", nil); err != nil {
		test.Fatalf("expected nil, got %v", err)
	}
}

func TestRedemptionNotActiveErrorCarriesStatus(test *testing.T) {
	test.Parallel()
	err := RedemptionNotActiveError{Status: RedemptionUsed}
	if !errors.Is(err, ErrRedemptionNotActive) {
		test.Fatal("expected sentinel match")
	}
	if err.Error() != "redemption not active: status used" {
		test.Fatalf("unexpected message %q", err.Error())
	}
}
