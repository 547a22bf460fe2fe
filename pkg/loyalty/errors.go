package loyalty

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the loyalty service.
var (
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrNegativeBalance           = errors.New("balance would go negative")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrRewardInactive            = errors.New("reward inactive")
	ErrBelowMinimumRedemption    = errors.New("reward below minimum redemption")
	ErrOutsideAvailabilityWindow = errors.New("reward outside availability window")
	ErrRedemptionCapReached      = errors.New("redemption cap reached")
	ErrCodeGenerationExhausted   = errors.New("redemption code generation exhausted")
	ErrCodeCollision             = errors.New("redemption code collision")
	ErrRedemptionNotActive       = errors.New("redemption not active")
	ErrProgramNotFound           = errors.New("program not found")
	ErrRewardNotFound            = errors.New("reward not found")
	ErrRedemptionNotFound        = errors.New("redemption not found")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrTransactionExpired        = errors.New("transaction already expired")
	ErrCustomerNotFound          = errors.New("customer not found")
	ErrInvalidTransactionKind    = errors.New("invalid transaction kind")
	ErrInvalidPointSource        = errors.New("invalid point source")
	ErrInvalidRewardType         = errors.New("invalid reward type")
	ErrInvalidRedemptionStatus   = errors.New("invalid redemption status")
	ErrInvalidBonusKind          = errors.New("invalid bonus kind")
	ErrInvalidCustomerID         = errors.New("invalid customer id")
	ErrInvalidTierThreshold      = errors.New("invalid tier threshold")
	ErrInvalidProgramConfig      = errors.New("invalid program config")
	ErrInvalidReward             = errors.New("invalid reward")
	ErrInvalidServiceConfig      = errors.New("invalid service config")
)

// RedemptionNotActiveError reports a use attempt on a non-active redemption.
// It carries the current status so callers can distinguish "already used"
// from "expired".
type RedemptionNotActiveError struct {
	Status RedemptionStatus
}

// Error returns the formatted error message.
func (notActive RedemptionNotActiveError) Error() string {
	return fmt.Sprintf("redemption not active: status %s", notActive.Status)
}

// Unwrap lets errors.Is match ErrRedemptionNotActive.
func (notActive RedemptionNotActiveError) Unwrap() error {
	return ErrRedemptionNotActive
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
