package state

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation marks an event that would corrupt state if applied.
// The event is discarded and the state is left untouched.
var ErrInvariantViolation = errors.New("invariant violation")

// Violation reasons, used as metric labels.
const (
	ReasonNonPositivePrice  = "non_positive_price"
	ReasonNegativeAmount    = "negative_amount"
	ReasonNegativeBalance   = "negative_balance"
	ReasonNegativeLiquidity = "negative_liquidity"
)

// InvariantError describes a discarded event.
type InvariantError struct {
	Reason string
	Token  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s for %s: %s", ErrInvariantViolation, e.Reason, e.Token, e.Detail)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}

func violation(reason, token, format string, args ...interface{}) error {
	return &InvariantError{Reason: reason, Token: token, Detail: fmt.Sprintf(format, args...)}
}
