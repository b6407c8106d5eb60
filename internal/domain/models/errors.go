package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller bugs and explicit business outcomes.
// A risk rejection is a decision value, never an error.
var (
	ErrValidation             = errors.New("validation error")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrDuplicateTradeRef      = errors.New("duplicate exchange trade ref")
	ErrFillExceedsOrder       = errors.New("fill exceeds requested quantity")
	ErrTerminalOrder          = errors.New("order in terminal state")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrUnknownAccount         = errors.New("unknown account")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
)

// TransientExchangeError marks a retryable exchange failure
// (network, timeout, rate limit). Retried with backoff, bounded
// attempts, then escalated to a failed order.
type TransientExchangeError struct {
	Venue string
	Err   error
}

func (e *TransientExchangeError) Error() string {
	return fmt.Sprintf("transient exchange error (%s): %v", e.Venue, e.Err)
}

func (e *TransientExchangeError) Unwrap() error { return e.Err }

// PermanentExchangeError marks a non-retryable exchange failure
// (invalid symbol, insufficient funds, order rejected). Immediately
// terminal.
type PermanentExchangeError struct {
	Venue  string
	Reason string
}

func (e *PermanentExchangeError) Error() string {
	return fmt.Sprintf("permanent exchange error (%s): %s", e.Venue, e.Reason)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientExchangeError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is a terminal exchange failure.
func IsPermanent(err error) bool {
	var p *PermanentExchangeError
	return errors.As(err, &p)
}
