package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrLockHeld                = errors.New("lock already held")
	ErrInsufficientData        = errors.New("insufficient data")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrStaleStatus             = errors.New("position status changed concurrently")
	ErrNoSignal                = errors.New("strategy produced no signal")
	ErrUnknownStrategy         = errors.New("unknown strategy")
	ErrNoValidCombination      = errors.New("no valid parameter combination")
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
	ErrUnsupported             = errors.New("unsupported by broker")
)

// Invariant rules. Each is wrapped in an InvariantError carrying the ticker.
var (
	ErrDispatchedPositionAlreadyExists       = errors.New("dispatched position already exists")
	ErrNeitherOpenNorOptimizedPositionExists = errors.New("neither open nor optimized position exists")
	ErrOpenPositionAlreadyExists             = errors.New("open position already exists")
	ErrOpenPositionDoesNotExist              = errors.New("open position does not exist")
	ErrDispatchedPositionDoesNotExist        = errors.New("dispatched position does not exist")
	ErrActivePositionExists                  = errors.New("more than one active position")
)

// InvariantError reports a lifecycle invariant violation for a ticker. It is
// fatal to the current cycle.
type InvariantError struct {
	Rule   error
	Ticker string
	Status PositionStatus
}

// NewInvariantError builds an InvariantError for rule on ticker.
func NewInvariantError(rule error, ticker string, status PositionStatus) *InvariantError {
	return &InvariantError{Rule: rule, Ticker: ticker, Status: status}
}

func (e *InvariantError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s for %s", e.Rule, e.Ticker)
	}
	return fmt.Sprintf("%s for %s (status %s)", e.Rule, e.Ticker, e.Status)
}

func (e *InvariantError) Unwrap() error { return e.Rule }

// IsInvariant reports whether err carries an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
