package lending

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the engine matches exactly one of
// these through errors.Is, except oracle failures which surface
// ErrPriceUnavailable.
var (
	ErrValidation             = errors.New("lending engine: validation failed")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrInsufficientDebt       = errors.New("lending engine: amount exceeds outstanding debt")
	ErrLiquidationNotAllowed  = errors.New("lending engine: borrower not eligible for liquidation")
	ErrLiquidationCapExceeded = errors.New("lending engine: liquidation exceeds close factor")
	ErrExternalTransfer       = errors.New("lending engine: external transfer failed")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrPriceUnavailable       = errors.New("lending engine: oracle price unavailable")
)

var (
	ErrUnsupportedAsset   = fmt.Errorf("%w: unsupported asset", ErrValidation)
	ErrValueMismatch      = fmt.Errorf("%w: attached value does not match amount", ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidAccount     = fmt.Errorf("%w: account must be set", ErrValidation)
	ErrZeroBootstrap      = fmt.Errorf("%w: bootstrap value must be positive", ErrValidation)
	ErrAlreadyInitialized = fmt.Errorf("%w: ledger already initialised", ErrValidation)
	ErrArithmeticOverflow = fmt.Errorf("%w: arithmetic overflow", ErrValidation)
	ErrDivisionByZero     = fmt.Errorf("%w: division by zero", ErrValidation)
	ErrNotConfigured      = fmt.Errorf("%w: engine collaborators not configured", ErrValidation)

	errWithdrawExceedsSupply = fmt.Errorf("%w: withdrawal exceeds supplied balance", ErrInsufficientCollateral)
	errSeizeExceedsSupply    = fmt.Errorf("%w: seized amount exceeds borrower collateral", ErrInsufficientCollateral)
	errBalanceNotCredited    = fmt.Errorf("%w: ledger balance did not increase by the deposited amount", ErrExternalTransfer)
)

func transferError(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalTransfer, op, cause)
}

// Kind returns the taxonomy sentinel matched by err, or nil for errors that
// did not originate in the engine.
func Kind(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrInsufficientCollateral,
		ErrInsufficientDebt,
		ErrLiquidationNotAllowed,
		ErrLiquidationCapExceeded,
		ErrExternalTransfer,
		ErrInsufficientLiquidity,
		ErrPriceUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
