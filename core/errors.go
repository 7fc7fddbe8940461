package core

import (
	"errors"

	nativecommon "lendledger/native/common"
	"lendledger/native/lending"
)

// Error codes reported to clients, metrics and the operation journal.
const (
	CodeValidation             = "validation"
	CodeInsufficientCollateral = "insufficient_collateral"
	CodeInsufficientDebt       = "insufficient_debt"
	CodeLiquidationNotAllowed  = "liquidation_not_allowed"
	CodeLiquidationCapExceeded = "liquidation_cap_exceeded"
	CodeExternalTransfer       = "external_transfer"
	CodeInsufficientLiquidity  = "insufficient_liquidity"
	CodePriceUnavailable       = "price_unavailable"
	CodePaused                 = "paused"
	CodeInternal               = "internal"
)

var kindCodes = map[error]string{
	lending.ErrValidation:             CodeValidation,
	lending.ErrInsufficientCollateral: CodeInsufficientCollateral,
	lending.ErrInsufficientDebt:       CodeInsufficientDebt,
	lending.ErrLiquidationNotAllowed:  CodeLiquidationNotAllowed,
	lending.ErrLiquidationCapExceeded: CodeLiquidationCapExceeded,
	lending.ErrExternalTransfer:       CodeExternalTransfer,
	lending.ErrInsufficientLiquidity:  CodeInsufficientLiquidity,
	lending.ErrPriceUnavailable:       CodePriceUnavailable,
}

// ErrorCode maps err onto a stable machine-readable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return CodePaused
	}
	if kind := lending.Kind(err); kind != nil {
		return kindCodes[kind]
	}
	return CodeInternal
}
