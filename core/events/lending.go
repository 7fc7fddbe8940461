package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendledger/core/types"
	"lendledger/crypto"
)

const (
	TypeLendingInitialized = "lending.initialized"
	TypeLendingDeposit     = "lending.deposit"
	TypeLendingBorrow      = "lending.borrow"
	TypeLendingRepay       = "lending.repay"
	TypeLendingWithdraw    = "lending.withdraw"
	TypeLendingLiquidate   = "lending.liquidate"
	TypeLendingDonate      = "lending.donate"
	// TypeLendingAccrue is emitted when an operation moved the borrow index
	// or charged interest to an account.
	TypeLendingAccrue = "lending.accrue"
)

// LendingInitialized records the one-time bootstrap.
type LendingInitialized struct {
	Caller crypto.Address
	Asset  crypto.Address
	Amount *uint256.Int
}

func (LendingInitialized) EventType() string { return TypeLendingInitialized }

func (e LendingInitialized) Event() *types.Event {
	return &types.Event{Type: TypeLendingInitialized, Attributes: map[string]string{
		"caller": e.Caller.String(),
		"asset":  formatAsset(e.Asset),
		"amount": formatAmount(e.Amount),
	}}
}

// LendingFlow covers the single-account flows: deposit, borrow, repay,
// withdraw and donate.
type LendingFlow struct {
	Kind    string
	Account crypto.Address
	Asset   crypto.Address
	Amount  *uint256.Int
	// Balance is the affected balance after the operation (supplied amount
	// for deposit/withdraw, debt for borrow/repay, reserves for donate).
	Balance *uint256.Int
}

func (e LendingFlow) EventType() string { return e.Kind }

func (e LendingFlow) Event() *types.Event {
	return &types.Event{Type: e.Kind, Attributes: map[string]string{
		"account": e.Account.String(),
		"asset":   formatAsset(e.Asset),
		"amount":  formatAmount(e.Amount),
		"balance": formatAmount(e.Balance),
	}}
}

// LendingLiquidation records a partial liquidation.
type LendingLiquidation struct {
	Liquidator crypto.Address
	Borrower   crypto.Address
	Repaid     *uint256.Int
	Seized     *uint256.Int
	// RemainingDebt is the borrower's debt after the repayment.
	RemainingDebt *uint256.Int
}

func (LendingLiquidation) EventType() string { return TypeLendingLiquidate }

func (e LendingLiquidation) Event() *types.Event {
	return &types.Event{Type: TypeLendingLiquidate, Attributes: map[string]string{
		"liquidator":    e.Liquidator.String(),
		"borrower":      e.Borrower.String(),
		"repaid":        formatAmount(e.Repaid),
		"seized":        formatAmount(e.Seized),
		"remainingDebt": formatAmount(e.RemainingDebt),
	}}
}

// LendingAccrual records an index advance and the interest charged to one
// account.
type LendingAccrual struct {
	Account     crypto.Address
	Height      uint64
	IndexDelta  *uint256.Int
	BorrowIndex *uint256.Int
	Interest    *uint256.Int
}

func (LendingAccrual) EventType() string { return TypeLendingAccrue }

func (e LendingAccrual) Event() *types.Event {
	return &types.Event{Type: TypeLendingAccrue, Attributes: map[string]string{
		"account":     e.Account.String(),
		"height":      strconv.FormatUint(e.Height, 10),
		"indexDelta":  formatAmount(e.IndexDelta),
		"borrowIndex": formatAmount(e.BorrowIndex),
		"interest":    formatAmount(e.Interest),
	}}
}
