package lending

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// NativeAsset is the sentinel identity of the native value asset. Token assets
// are identified by their non-zero ledger address.
var NativeAsset = crypto.Address{}

// GlobalState captures the process-wide accounting state of the ledger. A
// single instance is owned by an Engine; amounts are fixed width unsigned
// integers in the smallest unit of their asset.
type GlobalState struct {
	// TotalReserves is the native value held outside any account's
	// collateral (bootstrap seed and donations).
	TotalReserves *uint256.Int
	// TotalDebt is the sum of every account's outstanding token debt.
	TotalDebt *uint256.Int
	// ReserveFactorBps is recorded for fee routing and not applied by any
	// operation.
	ReserveFactorBps uint64
	// BorrowIndex is the cumulative interest accumulator scaled by 1e18.
	BorrowIndex *uint256.Int
	// LastAccrualBlock is the block height of the most recent global index
	// advance.
	LastAccrualBlock uint64
	// Initialized flips once the one-time bootstrap has run.
	Initialized bool
}

// NewGlobalState returns a zeroed state whose borrow index starts at 1.0.
func NewGlobalState(reserveFactorBps uint64) *GlobalState {
	return &GlobalState{
		TotalReserves:    new(uint256.Int),
		TotalDebt:        new(uint256.Int),
		ReserveFactorBps: reserveFactorBps,
		BorrowIndex:      new(uint256.Int).Set(scale),
	}
}

// Clone returns a deep copy of the global state.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	return &GlobalState{
		TotalReserves:    cloneInt(g.TotalReserves),
		TotalDebt:        cloneInt(g.TotalDebt),
		ReserveFactorBps: g.ReserveFactorBps,
		BorrowIndex:      cloneInt(g.BorrowIndex),
		LastAccrualBlock: g.LastAccrualBlock,
		Initialized:      g.Initialized,
	}
}

func (g *GlobalState) ensureDefaults() {
	if g.TotalReserves == nil {
		g.TotalReserves = new(uint256.Int)
	}
	if g.TotalDebt == nil {
		g.TotalDebt = new(uint256.Int)
	}
	if g.BorrowIndex == nil || g.BorrowIndex.IsZero() {
		g.BorrowIndex = new(uint256.Int).Set(scale)
	}
}

// UserInfo is the lending position of a single account. Native and token
// deposits are tracked separately because they are priced independently.
type UserInfo struct {
	Address crypto.Address
	// SuppliedNative is the native collateral backing the account's debt.
	SuppliedNative *uint256.Int
	// SuppliedToken is the token liquidity deposited by the account.
	SuppliedToken *uint256.Int
	// Borrowed is the outstanding token debt including accrued interest.
	Borrowed *uint256.Int
	// LastBorrowIndex is the borrow index at the account's last accrual.
	LastBorrowIndex *uint256.Int
	// LastBlockNumber is the block height at which the account last
	// triggered a global index advance.
	LastBlockNumber uint64
}

func newUserInfo(addr crypto.Address) *UserInfo {
	return &UserInfo{
		Address:         addr,
		SuppliedNative:  new(uint256.Int),
		SuppliedToken:   new(uint256.Int),
		Borrowed:        new(uint256.Int),
		LastBorrowIndex: new(uint256.Int),
	}
}

// Clone returns a deep copy of the account.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	return &UserInfo{
		Address:         u.Address,
		SuppliedNative:  cloneInt(u.SuppliedNative),
		SuppliedToken:   cloneInt(u.SuppliedToken),
		Borrowed:        cloneInt(u.Borrowed),
		LastBorrowIndex: cloneInt(u.LastBorrowIndex),
		LastBlockNumber: u.LastBlockNumber,
	}
}

// IsActive reports whether the account holds any balance or debt.
func (u *UserInfo) IsActive() bool {
	if u == nil {
		return false
	}
	return !u.SuppliedNative.IsZero() || !u.SuppliedToken.IsZero() || !u.Borrowed.IsZero()
}

func (u *UserInfo) ensureDefaults() {
	if u.SuppliedNative == nil {
		u.SuppliedNative = new(uint256.Int)
	}
	if u.SuppliedToken == nil {
		u.SuppliedToken = new(uint256.Int)
	}
	if u.Borrowed == nil {
		u.Borrowed = new(uint256.Int)
	}
	if u.LastBorrowIndex == nil {
		u.LastBorrowIndex = new(uint256.Int)
	}
}

// Call carries the already-authenticated caller of an operation and the
// native value attached to it. The host environment is responsible for having
// moved Value into the system account before the operation runs.
type Call struct {
	Caller crypto.Address
	Value  *uint256.Int
}

func (c Call) value() *uint256.Int {
	if c.Value == nil {
		return new(uint256.Int)
	}
	return c.Value
}

// Position summarises an account's risk state at current oracle prices.
type Position struct {
	Account         *UserInfo    `json:"account"`
	CollateralValue *uint256.Int `json:"collateralValue"`
	BorrowCapacity  *uint256.Int `json:"borrowCapacity"`
	Withdrawable    *uint256.Int `json:"withdrawableNative"`
	Healthy         bool         `json:"healthy"`
	// HealthFactorBps is capacity/debt in basis points; nil when the account
	// carries no debt.
	HealthFactorBps *uint256.Int `json:"healthFactorBps,omitempty"`
}
