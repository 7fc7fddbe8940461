package lending

import "github.com/holiman/uint256"

// Accrual advances the global borrow index and applies it to account debt.
type Accrual struct {
	state *GlobalState
	rate  *uint256.Int
	mode  AccrualMode
}

// NewAccrual binds an accrual engine to the supplied state.
func NewAccrual(state *GlobalState, ratePerBlock *uint256.Int, mode AccrualMode) *Accrual {
	return &Accrual{state: state, rate: cloneInt(ratePerBlock), mode: mode}
}

// AdvanceGlobalIndex adds rate*blocksElapsed to the borrow index and returns
// the index delta. In AccrualGlobal mode blocks are counted from the last
// ledger-wide advance; in AccrualPerAccount mode they are counted from the
// caller's LastBlockNumber, which starts at zero for a new account.
func (a *Accrual) AdvanceGlobalIndex(caller *UserInfo, height uint64) (*uint256.Int, error) {
	var anchor uint64
	switch a.mode {
	case AccrualPerAccount:
		anchor = caller.LastBlockNumber
	default:
		anchor = a.state.LastAccrualBlock
	}
	var elapsed uint64
	if height > anchor {
		elapsed = height - anchor
	}
	delta, err := checkedMul(a.rate, uint256.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	index, err := checkedAdd(a.state.BorrowIndex, delta)
	if err != nil {
		return nil, err
	}
	a.state.BorrowIndex = index
	if a.mode == AccrualGlobal {
		if height > a.state.LastAccrualBlock {
			a.state.LastAccrualBlock = height
		}
		caller.LastBlockNumber = height
	}
	return delta, nil
}

// AccrueAccount charges borrowed*(index-lastIndex)/1e18 to the account and
// the ledger total, then checkpoints the account at the current index. The
// division truncates, so each call may under-count by at most one unit.
func (a *Accrual) AccrueAccount(user *UserInfo) (*uint256.Int, error) {
	growth, ok := checkedSub(a.state.BorrowIndex, user.LastBorrowIndex)
	if !ok {
		growth = new(uint256.Int)
	}
	interest, err := mulDiv(user.Borrowed, growth, scale)
	if err != nil {
		return nil, err
	}
	if !interest.IsZero() {
		borrowed, err := checkedAdd(user.Borrowed, interest)
		if err != nil {
			return nil, err
		}
		total, err := checkedAdd(a.state.TotalDebt, interest)
		if err != nil {
			return nil, err
		}
		user.Borrowed = borrowed
		a.state.TotalDebt = total
	}
	user.LastBorrowIndex = new(uint256.Int).Set(a.state.BorrowIndex)
	return interest, nil
}
