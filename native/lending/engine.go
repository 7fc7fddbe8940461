package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

const moduleName = "lending"

const (
	actionInitialize = "initialize"
	actionDeposit    = "deposit"
	actionBorrow     = "borrow"
	actionRepay      = "repay"
	actionWithdraw   = "withdraw"
	actionLiquidate  = "liquidate"
	actionDonate     = "donate"
)

// Collaborators groups the external services the engine calls. They are
// fixed at construction.
type Collaborators struct {
	Oracle PriceOracle
	Tokens TokenLedger
	Native NativeLedger
}

// Engine orchestrates the lending state transitions. Every entry point
// validates its input, accrues interest, checks risk, mutates the book and
// only then moves value through the ledgers. A failure at any point restores
// the state that existed before the call.
//
// Engine is not safe for concurrent use; hosts must serialise calls.
type Engine struct {
	system  crypto.Address
	params  Params
	state   *GlobalState
	book    *Book
	accrual *Accrual
	risk    *Risk

	oracle PriceOracle
	tokens TokenLedger
	native NativeLedger

	blockHeight uint64
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	sink        StateSink
}

// NewEngine constructs an engine holding funds in the system account.
func NewEngine(system crypto.Address, params Params, deps Collaborators) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Oracle == nil || deps.Tokens == nil || deps.Native == nil {
		return nil, ErrNotConfigured
	}
	e := &Engine{
		system:  system,
		params:  params,
		oracle:  deps.Oracle,
		tokens:  deps.Tokens,
		native:  deps.Native,
		emitter: events.NoopEmitter{},
	}
	e.Load(NewGlobalState(params.ReserveFactorBps), nil)
	return e, nil
}

// Load replaces the ledger state, typically with a persisted snapshot.
func (e *Engine) Load(global *GlobalState, accounts []*UserInfo) {
	if global == nil {
		global = NewGlobalState(e.params.ReserveFactorBps)
	}
	global.ensureDefaults()
	e.state = global
	e.book = NewBook()
	for _, user := range accounts {
		e.book.Put(user.Clone())
	}
	e.accrual = NewAccrual(e.state, e.params.InterestRatePerBlock, e.params.AccrualMode)
	e.risk = NewRisk(e.oracle, e.params.Token, e.params.MaxLTVBps)
}

// SetBlockHeight records the block height used for interest accrual.
func (e *Engine) SetBlockHeight(height uint64) { e.blockHeight = height }

// BlockHeight returns the height used by the next operation.
func (e *Engine) BlockHeight() uint64 { return e.blockHeight }

// SetPauses installs the module level pause switch.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetActionPauses replaces the per-action pause switches.
func (e *Engine) SetActionPauses(p ActionPauses) { e.params.Pauses = p }

// SetEmitter installs the event sink. Events are emitted only after an
// operation has fully succeeded.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetStateSink installs the persistence hook invoked before an operation
// commits.
func (e *Engine) SetStateSink(sink StateSink) { e.sink = sink }

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// SystemAddress returns the account holding ledger funds.
func (e *Engine) SystemAddress() crypto.Address { return e.system }

// Global returns a copy of the global state.
func (e *Engine) Global() *GlobalState { return e.state.Clone() }

// Account returns a copy of the stored position for addr.
func (e *Engine) Account(addr crypto.Address) (*UserInfo, bool) {
	user, ok := e.book.Get(addr)
	if !ok {
		return nil, false
	}
	return user.Clone(), true
}

// Accounts returns copies of every stored position in address order.
func (e *Engine) Accounts() []*UserInfo {
	out := make([]*UserInfo, 0, e.book.Len())
	e.book.Range(func(user *UserInfo) bool {
		out = append(out, user.Clone())
		return true
	})
	return out
}

// Position evaluates the account's risk at current prices without accruing
// interest. Unknown accounts report a zero position.
func (e *Engine) Position(addr crypto.Address) (Position, error) {
	user, ok := e.book.Get(addr)
	if !ok {
		user = newUserInfo(addr)
	}
	return e.risk.Position(user)
}

// Initialize runs the one-time bootstrap. With the native asset it seeds the
// reserves with the attached value; with the token asset it pulls a single
// bootstrap unit from the caller.
func (e *Engine) Initialize(call Call, asset crypto.Address) error {
	return e.execute(actionInitialize, func(j *opJournal) error {
		if e.state.Initialized {
			return ErrAlreadyInitialized
		}
		if err := e.requireCaller(call); err != nil {
			return err
		}
		value := call.value()
		switch {
		case asset == NativeAsset:
			if value.IsZero() {
				return ErrZeroBootstrap
			}
		case asset == e.params.Token:
			if !value.IsZero() {
				return ErrValueMismatch
			}
		default:
			return ErrUnsupportedAsset
		}
		if err := e.accrue(j, call.Caller); err != nil {
			return err
		}

		amount := new(uint256.Int).Set(tokenBootstrapAmount)
		if asset == NativeAsset {
			reserves, err := checkedAdd(e.state.TotalReserves, value)
			if err != nil {
				return err
			}
			e.state.TotalReserves = reserves
			amount.Set(value)
		}
		e.state.Initialized = true
		j.emit(events.LendingInitialized{Caller: call.Caller, Asset: asset, Amount: amount})

		if asset != NativeAsset {
			if err := e.tokens.Pull(call.Caller, e.system, tokenBootstrapAmount); err != nil {
				return transferError("pull token bootstrap unit", err)
			}
		}
		return nil
	})
}

// Deposit credits the caller's supplied balance. Native deposits must carry
// exactly amount as attached value; token deposits are pulled from the
// caller and verified against the system account's reported balance.
func (e *Engine) Deposit(call Call, asset crypto.Address, amount *uint256.Int) error {
	return e.execute(actionDeposit, func(j *opJournal) error {
		if err := e.requireCaller(call); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		value := call.value()
		switch {
		case asset == NativeAsset:
			if !value.Eq(amount) {
				return ErrValueMismatch
			}
		case asset == e.params.Token:
			if !value.IsZero() {
				return ErrValueMismatch
			}
		default:
			return ErrUnsupportedAsset
		}
		if err := e.accrue(j, call.Caller); err != nil {
			return err
		}

		user := j.account(call.Caller)
		flow := events.LendingFlow{Kind: events.TypeLendingDeposit, Account: call.Caller, Asset: asset, Amount: cloneInt(amount)}
		if asset == NativeAsset {
			supplied, err := checkedAdd(user.SuppliedNative, amount)
			if err != nil {
				return err
			}
			user.SuppliedNative = supplied
			flow.Balance = cloneInt(supplied)
			j.emit(flow)
			return nil
		}

		supplied, err := checkedAdd(user.SuppliedToken, amount)
		if err != nil {
			return err
		}
		user.SuppliedToken = supplied
		flow.Balance = cloneInt(supplied)
		j.emit(flow)

		before, err := e.tokens.BalanceOf(e.system)
		if err != nil {
			return transferError("read token balance", err)
		}
		if err := e.tokens.Pull(call.Caller, e.system, amount); err != nil {
			return transferError("pull token deposit", err)
		}
		after, err := e.tokens.BalanceOf(e.system)
		if err != nil {
			return transferError("read token balance", err)
		}
		credited, ok := checkedSub(after, before)
		if !ok || credited.Lt(amount) {
			return errBalanceNotCredited
		}
		return nil
	})
}

// Borrow lends amount tokens to the caller provided the resulting debt stays
// within the borrow capacity of the caller's collateral.
func (e *Engine) Borrow(call Call, amount *uint256.Int) error {
	return e.execute(actionBorrow, func(j *opJournal) error {
		if err := e.requireCaller(call); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if !call.value().IsZero() {
			return ErrValueMismatch
		}
		if err := e.accrue(j, call.Caller); err != nil {
			return err
		}

		user := j.account(call.Caller)
		capacity, err := e.risk.BorrowCapacity(user)
		if err != nil {
			return err
		}
		debt, err := checkedAdd(user.Borrowed, amount)
		if err != nil {
			return err
		}
		if debt.Gt(capacity) {
			return ErrInsufficientCollateral
		}
		total, err := checkedAdd(e.state.TotalDebt, amount)
		if err != nil {
			return err
		}
		user.Borrowed = debt
		user.LastBlockNumber = e.blockHeight
		e.state.TotalDebt = total
		j.emit(events.LendingFlow{Kind: events.TypeLendingBorrow, Account: call.Caller, Asset: e.params.Token, Amount: cloneInt(amount), Balance: cloneInt(debt)})

		if err := e.tokens.Push(call.Caller, amount); err != nil {
			return transferError("push borrowed tokens", err)
		}
		return nil
	})
}

// Repay reduces the caller's debt by amount, pulling the tokens in.
func (e *Engine) Repay(call Call, amount *uint256.Int) error {
	return e.execute(actionRepay, func(j *opJournal) error {
		if err := e.requireCaller(call); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if !call.value().IsZero() {
			return ErrValueMismatch
		}
		if err := e.accrue(j, call.Caller); err != nil {
			return err
		}

		user := j.account(call.Caller)
		if err := e.reduceDebt(user, amount); err != nil {
			return err
		}
		j.emit(events.LendingFlow{Kind: events.TypeLendingRepay, Account: call.Caller, Asset: e.params.Token, Amount: cloneInt(amount), Balance: cloneInt(user.Borrowed)})

		if err := e.tokens.Pull(call.Caller, e.system, amount); err != nil {
			return transferError("pull repayment", err)
		}
		return nil
	})
}

// Withdraw releases supplied funds. Native withdrawals are limited to the
// collateral not needed to cover the caller's debt; token withdrawals are
// limited by the caller's supplied tokens and the system's token balance.
func (e *Engine) Withdraw(call Call, asset crypto.Address, amount *uint256.Int) error {
	return e.execute(actionWithdraw, func(j *opJournal) error {
		if err := e.requireCaller(call); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if !call.value().IsZero() {
			return ErrValueMismatch
		}
		if asset != NativeAsset && asset != e.params.Token {
			return ErrUnsupportedAsset
		}
		if err := e.accrue(j, call.Caller); err != nil {
			return err
		}

		user := j.account(call.Caller)
		flow := events.LendingFlow{Kind: events.TypeLendingWithdraw, Account: call.Caller, Asset: asset, Amount: cloneInt(amount)}
		if asset == NativeAsset {
			withdrawable, err := e.risk.WithdrawableNative(user)
			if err != nil {
				return err
			}
			if amount.Gt(withdrawable) {
				return ErrInsufficientCollateral
			}
			remaining, _ := checkedSub(user.SuppliedNative, amount)
			user.SuppliedNative = remaining
			flow.Balance = cloneInt(remaining)
			j.emit(flow)

			if err := e.native.Send(call.Caller, amount); err != nil {
				return transferError("send native withdrawal", err)
			}
			return nil
		}

		available, err := e.tokens.BalanceOf(e.system)
		if err != nil {
			return transferError("read token balance", err)
		}
		if available.Lt(amount) {
			return ErrInsufficientLiquidity
		}
		remaining, ok := checkedSub(user.SuppliedToken, amount)
		if !ok {
			return errWithdrawExceedsSupply
		}
		user.SuppliedToken = remaining
		flow.Balance = cloneInt(remaining)
		j.emit(flow)

		if err := e.tokens.Push(call.Caller, amount); err != nil {
			return transferError("push token withdrawal", err)
		}
		return nil
	})
}

// Liquidate lets the caller repay up to the close factor of an unhealthy
// borrower's debt in exchange for the equivalent native collateral.
func (e *Engine) Liquidate(call Call, borrower crypto.Address, amount *uint256.Int) error {
	return e.execute(actionLiquidate, func(j *opJournal) error {
		if err := e.requireCaller(call); err != nil {
			return err
		}
		if borrower.IsZero() {
			return ErrInvalidAccount
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if !call.value().IsZero() {
			return ErrValueMismatch
		}
		if err := e.accrue(j, call.Caller, borrower); err != nil {
			return err
		}

		target := j.account(borrower)
		healthy, err := e.risk.IsHealthy(target)
		if err != nil {
			return err
		}
		if healthy {
			return ErrLiquidationNotAllowed
		}
		maxRepay, err := bps(target.Borrowed, e.params.CloseFactorBps)
		if err != nil {
			return err
		}
		if amount.Gt(maxRepay) {
			return ErrLiquidationCapExceeded
		}
		seize, err := e.risk.LiquidationSeizeAmount(amount)
		if err != nil {
			return err
		}
		collateral, ok := checkedSub(target.SuppliedNative, seize)
		if !ok {
			return errSeizeExceedsSupply
		}
		if err := e.reduceDebt(target, amount); err != nil {
			return err
		}
		target.SuppliedNative = collateral
		j.emit(events.LendingLiquidation{
			Liquidator:    call.Caller,
			Borrower:      borrower,
			Repaid:        cloneInt(amount),
			Seized:        cloneInt(seize),
			RemainingDebt: cloneInt(target.Borrowed),
		})

		if err := e.tokens.Pull(call.Caller, e.system, amount); err != nil {
			return transferError("pull liquidation repayment", err)
		}
		if !seize.IsZero() {
			if err := e.native.Send(call.Caller, seize); err != nil {
				return transferError("send seized collateral", err)
			}
		}
		return nil
	})
}

// Donate adds the attached native value to the reserves.
func (e *Engine) Donate(call Call) error {
	return e.execute(actionDonate, func(j *opJournal) error {
		if err := e.requireCaller(call); err != nil {
			return err
		}
		value := call.value()
		if value.IsZero() {
			return ErrInvalidAmount
		}
		if err := e.accrue(j, call.Caller); err != nil {
			return err
		}
		reserves, err := checkedAdd(e.state.TotalReserves, value)
		if err != nil {
			return err
		}
		e.state.TotalReserves = reserves
		j.emit(events.LendingFlow{Kind: events.TypeLendingDonate, Account: call.Caller, Asset: NativeAsset, Amount: cloneInt(value), Balance: cloneInt(reserves)})
		return nil
	})
}

// AccruedSupplyAmount returns the token surplus available to suppliers:
// system token balance minus total debt minus reserves.
func (e *Engine) AccruedSupplyAmount(asset crypto.Address) (*uint256.Int, error) {
	if asset != e.params.Token {
		return nil, ErrUnsupportedAsset
	}
	balance, err := e.tokens.BalanceOf(e.system)
	if err != nil {
		return nil, transferError("read token balance", err)
	}
	surplus, ok := checkedSub(balance, e.state.TotalDebt)
	if ok {
		surplus, ok = checkedSub(surplus, e.state.TotalReserves)
	}
	if !ok {
		return nil, ErrInsufficientLiquidity
	}
	return surplus, nil
}

func (e *Engine) execute(action string, fn func(*opJournal) error) error {
	if err := e.guard(action); err != nil {
		return err
	}
	j := e.begin()
	if err := fn(j); err != nil {
		j.revert()
		return err
	}
	if e.sink != nil {
		if err := e.sink.Commit(e.state.Clone(), j.touched()); err != nil {
			j.revert()
			return fmt.Errorf("lending engine: commit %s: %w", action, err)
		}
	}
	for _, evt := range j.pending {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) guard(action string) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.params.Pauses.paused(action) {
		return fmt.Errorf("%s: %w", action, nativecommon.ErrModulePaused)
	}
	return nil
}

// accrue advances the global index on behalf of the caller and brings the
// caller and every listed account up to date.
func (e *Engine) accrue(j *opJournal, caller crypto.Address, accounts ...crypto.Address) error {
	callerInfo := j.account(caller)
	delta, err := e.accrual.AdvanceGlobalIndex(callerInfo, e.blockHeight)
	if err != nil {
		return err
	}
	seen := make(map[crypto.Address]struct{}, len(accounts)+1)
	for _, addr := range append([]crypto.Address{caller}, accounts...) {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		user := j.account(addr)
		interest, err := e.accrual.AccrueAccount(user)
		if err != nil {
			return err
		}
		if delta.IsZero() && interest.IsZero() {
			continue
		}
		j.emit(events.LendingAccrual{
			Account:     addr,
			Height:      e.blockHeight,
			IndexDelta:  cloneInt(delta),
			BorrowIndex: cloneInt(e.state.BorrowIndex),
			Interest:    interest,
		})
	}
	return nil
}

func (e *Engine) reduceDebt(user *UserInfo, amount *uint256.Int) error {
	debt, ok := checkedSub(user.Borrowed, amount)
	if !ok {
		return ErrInsufficientDebt
	}
	total, ok := checkedSub(e.state.TotalDebt, amount)
	if !ok {
		return fmt.Errorf("%w: total debt below account debt", ErrArithmeticOverflow)
	}
	user.Borrowed = debt
	e.state.TotalDebt = total
	return nil
}

func (e *Engine) requireCaller(call Call) error {
	if call.Caller.IsZero() || call.Caller == e.system {
		return ErrInvalidAccount
	}
	return nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
