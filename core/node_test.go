package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	ledgerstate "lendledger/core/state"
	"lendledger/crypto"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/native/oracle"
	"lendledger/storage"
)

var (
	testSystem = nodeAddr(0x01)
	testToken  = nodeAddr(0xee)
	testAlice  = nodeAddr(0xa1)
	testBob    = nodeAddr(0xb0)
)

func nodeAddr(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = 0x20
	addr[crypto.AddressLength-1] = b
	return addr
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

type nodeHarness struct {
	node    *Node
	bank    *bank.Bank
	feed    *oracle.Feed
	clock   *ManualClock
	emitted *events.Recorder
}

func newHarness(t *testing.T, db storage.Database, journal *ledgerstate.OperationLog) *nodeHarness {
	t.Helper()
	clock := NewManualClock(1)
	feed := oracle.NewFeed(0, clock)
	if err := feed.Seed(map[crypto.Address]*uint256.Int{
		lending.NativeAsset: lending.Scale(),
		testToken:           lending.Scale(),
	}, 1); err != nil {
		t.Fatalf("seed prices: %v", err)
	}
	ledger := bank.New(testSystem)
	recorder := &events.Recorder{}
	node, err := NewNode(Options{
		Params:  lending.DefaultParams(testToken),
		Bank:    ledger,
		Oracle:  feed,
		Clock:   clock,
		DB:      db,
		Journal: journal,
		Emitter: recorder,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return &nodeHarness{node: node, bank: ledger, feed: feed, clock: clock, emitted: recorder}
}

func (h *nodeHarness) balance(t *testing.T, denom bank.Denom, addr crypto.Address) uint64 {
	t.Helper()
	v, err := h.bank.Balance(denom, addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v.Uint64()
}

// bootstrap funds the ledger with tokens and gives alice a 1000 native
// collateral position.
func (h *nodeHarness) bootstrap(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.node.Mint(bank.Token, testSystem, amt(10_000)); err != nil {
		t.Fatalf("mint tokens: %v", err)
	}
	if err := h.node.Mint(bank.Native, testAlice, amt(1_100)); err != nil {
		t.Fatalf("mint native: %v", err)
	}
	if _, err := h.node.Initialize(ctx, lending.Call{Caller: testAlice, Value: amt(100)}, lending.NativeAsset); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := h.node.Deposit(ctx, lending.Call{Caller: testAlice, Value: amt(1_000)}, lending.NativeAsset, amt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestNewNodeValidatesOptions(t *testing.T) {
	if _, err := NewNode(Options{Oracle: oracle.NewFeed(0, nil)}); err == nil {
		t.Fatalf("expected missing bank to fail")
	}
	if _, err := NewNode(Options{Bank: bank.New(testSystem)}); err == nil {
		t.Fatalf("expected missing oracle to fail")
	}
	_, err := NewNode(Options{
		System: testBob,
		Params: lending.DefaultParams(testToken),
		Bank:   bank.New(testSystem),
		Oracle: oracle.NewFeed(0, nil),
	})
	if err == nil {
		t.Fatalf("expected mismatched system account to fail")
	}
}

func TestNodeEscrowsAttachedValue(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.bootstrap(t)

	if got := h.balance(t, bank.Native, testAlice); got != 0 {
		t.Fatalf("expected alice native to be escrowed, got %d", got)
	}
	if got := h.balance(t, bank.Native, testSystem); got != 1_100 {
		t.Fatalf("expected system to hold 1100 native, got %d", got)
	}
	market, err := h.node.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if market.Global.TotalReserves.Uint64() != 100 || !market.Global.Initialized {
		t.Fatalf("unexpected global %+v", market.Global)
	}
	if market.SystemNative.Uint64() != 1_100 || market.Accounts != 1 {
		t.Fatalf("unexpected market %+v", market)
	}
}

func TestNodeRejectedOperationRefundsEscrow(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.bootstrap(t)
	if err := h.node.Mint(bank.Native, testBob, amt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := h.node.Deposit(context.Background(), lending.Call{Caller: testBob, Value: amt(500)}, lending.NativeAsset, amt(400))
	if !errors.Is(err, lending.ErrValueMismatch) {
		t.Fatalf("expected value mismatch, got %v", err)
	}
	if got := h.balance(t, bank.Native, testBob); got != 500 {
		t.Fatalf("expected escrow refund, bob holds %d", got)
	}
	if got := h.balance(t, bank.Native, testSystem); got != 1_100 {
		t.Fatalf("system balance changed to %d", got)
	}

	_, err = h.node.Donate(context.Background(), lending.Call{Caller: testBob, Value: amt(501)})
	if !errors.Is(err, lending.ErrExternalTransfer) {
		t.Fatalf("expected escrow failure, got %v", err)
	}
	if got := h.balance(t, bank.Native, testBob); got != 500 {
		t.Fatalf("bob balance changed to %d", got)
	}
}

func TestNodeBorrowRepayFlow(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.bootstrap(t)
	ctx := context.Background()

	receipt, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(750))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if receipt.OperationID == "" || receipt.Action != "borrow" || receipt.Height != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	last := receipt.Events[len(receipt.Events)-1]
	if last.Type != events.TypeLendingBorrow || last.Attr("amount") != "750" {
		t.Fatalf("unexpected borrow event %+v", last)
	}
	if last.OperationID != receipt.OperationID || last.Height != 1 {
		t.Fatalf("event not stamped: %+v", last)
	}
	if got := h.balance(t, bank.Token, testAlice); got != 750 {
		t.Fatalf("expected 750 borrowed tokens, got %d", got)
	}

	if _, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(1)); !errors.Is(err, lending.ErrInsufficientCollateral) {
		t.Fatalf("expected capacity failure, got %v", err)
	}

	// Repay pulls through the allowance.
	if _, err := h.node.Repay(ctx, lending.Call{Caller: testAlice}, amt(250)); !errors.Is(err, lending.ErrExternalTransfer) {
		t.Fatalf("expected repay without allowance to fail, got %v", err)
	}
	if err := h.node.Approve(testAlice, amt(250)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.node.Repay(ctx, lending.Call{Caller: testAlice}, amt(250)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	acct, ok := h.node.engine.Account(testAlice)
	if !ok || acct.Borrowed.Uint64() != 500 {
		t.Fatalf("unexpected account %+v", acct)
	}
	_, _, allowance, err := h.node.Balances(testAlice)
	if err != nil || !allowance.IsZero() {
		t.Fatalf("expected consumed allowance, got %v err=%v", allowance, err)
	}
}

func TestNodeForwardsStampedEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.bootstrap(t)

	got := h.emitted.Events()
	if len(got) == 0 {
		t.Fatalf("expected forwarded events")
	}
	for _, evt := range got {
		flat := evt.Event()
		if flat.OperationID == "" || flat.Height != 1 {
			t.Fatalf("event %s missing stamp: %+v", evt.EventType(), flat)
		}
		stamped, ok := evt.(stampedEvent)
		if !ok {
			t.Fatalf("unexpected event wrapper %T", evt)
		}
		if stamped.Unwrap().EventType() != evt.EventType() {
			t.Fatalf("wrapped type mismatch")
		}
	}
	types := h.emitted.Types()
	if types[len(types)-1] != events.TypeLendingDeposit {
		t.Fatalf("unexpected event order %v", types)
	}
}

func TestNodeInterestAccruesWithClock(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.bootstrap(t)
	ctx := context.Background()
	if _, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	height, err := h.node.AdvanceBlocks(2)
	if err != nil || height != 3 {
		t.Fatalf("advance: height=%d err=%v", height, err)
	}
	// Two blocks at 0.1% per block lift the debt to 501 before the new borrow.
	if _, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(1)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	acct, _ := h.node.engine.Account(testAlice)
	if acct.Borrowed.Uint64() != 502 || acct.LastBlockNumber != 3 {
		t.Fatalf("unexpected account %+v", acct)
	}
	market, err := h.node.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if market.Global.LastAccrualBlock != 3 || market.Height != 3 {
		t.Fatalf("unexpected market %+v", market)
	}
}

func TestNodePauses(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.bootstrap(t)
	ctx := context.Background()

	h.node.SetModulePaused(true)
	_, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(1))
	if ErrorCode(err) != CodePaused {
		t.Fatalf("expected paused, got %v", err)
	}
	h.node.SetModulePaused(false)

	h.node.SetActionPauses(lending.ActionPauses{Borrow: true})
	if _, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(1)); ErrorCode(err) != CodePaused {
		t.Fatalf("expected borrow pause, got %v", err)
	}
	if _, err := h.node.Withdraw(ctx, lending.Call{Caller: testAlice}, lending.NativeAsset, amt(1)); err != nil {
		t.Fatalf("withdraw should not be paused: %v", err)
	}
}

func TestNodeAdvanceRequiresManualClock(t *testing.T) {
	node, err := NewNode(Options{
		Params: lending.DefaultParams(testToken),
		Bank:   bank.New(testSystem),
		Oracle: oracle.NewFeed(0, nil),
		Clock:  fixedHeight(9),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if _, err := node.AdvanceBlocks(1); !errors.Is(err, ErrClockNotManual) {
		t.Fatalf("expected ErrClockNotManual, got %v", err)
	}
	if node.Height() != 9 {
		t.Fatalf("unexpected height %d", node.Height())
	}
}

type fixedHeight uint64

func (h fixedHeight) Height() uint64 { return uint64(h) }

func TestNodeRestoresPersistedState(t *testing.T) {
	db := storage.NewMemDB()
	h := newHarness(t, db, nil)
	h.bootstrap(t)
	if _, err := h.node.Borrow(context.Background(), lending.Call{Caller: testAlice}, amt(600)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	before, err := h.node.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if before.StateDigest == "" {
		t.Fatalf("expected state digest with persistence enabled")
	}

	restored := newHarness(t, db, nil)
	after, err := restored.node.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if !after.Global.TotalDebt.Eq(amt(600)) || !after.Global.Initialized || after.StateDigest != before.StateDigest {
		t.Fatalf("unexpected restored market %+v", after)
	}
	native, token, _, err := restored.node.Balances(testAlice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !native.IsZero() || token.Uint64() != 600 {
		t.Fatalf("unexpected restored balances native=%s token=%s", native, token)
	}
	if got := restored.balance(t, bank.Token, testSystem); got != 9_400 {
		t.Fatalf("unexpected restored system tokens %d", got)
	}
	// The restored ledger continues from the persisted position.
	if _, err := restored.node.Borrow(context.Background(), lending.Call{Caller: testAlice}, amt(151)); !errors.Is(err, lending.ErrInsufficientCollateral) {
		t.Fatalf("expected capacity to be enforced after restore, got %v", err)
	}
}

func TestNodeJournalsOutcomes(t *testing.T) {
	journal, err := ledgerstate.OpenOperationLog("sqlite", filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	h := newHarness(t, nil, journal)
	h.bootstrap(t)
	ctx := context.Background()
	receipt, err := h.node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(10))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.node.Liquidate(ctx, lending.Call{Caller: testBob}, testAlice, amt(1)); !errors.Is(err, lending.ErrLiquidationNotAllowed) {
		t.Fatalf("expected healthy borrower to be protected, got %v", err)
	}

	committed, err := journal.Count(ctx, ledgerstate.OutcomeCommitted)
	if err != nil || committed != 3 {
		t.Fatalf("expected 3 committed records, got %d err=%v", committed, err)
	}
	rejected, err := journal.Count(ctx, ledgerstate.OutcomeRejected)
	if err != nil || rejected != 1 {
		t.Fatalf("expected 1 rejected record, got %d err=%v", rejected, err)
	}
	rec, err := journal.Get(ctx, receipt.OperationID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Action != "borrow" || rec.Amount != "10" || rec.Caller != testAlice.String() {
		t.Fatalf("unexpected record %+v", rec)
	}
	history, err := journal.ListByAccount(ctx, testAlice.String(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected alice to appear in 4 records, got %d", len(history))
	}
	for _, r := range history {
		if r.Outcome == ledgerstate.OutcomeRejected && r.ErrorKind != CodeLiquidationNotAllowed {
			t.Fatalf("unexpected rejection kind %q", r.ErrorKind)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		nil:                               "",
		lending.ErrInvalidAmount:          CodeValidation,
		lending.ErrInsufficientCollateral: CodeInsufficientCollateral,
		lending.ErrInsufficientDebt:       CodeInsufficientDebt,
		lending.ErrLiquidationCapExceeded: CodeLiquidationCapExceeded,
		lending.ErrPriceUnavailable:       CodePriceUnavailable,
		lending.ErrInsufficientLiquidity:  CodeInsufficientLiquidity,
		errors.New("disk on fire"):        CodeInternal,
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

type fixedPrice struct{}

func (fixedPrice) Price(crypto.Address) (*uint256.Int, error) { return lending.Scale(), nil }

func TestNodeRepublishesStalePrices(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(1)
	feed := oracle.NewFeed(5, clock)
	if err := feed.Seed(map[crypto.Address]*uint256.Int{
		lending.NativeAsset: lending.Scale(),
		testToken:           lending.Scale(),
	}, 1); err != nil {
		t.Fatalf("seed prices: %v", err)
	}
	node, err := NewNode(Options{
		Params: lending.DefaultParams(testToken),
		Bank:   bank.New(testSystem),
		Oracle: feed,
		Clock:  clock,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := node.Mint(bank.Token, testSystem, amt(1_000)); err != nil {
		t.Fatalf("mint tokens: %v", err)
	}
	if err := node.Mint(bank.Native, testAlice, amt(1_000)); err != nil {
		t.Fatalf("mint native: %v", err)
	}
	if _, err := node.Deposit(ctx, lending.Call{Caller: testAlice, Value: amt(1_000)}, lending.NativeAsset, amt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := node.AdvanceBlocks(10); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(100)); ErrorCode(err) != CodePriceUnavailable {
		t.Fatalf("expected stale quote to block borrow, got %v", err)
	}

	for _, asset := range []crypto.Address{lending.NativeAsset, testToken} {
		height, err := node.PublishPrice(asset, lending.Scale())
		if err != nil {
			t.Fatalf("publish %s: %v", assetLabel(asset), err)
		}
		if height != 11 {
			t.Fatalf("expected quote at height 11, got %d", height)
		}
	}
	if _, err := node.Borrow(ctx, lending.Call{Caller: testAlice}, amt(100)); err != nil {
		t.Fatalf("borrow after republish: %v", err)
	}
	quotes, err := node.Prices()
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(quotes) != 2 || quotes[0].Height != 11 || quotes[1].Height != 11 {
		t.Fatalf("unexpected quotes %+v", quotes)
	}

	if _, err := node.PublishPrice(nodeAddr(0x99), lending.Scale()); ErrorCode(err) != CodeValidation {
		t.Fatalf("expected unsupported asset to be rejected, got %v", err)
	}
	if _, err := node.PublishPrice(lending.NativeAsset, new(uint256.Int)); ErrorCode(err) != CodeValidation {
		t.Fatalf("expected zero price to be rejected, got %v", err)
	}
}

func TestNodePublishPriceNeedsWritableOracle(t *testing.T) {
	node, err := NewNode(Options{
		Params: lending.DefaultParams(testToken),
		Bank:   bank.New(testSystem),
		Oracle: fixedPrice{},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if _, err := node.PublishPrice(lending.NativeAsset, lending.Scale()); !errors.Is(err, ErrOracleReadOnly) {
		t.Fatalf("expected ErrOracleReadOnly, got %v", err)
	}
	if _, err := node.Prices(); !errors.Is(err, ErrOracleReadOnly) {
		t.Fatalf("expected ErrOracleReadOnly from Prices, got %v", err)
	}
}

func TestNodeRestoresBlockHeight(t *testing.T) {
	db := storage.NewMemDB()
	h := newHarness(t, db, nil)
	h.bootstrap(t)
	if _, err := h.node.AdvanceBlocks(7); err != nil {
		t.Fatalf("advance: %v", err)
	}

	restored := newHarness(t, db, nil)
	if got := restored.node.Height(); got != 8 {
		t.Fatalf("expected restored height 8, got %d", got)
	}
	if _, err := restored.node.AdvanceBlocks(1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	again := newHarness(t, db, nil)
	if got := again.node.Height(); got != 9 {
		t.Fatalf("expected restored height 9, got %d", got)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	if got := truncate("abc", 8); got != "abc" {
		t.Fatalf("short string changed: %q", got)
	}
	// "é" is two bytes; cutting at 2 would split it.
	if got := truncate("aé", 2); got != "a" {
		t.Fatalf("expected cut before the multi-byte rune, got %q", got)
	}
	if got := truncate("aéb", 3); got != "aé" {
		t.Fatalf("expected whole rune kept, got %q", got)
	}
}
