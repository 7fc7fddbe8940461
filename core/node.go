package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendledger/core/events"
	ledgerstate "lendledger/core/state"
	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/bank"
	nativecommon "lendledger/native/common"
	"lendledger/native/lending"
	"lendledger/native/oracle"
	"lendledger/observability"
	telemetry "lendledger/observability/otel"
	"lendledger/storage"
)

// ErrClockNotManual is returned by AdvanceBlocks when the node follows an
// external height source.
var ErrClockNotManual = errors.New("node: block clock is not manually driven")

// ErrOracleReadOnly is returned by PublishPrice when the oracle cannot accept
// new observations.
var ErrOracleReadOnly = errors.New("node: oracle does not accept published prices")

// PriceFeed is an oracle that also accepts published observations.
type PriceFeed interface {
	lending.PriceOracle
	Set(asset crypto.Address, price *uint256.Int, height uint64) error
	Quotes() []oracle.Quote
}

// Options wires a Node.
type Options struct {
	// System is the escrow account holding ledger funds. Defaults to the
	// lending module address.
	System crypto.Address
	Params lending.Params
	Bank   *bank.Bank
	Oracle lending.PriceOracle
	Clock  HeightSource
	// DB enables persistence of the ledger and bank. Optional.
	DB storage.Database
	// Journal records every operation outcome. Optional.
	Journal *ledgerstate.OperationLog
	Logger  *slog.Logger
	Emitter events.Emitter
}

// Receipt describes a committed operation.
type Receipt struct {
	OperationID string         `json:"operationId"`
	Action      string         `json:"action"`
	Height      uint64         `json:"height"`
	Events      []*types.Event `json:"events"`
}

// Market is a consistent view of the ledger-wide state.
type Market struct {
	Global           *lending.GlobalState
	Params           lending.Params
	Height           uint64
	System           crypto.Address
	SystemTokens     *uint256.Int
	SystemNative     *uint256.Int
	Accounts         int
	StateDigest      string
	OracleConfigured bool
}

// Node is the host around the lending engine. It serialises every operation
// behind one mutex, escrows attached native value, persists results and
// fans out events. Collaborators must not call back into the Node.
type Node struct {
	stateMu sync.Mutex

	engine  *lending.Engine
	bank    *bank.Bank
	clock   HeightSource
	feed    PriceFeed
	db      storage.Database
	journal *ledgerstate.OperationLog
	pauses  nativecommon.PauseSet

	logger  *slog.Logger
	emitter events.Emitter
	buffer  *events.Recorder
	metrics *observability.LendingMetrics
	tracer  trace.Tracer
}

// NewNode constructs the engine, restores persisted state when a database is
// configured and returns the running host.
func NewNode(opts Options) (*Node, error) {
	if opts.Bank == nil {
		return nil, fmt.Errorf("node: bank required")
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("node: oracle required")
	}
	if opts.System.IsZero() {
		opts.System = opts.Bank.System()
	}
	if opts.System != opts.Bank.System() {
		return nil, fmt.Errorf("node: bank system account %s does not match %s", opts.Bank.System().Hex(), opts.System.Hex())
	}
	if opts.Clock == nil {
		opts.Clock = NewManualClock(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}

	engine, err := lending.NewEngine(opts.System, opts.Params, lending.Collaborators{
		Oracle: opts.Oracle,
		Tokens: opts.Bank,
		Native: opts.Bank,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		engine:  engine,
		bank:    opts.Bank,
		clock:   opts.Clock,
		db:      opts.DB,
		journal: opts.Journal,
		pauses:  nativecommon.PauseSet{},
		logger:  opts.Logger.With(slog.String("component", "node")),
		emitter: opts.Emitter,
		buffer:  &events.Recorder{},
		metrics: observability.Lending(),
		tracer:  telemetry.Tracer("lendledger/core"),
	}
	if feed, ok := opts.Oracle.(PriceFeed); ok {
		n.feed = feed
	}
	engine.SetEmitter(n.buffer)
	engine.SetPauses(n.pauses)

	if n.db != nil {
		if err := n.restore(); err != nil {
			return nil, err
		}
		engine.SetStateSink(nodeSink{node: n})
	}
	n.publishMarket()
	return n, nil
}

func (n *Node) restore() error {
	if err := ledgerstate.EnsureStateVersion(n.db, false); err != nil {
		return err
	}
	global, accounts, err := ledgerstate.NewLendingStore(n.db).Load()
	if err != nil {
		return err
	}
	if global != nil {
		n.engine.Load(global, accounts)
	}
	bankState, ok, err := ledgerstate.LoadBank(n.db)
	if err != nil {
		return err
	}
	if ok {
		if err := n.bank.Import(bankState); err != nil {
			return err
		}
	}
	height, ok, err := ledgerstate.LoadHeight(n.db)
	if err != nil {
		return err
	}
	if clock, manual := n.clock.(*ManualClock); manual {
		if global != nil {
			clock.Set(global.LastAccrualBlock)
		}
		if ok {
			clock.Set(height)
		}
	}
	n.logger.Info("ledger state restored",
		slog.Int("accounts", len(accounts)),
		slog.Bool("initialized", global != nil && global.Initialized))
	return nil
}

// nodeSink persists the lending state together with the bank balances in a
// single batch.
type nodeSink struct {
	node *Node
}

func (s nodeSink) Commit(global *lending.GlobalState, accounts []*lending.UserInfo) error {
	batch := new(storage.Batch)
	if err := ledgerstate.StageLending(batch, global, accounts); err != nil {
		return err
	}
	if err := ledgerstate.StageBank(batch, s.node.bank.Export()); err != nil {
		return err
	}
	ledgerstate.StageHeight(batch, s.node.clock.Height())
	return s.node.db.Write(batch)
}

type operation struct {
	action  string
	call    lending.Call
	subject crypto.Address
	asset   *crypto.Address
	amount  *uint256.Int
	run     func() error
}

// execute runs op under the state lock: it escrows the attached value,
// invokes the engine, and on failure returns the escrow.
func (n *Node) execute(ctx context.Context, op operation) (*Receipt, error) {
	ctx, span := n.tracer.Start(ctx, "lending."+op.action, trace.WithAttributes(
		attribute.String("lending.action", op.action),
		attribute.String("lending.caller", op.call.Caller.String()),
	))
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	height := n.clock.Height()
	n.engine.SetBlockHeight(height)
	opID := uuid.NewString()

	err := n.runEscrowed(op)
	record := &ledgerstate.OperationRecord{
		ID:      opID,
		Height:  height,
		Action:  op.action,
		Caller:  op.call.Caller.String(),
		Amount:  decimal(op.amount),
		Value:   decimal(op.call.Value),
		Outcome: ledgerstate.OutcomeCommitted,
	}
	if !op.subject.IsZero() {
		record.Subject = op.subject.String()
	}
	if op.asset != nil {
		record.Asset = assetLabel(*op.asset)
	}

	if err != nil {
		kind := ErrorCode(err)
		record.Outcome = ledgerstate.OutcomeRejected
		record.ErrorKind = kind
		record.Error = truncate(err.Error(), 512)
		n.recordJournal(ctx, record)
		n.metrics.RecordOperation(op.action, kind, time.Since(start))
		span.SetStatus(codes.Error, kind)
		span.RecordError(err)
		n.logger.Warn("lending operation rejected",
			slog.String("operation", opID),
			slog.String("action", op.action),
			slog.String("account", op.call.Caller.String()),
			slog.Uint64("height", height),
			slog.String("kind", kind),
			slog.Any("error", err))
		return nil, err
	}

	emitted := n.buffer.Drain()
	receipt := &Receipt{OperationID: opID, Action: op.action, Height: height, Events: make([]*types.Event, 0, len(emitted))}
	for _, evt := range emitted {
		flat := evt.Event()
		flat.OperationID = opID
		flat.Height = height
		receipt.Events = append(receipt.Events, flat)
		n.emitter.Emit(stampedEvent{inner: evt, flat: flat})
	}
	if err := record.SetEvents(receipt.Events); err != nil {
		n.logger.Warn("encode journal events", slog.Any("error", err))
	}
	n.recordJournal(ctx, record)
	n.metrics.RecordOperation(op.action, "ok", time.Since(start))
	n.publishMarket()
	span.SetAttributes(attribute.String("lending.operation_id", opID))
	n.logger.Debug("lending operation committed",
		slog.String("operation", opID),
		slog.String("action", op.action),
		slog.String("account", op.call.Caller.String()),
		slog.Uint64("height", height))
	return receipt, nil
}

func (n *Node) runEscrowed(op operation) error {
	mark := n.bank.Snapshot()
	if value := op.call.Value; value != nil && !value.IsZero() {
		if err := n.bank.Transfer(bank.Native, op.call.Caller, n.engine.SystemAddress(), value); err != nil {
			n.bank.RevertToSnapshot(mark)
			return fmt.Errorf("%w: escrow attached value: %v", lending.ErrExternalTransfer, err)
		}
	}
	if err := op.run(); err != nil {
		n.bank.RevertToSnapshot(mark)
		n.buffer.Drain()
		return err
	}
	n.bank.Finalise()
	return nil
}

func (n *Node) recordJournal(ctx context.Context, rec *ledgerstate.OperationRecord) {
	if n.journal == nil {
		return
	}
	// Journal failures never undo a committed operation.
	if err := n.journal.Record(ctx, rec); err != nil {
		n.logger.Warn("operation journal write failed", slog.String("operation", rec.ID), slog.Any("error", err))
	}
}

func (n *Node) publishMarket() {
	g := n.engine.Global()
	n.metrics.SetMarket(g.BorrowIndex, g.TotalDebt, g.TotalReserves, n.engine.BlockHeight())
}

// Initialize runs the one-time ledger bootstrap.
func (n *Node) Initialize(ctx context.Context, call lending.Call, asset crypto.Address) (*Receipt, error) {
	return n.execute(ctx, operation{action: "initialize", call: call, asset: &asset, run: func() error {
		return n.engine.Initialize(call, asset)
	}})
}

// Deposit supplies native collateral or token liquidity.
func (n *Node) Deposit(ctx context.Context, call lending.Call, asset crypto.Address, amount *uint256.Int) (*Receipt, error) {
	return n.execute(ctx, operation{action: "deposit", call: call, asset: &asset, amount: amount, run: func() error {
		return n.engine.Deposit(call, asset, amount)
	}})
}

// Borrow lends tokens against the caller's native collateral.
func (n *Node) Borrow(ctx context.Context, call lending.Call, amount *uint256.Int) (*Receipt, error) {
	return n.execute(ctx, operation{action: "borrow", call: call, amount: amount, run: func() error {
		return n.engine.Borrow(call, amount)
	}})
}

// Repay reduces the caller's debt.
func (n *Node) Repay(ctx context.Context, call lending.Call, amount *uint256.Int) (*Receipt, error) {
	return n.execute(ctx, operation{action: "repay", call: call, amount: amount, run: func() error {
		return n.engine.Repay(call, amount)
	}})
}

// Withdraw releases supplied funds back to the caller.
func (n *Node) Withdraw(ctx context.Context, call lending.Call, asset crypto.Address, amount *uint256.Int) (*Receipt, error) {
	return n.execute(ctx, operation{action: "withdraw", call: call, asset: &asset, amount: amount, run: func() error {
		return n.engine.Withdraw(call, asset, amount)
	}})
}

// Liquidate repays part of an unhealthy borrower's debt for collateral.
func (n *Node) Liquidate(ctx context.Context, call lending.Call, borrower crypto.Address, amount *uint256.Int) (*Receipt, error) {
	return n.execute(ctx, operation{action: "liquidate", call: call, subject: borrower, amount: amount, run: func() error {
		return n.engine.Liquidate(call, borrower, amount)
	}})
}

// Donate adds the attached native value to the reserves.
func (n *Node) Donate(ctx context.Context, call lending.Call) (*Receipt, error) {
	return n.execute(ctx, operation{action: "donate", call: call, run: func() error {
		return n.engine.Donate(call)
	}})
}

// AccruedSupplyAmount reports the token surplus available to suppliers.
func (n *Node) AccruedSupplyAmount(asset crypto.Address) (*uint256.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.AccruedSupplyAmount(asset)
}

// Position evaluates addr's risk at current prices.
func (n *Node) Position(addr crypto.Address) (lending.Position, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Position(addr)
}

// Market returns the ledger-wide state.
func (n *Node) Market() (Market, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	system := n.engine.SystemAddress()
	tokens, err := n.bank.Balance(bank.Token, system)
	if err != nil {
		return Market{}, err
	}
	native, err := n.bank.Balance(bank.Native, system)
	if err != nil {
		return Market{}, err
	}
	out := Market{
		Global:           n.engine.Global(),
		Params:           n.engine.Params(),
		Height:           n.clock.Height(),
		System:           system,
		SystemTokens:     tokens,
		SystemNative:     native,
		Accounts:         len(n.engine.Accounts()),
		OracleConfigured: true,
	}
	if n.db != nil {
		digest, err := ledgerstate.NewLendingStore(n.db).Digest()
		if err != nil {
			return Market{}, err
		}
		out.StateDigest = fmt.Sprintf("%x", digest)
	}
	return out, nil
}

// Balances returns addr's native balance, token balance and the token
// allowance granted to the ledger.
func (n *Node) Balances(addr crypto.Address) (native, token, allowance *uint256.Int, err error) {
	if native, err = n.bank.Balance(bank.Native, addr); err != nil {
		return nil, nil, nil, err
	}
	if token, err = n.bank.Balance(bank.Token, addr); err != nil {
		return nil, nil, nil, err
	}
	return native, token, n.bank.Allowance(addr), nil
}

// Approve authorises the ledger to pull up to amount tokens from owner.
func (n *Node) Approve(owner crypto.Address, amount *uint256.Int) error {
	if owner.IsZero() {
		return lending.ErrInvalidAccount
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.bank.Approve(owner, amount)
	n.bank.Finalise()
	return n.persistBank()
}

// Mint credits funds to addr. It backs development faucets.
func (n *Node) Mint(denom bank.Denom, addr crypto.Address, amount *uint256.Int) error {
	if addr.IsZero() {
		return lending.ErrInvalidAccount
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if err := n.bank.Mint(denom, addr, amount); err != nil {
		return err
	}
	n.bank.Finalise()
	return n.persistBank()
}

func (n *Node) persistBank() error {
	if n.db == nil {
		return nil
	}
	batch := new(storage.Batch)
	if err := ledgerstate.StageBank(batch, n.bank.Export()); err != nil {
		return err
	}
	return n.db.Write(batch)
}

// Height returns the current block height.
func (n *Node) Height() uint64 { return n.clock.Height() }

// AdvanceBlocks moves a manual clock forward.
func (n *Node) AdvanceBlocks(blocks uint64) (uint64, error) {
	clock, ok := n.clock.(*ManualClock)
	if !ok {
		return 0, ErrClockNotManual
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	height := clock.Advance(blocks)
	n.engine.SetBlockHeight(height)
	n.publishMarket()
	if n.db != nil {
		batch := new(storage.Batch)
		ledgerstate.StageHeight(batch, height)
		if err := n.db.Write(batch); err != nil {
			return height, fmt.Errorf("node: persist height: %w", err)
		}
	}
	return height, nil
}

// PublishPrice records a new oracle observation for asset at the current
// height and returns that height. Only the native asset and the configured
// token can be priced.
func (n *Node) PublishPrice(asset crypto.Address, price *uint256.Int) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.feed == nil {
		return 0, ErrOracleReadOnly
	}
	if asset != lending.NativeAsset && asset != n.engine.Params().Token {
		return 0, lending.ErrUnsupportedAsset
	}
	height := n.clock.Height()
	if err := n.feed.Set(asset, price, height); err != nil {
		if errors.Is(err, oracle.ErrInvalidPrice) {
			return 0, lending.ErrInvalidAmount
		}
		return 0, err
	}
	n.logger.Info("oracle price published",
		slog.String("asset", assetLabel(asset)),
		slog.String("price", price.Dec()),
		slog.Uint64("height", height))
	return height, nil
}

// Prices returns the published oracle quotes in asset order. It reports
// ErrOracleReadOnly for oracles that do not expose their quotes.
func (n *Node) Prices() ([]oracle.Quote, error) {
	if n.feed == nil {
		return nil, ErrOracleReadOnly
	}
	return n.feed.Quotes(), nil
}

// SetModulePaused pauses or resumes the whole lending module.
func (n *Node) SetModulePaused(paused bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.pauses["lending"] = paused
}

// SetActionPauses replaces the per-action pause switches.
func (n *Node) SetActionPauses(p lending.ActionPauses) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.engine.SetActionPauses(p)
}

// OperationLog returns the configured journal, if any.
func (n *Node) OperationLog() *ledgerstate.OperationLog { return n.journal }

// stampedEvent carries the host-stamped flat form alongside the typed event.
type stampedEvent struct {
	inner events.Event
	flat  *types.Event
}

func (e stampedEvent) EventType() string   { return e.inner.EventType() }
func (e stampedEvent) Event() *types.Event { return e.flat }

// Unwrap returns the typed engine event.
func (e stampedEvent) Unwrap() events.Event { return e.inner }

func decimal(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func assetLabel(asset crypto.Address) string {
	if asset.IsZero() {
		return "native"
	}
	return asset.Encode(crypto.AssetPrefix)
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
