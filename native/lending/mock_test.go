package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
)

var (
	systemAddr = testAddr(0x01)
	tokenAddr  = testAddr(0xee)
	alice      = testAddr(0xa1)
	bob        = testAddr(0xb0)
	carol      = testAddr(0xc0)
)

var errLedgerDown = errors.New("ledger unavailable")

func testAddr(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = 0x10
	addr[crypto.AddressLength-1] = b
	return addr
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type mockOracle struct {
	prices map[crypto.Address]*uint256.Int
	err    error
}

func newMockOracle() *mockOracle {
	return &mockOracle{prices: map[crypto.Address]*uint256.Int{
		NativeAsset: Scale(),
		tokenAddr:   Scale(),
	}}
}

func (o *mockOracle) Price(asset crypto.Address) (*uint256.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	price, ok := o.prices[asset]
	if !ok {
		return nil, errors.New("no feed")
	}
	return new(uint256.Int).Set(price), nil
}

type ledgerImage struct {
	tokens map[crypto.Address]*uint256.Int
	native map[crypto.Address]*uint256.Int
}

// mockLedger is a journaled in-memory implementation of both ledgers.
type mockLedger struct {
	system    crypto.Address
	tokens    map[crypto.Address]*uint256.Int
	native    map[crypto.Address]*uint256.Int
	snapshots []ledgerImage

	failPull error
	failPush error
	failSend error
	// pullFee is withheld from every pull, mimicking a fee-on-transfer token.
	pullFee uint64

	pulls, pushes, sends int
}

func newMockLedger(system crypto.Address) *mockLedger {
	return &mockLedger{
		system: system,
		tokens: make(map[crypto.Address]*uint256.Int),
		native: make(map[crypto.Address]*uint256.Int),
	}
}

func balanceIn(m map[crypto.Address]*uint256.Int, addr crypto.Address) *uint256.Int {
	if v, ok := m[addr]; ok {
		return v
	}
	return new(uint256.Int)
}

func moveIn(m map[crypto.Address]*uint256.Int, from, to crypto.Address, amount *uint256.Int, fee uint64) error {
	src := balanceIn(m, from)
	if src.Lt(amount) {
		return errors.New("insufficient balance")
	}
	m[from] = new(uint256.Int).Sub(src, amount)
	credited := new(uint256.Int).Set(amount)
	if fee > 0 {
		credited.Sub(credited, uint256.NewInt(fee))
	}
	m[to] = new(uint256.Int).Add(balanceIn(m, to), credited)
	return nil
}

func (l *mockLedger) mintToken(addr crypto.Address, amount uint64) {
	l.tokens[addr] = new(uint256.Int).Add(balanceIn(l.tokens, addr), u(amount))
}

func (l *mockLedger) mintNative(addr crypto.Address, amount uint64) {
	l.native[addr] = new(uint256.Int).Add(balanceIn(l.native, addr), u(amount))
}

func (l *mockLedger) Pull(from, to crypto.Address, amount *uint256.Int) error {
	l.pulls++
	if l.failPull != nil {
		return l.failPull
	}
	return moveIn(l.tokens, from, to, amount, l.pullFee)
}

func (l *mockLedger) Push(to crypto.Address, amount *uint256.Int) error {
	l.pushes++
	if err := moveIn(l.tokens, l.system, to, amount, 0); err != nil {
		return err
	}
	return l.failPush
}

func (l *mockLedger) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	return new(uint256.Int).Set(balanceIn(l.tokens, addr)), nil
}

func (l *mockLedger) Send(to crypto.Address, amount *uint256.Int) error {
	l.sends++
	if err := moveIn(l.native, l.system, to, amount, 0); err != nil {
		return err
	}
	return l.failSend
}

func copyBalances(m map[crypto.Address]*uint256.Int) map[crypto.Address]*uint256.Int {
	out := make(map[crypto.Address]*uint256.Int, len(m))
	for k, v := range m {
		out[k] = new(uint256.Int).Set(v)
	}
	return out
}

func (l *mockLedger) Snapshot() int {
	l.snapshots = append(l.snapshots, ledgerImage{tokens: copyBalances(l.tokens), native: copyBalances(l.native)})
	return len(l.snapshots) - 1
}

func (l *mockLedger) RevertToSnapshot(id int) {
	img := l.snapshots[id]
	l.tokens = img.tokens
	l.native = img.native
	l.snapshots = l.snapshots[:id]
}

type recordingSink struct {
	commits int
	last    []*UserInfo
	global  *GlobalState
	err     error
}

func (s *recordingSink) Commit(global *GlobalState, accounts []*UserInfo) error {
	if s.err != nil {
		return s.err
	}
	s.commits++
	s.global = global
	s.last = accounts
	return nil
}

type fixture struct {
	engine   *Engine
	oracle   *mockOracle
	ledger   *mockLedger
	recorder *events.Recorder
}

func newFixture(t *testing.T, mutate ...func(*Params)) *fixture {
	t.Helper()
	params := DefaultParams(tokenAddr)
	for _, fn := range mutate {
		fn(&params)
	}
	oracle := newMockOracle()
	ledger := newMockLedger(systemAddr)
	ledger.mintToken(systemAddr, 10_000)
	engine, err := NewEngine(systemAddr, params, Collaborators{Oracle: oracle, Tokens: ledger, Native: ledger})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	engine.SetBlockHeight(1)
	return &fixture{engine: engine, oracle: oracle, ledger: ledger, recorder: recorder}
}

// depositNative mirrors the host escrow: the value lands in the system
// account before the engine runs.
func (f *fixture) depositNative(t *testing.T, who crypto.Address, amount uint64) {
	t.Helper()
	f.ledger.mintNative(systemAddr, amount)
	if err := f.engine.Deposit(Call{Caller: who, Value: u(amount)}, NativeAsset, u(amount)); err != nil {
		t.Fatalf("deposit native: %v", err)
	}
}

func (f *fixture) account(t *testing.T, who crypto.Address) *UserInfo {
	t.Helper()
	user, ok := f.engine.Account(who)
	if !ok {
		t.Fatalf("account %s not found", who.Hex())
	}
	return user
}

func requireDebtInvariant(t *testing.T, engine *Engine) {
	t.Helper()
	sum := new(uint256.Int)
	for _, user := range engine.Accounts() {
		sum.Add(sum, user.Borrowed)
	}
	if total := engine.Global().TotalDebt; !sum.Eq(total) {
		t.Fatalf("total debt %s does not match account sum %s", total, sum)
	}
}
