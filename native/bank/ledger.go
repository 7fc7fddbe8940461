// Package bank provides the in-memory value ledger backing the lending
// engine: native balances, token balances, and the token allowances granted
// to the system account.
package bank

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// Denom selects which balance book an operation applies to.
type Denom uint8

const (
	Native Denom = iota
	Token
)

func (d Denom) String() string {
	switch d {
	case Native:
		return "native"
	case Token:
		return "token"
	default:
		return fmt.Sprintf("Denom(%d)", uint8(d))
	}
}

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrUnknownDenom          = errors.New("bank: unknown denomination")
)

type book uint8

const (
	bookNative book = iota
	bookToken
	bookAllowance
)

// change is a journal entry holding the value a key had before mutation.
// A nil prev means the key was absent.
type change struct {
	book book
	addr crypto.Address
	prev *uint256.Int
}

type revision struct {
	id           int
	journalIndex int
}

// Bank holds balances for every account and moves value on behalf of the
// system account. Mutations are journaled so a failed operation can be
// rolled back with RevertToSnapshot. Bank is safe for concurrent use.
type Bank struct {
	mu     sync.Mutex
	system crypto.Address

	books [3]map[crypto.Address]*uint256.Int

	journal        []change
	validRevisions []revision
	nextRevisionID int
}

// New constructs an empty bank whose Pull/Push/Send move value through
// system.
func New(system crypto.Address) *Bank {
	b := &Bank{system: system}
	for i := range b.books {
		b.books[i] = make(map[crypto.Address]*uint256.Int)
	}
	return b
}

// System returns the escrow account.
func (b *Bank) System() crypto.Address { return b.system }

func bookFor(denom Denom) (book, error) {
	switch denom {
	case Native:
		return bookNative, nil
	case Token:
		return bookToken, nil
	default:
		return 0, ErrUnknownDenom
	}
}

func (b *Bank) get(bk book, addr crypto.Address) *uint256.Int {
	if v, ok := b.books[bk][addr]; ok {
		return v
	}
	return new(uint256.Int)
}

func (b *Bank) set(bk book, addr crypto.Address, value *uint256.Int) {
	prev, ok := b.books[bk][addr]
	entry := change{book: bk, addr: addr}
	if ok {
		entry.prev = prev
	}
	b.journal = append(b.journal, entry)
	b.books[bk][addr] = value
}

func (b *Bank) move(bk book, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	src := b.get(bk, from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, overflow := new(uint256.Int).AddOverflow(b.get(bk, to), amount)
	if overflow {
		return fmt.Errorf("bank: balance overflow for %s", to.Hex())
	}
	b.set(bk, from, new(uint256.Int).Sub(src, amount))
	b.set(bk, to, dst)
	return nil
}

// Mint credits amount of denom to addr out of thin air. It backs faucets and
// test fixtures.
func (b *Bank) Mint(denom Denom, addr crypto.Address, amount *uint256.Int) error {
	bk, err := bookFor(denom)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next, overflow := new(uint256.Int).AddOverflow(b.get(bk, addr), amount)
	if overflow {
		return fmt.Errorf("bank: balance overflow for %s", addr.Hex())
	}
	b.set(bk, addr, next)
	return nil
}

// Balance returns addr's balance of denom.
func (b *Bank) Balance(denom Denom, addr crypto.Address) (*uint256.Int, error) {
	bk, err := bookFor(denom)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.get(bk, addr)), nil
}

// Transfer moves value between two arbitrary accounts.
func (b *Bank) Transfer(denom Denom, from, to crypto.Address, amount *uint256.Int) error {
	bk, err := bookFor(denom)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(bk, from, to, amount)
}

// Approve sets the token amount the system account may pull from owner.
func (b *Bank) Approve(owner crypto.Address, amount *uint256.Int) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(bookAllowance, owner, new(uint256.Int).Set(amount))
}

// Allowance returns the token amount the system account may pull from owner.
func (b *Bank) Allowance(owner crypto.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.get(bookAllowance, owner))
}

// Pull moves tokens from an account that approved the system account.
func (b *Bank) Pull(from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	allowance := b.get(bookAllowance, from)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s approved %s, needs %s", ErrInsufficientAllowance, from.Hex(), allowance.Dec(), amount.Dec())
	}
	if err := b.move(bookToken, from, to, amount); err != nil {
		return err
	}
	b.set(bookAllowance, from, new(uint256.Int).Sub(allowance, amount))
	return nil
}

// Push pays tokens out of the system account.
func (b *Bank) Push(to crypto.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(bookToken, b.system, to, amount)
}

// BalanceOf returns the token balance of account.
func (b *Bank) BalanceOf(account crypto.Address) (*uint256.Int, error) {
	return b.Balance(Token, account)
}

// Send pays native value out of the system account.
func (b *Bank) Send(to crypto.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(bookNative, b.system, to, amount)
}

// Snapshot returns an identifier for the current revision of the bank.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextRevisionID
	b.nextRevisionID++
	b.validRevisions = append(b.validRevisions, revision{id: id, journalIndex: len(b.journal)})
	return id
}

// RevertToSnapshot undoes every mutation made since the snapshot was taken.
// Unknown identifiers are ignored.
func (b *Bank) RevertToSnapshot(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := sort.Search(len(b.validRevisions), func(i int) bool {
		return b.validRevisions[i].id >= id
	})
	if idx == len(b.validRevisions) || b.validRevisions[idx].id != id {
		return
	}
	target := b.validRevisions[idx].journalIndex
	for i := len(b.journal) - 1; i >= target; i-- {
		entry := b.journal[i]
		if entry.prev == nil {
			delete(b.books[entry.book], entry.addr)
			continue
		}
		b.books[entry.book][entry.addr] = entry.prev
	}
	b.journal = b.journal[:target]
	b.validRevisions = b.validRevisions[:idx]
}

// Finalise discards the journal. Snapshots taken before the call can no
// longer be reverted.
func (b *Bank) Finalise() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = b.journal[:0]
	b.validRevisions = b.validRevisions[:0]
}

// Holding is one non-zero balance entry.
type Holding struct {
	Account crypto.Address
	Denom   Denom
	Amount  *uint256.Int
}

// Holdings lists every non-zero balance ordered by denomination then
// account.
func (b *Bank) Holdings() []Holding {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Holding
	for _, denom := range []Denom{Native, Token} {
		bk, _ := bookFor(denom)
		for addr, amount := range b.books[bk] {
			if amount.IsZero() {
				continue
			}
			out = append(out, Holding{Account: addr, Denom: denom, Amount: new(uint256.Int).Set(amount)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Denom != out[j].Denom {
			return out[i].Denom < out[j].Denom
		}
		return out[i].Account.Compare(out[j].Account) < 0
	})
	return out
}

// Allowance is a token pull authorisation granted to the system account.
type Allowance struct {
	Owner  crypto.Address
	Amount *uint256.Int
}

// State is a serialisable copy of every balance and allowance.
type State struct {
	Holdings   []Holding
	Allowances []Allowance
}

// Export returns a copy of the bank contents suitable for persistence.
func (b *Bank) Export() State {
	out := State{Holdings: b.Holdings()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for owner, amount := range b.books[bookAllowance] {
		if amount.IsZero() {
			continue
		}
		out.Allowances = append(out.Allowances, Allowance{Owner: owner, Amount: new(uint256.Int).Set(amount)})
	}
	sort.Slice(out.Allowances, func(i, j int) bool {
		return out.Allowances[i].Owner.Compare(out.Allowances[j].Owner) < 0
	})
	return out
}

// Import replaces the bank contents with state and clears the journal.
func (b *Bank) Import(state State) error {
	books := [3]map[crypto.Address]*uint256.Int{}
	for i := range books {
		books[i] = make(map[crypto.Address]*uint256.Int)
	}
	for _, h := range state.Holdings {
		bk, err := bookFor(h.Denom)
		if err != nil {
			return err
		}
		if h.Amount != nil {
			books[bk][h.Account] = new(uint256.Int).Set(h.Amount)
		}
	}
	for _, a := range state.Allowances {
		if a.Amount != nil {
			books[bookAllowance][a.Owner] = new(uint256.Int).Set(a.Amount)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.books = books
	b.journal = nil
	b.validRevisions = nil
	return nil
}
