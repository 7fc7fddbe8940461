package lending

import (
	"sort"

	"lendledger/crypto"
)

// Book owns the mapping from account to lending position. It performs no
// validation; the engine is responsible for every invariant.
type Book struct {
	accounts map[crypto.Address]*UserInfo
}

// NewBook returns an empty account book.
func NewBook() *Book {
	return &Book{accounts: make(map[crypto.Address]*UserInfo)}
}

// Get returns the stored account without creating it.
func (b *Book) Get(addr crypto.Address) (*UserInfo, bool) {
	if b == nil {
		return nil, false
	}
	user, ok := b.accounts[addr]
	return user, ok
}

// Ensure returns the account for addr, creating a zero position on first
// access. The boolean reports whether the account was created.
func (b *Book) Ensure(addr crypto.Address) (*UserInfo, bool) {
	if user, ok := b.accounts[addr]; ok {
		return user, false
	}
	user := newUserInfo(addr)
	b.accounts[addr] = user
	return user, true
}

// Put stores the supplied account, replacing any existing entry.
func (b *Book) Put(user *UserInfo) {
	if user == nil {
		return
	}
	user.ensureDefaults()
	b.accounts[user.Address] = user
}

func (b *Book) remove(addr crypto.Address) {
	delete(b.accounts, addr)
}

// Len returns the number of accounts ever seen.
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.accounts)
}

// Range visits every account in address order until fn returns false.
func (b *Book) Range(fn func(*UserInfo) bool) {
	if b == nil {
		return
	}
	addrs := make([]crypto.Address, 0, len(b.accounts))
	for addr := range b.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	for _, addr := range addrs {
		if !fn(b.accounts[addr]) {
			return
		}
	}
}
