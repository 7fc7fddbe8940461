package lending

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// PriceOracle returns the price of an asset scaled by 1e18. The native asset
// is queried with NativeAsset.
type PriceOracle interface {
	Price(asset crypto.Address) (*uint256.Int, error)
}

// TokenLedger moves the fungible token between accounts and the system
// account. Pull requires prior authorisation by the source account.
type TokenLedger interface {
	Pull(from, to crypto.Address, amount *uint256.Int) error
	Push(to crypto.Address, amount *uint256.Int) error
	BalanceOf(account crypto.Address) (*uint256.Int, error)
}

// NativeLedger pays native value out of the system account. Inbound native
// value arrives attached to the Call.
type NativeLedger interface {
	Send(to crypto.Address, amount *uint256.Int) error
}

// Journal is implemented by ledgers able to undo the transfers applied since
// a snapshot. The engine reverts journaled ledgers when an operation fails
// after value has moved.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// StateSink receives the committed global state and the accounts touched by a
// successful operation. Returning an error aborts the operation.
type StateSink interface {
	Commit(global *GlobalState, accounts []*UserInfo) error
}
