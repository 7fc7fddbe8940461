package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"lendledger/crypto"
	"lendledger/native/bank"
	"lendledger/storage"
)

var bankStateKey = []byte("bank/state")

type storedHolding struct {
	Account crypto.Address
	Denom   uint8
	Amount  *uint256.Int
}

type storedAllowance struct {
	Owner  crypto.Address
	Amount *uint256.Int
}

type storedBank struct {
	Holdings   []storedHolding
	Allowances []storedAllowance
}

// StageBank queues the bank contents into batch.
func StageBank(batch *storage.Batch, state bank.State) error {
	record := storedBank{
		Holdings:   make([]storedHolding, 0, len(state.Holdings)),
		Allowances: make([]storedAllowance, 0, len(state.Allowances)),
	}
	for _, h := range state.Holdings {
		record.Holdings = append(record.Holdings, storedHolding{Account: h.Account, Denom: uint8(h.Denom), Amount: h.Amount})
	}
	for _, a := range state.Allowances {
		record.Allowances = append(record.Allowances, storedAllowance{Owner: a.Owner, Amount: a.Amount})
	}
	encoded, err := seal(record)
	if err != nil {
		return fmt.Errorf("state: encode bank: %w", err)
	}
	batch.Put(bankStateKey, encoded)
	return nil
}

// LoadBank reads the persisted bank contents. The boolean reports whether a
// record was present.
func LoadBank(db storage.Database) (bank.State, bool, error) {
	data, err := db.Get(bankStateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return bank.State{}, false, nil
	}
	if err != nil {
		return bank.State{}, false, err
	}
	var record storedBank
	if err := open(data, &record); err != nil {
		return bank.State{}, false, fmt.Errorf("state: decode bank: %w", err)
	}
	out := bank.State{}
	for _, h := range record.Holdings {
		out.Holdings = append(out.Holdings, bank.Holding{Account: h.Account, Denom: bank.Denom(h.Denom), Amount: h.Amount})
	}
	for _, a := range record.Allowances {
		out.Allowances = append(out.Allowances, bank.Allowance{Owner: a.Owner, Amount: a.Amount})
	}
	return out, true, nil
}
