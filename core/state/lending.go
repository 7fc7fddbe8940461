package state

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"lendledger/crypto"
	"lendledger/native/lending"
	"lendledger/storage"
)

var (
	lendingGlobalKey     = []byte("lending/global")
	lendingAccountPrefix = []byte("lending/account/")

	// ErrChecksumMismatch indicates a stored record failed its integrity
	// check.
	ErrChecksumMismatch = errors.New("state: record checksum mismatch")
)

func lendingAccountKey(addr crypto.Address) []byte {
	hashed := ethcrypto.Keccak256(addr[:])
	buf := make([]byte, len(lendingAccountPrefix)+len(hashed))
	copy(buf, lendingAccountPrefix)
	copy(buf[len(lendingAccountPrefix):], hashed)
	return buf
}

// storedGlobal is the RLP layout of lending.GlobalState.
type storedGlobal struct {
	TotalReserves    *uint256.Int
	TotalDebt        *uint256.Int
	ReserveFactorBps uint64
	BorrowIndex      *uint256.Int
	LastAccrualBlock uint64
	Initialized      bool
}

// storedAccount is the RLP layout of lending.UserInfo.
type storedAccount struct {
	Address         crypto.Address
	SuppliedNative  *uint256.Int
	SuppliedToken   *uint256.Int
	Borrowed        *uint256.Int
	LastBorrowIndex *uint256.Int
	LastBlockNumber uint64
}

// envelope pairs an encoded record with its blake3 digest.
type envelope struct {
	Payload []byte
	Sum     []byte
}

func seal(v interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(payload)
	return rlp.EncodeToBytes(envelope{Payload: payload, Sum: sum[:]})
}

func open(data []byte, out interface{}) error {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return err
	}
	sum := blake3.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Sum) {
		return ErrChecksumMismatch
	}
	return rlp.DecodeBytes(env.Payload, out)
}

// LendingStore persists the lending ledger to a key-value database. It
// implements lending.StateSink so the engine can write through on every
// successful operation.
type LendingStore struct {
	db storage.Database
}

// NewLendingStore wraps db.
func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db}
}

// Commit writes the global state and the supplied accounts in one batch.
func (s *LendingStore) Commit(global *lending.GlobalState, accounts []*lending.UserInfo) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: lending store unavailable")
	}
	batch := new(storage.Batch)
	if err := StageLending(batch, global, accounts); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// DB returns the backing database.
func (s *LendingStore) DB() storage.Database { return s.db }

// StageLending queues the global state and accounts into batch without
// writing, so callers can combine them with other records atomically.
func StageLending(batch *storage.Batch, global *lending.GlobalState, accounts []*lending.UserInfo) error {
	if global == nil {
		return fmt.Errorf("state: global state required")
	}
	encoded, err := seal(storedGlobal{
		TotalReserves:    global.TotalReserves,
		TotalDebt:        global.TotalDebt,
		ReserveFactorBps: global.ReserveFactorBps,
		BorrowIndex:      global.BorrowIndex,
		LastAccrualBlock: global.LastAccrualBlock,
		Initialized:      global.Initialized,
	})
	if err != nil {
		return fmt.Errorf("state: encode lending global: %w", err)
	}
	batch.Put(lendingGlobalKey, encoded)
	for _, user := range accounts {
		if user == nil {
			continue
		}
		encoded, err := seal(storedAccount{
			Address:         user.Address,
			SuppliedNative:  user.SuppliedNative,
			SuppliedToken:   user.SuppliedToken,
			Borrowed:        user.Borrowed,
			LastBorrowIndex: user.LastBorrowIndex,
			LastBlockNumber: user.LastBlockNumber,
		})
		if err != nil {
			return fmt.Errorf("state: encode lending account %s: %w", user.Address.Hex(), err)
		}
		batch.Put(lendingAccountKey(user.Address), encoded)
	}
	return nil
}

// Load reads the persisted ledger. A store that has never been committed
// returns a nil global state and no accounts.
func (s *LendingStore) Load() (*lending.GlobalState, []*lending.UserInfo, error) {
	data, err := s.db.Get(lendingGlobalKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var g storedGlobal
	if err := open(data, &g); err != nil {
		return nil, nil, fmt.Errorf("state: decode lending global: %w", err)
	}
	global := &lending.GlobalState{
		TotalReserves:    g.TotalReserves,
		TotalDebt:        g.TotalDebt,
		ReserveFactorBps: g.ReserveFactorBps,
		BorrowIndex:      g.BorrowIndex,
		LastAccrualBlock: g.LastAccrualBlock,
		Initialized:      g.Initialized,
	}

	var (
		accounts []*lending.UserInfo
		iterErr  error
	)
	err = s.db.Iterate(lendingAccountPrefix, func(key, value []byte) bool {
		var a storedAccount
		if err := open(value, &a); err != nil {
			iterErr = fmt.Errorf("state: decode lending account %x: %w", key[len(lendingAccountPrefix):], err)
			return false
		}
		accounts = append(accounts, &lending.UserInfo{
			Address:         a.Address,
			SuppliedNative:  a.SuppliedNative,
			SuppliedToken:   a.SuppliedToken,
			Borrowed:        a.Borrowed,
			LastBorrowIndex: a.LastBorrowIndex,
			LastBlockNumber: a.LastBlockNumber,
		})
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	if iterErr != nil {
		return nil, nil, iterErr
	}
	return global, accounts, nil
}

// Digest returns a blake3 digest over every stored lending record in key
// order. Two stores holding the same ledger produce the same digest.
func (s *LendingStore) Digest() ([32]byte, error) {
	hasher := blake3.New(32, nil)
	if data, err := s.db.Get(lendingGlobalKey); err == nil {
		hasher.Write(data)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return [32]byte{}, err
	}
	err := s.db.Iterate(lendingAccountPrefix, func(key, value []byte) bool {
		hasher.Write(key)
		hasher.Write(value)
		return true
	})
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out, nil
}
