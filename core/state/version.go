package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lendledger/storage"
)

// StateVersion identifies the expected on-disk schema layout of the lending
// store. Increment this constant whenever breaking changes are made to the
// stored structure.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version.
func SetStateVersion(db storage.Database, version uint32) error {
	if db == nil {
		return fmt.Errorf("state: database unavailable")
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	return db.Put(stateVersionKey, buf[:])
}

// ReadStateVersion returns the stored schema version and whether one was
// present.
func ReadStateVersion(db storage.Database) (uint32, bool, error) {
	data, err := db.Get(stateVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("state: malformed schema version (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint32(data), true, nil
}

// EnsureStateVersion verifies that the on-disk state version matches the
// version supported by this binary, stamping empty databases. When
// allowMigrate is true, mismatches are tolerated so operators can perform
// manual migrations.
func EnsureStateVersion(db storage.Database, allowMigrate bool) error {
	version, ok, err := ReadStateVersion(db)
	if err != nil {
		return err
	}
	if !ok {
		return SetStateVersion(db, StateVersion)
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
