package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lendledger/storage"
)

var chainHeightKey = []byte("chain/height")

// StageHeight queues the block height into batch.
func StageHeight(batch *storage.Batch, height uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	batch.Put(chainHeightKey, buf[:])
}

// LoadHeight returns the persisted block height and whether one was present.
func LoadHeight(db storage.Database) (uint64, bool, error) {
	data, err := db.Get(chainHeightKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("state: malformed chain height record")
	}
	return binary.BigEndian.Uint64(data), true, nil
}
