package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := db.Put([]byte("acct/b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	batch := new(Batch)
	batch.Put([]byte("acct/a"), []byte("1"))
	batch.Put([]byte("acct/c"), []byte("3"))
	batch.Put([]byte("global"), []byte("g"))
	batch.Delete([]byte("acct/b"))
	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok, err := db.Has([]byte("acct/b")); err != nil || ok {
		t.Fatalf("expected batched delete, ok=%v err=%v", ok, err)
	}

	var keys []string
	if err := db.Iterate([]byte("acct/"), func(key, value []byte) bool {
		keys = append(keys, string(key)+"="+string(value))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 2 || keys[0] != "acct/a=1" || keys[1] != "acct/c=3" {
		t.Fatalf("unexpected iteration %v", keys)
	}

	if err := db.Delete([]byte("global")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("global")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key to be missing, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	_ = db.Put([]byte("k"), value)
	value[0] = 'x'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
}
