package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	has, err := db.Has([]byte("missing"))
	if err != nil || has {
		t.Fatalf("Has(missing) = %v, %v", has, err)
	}

	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("get = %q, %v", got, err)
	}

	// Mutating the returned slice must not corrupt the stored value.
	got[0] = 'X'
	again, err := db.Get([]byte("k"))
	if err != nil || string(again) != "v1" {
		t.Fatalf("stored value mutated: %q, %v", again, err)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ldb"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}
	has, err := db.Has([]byte("k"))
	if err != nil || !has {
		t.Fatalf("Has = %v, %v", has, err)
	}
}
