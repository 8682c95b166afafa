package database

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

var testSchema = []Column{
	{Name: "plain"},
	{Name: "packed", Compressed: true},
}

// forEachEngine opens one database per engine and runs fn against each.
func forEachEngine(t *testing.T, fn func(t *testing.T, db Database)) {
	t.Helper()

	for _, engine := range []string{EngineBolt, EngineBadger} {
		engine := engine
		t.Run(engine, func(t *testing.T) {
			tmpDir, err := os.MkdirTemp("", "database_test")
			if err != nil {
				t.Fatalf("failed to create temp dir: %v", err)
			}
			defer os.RemoveAll(tmpDir)

			path := filepath.Join(tmpDir, "db")
			if engine == EngineBolt {
				path = filepath.Join(tmpDir, "db.bolt")
			}

			db, err := Open(engine, path, testSchema, Options{NoSync: true})
			if err != nil {
				t.Fatalf("open %s: %v", engine, err)
			}
			defer db.Close()

			fn(t, db)
		})
	}
}

func key64(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

func TestGetPutAbsent(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db Database) {
		if v, err := db.Get("plain", key64(1)); err != nil || v != nil {
			t.Fatalf("absent key: got (%v, %v), want (nil, nil)", v, err)
		}

		if err := db.Put("plain", key64(1), []byte("hello")); err != nil {
			t.Fatalf("put: %v", err)
		}
		v, err := db.Get("plain", key64(1))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(v, []byte("hello")) {
			t.Fatalf("get = %q, want %q", v, "hello")
		}

		if _, err := db.Get("nope", key64(1)); err == nil {
			t.Fatal("expected error for unknown column family")
		}
	})
}

func TestCompressedColumnRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db Database) {
		value := bytes.Repeat([]byte("transaction status "), 64)
		if err := db.Put("packed", key64(7), value); err != nil {
			t.Fatalf("put: %v", err)
		}

		got, err := db.Get("packed", key64(7))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, value) {
			t.Fatal("compressed round trip mismatch")
		}

		// GetBytes bypasses the codec; stored form must differ from the
		// logical value.
		raw, err := db.GetBytes("packed", key64(7))
		if err != nil {
			t.Fatalf("get bytes: %v", err)
		}
		if bytes.Equal(raw, value) {
			t.Fatal("expected stored bytes to be compressed")
		}
	})
}

func TestIteratorOrderAndSeek(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db Database) {
		for _, slot := range []uint64{5, 1, 9, 3, 7} {
			if err := db.Put("plain", key64(slot), key64(slot)); err != nil {
				t.Fatalf("put: %v", err)
			}
		}

		// Forward from the beginning.
		it, err := db.Iterator("plain", Forward, nil)
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		var got []uint64
		for ; it.Valid(); it.Next() {
			got = append(got, binary.BigEndian.Uint64(it.Key()))
		}
		it.Close()
		want := []uint64{1, 3, 5, 7, 9}
		if len(got) != len(want) {
			t.Fatalf("forward scan = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("forward scan = %v, want %v", got, want)
			}
		}

		// Forward seek lands on the first key >= seek.
		it, err = db.Iterator("plain", Forward, key64(4))
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		if !it.Valid() || binary.BigEndian.Uint64(it.Key()) != 5 {
			t.Fatalf("forward seek(4): want key 5")
		}
		it.Close()

		// Reverse seek lands on the greatest key <= seek.
		it, err = db.Iterator("plain", Reverse, key64(4))
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		if !it.Valid() || binary.BigEndian.Uint64(it.Key()) != 3 {
			t.Fatalf("reverse seek(4): want key 3")
		}
		it.Next()
		if !it.Valid() || binary.BigEndian.Uint64(it.Key()) != 1 {
			t.Fatalf("reverse next: want key 1")
		}
		it.Next()
		if it.Valid() {
			t.Fatal("reverse iterator should be exhausted")
		}
		it.Close()
	})
}

func TestRawIteratorSeek(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db Database) {
		for slot := uint64(0); slot < 4; slot++ {
			if err := db.Put("plain", key64(slot*2), []byte{byte(slot)}); err != nil {
				t.Fatalf("put: %v", err)
			}
		}

		it, err := db.RawIterator("plain")
		if err != nil {
			t.Fatalf("raw iterator: %v", err)
		}
		defer it.Close()

		it.Seek(key64(3))
		if !it.Valid() || binary.BigEndian.Uint64(it.Key()) != 4 {
			t.Fatal("raw seek(3): want key 4")
		}
		if !bytes.Equal(it.Value(), []byte{2}) {
			t.Fatalf("raw value = %v, want [2]", it.Value())
		}

		// Re-seek backward is allowed.
		it.Seek(key64(0))
		if !it.Valid() || binary.BigEndian.Uint64(it.Key()) != 0 {
			t.Fatal("raw seek(0): want key 0")
		}
	})
}

func TestDeleteRange(t *testing.T) {
	forEachEngine(t, func(t *testing.T, db Database) {
		for slot := uint64(0); slot < 10; slot++ {
			if err := db.Put("plain", key64(slot), []byte{byte(slot)}); err != nil {
				t.Fatalf("put: %v", err)
			}
		}

		if err := db.DeleteRange("plain", key64(3), key64(7)); err != nil {
			t.Fatalf("delete range: %v", err)
		}

		for slot := uint64(0); slot < 10; slot++ {
			v, err := db.Get("plain", key64(slot))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			deleted := slot >= 3 && slot < 7
			if deleted && v != nil {
				t.Fatalf("slot %d should be deleted", slot)
			}
			if !deleted && v == nil {
				t.Fatalf("slot %d should survive", slot)
			}
		}
	})
}
