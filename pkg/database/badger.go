package database

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB implements Database on BadgerDB. Column families are mapped to a
// one-byte key prefix assigned by schema order.
type BadgerDB struct {
	db       *badger.DB
	columns  columnSet
	prefixes map[string]byte
	codec    *valueCodec
}

// OpenBadger creates or opens a BadgerDB-backed database at path with the
// given column schema.
func OpenBadger(path string, schema []Column, opts Options) (*BadgerDB, error) {
	columns, err := newColumnSet(schema)
	if err != nil {
		return nil, err
	}

	prefixes := make(map[string]byte, len(schema))
	for i, col := range schema {
		if i > 0xff {
			return nil, fmt.Errorf("schema too large: %d column families", len(schema))
		}
		prefixes[col.Name] = byte(i)
	}

	bopts := badger.DefaultOptions(path).
		WithReadOnly(opts.ReadOnly).
		WithSyncWrites(!opts.NoSync).
		WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	codec, err := newValueCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BadgerDB{
		db:       db,
		columns:  columns,
		prefixes: prefixes,
		codec:    codec,
	}, nil
}

func (b *BadgerDB) fullKey(cf string, key []byte) []byte {
	full := make([]byte, 1+len(key))
	full[0] = b.prefixes[cf]
	copy(full[1:], key)
	return full
}

// Get retrieves a value by key, applying the column's value codec.
func (b *BadgerDB) Get(cf string, key []byte) ([]byte, error) {
	col, err := b.columns.lookup(cf)
	if err != nil {
		return nil, err
	}

	raw, err := b.getRaw(cf, key)
	if err != nil || raw == nil {
		return nil, err
	}
	if col.Compressed {
		return b.codec.decode(raw)
	}
	return raw, nil
}

// GetBytes retrieves the raw stored bytes for a key.
func (b *BadgerDB) GetBytes(cf string, key []byte) ([]byte, error) {
	if _, err := b.columns.lookup(cf); err != nil {
		return nil, err
	}
	return b.getRaw(cf, key)
}

func (b *BadgerDB) getRaw(cf string, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.fullKey(cf, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores a key-value pair, applying the column's value codec.
func (b *BadgerDB) Put(cf string, key, value []byte) error {
	col, err := b.columns.lookup(cf)
	if err != nil {
		return err
	}
	if col.Compressed {
		value = b.codec.encode(value)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.fullKey(cf, key), value)
	})
}

// Delete removes a key.
func (b *BadgerDB) Delete(cf string, key []byte) error {
	if _, err := b.columns.lookup(cf); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.fullKey(cf, key))
	})
}

// DeleteRange removes all keys in [start, end) from the column.
func (b *BadgerDB) DeleteRange(cf string, start, end []byte) error {
	if _, err := b.columns.lookup(cf); err != nil {
		return err
	}

	// Collect under a read txn, then delete in a write txn. Badger has no
	// native range delete.
	var keys [][]byte
	prefix := []byte{b.prefixes[cf]}
	fullEnd := b.fullKey(cf, end)
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = prefix
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(b.fullKey(cf, start)); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if bytes.Compare(k, fullEnd) >= 0 {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Iterator returns an iterator positioned at seek, applying the column codec.
func (b *BadgerDB) Iterator(cf string, dir Direction, seek []byte) (Iterator, error) {
	col, err := b.columns.lookup(cf)
	if err != nil {
		return nil, err
	}

	cur := b.newBadgerCursor(cf, dir)
	cur.position(seek)
	return &badgerIterator{badgerCursor: cur, col: col, codec: b.codec}, nil
}

// RawIterator returns a forward byte-level iterator with explicit Seek.
func (b *BadgerDB) RawIterator(cf string) (RawIterator, error) {
	if _, err := b.columns.lookup(cf); err != nil {
		return nil, err
	}

	cur := b.newBadgerCursor(cf, Forward)
	cur.position(nil)
	return &badgerRawIterator{badgerCursor: cur}, nil
}

// Close releases the underlying engine.
func (b *BadgerDB) Close() error {
	b.codec.close()
	return b.db.Close()
}

func (b *BadgerDB) newBadgerCursor(cf string, dir Direction) *badgerCursor {
	txn := b.db.NewTransaction(false)
	iopts := badger.DefaultIteratorOptions
	iopts.Prefix = []byte{b.prefixes[cf]}
	iopts.Reverse = dir == Reverse
	return &badgerCursor{
		txn:    txn,
		it:     txn.NewIterator(iopts),
		prefix: b.prefixes[cf],
		dir:    dir,
	}
}

// badgerCursor walks one column prefix inside a pinned read transaction.
type badgerCursor struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix byte
	dir    Direction

	key   []byte
	value []byte
	valid bool
	err   error
}

func (c *badgerCursor) position(seek []byte) {
	switch {
	case seek == nil && c.dir == Forward:
		c.it.Seek([]byte{c.prefix})
	case seek == nil && c.dir == Reverse:
		// Seek past every key in the column; reverse iteration lands on
		// the last one.
		c.seekFull(bytes.Repeat([]byte{0xff}, 64))
	default:
		c.seekFull(seek)
	}
	c.load()
}

func (c *badgerCursor) seekFull(key []byte) {
	full := make([]byte, 1+len(key))
	full[0] = c.prefix
	copy(full[1:], key)
	c.it.Seek(full)
}

func (c *badgerCursor) load() {
	if !c.it.Valid() {
		c.valid = false
		c.key = nil
		c.value = nil
		return
	}
	item := c.it.Item()
	full := item.KeyCopy(nil)
	c.key = full[1:]
	c.value, c.err = item.ValueCopy(nil)
	c.valid = c.err == nil
}

func (c *badgerCursor) Valid() bool {
	return c.valid
}

func (c *badgerCursor) Key() []byte {
	return c.key
}

func (c *badgerCursor) Next() {
	if !c.valid {
		return
	}
	c.it.Next()
	c.load()
}

func (c *badgerCursor) Close() {
	c.valid = false
	c.it.Close()
	c.txn.Discard()
}

// badgerIterator applies the column value codec on top of badgerCursor.
type badgerIterator struct {
	*badgerCursor
	col   Column
	codec *valueCodec
}

// Value returns the value at the current position, decompressed when the
// column carries the codec flag.
func (it *badgerIterator) Value() ([]byte, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.col.Compressed {
		return it.codec.decode(it.value)
	}
	return it.value, nil
}

// badgerRawIterator exposes the raw byte-level surface.
type badgerRawIterator struct {
	*badgerCursor
}

// Seek repositions the iterator at the first key >= key.
func (it *badgerRawIterator) Seek(key []byte) {
	it.seekFull(key)
	it.load()
}

// Value returns the raw stored bytes at the current position.
func (it *badgerRawIterator) Value() []byte {
	return it.value
}
