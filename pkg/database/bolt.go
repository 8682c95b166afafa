package database

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltDB implements Database on BoltDB, one bucket per column family.
type BoltDB struct {
	db      *bolt.DB
	columns columnSet
	codec   *valueCodec
}

// OpenBolt creates or opens a BoltDB-backed database at path with the given
// column schema.
func OpenBolt(path string, schema []Column, opts Options) (*BoltDB, error) {
	columns, err := newColumnSet(schema)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   opts.NoSync,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, col := range schema {
				if _, err := tx.CreateBucketIfNotExists([]byte(col.Name)); err != nil {
					return fmt.Errorf("create bucket %s: %w", col.Name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	codec, err := newValueCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltDB{db: db, columns: columns, codec: codec}, nil
}

// Get retrieves a value by key, applying the column's value codec.
func (b *BoltDB) Get(cf string, key []byte) ([]byte, error) {
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
func (b *BoltDB) GetBytes(cf string, key []byte) ([]byte, error) {
	if _, err := b.columns.lookup(cf); err != nil {
		return nil, err
	}
	return b.getRaw(cf, key)
}

func (b *BoltDB) getRaw(cf string, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cf))
		if bucket == nil {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, cf)
		}
		if v := bucket.Get(key); v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores a key-value pair, applying the column's value codec.
func (b *BoltDB) Put(cf string, key, value []byte) error {
	col, err := b.columns.lookup(cf)
	if err != nil {
		return err
	}
	if col.Compressed {
		value = b.codec.encode(value)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cf)).Put(key, value)
	})
}

// Delete removes a key.
func (b *BoltDB) Delete(cf string, key []byte) error {
	if _, err := b.columns.lookup(cf); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cf)).Delete(key)
	})
}

// DeleteRange removes all keys in [start, end) from the column.
func (b *BoltDB) DeleteRange(cf string, start, end []byte) error {
	if _, err := b.columns.lookup(cf); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(cf)).Cursor()
		for k, _ := c.Seek(start); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Iterator returns an iterator positioned at seek, applying the column codec.
func (b *BoltDB) Iterator(cf string, dir Direction, seek []byte) (Iterator, error) {
	col, err := b.columns.lookup(cf)
	if err != nil {
		return nil, err
	}

	cur, err := b.newBoltCursor(cf, dir)
	if err != nil {
		return nil, err
	}
	cur.position(seek)
	return &boltIterator{boltCursor: cur, col: col, codec: b.codec}, nil
}

// RawIterator returns a forward byte-level iterator with explicit Seek.
func (b *BoltDB) RawIterator(cf string) (RawIterator, error) {
	if _, err := b.columns.lookup(cf); err != nil {
		return nil, err
	}

	cur, err := b.newBoltCursor(cf, Forward)
	if err != nil {
		return nil, err
	}
	cur.position(nil)
	return &boltRawIterator{boltCursor: cur}, nil
}

// Close releases the underlying engine.
func (b *BoltDB) Close() error {
	b.codec.close()
	return b.db.Close()
}

func (b *BoltDB) newBoltCursor(cf string, dir Direction) (*boltCursor, error) {
	// Iterators hold a read transaction open until Close so that cursor
	// positions stay stable across calls.
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("begin read txn: %w", err)
	}
	bucket := tx.Bucket([]byte(cf))
	if bucket == nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, cf)
	}
	return &boltCursor{
		tx:     tx,
		cursor: bucket.Cursor(),
		dir:    dir,
	}, nil
}

// boltCursor walks one bucket inside a pinned read transaction. It copies
// keys and values out of the transaction's mmap on each step.
type boltCursor struct {
	tx     *bolt.Tx
	cursor *bolt.Cursor
	dir    Direction

	key   []byte
	value []byte
	valid bool
}

func (c *boltCursor) position(seek []byte) {
	var k, v []byte
	switch {
	case seek == nil && c.dir == Forward:
		k, v = c.cursor.First()
	case seek == nil && c.dir == Reverse:
		k, v = c.cursor.Last()
	case c.dir == Forward:
		k, v = c.cursor.Seek(seek)
	default:
		// Reverse seek lands on the greatest key <= seek.
		k, v = c.cursor.Seek(seek)
		if k == nil {
			k, v = c.cursor.Last()
		} else if !bytes.Equal(k, seek) {
			k, v = c.cursor.Prev()
		}
	}
	c.set(k, v)
}

func (c *boltCursor) set(k, v []byte) {
	if k == nil {
		c.valid = false
		c.key = nil
		c.value = nil
		return
	}
	c.valid = true
	c.key = append(c.key[:0], k...)
	c.value = append(c.value[:0], v...)
}

func (c *boltCursor) Valid() bool {
	return c.valid
}

func (c *boltCursor) Key() []byte {
	return c.key
}

func (c *boltCursor) Next() {
	if !c.valid {
		return
	}
	var k, v []byte
	if c.dir == Reverse {
		k, v = c.cursor.Prev()
	} else {
		k, v = c.cursor.Next()
	}
	c.set(k, v)
}

func (c *boltCursor) Close() {
	c.valid = false
	c.tx.Rollback()
}

// boltIterator applies the column value codec on top of boltCursor.
type boltIterator struct {
	*boltCursor
	col   Column
	codec *valueCodec
}

// Value returns the value at the current position, decompressed when the
// column carries the codec flag.
func (it *boltIterator) Value() ([]byte, error) {
	if it.col.Compressed {
		return it.codec.decode(it.value)
	}
	return it.value, nil
}

// boltRawIterator exposes the raw byte-level surface.
type boltRawIterator struct {
	*boltCursor
}

// Seek repositions the iterator at the first key >= key.
func (it *boltRawIterator) Seek(key []byte) {
	k, v := it.cursor.Seek(key)
	it.set(k, v)
}

// Value returns the raw stored bytes at the current position.
func (it *boltRawIterator) Value() []byte {
	return it.value
}
