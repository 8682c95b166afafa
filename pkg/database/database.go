// Package database provides the column-family key/value contract consumed by
// the ledger blockstore.
//
// The blockstore never depends on a concrete engine: it sees a set of named
// column families, point lookups, and iterators ordered by the lexicographic
// order of serialized keys. Two backends are provided, BoltDB (default) and
// BadgerDB, selected through Open.
//
// Keys are serialized with big-endian integer fields so that byte order
// equals numeric order; composite keys serialize field by field.
package database

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnknownColumn is returned when a column family is not in the schema.
	ErrUnknownColumn = errors.New("unknown column family")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrUnknownEngine is returned by Open for an unrecognized engine name.
	ErrUnknownEngine = errors.New("unknown database engine")
)

// Direction selects iteration order.
type Direction int

const (
	// Forward iterates keys in ascending lexicographic order.
	Forward Direction = iota

	// Reverse iterates keys in descending lexicographic order.
	Reverse
)

// Column describes one column family in the schema.
type Column struct {
	// Name is the column family name, unique within the schema.
	Name string

	// Compressed enables the zstd value codec for this column. Values
	// read through Get and Iterator are transparently decompressed;
	// GetBytes and RawIterator bypass the codec.
	Compressed bool
}

// Database is the narrow engine contract.
//
// Get returns (nil, nil) for absent keys. The write methods exist for the
// ledger ingest path and for tests; the read side never calls them.
type Database interface {
	// Get retrieves a value by key, applying the column's value codec.
	Get(cf string, key []byte) ([]byte, error)

	// GetBytes retrieves the raw stored bytes for a key, bypassing codecs.
	GetBytes(cf string, key []byte) ([]byte, error)

	// Put stores a key-value pair, applying the column's value codec.
	Put(cf string, key, value []byte) error

	// Delete removes a key.
	Delete(cf string, key []byte) error

	// DeleteRange removes all keys in [start, end) from the column.
	DeleteRange(cf string, start, end []byte) error

	// Iterator returns an iterator positioned at seek (or at the first /
	// last key when seek is nil), applying the column's value codec.
	Iterator(cf string, dir Direction, seek []byte) (Iterator, error)

	// RawIterator returns a forward byte-level iterator with explicit
	// Seek, bypassing value codecs.
	RawIterator(cf string) (RawIterator, error)

	// Close releases the underlying engine.
	Close() error
}

// Iterator walks a column family in key order. The caller must Close it on
// every exit path; Key and Value are only valid while Valid returns true.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() ([]byte, error)
	Next()
	Close()
}

// RawIterator is a forward iterator with explicit seeking, used where the
// caller needs to position at a serialized key and read raw value bytes.
type RawIterator interface {
	Seek(key []byte)
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Close()
}

// columnSet indexes a schema by name.
type columnSet map[string]Column

func newColumnSet(schema []Column) (columnSet, error) {
	set := make(columnSet, len(schema))
	for _, col := range schema {
		if _, ok := set[col.Name]; ok {
			return nil, fmt.Errorf("duplicate column family %q", col.Name)
		}
		set[col.Name] = col
	}
	return set, nil
}

func (s columnSet) lookup(name string) (Column, error) {
	col, ok := s[name]
	if !ok {
		return Column{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return col, nil
}

// valueCodec compresses and decompresses column values with zstd.
type valueCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newValueCodec() (*valueCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &valueCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *valueCodec) encode(value []byte) []byte {
	return c.encoder.EncodeAll(value, nil)
}

func (c *valueCodec) decode(value []byte) ([]byte, error) {
	return c.decoder.DecodeAll(value, nil)
}

func (c *valueCodec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
