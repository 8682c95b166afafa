package database

import "fmt"

// Engine names accepted by Open.
const (
	EngineBolt   = "bolt"
	EngineBadger = "badger"
)

// Options holds engine-independent open options.
type Options struct {
	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// Open opens a database of the named engine at path with the given column
// schema. Engine selection is a deployment choice; both backends satisfy the
// same iterator and lookup contract.
func Open(engine, path string, schema []Column, opts Options) (Database, error) {
	switch engine {
	case EngineBolt:
		return OpenBolt(path, schema, opts)
	case EngineBadger:
		return OpenBadger(path, schema, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}
