package blockstore

import (
	"github.com/fortiblox/X1-Ledger/pkg/database"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// SlotMetaIterator walks slot metadata records in ascending slot order.
// Close it on every exit path.
type SlotMetaIterator struct {
	it database.Iterator
}

// SlotMetaIterator returns an iterator over slot metas starting at start.
func (r *Reader) SlotMetaIterator(start uint64) (*SlotMetaIterator, error) {
	r.metrics.inc("slot_meta_iterator")

	it, err := r.db.Iterator(cfSlotMeta, database.Forward, EncodeSlotKey(start))
	if err != nil {
		return nil, err
	}
	return &SlotMetaIterator{it: it}, nil
}

// Next yields the next slot meta, or ok=false at the end.
func (it *SlotMetaIterator) Next() (*ledger.SlotMeta, bool, error) {
	if !it.it.Valid() {
		return nil, false, nil
	}
	raw, err := it.it.Value()
	if err != nil {
		return nil, false, err
	}
	meta, err := ledger.DeserializeSlotMeta(raw)
	if err != nil {
		return nil, false, err
	}
	it.it.Next()
	return meta, true, nil
}

// Close releases the underlying database iterator.
func (it *SlotMetaIterator) Close() {
	it.it.Close()
}

// RootedSlotIterator walks rooted slots in ascending order. Close it on
// every exit path.
type RootedSlotIterator struct {
	it database.Iterator
}

// RootedSlotIterator returns an iterator over roots starting at start.
func (r *Reader) RootedSlotIterator(start uint64) (*RootedSlotIterator, error) {
	r.metrics.inc("rooted_slot_iterator")

	it, err := r.db.Iterator(cfRoots, database.Forward, EncodeSlotKey(start))
	if err != nil {
		return nil, err
	}
	return &RootedSlotIterator{it: it}, nil
}

// Next yields the next rooted slot, or ok=false at the end.
func (it *RootedSlotIterator) Next() (uint64, bool, error) {
	if !it.it.Valid() {
		return 0, false, nil
	}
	slot := DecodeSlotKey(it.it.Key())
	it.it.Next()
	return slot, true, nil
}

// Close releases the underlying database iterator.
func (it *RootedSlotIterator) Close() {
	it.it.Close()
}
