package ledger

import (
	"encoding/binary"
	"errors"

	"github.com/google/btree"
)

// ErrTruncatedMeta is returned when a serialized SlotMeta ends early.
var ErrTruncatedMeta = errors.New("truncated slot meta")

// IndexSet is an ordered set of shred indexes supporting ordered range
// queries. It backs SlotMeta.CompletedDataIndexes.
type IndexSet struct {
	tree *btree.BTreeG[uint64]
}

// NewIndexSet returns an empty index set.
func NewIndexSet() *IndexSet {
	return &IndexSet{tree: btree.NewOrderedG[uint64](8)}
}

// Insert adds an index to the set.
func (s *IndexSet) Insert(idx uint64) {
	s.tree.ReplaceOrInsert(idx)
}

// Remove deletes an index from the set.
func (s *IndexSet) Remove(idx uint64) {
	s.tree.Delete(idx)
}

// Contains reports membership.
func (s *IndexSet) Contains(idx uint64) bool {
	return s.tree.Has(idx)
}

// Len returns the number of indexes in the set.
func (s *IndexSet) Len() int {
	return s.tree.Len()
}

// AscendRange visits every index in [ge, lt) in ascending order until fn
// returns false.
func (s *IndexSet) AscendRange(ge, lt uint64, fn func(idx uint64) bool) {
	s.tree.AscendRange(ge, lt, fn)
}

// Ascend visits every index in ascending order until fn returns false.
func (s *IndexSet) Ascend(fn func(idx uint64) bool) {
	s.tree.Ascend(fn)
}

// Clone returns an independent copy of the set.
func (s *IndexSet) Clone() *IndexSet {
	return &IndexSet{tree: s.tree.Clone()}
}

// SlotMeta is the per-slot bookkeeping record maintained by the shred ingest
// path and consumed by the reader.
type SlotMeta struct {
	// Slot this record describes.
	Slot uint64

	// Received is one past the highest shred index seen; 0 means no shred
	// has been observed.
	Received uint64

	// Consumed is the next missing data-shred index: every data shred
	// below it is present.
	Consumed uint64

	// ParentSlot links to the slot's ancestor, when known.
	ParentSlot *uint64

	// NextSlots lists child slots observed to chain off this one.
	NextSlots []uint64

	// LastIndex is the index of the shred flagged last-in-slot, when seen.
	LastIndex *uint64

	// CompletedDataIndexes holds every shred index at which a data block
	// ends. Consumed is never a member.
	CompletedDataIndexes *IndexSet
}

// NewSlotMeta returns an empty meta for slot.
func NewSlotMeta(slot uint64) *SlotMeta {
	return &SlotMeta{Slot: slot, CompletedDataIndexes: NewIndexSet()}
}

// IsFull reports whether every shred of the slot has been observed.
func (m *SlotMeta) IsFull() bool {
	return m.LastIndex != nil && m.Consumed == *m.LastIndex+1
}

// IsParentSet reports whether the parent link is known.
func (m *SlotMeta) IsParentSet() bool {
	return m.ParentSlot != nil
}

// Serialize encodes the meta to its stored little-endian form.
func (m *SlotMeta) Serialize() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, m.Slot)
	buf = binary.LittleEndian.AppendUint64(buf, m.Received)
	buf = binary.LittleEndian.AppendUint64(buf, m.Consumed)
	buf = appendOptionalU64(buf, m.ParentSlot)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.NextSlots)))
	for _, slot := range m.NextSlots {
		buf = binary.LittleEndian.AppendUint64(buf, slot)
	}
	buf = appendOptionalU64(buf, m.LastIndex)
	if m.CompletedDataIndexes == nil {
		buf = binary.LittleEndian.AppendUint64(buf, 0)
		return buf
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.CompletedDataIndexes.Len()))
	m.CompletedDataIndexes.Ascend(func(idx uint64) bool {
		buf = binary.LittleEndian.AppendUint64(buf, idx)
		return true
	})
	return buf
}

// DeserializeSlotMeta decodes a stored meta.
func DeserializeSlotMeta(b []byte) (*SlotMeta, error) {
	r := &byteReader{buf: b}
	m := &SlotMeta{CompletedDataIndexes: NewIndexSet()}

	var err error
	if m.Slot, err = r.u64(); err != nil {
		return nil, ErrTruncatedMeta
	}
	if m.Received, err = r.u64(); err != nil {
		return nil, ErrTruncatedMeta
	}
	if m.Consumed, err = r.u64(); err != nil {
		return nil, ErrTruncatedMeta
	}
	if m.ParentSlot, err = readOptionalU64(r); err != nil {
		return nil, ErrTruncatedMeta
	}
	n, err := r.u64()
	if err != nil {
		return nil, ErrTruncatedMeta
	}
	m.NextSlots = make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		slot, err := r.u64()
		if err != nil {
			return nil, ErrTruncatedMeta
		}
		m.NextSlots = append(m.NextSlots, slot)
	}
	if m.LastIndex, err = readOptionalU64(r); err != nil {
		return nil, ErrTruncatedMeta
	}
	n, err = r.u64()
	if err != nil {
		return nil, ErrTruncatedMeta
	}
	for i := uint64(0); i < n; i++ {
		idx, err := r.u64()
		if err != nil {
			return nil, ErrTruncatedMeta
		}
		m.CompletedDataIndexes.Insert(idx)
	}
	return m, nil
}

func appendOptionalU64(buf []byte, v *uint64) []byte {
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return binary.LittleEndian.AppendUint64(buf, *v)
}

func readOptionalU64(r *byteReader) (*uint64, error) {
	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := r.u64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}
