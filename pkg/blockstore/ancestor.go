package blockstore

// AncestorIterator walks a slot's ancestry through parent links. It holds
// only the reader and the next slot to yield, so chains of any depth carry
// no back-references.
type AncestorIterator struct {
	reader *Reader
	next   *uint64
}

// NewAncestorIterator returns an iterator whose first yield is start itself.
// Iteration ends after slot 0 is yielded or when a slot's metadata is
// absent.
func NewAncestorIterator(r *Reader, start uint64) *AncestorIterator {
	s := start
	return &AncestorIterator{reader: r, next: &s}
}

// Next yields the next ancestor. It returns ok=false when the walk is
// exhausted, and a non-nil error only on database failure.
func (it *AncestorIterator) Next() (slot uint64, ok bool, err error) {
	if it.next == nil {
		return 0, false, nil
	}
	slot = *it.next

	if slot == 0 {
		it.next = nil
		return slot, true, nil
	}

	meta, err := it.reader.slotMeta(slot)
	if err != nil {
		return 0, false, err
	}
	if meta == nil {
		it.next = nil
		return 0, false, nil
	}
	it.next = meta.ParentSlot
	return slot, true, nil
}

// confirmedUnrootedAncestors collects every ancestor of highest that sits
// above the current max root. These are the optimistically confirmed slots a
// status query may accept in addition to rooted slots.
func (r *Reader) confirmedUnrootedAncestors(highest uint64) (map[uint64]bool, error) {
	unrooted := make(map[uint64]bool)
	maxRoot := r.maxRoot.Load()

	it := NewAncestorIterator(r, highest)
	for {
		slot, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok || slot <= maxRoot {
			return unrooted, nil
		}
		unrooted[slot] = true
	}
}
