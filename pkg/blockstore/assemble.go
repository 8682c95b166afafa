package blockstore

import (
	"fmt"

	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// GetSlotEntries returns the slot's entries beginning at startIndex.
func (r *Reader) GetSlotEntries(slot, startIndex uint64) ([]ledger.Entry, error) {
	entries, _, _, err := r.GetSlotEntriesWithShredInfo(slot, startIndex, false)
	return entries, err
}

// GetSlotEntriesWithShredInfo returns the slot's entries beginning at
// startIndex together with the number of shreds backing them and whether the
// slot is full.
func (r *Reader) GetSlotEntriesWithShredInfo(slot, startIndex uint64, allowDead bool) ([]ledger.Entry, uint64, bool, error) {
	r.metrics.inc("get_slot_entries_with_shred_info")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, 0, false, err
	}
	defer guard.Release()

	return r.slotEntriesWithShredInfoLocked(slot, startIndex, allowDead)
}

// slotEntriesWithShredInfoLocked resolves completed ranges, checks the dead
// mark, and assembles entries. The range computation happens before the dead
// check so a slot marked dead between the two reads cannot yield a torn
// result.
func (r *Reader) slotEntriesWithShredInfoLocked(slot, startIndex uint64, allowDead bool) ([]ledger.Entry, uint64, bool, error) {
	meta, err := r.slotMeta(slot)
	if err != nil {
		return nil, 0, false, err
	}
	if meta == nil {
		return nil, 0, false, nil
	}

	ranges, err := completedRanges(startIndex, meta)
	if err != nil {
		return nil, 0, false, err
	}

	dead, err := r.isDeadLocked(slot)
	if err != nil {
		return nil, 0, false, err
	}
	if dead && !allowDead {
		return nil, 0, false, fmt.Errorf("%w: slot %d", ErrDeadSlot, slot)
	}

	if len(ranges) == 0 {
		return nil, 0, false, nil
	}

	entries, err := r.entriesInRangesLocked(slot, ranges)
	if err != nil {
		return nil, 0, false, err
	}

	numShreds := ranges[len(ranges)-1].end - startIndex + 1
	return entries, numShreds, meta.IsFull(), nil
}

// entriesInRangesLocked fetches every data shred spanning the given ranges,
// deshreds each range into its serialized-entry buffer, and decodes the
// entries in range order. Ranges are contiguous and sorted.
func (r *Reader) entriesInRangesLocked(slot uint64, ranges []indexRange) ([]ledger.Entry, error) {
	first := ranges[0].start
	last := ranges[len(ranges)-1].end

	shreds := make([]*ledger.Shred, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		raw, err := r.db.GetBytes(cfDataShred, EncodeShredKey(slot, idx))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			// The meta promised this shred. Above the cleanup
			// boundary that promise must hold.
			if slot > r.lowestCleanupSlot {
				return nil, fmt.Errorf("%w: slot %d shred %d missing above cleanup boundary",
					ErrCorruptedBlockstore, slot, idx)
			}
			return nil, fmt.Errorf("%w: slot %d shred %d missing", ErrInvalidShredData, slot, idx)
		}
		shred, err := ledger.DecodeShred(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d shred %d: %v", ErrInvalidShredData, slot, idx, err)
		}
		shreds = append(shreds, shred)
	}

	var entries []ledger.Entry
	for _, rng := range ranges {
		group := shreds[rng.start-first : rng.end-first+1]

		lastShred := group[len(group)-1]
		if !lastShred.DataComplete() && !lastShred.LastInSlot() {
			return nil, fmt.Errorf("%w: slot %d shred %d ends a range without a completion flag",
				ErrInvalidShredData, slot, rng.end)
		}

		buf, err := ledger.Deshred(group)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d range [%d, %d]: %v",
				ErrInvalidShredData, slot, rng.start, rng.end, err)
		}
		decoded, err := ledger.DeserializeEntries(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d range [%d, %d]: %v",
				ErrInvalidShredData, slot, rng.start, rng.end, err)
		}
		entries = append(entries, decoded...)
	}
	return entries, nil
}
