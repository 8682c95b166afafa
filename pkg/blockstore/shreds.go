package blockstore

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/fortiblox/X1-Ledger/pkg/database"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// GetDataShred returns the raw bytes of one data shred, or nil when absent.
// Present shreds are structurally validated.
func (r *Reader) GetDataShred(slot, index uint64) ([]byte, error) {
	r.metrics.inc("get_data_shred")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	raw, err := r.db.GetBytes(cfDataShred, EncodeShredKey(slot, index))
	if err != nil || raw == nil {
		return nil, err
	}
	if err := ledger.ValidateDataShredPayload(raw); err != nil {
		return nil, fmt.Errorf("%w: slot %d index %d: %v", ErrInvalidDataShred, slot, index, err)
	}
	return raw, nil
}

// GetCodeShred returns the raw bytes of one code shred, or nil when absent.
func (r *Reader) GetCodeShred(slot, index uint64) ([]byte, error) {
	r.metrics.inc("get_code_shred")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return r.db.GetBytes(cfCodeShred, EncodeShredKey(slot, index))
}

// GetDataShredsForSlot returns the slot's data shreds from startIndex on.
func (r *Reader) GetDataShredsForSlot(slot, startIndex uint64) ([]*ledger.Shred, error) {
	r.metrics.inc("get_data_shreds_for_slot")
	return r.shredsForSlot(cfDataShred, slot, startIndex)
}

// GetCodeShredsForSlot returns the slot's code shreds from startIndex on.
func (r *Reader) GetCodeShredsForSlot(slot, startIndex uint64) ([]*ledger.Shred, error) {
	r.metrics.inc("get_code_shreds_for_slot")
	return r.shredsForSlot(cfCodeShred, slot, startIndex)
}

func (r *Reader) shredsForSlot(cf string, slot, startIndex uint64) ([]*ledger.Shred, error) {
	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	it, err := r.db.Iterator(cf, database.Forward, EncodeShredKey(slot, startIndex))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var shreds []*ledger.Shred
	for ; it.Valid(); it.Next() {
		if len(it.Key()) < 16 {
			return nil, fmt.Errorf("%w: %q column", ErrIteratorMissingKey, cf)
		}
		keySlot, index := DecodeShredKey(it.Key())
		if keySlot != slot {
			break
		}
		raw, err := it.Value()
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: slot %d index %d", ErrIteratorMissingValue, slot, index)
		}
		shred, err := ledger.DecodeShred(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d index %d: %v", ErrInvalidShredData, slot, index, err)
		}
		shreds = append(shreds, shred)
	}
	return shreds, nil
}

// FindMissingDataIndexes scans for missing data-shred indexes of slot within
// [startIndex, endIndex), returning at most maxMissing strictly increasing
// indexes. Holes beyond shreds whose reference tick has not yet aged past
// deferThresholdTicks (measured from firstTimestampMs) are not reported, so
// repair is not requested for data the leader may still be sending.
func (r *Reader) FindMissingDataIndexes(slot uint64, firstTimestampMs int64, deferThresholdTicks, startIndex, endIndex, maxMissing uint64) ([]uint64, error) {
	r.metrics.inc("find_missing_data_indexes")
	started := time.Now()
	defer func() {
		r.metrics.missingIndexScan.Observe(float64(time.Since(started).Milliseconds()))
	}()

	if startIndex >= endIndex || maxMissing == 0 {
		return nil, nil
	}

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	var ticksSinceFirstInsert uint64
	if nowMs := time.Now().UnixMilli(); nowMs > firstTimestampMs {
		ticksSinceFirstInsert = uint64(ledger.TicksPerSecond) * uint64(nowMs-firstTimestampMs) / 1000
	}

	it, err := r.db.RawIterator(cfDataShred)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	it.Seek(EncodeShredKey(slot, startIndex))

	missing := make([]uint64, 0, maxMissing)
	prev := startIndex
	for it.Valid() {
		curSlot, curIndex := DecodeShredKey(it.Key())

		upper := curIndex
		if curSlot > slot {
			upper = endIndex
		} else {
			tick, err := ledger.ReferenceTickFromPayload(it.Value())
			if err != nil {
				return nil, fmt.Errorf("%w: slot %d index %d: %v", ErrInvalidShredData, slot, curIndex, err)
			}
			// A hole above a shred that has not timed out yet is
			// not missing; neither is anything after it.
			if ticksSinceFirstInsert < uint64(tick)+deferThresholdTicks {
				return missing, nil
			}
		}
		if upper > endIndex {
			upper = endIndex
		}

		for i := prev; i < upper; i++ {
			missing = append(missing, i)
			if uint64(len(missing)) >= maxMissing {
				return missing, nil
			}
		}
		if curSlot > slot || upper >= endIndex {
			return missing, nil
		}

		prev = curIndex + 1
		it.Next()
	}

	// The iterator ran out before the end of the range; everything after
	// the last observed shred is missing.
	for i := prev; i < endIndex; i++ {
		missing = append(missing, i)
		if uint64(len(missing)) >= maxMissing {
			break
		}
	}
	return missing, nil
}

// IsShredDuplicate compares an incoming shred against the stored shred of
// the same (slot, index, kind). It returns nil when no conflicting payload
// exists, and otherwise the stored payload adjusted to the incoming shred's
// retransmitter signature.
func (r *Reader) IsShredDuplicate(shred *ledger.Shred) ([]byte, error) {
	r.metrics.inc("is_shred_duplicate")

	cf := cfDataShred
	if shred.Kind == ledger.ShredCode {
		cf = cfCodeShred
	}

	guard, err := r.checkLowestCleanupSlot(shred.Slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	stored, err := r.db.GetBytes(cf, EncodeShredKey(shred.Slot, uint64(shred.Index)))
	if err != nil || stored == nil {
		return nil, err
	}

	existing := make([]byte, len(stored))
	copy(existing, stored)

	// Retransmitter signatures differ legitimately between copies of the
	// same shred, so the stored copy is rewritten to the incoming one
	// before comparing. Without an incoming signature the comparison runs
	// on the copies as-is, which can report a duplicate that differs only
	// in its retransmitter.
	if shred.Retransmitter != nil {
		if _, err := ledger.SetRetransmitter(existing, *shred.Retransmitter); err != nil {
			log.Printf("blockstore: slot %d index %d: retransmitter overwrite failed: %v",
				shred.Slot, shred.Index, err)
		}
	}

	if bytes.Equal(existing, shred.Encode()) {
		return nil, nil
	}
	return existing, nil
}
