package blockstore

import (
	"fmt"

	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// indexRange is an inclusive span of data-shred indexes forming one complete
// data block.
type indexRange struct {
	start uint64
	end   uint64
}

// completedRanges derives the contiguous shred-index ranges that form
// complete data blocks, starting at startIndex. Each completed boundary in
// [startIndex, consumed) ends one range.
func completedRanges(startIndex uint64, meta *ledger.SlotMeta) ([]indexRange, error) {
	// Consumed is the next missing shred; a data block can never end on
	// a missing shred.
	if meta.CompletedDataIndexes.Contains(meta.Consumed) {
		return nil, fmt.Errorf("%w: slot %d consumed index %d marked completed",
			ErrCorruptedBlockstore, meta.Slot, meta.Consumed)
	}

	var ranges []indexRange
	begin := startIndex
	meta.CompletedDataIndexes.AscendRange(startIndex, meta.Consumed, func(end uint64) bool {
		ranges = append(ranges, indexRange{start: begin, end: end})
		begin = end + 1
		return true
	})
	return ranges, nil
}
