package blockstore

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/database"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// IsFull reports whether every shred of slot has been observed. Absent slots
// are not full.
func (r *Reader) IsFull(slot uint64) (bool, error) {
	r.metrics.inc("is_full")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return false, err
	}
	defer guard.Release()

	meta, err := r.slotMeta(slot)
	if err != nil {
		return false, err
	}
	return meta != nil && meta.IsFull(), nil
}

// SlotRangeConnected reports whether the slots [start, end] form a connected
// chain of full slots. The traversal requires every visited slot to exist,
// be full, and chain to its immediate successor; an absent or incomplete
// slot anywhere on the walk fails the whole range.
func (r *Reader) SlotRangeConnected(start, end uint64) (bool, error) {
	r.metrics.inc("slot_range_connected")

	if start == end {
		return true, nil
	}
	if start > end {
		return false, nil
	}

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	queue := []uint64{start}
	for len(queue) > 0 {
		slot := queue[0]
		queue = queue[1:]

		meta, err := r.slotMeta(slot)
		if err != nil {
			return false, err
		}
		if meta == nil || !meta.IsFull() {
			return false, nil
		}
		if slot == end {
			return true, nil
		}

		for _, child := range meta.NextSlots {
			// Connected ranges are contiguous by construction; a
			// child that skips ahead breaks the chain.
			if child != slot+1 {
				continue
			}
			if child <= end {
				queue = append(queue, child)
			}
		}
	}
	return false, nil
}

// GetFirstAvailableBlock returns the earliest slot that can serve a complete
// block. Genesis (slot 0) is always complete; any later first root lacks its
// parent blockhash, so the second root is the first servable block.
func (r *Reader) GetFirstAvailableBlock() (uint64, error) {
	r.metrics.inc("get_first_available_block")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	return r.firstAvailableBlockLocked()
}

func (r *Reader) firstAvailableBlockLocked() (uint64, error) {
	lowest, err := r.lowestSlotWithGenesisLocked()
	if err != nil {
		return 0, err
	}

	it, err := r.db.Iterator(cfRoots, database.Forward, EncodeSlotKey(lowest))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	if !it.Valid() {
		return 0, nil
	}
	if DecodeSlotKey(it.Key()) == 0 {
		return 0, nil
	}
	it.Next()
	if !it.Valid() {
		return 0, nil
	}
	return DecodeSlotKey(it.Key()), nil
}

// LowestSlotWithGenesis returns the lowest slot, including genesis, with any
// shred data, falling back to the max root on an empty store.
func (r *Reader) LowestSlotWithGenesis() (uint64, error) {
	r.metrics.inc("lowest_slot_with_genesis")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	return r.lowestSlotWithGenesisLocked()
}

func (r *Reader) lowestSlotWithGenesisLocked() (uint64, error) {
	it, err := r.db.Iterator(cfSlotMeta, database.Forward, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		raw, err := it.Value()
		if err != nil {
			return 0, err
		}
		meta, err := ledger.DeserializeSlotMeta(raw)
		if err != nil {
			return 0, err
		}
		if meta.Received > 0 {
			return meta.Slot, nil
		}
	}
	return r.maxRoot.Load(), nil
}

// LowestSlot returns the lowest non-genesis slot with shred data, falling
// back to the max root on an empty store.
func (r *Reader) LowestSlot() (uint64, error) {
	r.metrics.inc("lowest_slot")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	it, err := r.db.Iterator(cfSlotMeta, database.Forward, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		raw, err := it.Value()
		if err != nil {
			return 0, err
		}
		meta, err := ledger.DeserializeSlotMeta(raw)
		if err != nil {
			return 0, err
		}
		if meta.Slot > 0 && meta.Received > 0 {
			return meta.Slot, nil
		}
	}
	return r.maxRoot.Load(), nil
}

// HighestSlot returns the highest slot with a metadata record, or nil on an
// empty store.
func (r *Reader) HighestSlot() (*uint64, error) {
	r.metrics.inc("highest_slot")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	it, err := r.db.Iterator(cfSlotMeta, database.Reverse, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	if !it.Valid() {
		return nil, nil
	}
	slot := DecodeSlotKey(it.Key())
	return &slot, nil
}

// IsRoot reports whether slot is rooted.
func (r *Reader) IsRoot(slot uint64) (bool, error) {
	r.metrics.inc("is_root")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	return r.isRootLocked(slot)
}

// IsDead reports whether slot is marked dead.
func (r *Reader) IsDead(slot uint64) (bool, error) {
	r.metrics.inc("is_dead")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return false, err
	}
	defer guard.Release()

	return r.isDeadLocked(slot)
}

func (r *Reader) isDeadLocked(slot uint64) (bool, error) {
	raw, err := r.db.Get(cfDeadSlots, EncodeSlotKey(slot))
	if err != nil {
		return false, err
	}
	return len(raw) > 0 && raw[0] != 0, nil
}

// IsSkipped reports whether slot was passed over: it has no root entry and
// sits strictly between the lowest and highest known roots.
func (r *Reader) IsSkipped(slot uint64) (bool, error) {
	r.metrics.inc("is_skipped")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	rooted, err := r.isRootLocked(slot)
	if err != nil {
		return false, err
	}
	if rooted {
		return false, nil
	}
	lowestRoot, ok, err := r.lowestRootLocked()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return lowestRoot < slot && slot < r.maxRoot.Load(), nil
}

// GetBankHash returns the frozen bank hash recorded for slot, or nil.
func (r *Reader) GetBankHash(slot uint64) (*types.Hash, error) {
	r.metrics.inc("get_bank_hash")

	info, err := r.bankHashInfo(slot)
	if err != nil || info == nil {
		return nil, err
	}
	return &info.FrozenHash, nil
}

// IsDuplicateConfirmed reports whether slot was confirmed despite a
// duplicate proof. Slots with no bank hash record are not.
func (r *Reader) IsDuplicateConfirmed(slot uint64) (bool, error) {
	r.metrics.inc("is_duplicate_confirmed")

	info, err := r.bankHashInfo(slot)
	if err != nil || info == nil {
		return false, err
	}
	return info.IsDuplicateConfirmed, nil
}

func (r *Reader) bankHashInfo(slot uint64) (*ledger.BankHashInfo, error) {
	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	raw, err := r.db.Get(cfBankHash, EncodeSlotKey(slot))
	if err != nil || raw == nil {
		return nil, err
	}
	return ledger.DeserializeBankHashInfo(raw)
}

// GetOptimisticSlot returns the optimistic confirmation record for slot, or
// nil.
func (r *Reader) GetOptimisticSlot(slot uint64) (*ledger.OptimisticSlotInfo, error) {
	r.metrics.inc("get_optimistic_slot")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	raw, err := r.db.Get(cfOptimisticSlots, EncodeSlotKey(slot))
	if err != nil || raw == nil {
		return nil, err
	}
	return ledger.DeserializeOptimisticSlotInfo(raw)
}

// OptimisticSlot is one element of GetLatestOptimisticSlots.
type OptimisticSlot struct {
	Slot      uint64
	Hash      types.Hash
	Timestamp int64
}

// GetLatestOptimisticSlots returns up to num optimistically confirmed slots,
// most recent first.
func (r *Reader) GetLatestOptimisticSlots(num int) ([]OptimisticSlot, error) {
	r.metrics.inc("get_latest_optimistic_slots")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	it, err := r.db.Iterator(cfOptimisticSlots, database.Reverse, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []OptimisticSlot
	for ; it.Valid() && len(out) < num; it.Next() {
		raw, err := it.Value()
		if err != nil {
			return nil, err
		}
		info, err := ledger.DeserializeOptimisticSlotInfo(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, OptimisticSlot{
			Slot:      DecodeSlotKey(it.Key()),
			Hash:      info.Hash,
			Timestamp: info.Timestamp,
		})
	}
	return out, nil
}

// GetFirstDuplicateProof returns the earliest duplicate-slot proof, or nil
// when none is recorded.
func (r *Reader) GetFirstDuplicateProof() (uint64, *ledger.DuplicateSlotProof, error) {
	r.metrics.inc("get_first_duplicate_proof")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	it, err := r.db.Iterator(cfDuplicateSlots, database.Forward, nil)
	if err != nil {
		return 0, nil, err
	}
	defer it.Close()

	if !it.Valid() {
		return 0, nil, nil
	}
	raw, err := it.Value()
	if err != nil {
		return 0, nil, err
	}
	proof, err := ledger.DeserializeDuplicateSlotProof(raw)
	if err != nil {
		return 0, nil, err
	}
	return DecodeSlotKey(it.Key()), proof, nil
}

// RecentPerfSample is one element of GetRecentPerfSamples.
type RecentPerfSample struct {
	Slot   uint64
	Sample ledger.PerfSample
}

// GetRecentPerfSamples returns up to num performance samples, most recent
// first.
func (r *Reader) GetRecentPerfSamples(num int) ([]RecentPerfSample, error) {
	r.metrics.inc("get_recent_perf_samples")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	it, err := r.db.Iterator(cfPerfSamples, database.Reverse, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []RecentPerfSample
	for ; it.Valid() && len(out) < num; it.Next() {
		raw, err := it.Value()
		if err != nil {
			return nil, err
		}
		sample, err := ledger.DeserializePerfSample(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, RecentPerfSample{Slot: DecodeSlotKey(it.Key()), Sample: *sample})
	}
	return out, nil
}

// ProgramCostEntry is one element of ReadProgramCosts.
type ProgramCostEntry struct {
	Program types.Pubkey
	Cost    uint64
}

// ReadProgramCosts returns every recorded program cost.
func (r *Reader) ReadProgramCosts() ([]ProgramCostEntry, error) {
	r.metrics.inc("read_program_costs")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	it, err := r.db.Iterator(cfProgramCosts, database.Forward, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []ProgramCostEntry
	for ; it.Valid(); it.Next() {
		raw, err := it.Value()
		if err != nil {
			return nil, err
		}
		cost, err := ledger.DeserializeProgramCost(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ProgramCostEntry{Program: DecodePubkeyKey(it.Key()), Cost: cost.Cost})
	}
	return out, nil
}

// GetBlockTime returns the recorded blocktime of slot, or nil.
func (r *Reader) GetBlockTime(slot uint64) (*int64, error) {
	r.metrics.inc("get_block_time")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return r.blocktimeLocked(slot)
}

func (r *Reader) blocktimeLocked(slot uint64) (*int64, error) {
	raw, err := r.db.Get(cfBlocktime, EncodeSlotKey(slot))
	if err != nil || raw == nil {
		return nil, err
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: blocktime slot %d", ledger.ErrTruncatedValue, slot)
	}
	ts := int64(binary.LittleEndian.Uint64(raw))
	return &ts, nil
}

// GetBlockHeight returns the recorded block height of slot, or nil.
func (r *Reader) GetBlockHeight(slot uint64) (*uint64, error) {
	r.metrics.inc("get_block_height")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return r.blockHeightLocked(slot)
}

func (r *Reader) blockHeightLocked(slot uint64) (*uint64, error) {
	raw, err := r.db.Get(cfBlockHeight, EncodeSlotKey(slot))
	if err != nil || raw == nil {
		return nil, err
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: block height slot %d", ledger.ErrTruncatedValue, slot)
	}
	height := binary.LittleEndian.Uint64(raw)
	return &height, nil
}

// GetRewards returns the rewards recorded for slot, or an empty record.
func (r *Reader) GetRewards(slot uint64) (*ledger.Rewards, error) {
	r.metrics.inc("get_rewards")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	raw, err := r.db.Get(cfRewards, EncodeSlotKey(slot))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &ledger.Rewards{}, nil
	}
	return ledger.DeserializeRewards(raw)
}

// GetSlotsSince returns, for each queried slot with a metadata record, the
// child slots observed to chain off it.
func (r *Reader) GetSlotsSince(slots []uint64) (map[uint64][]uint64, error) {
	r.metrics.inc("get_slots_since")

	guard, _ := r.ensureLowestCleanupSlot()
	defer guard.Release()

	out := make(map[uint64][]uint64, len(slots))
	for _, slot := range slots {
		meta, err := r.slotMeta(slot)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		out[slot] = meta.NextSlots
	}
	return out, nil
}
