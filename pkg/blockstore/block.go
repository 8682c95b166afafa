package blockstore

import (
	"fmt"
	"log"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// TransactionWithStatusMeta pairs a transaction with its execution result.
type TransactionWithStatusMeta struct {
	Transaction ledger.VersionedTransaction
	Meta        *ledger.TransactionStatusMeta
}

// EntrySummary describes one entry of a block without its transactions.
type EntrySummary struct {
	NumHashes                uint64
	Hash                     types.Hash
	NumTransactions          uint64
	StartingTransactionIndex uint64
}

// ConfirmedBlock is the composed read result for a complete slot.
type ConfirmedBlock struct {
	PreviousBlockhash types.Hash
	Blockhash         types.Hash
	ParentSlot        uint64
	Transactions      []TransactionWithStatusMeta
	Rewards           []ledger.Reward
	NumPartitions     *uint64
	BlockTime         *int64
	BlockHeight       *uint64
}

// ConfirmedBlockWithEntries is a ConfirmedBlock plus per-entry summaries.
type ConfirmedBlockWithEntries struct {
	Block   *ConfirmedBlock
	Entries []EntrySummary
}

// GetCompleteBlock returns the composed block for a full slot.
func (r *Reader) GetCompleteBlock(slot uint64, requirePreviousBlockhash bool) (*ConfirmedBlock, error) {
	r.metrics.inc("get_complete_block")
	result, err := r.getCompleteBlockWithEntries(slot, requirePreviousBlockhash, false, false)
	if err != nil {
		return nil, err
	}
	return result.Block, nil
}

// GetCompleteBlockWithEntries returns the composed block plus entry
// summaries for a full slot.
func (r *Reader) GetCompleteBlockWithEntries(slot uint64, requirePreviousBlockhash, populateEntries, allowDead bool) (*ConfirmedBlockWithEntries, error) {
	r.metrics.inc("get_complete_block_with_entries")
	return r.getCompleteBlockWithEntries(slot, requirePreviousBlockhash, populateEntries, allowDead)
}

// GetRootedBlock returns the composed block for a rooted slot.
func (r *Reader) GetRootedBlock(slot uint64, requirePreviousBlockhash bool) (*ConfirmedBlock, error) {
	r.metrics.inc("get_rooted_block")

	guard, _ := r.ensureLowestCleanupSlot()
	rooted, err := r.isRootLocked(slot)
	guard.Release()
	if err != nil {
		return nil, err
	}
	if !rooted {
		return nil, fmt.Errorf("%w: slot %d", ErrSlotNotRooted, slot)
	}

	result, err := r.getCompleteBlockWithEntries(slot, requirePreviousBlockhash, false, false)
	if err != nil {
		return nil, err
	}
	return result.Block, nil
}

func (r *Reader) getCompleteBlockWithEntries(slot uint64, requirePreviousBlockhash, populateEntries, allowDead bool) (*ConfirmedBlockWithEntries, error) {
	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	meta, err := r.slotMeta(slot)
	if err != nil {
		return nil, err
	}
	if meta == nil || !meta.IsFull() {
		return nil, fmt.Errorf("%w: slot %d is not full", ErrSlotUnavailable, slot)
	}

	entries, _, _, err := r.slotEntriesWithShredInfoLocked(slot, 0, allowDead)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: slot %d has no entries", ErrSlotUnavailable, slot)
	}

	blockhash := entries[len(entries)-1].Hash

	var summaries []EntrySummary
	if populateEntries {
		summaries = make([]EntrySummary, 0, len(entries))
		var txIndex uint64
		for i := range entries {
			summaries = append(summaries, EntrySummary{
				NumHashes:                entries[i].NumHashes,
				Hash:                     entries[i].Hash,
				NumTransactions:          uint64(len(entries[i].Transactions)),
				StartingTransactionIndex: txIndex,
			})
			txIndex += uint64(len(entries[i].Transactions))
		}
	}

	var txs []TransactionWithStatusMeta
	for i := range entries {
		for j := range entries[i].Transactions {
			tx := entries[i].Transactions[j]
			if err := tx.Sanitize(); err != nil {
				// Stored transactions are kept even when they no
				// longer pass current sanitization rules.
				log.Printf("blockstore: slot %d transaction %s failed sanitize: %v",
					slot, tx.Signature(), err)
			}

			raw, err := r.db.Get(cfTxStatus, EncodeTxStatusKey(tx.Signature(), slot))
			if err != nil {
				return nil, err
			}
			if raw == nil {
				return nil, fmt.Errorf("%w: slot %d transaction %s",
					ErrMissingTransactionMetadata, slot, tx.Signature())
			}
			statusMeta, err := ledger.DeserializeTransactionStatusMeta(raw)
			if err != nil {
				return nil, fmt.Errorf("slot %d transaction %s status: %w", slot, tx.Signature(), err)
			}
			txs = append(txs, TransactionWithStatusMeta{Transaction: tx, Meta: statusMeta})
		}
	}

	previousBlockhash, parentSlot, err := r.previousBlockhashLocked(meta, requirePreviousBlockhash, allowDead)
	if err != nil {
		return nil, err
	}

	block := &ConfirmedBlock{
		PreviousBlockhash: previousBlockhash,
		Blockhash:         blockhash,
		ParentSlot:        parentSlot,
		Transactions:      txs,
	}

	if raw, err := r.db.Get(cfRewards, EncodeSlotKey(slot)); err != nil {
		return nil, err
	} else if raw != nil {
		rewards, err := ledger.DeserializeRewards(raw)
		if err != nil {
			return nil, fmt.Errorf("slot %d rewards: %w", slot, err)
		}
		block.Rewards = rewards.Rewards
		block.NumPartitions = rewards.NumPartitions
	}

	if block.BlockTime, err = r.blocktimeLocked(slot); err != nil {
		return nil, err
	}
	if block.BlockHeight, err = r.blockHeightLocked(slot); err != nil {
		return nil, err
	}

	return &ConfirmedBlockWithEntries{Block: block, Entries: summaries}, nil
}

// previousBlockhashLocked resolves the parent's blockhash, or the zero hash
// when the parent link or its entries are absent and not required.
func (r *Reader) previousBlockhashLocked(meta *ledger.SlotMeta, required, allowDead bool) (types.Hash, uint64, error) {
	if meta.ParentSlot == nil {
		if required {
			return types.Hash{}, 0, fmt.Errorf("%w: slot %d", ErrMissingParentSlot, meta.Slot)
		}
		return types.ZeroHash(), 0, nil
	}

	parent := *meta.ParentSlot
	entries, _, _, err := r.slotEntriesWithShredInfoLocked(parent, 0, allowDead)
	if err != nil {
		// Database failures are never degraded into a default hash.
		return types.Hash{}, 0, err
	}
	if len(entries) == 0 {
		if required {
			return types.Hash{}, 0, fmt.Errorf("%w: slot %d parent %d",
				ErrParentEntriesUnavailable, meta.Slot, parent)
		}
		return types.ZeroHash(), parent, nil
	}
	return entries[len(entries)-1].Hash, parent, nil
}
