package blockstore

import (
	"fmt"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/database"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// ConfirmedTransaction is a transaction located in a confirmed slot,
// together with its execution result and the slot's blocktime.
type ConfirmedTransaction struct {
	Slot        uint64
	Transaction TransactionWithStatusMeta
	BlockTime   *int64
}

// SignatureInfo is one element of a signatures-for-address result.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64

	// Err is the transaction's error code, nil on success.
	Err *ledger.TransactionError

	// Memo is the raw memo bytes, when recorded.
	Memo []byte

	BlockTime *int64
}

// GetTransactionStatus finds the status of a transaction in a rooted or
// optimistically confirmed slot. It returns the slot and decoded status, or
// a nil status when none qualifies. The returned count is the number of
// iterator steps taken, exposed for tests.
func (r *Reader) GetTransactionStatus(sig types.Signature, confirmedUnrooted map[uint64]bool) (uint64, *ledger.TransactionStatusMeta, int, error) {
	r.metrics.inc("get_transaction_status")

	guard, lowestAvailable := r.ensureLowestCleanupSlot()
	defer guard.Release()

	return r.transactionStatusLocked(sig, confirmedUnrooted, lowestAvailable)
}

func (r *Reader) transactionStatusLocked(sig types.Signature, confirmedUnrooted map[uint64]bool, lowestAvailable uint64) (uint64, *ledger.TransactionStatusMeta, int, error) {
	it, err := r.db.Iterator(cfTxStatus, database.Forward, EncodeTxStatusKey(sig, lowestAvailable))
	if err != nil {
		return 0, nil, 0, err
	}
	defer it.Close()

	steps := 0
	for ; it.Valid(); it.Next() {
		steps++
		keySig, slot := DecodeTxStatusKey(it.Key())
		if keySig != sig {
			break
		}

		rooted, err := r.isRootLocked(slot)
		if err != nil {
			return 0, nil, steps, err
		}
		if !rooted && !confirmedUnrooted[slot] {
			continue
		}

		raw, err := it.Value()
		if err != nil {
			return 0, nil, steps, err
		}
		if len(raw) == 0 {
			return 0, nil, steps, fmt.Errorf("%w: status (%s, %d)", ErrUnwrap, sig, slot)
		}
		meta, err := ledger.DeserializeTransactionStatusMeta(raw)
		if err != nil {
			return 0, nil, steps, fmt.Errorf("status (%s, %d): %w", sig, slot, err)
		}
		return slot, meta, steps, nil
	}
	return 0, nil, steps, nil
}

// GetCompleteTransaction finds a transaction in any slot at or below
// highestConfirmedSlot that is rooted or an optimistically confirmed
// ancestor of it.
func (r *Reader) GetCompleteTransaction(sig types.Signature, highestConfirmedSlot uint64) (*ConfirmedTransaction, error) {
	r.metrics.inc("get_complete_transaction")

	confirmedUnrooted, err := r.confirmedUnrootedAncestors(highestConfirmedSlot)
	if err != nil {
		return nil, err
	}
	return r.getTransactionWithStatus(sig, confirmedUnrooted)
}

// GetRootedTransaction finds a transaction in a rooted slot.
func (r *Reader) GetRootedTransaction(sig types.Signature) (*ConfirmedTransaction, error) {
	r.metrics.inc("get_rooted_transaction")
	return r.getTransactionWithStatus(sig, nil)
}

func (r *Reader) getTransactionWithStatus(sig types.Signature, confirmedUnrooted map[uint64]bool) (*ConfirmedTransaction, error) {
	guard, lowestAvailable := r.ensureLowestCleanupSlot()
	defer guard.Release()

	slot, statusMeta, _, err := r.transactionStatusLocked(sig, confirmedUnrooted, lowestAvailable)
	if err != nil {
		return nil, err
	}
	if statusMeta == nil {
		return nil, nil
	}

	tx, err := r.findTransactionInSlotLocked(slot, sig)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		// The status column says the slot holds this transaction; the
		// slot's entries disagree.
		return nil, fmt.Errorf("%w: %s at slot %d", ErrTransactionStatusSlotMismatch, sig, slot)
	}

	blockTime, err := r.blocktimeLocked(slot)
	if err != nil {
		return nil, err
	}

	return &ConfirmedTransaction{
		Slot:        slot,
		Transaction: TransactionWithStatusMeta{Transaction: *tx, Meta: statusMeta},
		BlockTime:   blockTime,
	}, nil
}

// FindTransactionInSlot scans a slot's entries for the transaction whose
// first signature matches sig.
//
// This is a linear scan over every transaction of the slot and is the
// hottest path of transaction lookup.
func (r *Reader) FindTransactionInSlot(slot uint64, sig types.Signature) (*ledger.VersionedTransaction, error) {
	r.metrics.inc("find_transaction_in_slot")

	guard, err := r.checkLowestCleanupSlot(slot)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return r.findTransactionInSlotLocked(slot, sig)
}

func (r *Reader) findTransactionInSlotLocked(slot uint64, sig types.Signature) (*ledger.VersionedTransaction, error) {
	entries, _, _, err := r.slotEntriesWithShredInfoLocked(slot, 0, false)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		for j := range entries[i].Transactions {
			if entries[i].Transactions[j].Signature() == sig {
				return &entries[i].Transactions[j], nil
			}
		}
	}
	return nil, nil
}

// findAddressSignaturesForSlot lists the signatures recorded for addr in one
// slot, in transaction-index order.
func (r *Reader) findAddressSignaturesForSlot(addr types.Pubkey, slot uint64) ([]types.Signature, error) {
	it, err := r.db.Iterator(cfAddressSigs, database.Forward,
		EncodeAddressSigKey(addr, slot, 0, types.Signature{}))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var sigs []types.Signature
	for ; it.Valid(); it.Next() {
		keyAddr, keySlot, _, sig := DecodeAddressSigKey(it.Key())
		if keyAddr != addr || keySlot != slot {
			break
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// GetConfirmedSignaturesForAddress walks the address-signatures index
// backwards from highestSlot, returning up to limit signatures involving
// addr in rooted or optimistically confirmed slots. The before and until
// signatures, when given, bound the walk exclusively on both ends. The
// boolean result reports whether before was located.
func (r *Reader) GetConfirmedSignaturesForAddress(addr types.Pubkey, highestSlot uint64, before, until *types.Signature, limit int) ([]SignatureInfo, bool, error) {
	r.metrics.inc("get_confirmed_signatures_for_address")
	started := time.Now()
	defer func() {
		r.metrics.addressSignatureScan.Observe(float64(time.Since(started).Milliseconds()))
	}()

	confirmedUnrooted, err := r.confirmedUnrootedAncestors(highestSlot)
	if err != nil {
		return nil, false, err
	}

	guard, lowestAvailable := r.ensureLowestCleanupSlot()
	defer guard.Release()

	// Resolve the starting slot and the signatures excluded at it.
	startSlot := highestSlot
	beforeExcluded := make(map[types.Signature]bool)
	if before != nil {
		slot, statusMeta, _, err := r.transactionStatusLocked(*before, confirmedUnrooted, lowestAvailable)
		if err != nil {
			return nil, false, err
		}
		if statusMeta == nil {
			return nil, false, nil
		}
		startSlot = slot

		slotSigs, err := r.findAddressSignaturesForSlot(addr, slot)
		if err != nil {
			return nil, false, err
		}
		// Everything at or after before within its slot is excluded.
		for i := len(slotSigs) - 1; i >= 0; i-- {
			beforeExcluded[slotSigs[i]] = true
			if slotSigs[i] == *before {
				break
			}
		}
	}

	// Resolve the lowest slot and the signatures excluded at it.
	lowestSlot, err := r.firstAvailableBlockLocked()
	if err != nil {
		return nil, false, err
	}
	untilExcluded := make(map[types.Signature]bool)
	if until != nil {
		slot, statusMeta, _, err := r.transactionStatusLocked(*until, confirmedUnrooted, lowestAvailable)
		if err != nil {
			return nil, false, err
		}
		if statusMeta != nil {
			lowestSlot = slot
			slotSigs, err := r.findAddressSignaturesForSlot(addr, slot)
			if err != nil {
				return nil, false, err
			}
			// Everything at or before until within its slot is excluded.
			for _, sig := range slotSigs {
				untilExcluded[sig] = true
				if sig == *until {
					break
				}
			}
		}
	}

	type slotSig struct {
		slot uint64
		sig  types.Signature
	}
	var collected []slotSig

	// Same-slot signatures at the start slot, newest first.
	if startSlot >= lowestSlot {
		slotSigs, err := r.findAddressSignaturesForSlot(addr, startSlot)
		if err != nil {
			return nil, false, err
		}
		for i := len(slotSigs) - 1; i >= 0 && len(collected) < limit; i-- {
			sig := slotSigs[i]
			if beforeExcluded[sig] || untilExcluded[sig] {
				continue
			}
			collected = append(collected, slotSig{slot: startSlot, sig: sig})
		}
	}

	// Walk earlier slots backwards from just below the start slot.
	it, err := r.db.Iterator(cfAddressSigs, database.Reverse,
		EncodeAddressSigKey(addr, startSlot, 0, types.Signature{}))
	if err != nil {
		return nil, false, err
	}
	defer it.Close()

	for ; it.Valid() && len(collected) < limit; it.Next() {
		keyAddr, slot, _, sig := DecodeAddressSigKey(it.Key())
		if keyAddr != addr || slot < lowestSlot {
			break
		}
		if slot >= startSlot {
			continue
		}
		rooted, err := r.isRootLocked(slot)
		if err != nil {
			return nil, false, err
		}
		if !rooted && !confirmedUnrooted[slot] {
			continue
		}
		if beforeExcluded[sig] || untilExcluded[sig] {
			continue
		}
		collected = append(collected, slotSig{slot: slot, sig: sig})
	}

	// Hydrate status error, memo, and blocktime for each hit.
	infos := make([]SignatureInfo, 0, len(collected))
	for _, hit := range collected {
		info := SignatureInfo{Signature: hit.sig, Slot: hit.slot}

		raw, err := r.db.Get(cfTxStatus, EncodeTxStatusKey(hit.sig, hit.slot))
		if err != nil {
			return nil, false, err
		}
		if raw != nil {
			statusMeta, err := ledger.DeserializeTransactionStatusMeta(raw)
			if err != nil {
				return nil, false, fmt.Errorf("status (%s, %d): %w", hit.sig, hit.slot, err)
			}
			info.Err = statusMeta.Err
		}

		if info.Memo, err = r.db.Get(cfTxMemos, EncodeTxStatusKey(hit.sig, hit.slot)); err != nil {
			return nil, false, err
		}
		if info.BlockTime, err = r.blocktimeLocked(hit.slot); err != nil {
			return nil, false, err
		}
		infos = append(infos, info)
	}
	return infos, true, nil
}
