// Package blockstore implements the read side of the X1 ledger store.
//
// The Reader reconstructs confirmed blocks, entries, and transactions from a
// column-family key/value store whose atomic unit is the shred. All composite
// queries run under a shared read guard on the lowest cleanup slot, so a
// background cleaner compacting old slots can never expose a partially
// purged slot to a reader.
package blockstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fortiblox/X1-Ledger/pkg/database"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

// Reader provides the public read API over a ledger database.
//
// A Reader is safe for concurrent use. It owns no background goroutines;
// every operation runs on the caller's thread.
type Reader struct {
	db      database.Database
	metrics *Metrics

	// lowestCleanupSlot is the last slot eligible for cleanup. The
	// external cleanup service is its single writer; readers hold the
	// read lock across multi-column queries.
	lowestCleanupMu   sync.RWMutex
	lowestCleanupSlot uint64

	// maxRoot is the highest known root, monotonically non-decreasing.
	maxRoot atomic.Uint64
}

// NewReader creates a Reader over db, registering its metrics with reg.
func NewReader(db database.Database, reg prometheus.Registerer) (*Reader, error) {
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return &Reader{db: db, metrics: metrics}, nil
}

// DB exposes the underlying database for the ingest path and tests.
func (r *Reader) DB() database.Database {
	return r.db
}

// SetMaxRoot records a new root. The stored value never decreases.
func (r *Reader) SetMaxRoot(root uint64) {
	for {
		cur := r.maxRoot.Load()
		if root <= cur || r.maxRoot.CompareAndSwap(cur, root) {
			return
		}
	}
}

// MaxRoot returns the highest recorded root.
func (r *Reader) MaxRoot() uint64 {
	return r.maxRoot.Load()
}

// SetLowestCleanupSlot records the last slot eligible for cleanup. Called by
// the cleanup service before purging.
func (r *Reader) SetLowestCleanupSlot(slot uint64) {
	r.lowestCleanupMu.Lock()
	r.lowestCleanupSlot = slot
	r.lowestCleanupMu.Unlock()
}

// LowestCleanupSlot returns the current cleanup boundary.
func (r *Reader) LowestCleanupSlot() uint64 {
	r.lowestCleanupMu.RLock()
	defer r.lowestCleanupMu.RUnlock()
	return r.lowestCleanupSlot
}

// cleanupGuard is a held read lock on the cleanup boundary. While held, no
// slot at or below the boundary observed at acquisition can be purged.
type cleanupGuard struct {
	mu       *sync.RWMutex
	released bool
}

// Release drops the guard. Safe to call more than once.
func (g *cleanupGuard) Release() {
	if !g.released {
		g.released = true
		g.mu.RUnlock()
	}
}

// checkLowestCleanupSlot acquires the cleanup read guard and verifies that
// slot is still above the cleanup boundary. The caller must hold the
// returned guard for the duration of its multi-column query.
func (r *Reader) checkLowestCleanupSlot(slot uint64) (*cleanupGuard, error) {
	r.lowestCleanupMu.RLock()
	if lcs := r.lowestCleanupSlot; lcs > 0 && lcs >= slot {
		r.lowestCleanupMu.RUnlock()
		return nil, fmt.Errorf("%w: slot %d <= lowest cleanup slot %d", ErrSlotCleanedUp, slot, lcs)
	}
	return &cleanupGuard{mu: &r.lowestCleanupMu}, nil
}

// ensureLowestCleanupSlot acquires the cleanup read guard unconditionally
// and returns the lowest slot guaranteed to be fully present, for columns
// whose cleanup is not slot-range bounded.
func (r *Reader) ensureLowestCleanupSlot() (*cleanupGuard, uint64) {
	r.lowestCleanupMu.RLock()
	lowestAvailable := r.lowestCleanupSlot
	if lowestAvailable < ^uint64(0) {
		lowestAvailable++
	}
	return &cleanupGuard{mu: &r.lowestCleanupMu}, lowestAvailable
}

// slotMeta loads and decodes a slot's metadata. Absent slots return
// (nil, nil).
func (r *Reader) slotMeta(slot uint64) (*ledger.SlotMeta, error) {
	raw, err := r.db.Get(cfSlotMeta, EncodeSlotKey(slot))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	meta, err := ledger.DeserializeSlotMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("slot %d meta: %w", slot, err)
	}
	return meta, nil
}

// isRootLocked reports whether slot has a root entry. Callers hold a
// cleanup guard.
func (r *Reader) isRootLocked(slot uint64) (bool, error) {
	raw, err := r.db.Get(cfRoots, EncodeSlotKey(slot))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// lowestRootLocked returns the lowest slot with a root entry, or (0, false)
// when no root exists.
func (r *Reader) lowestRootLocked() (uint64, bool, error) {
	it, err := r.db.Iterator(cfRoots, database.Forward, nil)
	if err != nil {
		return 0, false, err
	}
	defer it.Close()
	if !it.Valid() {
		return 0, false, nil
	}
	return DecodeSlotKey(it.Key()), true, nil
}
