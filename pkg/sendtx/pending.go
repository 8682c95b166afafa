package sendtx

import (
	"sync"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

// pendingMap is the insertion-ordered signature → TransactionInfo map shared
// by the receiver and processor. Insertion order matters: the processor
// aligns its iteration positionally with the oracle's status response.
type pendingMap struct {
	mu    sync.RWMutex
	order []types.Signature
	infos map[types.Signature]*TransactionInfo
}

func newPendingMap() *pendingMap {
	return &pendingMap{infos: make(map[types.Signature]*TransactionInfo)}
}

// Contains reports membership under the read lock.
func (p *pendingMap) Contains(sig types.Signature) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.infos[sig]
	return ok
}

// Len returns the current size.
func (p *pendingMap) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.infos)
}

// InsertBatch stamps and inserts each transaction not already present, while
// the pool stays below max. Transactions beyond the cap are skipped
// silently. Returns the number inserted.
func (p *pendingMap) InsertBatch(batch []*TransactionInfo, max int, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	inserted := 0
	for _, info := range batch {
		if _, ok := p.infos[info.Signature]; ok {
			continue
		}
		if len(p.infos) >= max {
			break
		}
		sent := now
		info.LastSentTime = &sent
		p.infos[info.Signature] = info
		p.order = append(p.order, info.Signature)
		inserted++
	}
	return inserted
}

// signaturesLocked returns the signatures in insertion order. Callers hold
// the lock.
func (p *pendingMap) signaturesLocked() []types.Signature {
	out := make([]types.Signature, len(p.order))
	copy(out, p.order)
	return out
}

// removeLocked drops a set of signatures, preserving the order of the rest.
// Callers hold the lock.
func (p *pendingMap) removeLocked(drop map[types.Signature]bool) {
	if len(drop) == 0 {
		return
	}
	kept := p.order[:0]
	for _, sig := range p.order {
		if drop[sig] {
			delete(p.infos, sig)
			continue
		}
		kept = append(kept, sig)
	}
	p.order = kept
}
