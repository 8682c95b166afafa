package sendtx

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/gossip"
)

// fakeRPC is a canned-response oracle.
type fakeRPC struct {
	mu          sync.Mutex
	epochInfo   EpochInfo
	blockhash   types.Hash
	schedule    map[string][]uint64
	blockHeight uint64
	statuses    map[types.Signature]*SignatureStatus
}

func (f *fakeRPC) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.epochInfo
	return &info, nil
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	return f.blockhash, nil
}

func (f *fakeRPC) GetLeaderSchedule(ctx context.Context) (map[string][]uint64, error) {
	return f.schedule, nil
}

func (f *fakeRPC) GetBlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, sigs []types.Signature, searchTransactionHistory bool) ([]*SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*SignatureStatus, len(sigs))
	for i, sig := range sigs {
		out[i] = f.statuses[sig]
	}
	return out, nil
}

// fakeTable is a static contact table.
type fakeTable struct {
	nodes map[types.Pubkey]gossip.ContactInfo
}

func (f *fakeTable) GetThreadSafeContactInfo(pk types.Pubkey) (gossip.ContactInfo, bool) {
	info, ok := f.nodes[pk]
	return info, ok
}

// captureForwarder records every forwarded batch.
type captureForwarder struct {
	mu      sync.Mutex
	batches [][][]byte
	addrs   [][]*net.UDPAddr
}

func (c *captureForwarder) ForwardBatch(addrs []*net.UDPAddr, wire [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrs = append(c.addrs, addrs)
	c.batches = append(c.batches, wire)
	return nil
}

func (c *captureForwarder) Close() error { return nil }

func (c *captureForwarder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func leaderKey(seed byte) types.Pubkey {
	var pk types.Pubkey
	pk[0] = seed
	return pk
}

func txSig(seed byte) types.Signature {
	var sig types.Signature
	sig[0] = seed
	return sig
}

func testFakes() (*fakeRPC, *fakeTable) {
	leaderA, leaderB := leaderKey(1), leaderKey(2)
	rpc := &fakeRPC{
		epochInfo: EpochInfo{SlotIndex: 0, SlotsInEpoch: 32, AbsoluteSlot: 1000},
		schedule: map[string][]uint64{
			leaderA.String(): {0, 1, 2, 3},
			leaderB.String(): {4, 5, 6, 7},
		},
		blockHeight: 50,
		statuses:    make(map[types.Signature]*SignatureStatus),
	}
	table := &fakeTable{nodes: map[types.Pubkey]gossip.ContactInfo{
		leaderA: {Pubkey: leaderA, TPU: gossip.SocketAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8001}},
		leaderB: {Pubkey: leaderB, TPU: gossip.SocketAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8002}},
	}}
	return rpc, table
}

func newTestService(t *testing.T, rpc *fakeRPC, table *fakeTable) (*Service, *captureForwarder) {
	t.Helper()
	fwd := &captureForwarder{}
	svc, err := NewService(DefaultConfig(), rpc, table, fwd, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.info.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return svc, fwd
}

func TestPendingMapOrderAndCap(t *testing.T) {
	p := newPendingMap()
	now := time.Now()

	batch := []*TransactionInfo{
		{Signature: txSig(1)},
		{Signature: txSig(2)},
		{Signature: txSig(1)}, // duplicate skipped
	}
	if inserted := p.InsertBatch(batch, 10, now); inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}
	if !p.Contains(txSig(1)) || !p.Contains(txSig(2)) {
		t.Fatal("membership lost")
	}
	for _, sig := range []types.Signature{txSig(1), txSig(2)} {
		if p.infos[sig].LastSentTime == nil {
			t.Fatal("insert did not stamp last sent time")
		}
	}

	// At the cap, further inserts are skipped silently.
	if inserted := p.InsertBatch([]*TransactionInfo{{Signature: txSig(3)}}, 2, now); inserted != 0 {
		t.Fatalf("insert past cap = %d, want 0", inserted)
	}
	if p.Len() != 2 {
		t.Fatalf("len = %d, want 2", p.Len())
	}

	// Removal preserves insertion order of the rest.
	p.InsertBatch([]*TransactionInfo{{Signature: txSig(4)}}, 10, now)
	p.mu.Lock()
	p.removeLocked(map[types.Signature]bool{txSig(2): true})
	order := p.signaturesLocked()
	p.mu.Unlock()
	if len(order) != 2 || order[0] != txSig(1) || order[1] != txSig(4) {
		t.Fatalf("order after removal = %v", order)
	}
}

func TestGetLeaderAddresses(t *testing.T) {
	rpc, table := testFakes()
	svc, _ := newTestService(t, rpc, table)

	addrs, err := svc.info.getLeaderAddresses(2)
	if err != nil {
		t.Fatalf("get leader addresses: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2", len(addrs))
	}
	if addrs[0].Port != 8001 || addrs[1].Port != 8002 {
		t.Fatalf("addresses = %v, want ports [8001 8002]", addrs)
	}

	// A schedule that does not reach the requested leader is an error.
	if _, err := svc.info.getLeaderAddresses(3); err == nil {
		t.Fatal("expected schedule exhaustion error")
	}

	// A leader with no gossip contact info is an error.
	delete(table.nodes, leaderKey(2))
	if err := svc.info.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.info.getLeaderAddresses(2); err == nil {
		t.Fatal("expected unknown leader address error")
	}
}

func TestProcessorDropOnRooted(t *testing.T) {
	rpc, table := testFakes()
	svc, fwd := newTestService(t, rpc, table)

	sig := txSig(9)
	svc.pending.InsertBatch([]*TransactionInfo{
		{Signature: sig, WireTransaction: []byte("wire"), LastValidBlockHeight: 100},
	}, MaxPendingPoolSize, time.Now())

	// Rooted: confirmations is null.
	rpc.statuses[sig] = &SignatureStatus{Slot: 40, Confirmations: nil}

	if err := svc.processTransactions(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if svc.PendingLen() != 0 {
		t.Fatal("rooted transaction not dropped")
	}
	if fwd.count() != 0 {
		t.Fatal("rooted transaction was resent")
	}
}

func TestProcessorDropOnErrorAndExpiry(t *testing.T) {
	rpc, table := testFakes()
	svc, fwd := newTestService(t, rpc, table)

	one := uint64(1)
	failed, expired, waiting := txSig(1), txSig(2), txSig(3)
	svc.pending.InsertBatch([]*TransactionInfo{
		{Signature: failed, LastValidBlockHeight: 100},
		{Signature: expired, LastValidBlockHeight: 40}, // below height 50
		{Signature: waiting, LastValidBlockHeight: 100},
	}, MaxPendingPoolSize, time.Now())

	rpc.statuses[failed] = &SignatureStatus{Slot: 40, Confirmations: &one, Err: json.RawMessage(`{"InstructionError":[0,1]}`)}
	rpc.statuses[expired] = &SignatureStatus{Slot: 40, Confirmations: &one}
	rpc.statuses[waiting] = &SignatureStatus{Slot: 40, Confirmations: &one}

	if err := svc.processTransactions(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if svc.pending.Contains(failed) {
		t.Fatal("failed transaction not dropped")
	}
	if svc.pending.Contains(expired) {
		t.Fatal("expired transaction not dropped")
	}
	if !svc.pending.Contains(waiting) {
		t.Fatal("confirming transaction dropped prematurely")
	}
	if fwd.count() != 0 {
		t.Fatal("present statuses should not trigger resends")
	}
}

func TestProcessorRetryAndMaxRetries(t *testing.T) {
	rpc, table := testFakes()
	svc, fwd := newTestService(t, rpc, table)

	stalled := txSig(5)
	svc.pending.InsertBatch([]*TransactionInfo{
		{Signature: stalled, WireTransaction: []byte("wire"), LastValidBlockHeight: 100},
	}, MaxPendingPoolSize, time.Now())

	// Freshly sent: no status, but not yet due for a resend.
	if err := svc.processTransactions(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if fwd.count() != 0 {
		t.Fatal("resent before the retry interval elapsed")
	}

	// Age the last send past the processing rate.
	old := time.Now().Add(-2 * svc.config.ProcessTransactionsRate)
	svc.pending.infos[stalled].LastSentTime = &old

	if err := svc.processTransactions(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if fwd.count() != 1 {
		t.Fatalf("forward count = %d, want 1", fwd.count())
	}
	info := svc.pending.infos[stalled]
	if info.Retries != 1 {
		t.Fatalf("retries = %d, want 1", info.Retries)
	}
	if info.LastSentTime == nil || time.Since(*info.LastSentTime) > time.Minute {
		t.Fatal("last sent time not restamped")
	}

	// With retries exhausted, the next pass drops it.
	max := 1
	info.MaxRetries = &max
	info.LastSentTime = &old
	if err := svc.processTransactions(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if svc.pending.Contains(stalled) {
		t.Fatal("transaction not dropped after max retries")
	}
}

func TestReceiverBatchesAndSends(t *testing.T) {
	rpc, table := testFakes()
	svc, fwd := newTestService(t, rpc, table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	info := &TransactionInfo{
		Signature:            txSig(7),
		WireTransaction:      []byte("wire-bytes"),
		LastValidBlockHeight: 100,
	}
	if err := svc.Submit(info); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fwd.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fwd.count() == 0 {
		t.Fatal("batch never sent")
	}
	if !svc.pending.Contains(info.Signature) {
		t.Fatal("sent transaction not tracked as pending")
	}

	// Resubmitting a pending signature is deduplicated.
	sent := fwd.count()
	if err := svc.Submit(info); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if fwd.count() != sent {
		t.Fatal("duplicate submission was resent")
	}

	svc.CloseSubmissions()
	if err := svc.Submit(info); err != ErrServiceClosed {
		t.Fatalf("submit after close = %v, want ErrServiceClosed", err)
	}
}
