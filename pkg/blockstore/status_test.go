package blockstore

import (
	"testing"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// putAddressSig records one address-signatures index entry plus the status
// record the reverse walk hydrates from.
func putAddressSig(t *testing.T, r *Reader, addr types.Pubkey, slot uint64, txIndex uint32, sig types.Signature) {
	t.Helper()
	if err := r.DB().Put(cfAddressSigs, EncodeAddressSigKey(addr, slot, txIndex, sig), []byte{1}); err != nil {
		t.Fatalf("put address sig: %v", err)
	}
	status := &ledger.TransactionStatusMeta{Fee: 5000}
	if err := r.DB().Put(cfTxStatus, EncodeTxStatusKey(sig, slot), status.Serialize()); err != nil {
		t.Fatalf("put status: %v", err)
	}
}

func sigList(infos []SignatureInfo) []types.Signature {
	out := make([]types.Signature, len(infos))
	for i := range infos {
		out[i] = infos[i].Signature
	}
	return out
}

func TestGetConfirmedSignaturesForAddress(t *testing.T) {
	r := openTestReader(t)

	var addr types.Pubkey
	addr[0] = 0xee

	sigA, sigB, sigC, sigD := testSignature(1), testSignature(2), testSignature(3), testSignature(4)
	putAddressSig(t, r, addr, 3, 0, sigA)
	putAddressSig(t, r, addr, 5, 0, sigB)
	putAddressSig(t, r, addr, 5, 1, sigC)
	putAddressSig(t, r, addr, 7, 0, sigD)

	// An unrooted slot off the confirmed chain must never surface.
	sigF := testSignature(6)
	putAddressSig(t, r, addr, 6, 0, sigF)

	for _, slot := range []uint64{3, 5, 7} {
		putRoot(t, r, slot)
	}
	r.SetMaxRoot(7)

	// Unbounded: newest first, unrooted slot 6 skipped.
	infos, found, err := r.GetConfirmedSignaturesForAddress(addr, 7, nil, nil, 10)
	if err != nil {
		t.Fatalf("GetConfirmedSignaturesForAddress: %v", err)
	}
	if !found {
		t.Fatal("found = false without a before bound")
	}
	got := sigList(infos)
	want := []types.Signature{sigD, sigC, sigB, sigA}
	if len(got) != len(want) {
		t.Fatalf("signatures = %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signatures[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	for _, info := range infos {
		if info.Err != nil {
			t.Fatal("successful transaction reported an error code")
		}
	}

	// The limit truncates from the newest end.
	infos, _, err = r.GetConfirmedSignaturesForAddress(addr, 7, nil, nil, 2)
	if err != nil {
		t.Fatalf("limited query: %v", err)
	}
	got = sigList(infos)
	if len(got) != 2 || got[0] != sigD || got[1] != sigC {
		t.Fatalf("limited signatures = %v, want [D C]", got)
	}

	// before excludes itself and everything newer in its slot.
	infos, found, err = r.GetConfirmedSignaturesForAddress(addr, 7, &sigC, nil, 10)
	if err != nil {
		t.Fatalf("before query: %v", err)
	}
	if !found {
		t.Fatal("before signature not located")
	}
	got = sigList(infos)
	if len(got) != 2 || got[0] != sigB || got[1] != sigA {
		t.Fatalf("before signatures = %v, want [B A]", got)
	}

	// until excludes itself and everything older.
	infos, _, err = r.GetConfirmedSignaturesForAddress(addr, 7, nil, &sigA, 10)
	if err != nil {
		t.Fatalf("until query: %v", err)
	}
	got = sigList(infos)
	if len(got) != 3 || got[0] != sigD || got[1] != sigC || got[2] != sigB {
		t.Fatalf("until signatures = %v, want [D C B]", got)
	}

	// An unknown before signature short-circuits with found=false.
	unknown := testSignature(0x7f)
	infos, found, err = r.GetConfirmedSignaturesForAddress(addr, 7, &unknown, nil, 10)
	if err != nil {
		t.Fatalf("unknown before: %v", err)
	}
	if found || len(infos) != 0 {
		t.Fatalf("unknown before = (%v, %v), want (empty, false)", infos, found)
	}
}

func TestGetTransactionStatusStepCounter(t *testing.T) {
	r := openTestReader(t)

	sig := testSignature(8)
	status := &ledger.TransactionStatusMeta{Fee: 1}
	// Two status entries for the same signature; only the rooted one
	// counts, and reaching it takes two iterator steps.
	if err := r.DB().Put(cfTxStatus, EncodeTxStatusKey(sig, 2), status.Serialize()); err != nil {
		t.Fatalf("put status: %v", err)
	}
	if err := r.DB().Put(cfTxStatus, EncodeTxStatusKey(sig, 4), status.Serialize()); err != nil {
		t.Fatalf("put status: %v", err)
	}
	putRoot(t, r, 4)

	slot, meta, steps, err := r.GetTransactionStatus(sig, nil)
	if err != nil {
		t.Fatalf("GetTransactionStatus: %v", err)
	}
	if meta == nil || slot != 4 {
		t.Fatalf("status = (%d, %v), want slot 4", slot, meta)
	}
	if steps != 2 {
		t.Fatalf("steps = %d, want 2", steps)
	}
}
