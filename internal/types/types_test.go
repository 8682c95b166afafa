package types

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestHashExtendDeterministic(t *testing.T) {
	h := HashBytes([]byte("genesis"))

	a := h.Extend([]byte("payload"))
	b := h.Extend([]byte("payload"))
	if !a.Equals(b) {
		t.Fatalf("extend not deterministic: %s != %s", a, b)
	}

	// Extend must equal SHA256(prev || suffix) exactly.
	var buf bytes.Buffer
	buf.Write(h.Bytes())
	buf.WriteString("payload")
	want := Hash(sha256.Sum256(buf.Bytes()))
	if !a.Equals(want) {
		t.Fatalf("extend mismatch: got %s want %s", a, want)
	}
}

func TestHashExtendNoFlatten(t *testing.T) {
	h := HashBytes([]byte("seed"))

	// Chaining two extends is not the same as one extend over the
	// concatenated payload.
	chained := h.Extend([]byte("aa")).Extend([]byte("bb"))
	flat := h.Extend([]byte("aabb"))
	if chained.Equals(flat) {
		t.Fatal("extend unexpectedly flattens concatenated payloads")
	}
}

func TestHashCompare(t *testing.T) {
	var lo, hi Hash
	lo[0] = 0x01
	hi[0] = 0x02

	if got := lo.Compare(hi); got != -1 {
		t.Errorf("Compare(lo, hi) = %d, want -1", got)
	}
	if got := hi.Compare(lo); got != 1 {
		t.Errorf("Compare(hi, lo) = %d, want 1", got)
	}
	if got := lo.Compare(lo); got != 0 {
		t.Errorf("Compare(lo, lo) = %d, want 0", got)
	}

	// MSB dominates lower bytes.
	var a, b Hash
	a[0] = 0x01
	b[0] = 0x00
	for i := 1; i < HashSize; i++ {
		b[i] = 0xff
	}
	if got := a.Compare(b); got != 1 {
		t.Errorf("MSB-first ordering violated: Compare = %d, want 1", got)
	}
}

func TestZeroHash(t *testing.T) {
	if !ZeroHash().IsZero() {
		t.Fatal("ZeroHash is not zero")
	}
	if HashBytes(nil).IsZero() {
		t.Fatal("SHA256 of empty input should not be the zero hash")
	}
}

func TestBase58RoundTrips(t *testing.T) {
	pk := MustPubkeyFromBase58("Vote111111111111111111111111111111111111111")
	back, err := PubkeyFromBase58(pk.String())
	if err != nil {
		t.Fatalf("pubkey round trip: %v", err)
	}
	if !back.Equals(pk) {
		t.Fatalf("pubkey round trip mismatch: %s != %s", back, pk)
	}

	var raw [SignatureSize]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	sig, err := SignatureFromBytes(raw[:])
	if err != nil {
		t.Fatalf("signature from bytes: %v", err)
	}
	sigBack, err := SignatureFromBase58(sig.String())
	if err != nil {
		t.Fatalf("signature round trip: %v", err)
	}
	if sigBack != sig {
		t.Fatal("signature round trip mismatch")
	}

	if _, err := SignatureFromBytes(make([]byte, 32)); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
