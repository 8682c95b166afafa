package ledger

import (
	"bytes"
	"testing"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

func makeTestTransaction(seed byte) VersionedTransaction {
	var sig types.Signature
	var key, program types.Pubkey
	sig[0] = seed
	key[0] = seed
	program[0] = seed + 1

	return VersionedTransaction{
		Signatures: []types.Signature{sig},
		Message: Message{
			Version: MessageLegacy,
			Header: MessageHeader{
				NumRequiredSignatures:       1,
				NumReadonlyUnsignedAccounts: 1,
			},
			AccountKeys:     []types.Pubkey{key, program},
			RecentBlockhash: types.HashBytes([]byte{seed}),
			Instructions: []CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint8{0}, Data: []byte{seed, 1, 2}},
			},
		},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := makeTestTransaction(7)
	wire := tx.Serialize()

	decoded, n, err := DeserializeTransaction(wire)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d of %d bytes", n, len(wire))
	}
	if decoded.Signature() != tx.Signature() {
		t.Fatal("signature mismatch after round trip")
	}
	if !bytes.Equal(decoded.Serialize(), wire) {
		t.Fatal("re-serialization mismatch")
	}
	if err := decoded.Sanitize(); err != nil {
		t.Fatalf("sanitize: %v", err)
	}
}

func TestTransactionV0RoundTrip(t *testing.T) {
	tx := makeTestTransaction(3)
	tx.Message.Version = MessageV0
	tx.Message.AddressTableLookups = []MessageAddressTableLookup{
		{
			AccountKey:      types.MustPubkeyFromBase58("AddressLookupTab1e1111111111111111111111111"),
			WritableIndexes: []uint8{0, 1},
			ReadonlyIndexes: []uint8{2},
		},
	}
	wire := tx.Serialize()

	decoded, _, err := DeserializeTransaction(wire)
	if err != nil {
		t.Fatalf("deserialize v0: %v", err)
	}
	if decoded.Message.Version != MessageV0 {
		t.Fatal("version lost in round trip")
	}
	if len(decoded.Message.AddressTableLookups) != 1 {
		t.Fatal("lookups lost in round trip")
	}
	if err := decoded.Sanitize(); err != nil {
		t.Fatalf("sanitize v0: %v", err)
	}
}

func TestSanitizeRejects(t *testing.T) {
	tx := makeTestTransaction(1)
	tx.Signatures = nil
	if err := tx.Sanitize(); err == nil {
		t.Fatal("expected sanitize failure for missing signatures")
	}

	tx = makeTestTransaction(1)
	tx.Message.Instructions[0].ProgramIDIndex = 9
	if err := tx.Sanitize(); err == nil {
		t.Fatal("expected sanitize failure for out-of-range program index")
	}

	tx = makeTestTransaction(1)
	tx.Message.AddressTableLookups = []MessageAddressTableLookup{{}}
	if err := tx.Sanitize(); err == nil {
		t.Fatal("expected sanitize failure for legacy message with lookups")
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	prev := types.HashBytes([]byte("genesis"))
	entries := []Entry{
		{NumHashes: 12, Hash: prev.Extend([]byte("tick"))},
		{
			NumHashes:    3,
			Hash:         prev.Extend([]byte("txs")),
			Transactions: []VersionedTransaction{makeTestTransaction(1), makeTestTransaction(2)},
		},
	}

	buf := SerializeEntries(entries)
	decoded, err := DeserializeEntries(buf)
	if err != nil {
		t.Fatalf("deserialize entries: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("got %d entries, want 2", len(decoded))
	}
	if !decoded[0].IsTick() {
		t.Fatal("first entry should be a tick")
	}
	if len(decoded[1].Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(decoded[1].Transactions))
	}
	if decoded[1].Hash != entries[1].Hash {
		t.Fatal("entry hash mismatch")
	}

	if _, err := DeserializeEntries(buf[:len(buf)-4]); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}

func TestShredRoundTrip(t *testing.T) {
	s := &Shred{
		Kind:    ShredData,
		Slot:    42,
		Index:   7,
		Version: 1,
		Flags:   FlagDataComplete | 9, // reference tick 9
		Payload: []byte("shred payload"),
	}
	s.Signature[0] = 0xaa

	buf := s.Encode()
	decoded, err := DecodeShred(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Slot != 42 || decoded.Index != 7 {
		t.Fatal("slot/index mismatch")
	}
	if !decoded.DataComplete() || decoded.LastInSlot() {
		t.Fatal("flag mismatch")
	}
	if decoded.ReferenceTick() != 9 {
		t.Fatalf("reference tick = %d, want 9", decoded.ReferenceTick())
	}
	if decoded.Retransmitter != nil {
		t.Fatal("unexpected retransmitter signature")
	}

	tick, err := ReferenceTickFromPayload(buf)
	if err != nil || tick != 9 {
		t.Fatalf("ReferenceTickFromPayload = (%d, %v), want (9, nil)", tick, err)
	}
}

func TestShredRetransmitter(t *testing.T) {
	var retrans types.Signature
	retrans[0] = 0xbb

	s := &Shred{
		Kind:          ShredData,
		Slot:          1,
		Index:         0,
		Flags:         FlagLastInSlot,
		Payload:       []byte("data"),
		Retransmitter: &retrans,
	}
	buf := s.Encode()

	decoded, err := DecodeShred(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Retransmitter == nil || decoded.Retransmitter[0] != 0xbb {
		t.Fatal("retransmitter signature lost")
	}

	var other types.Signature
	other[0] = 0xcc
	if _, err := SetRetransmitter(buf, other); err != nil {
		t.Fatalf("set retransmitter: %v", err)
	}
	decoded, err = DecodeShred(buf)
	if err != nil {
		t.Fatalf("decode after overwrite: %v", err)
	}
	if decoded.Retransmitter[0] != 0xcc {
		t.Fatal("retransmitter not overwritten")
	}

	// A shred without the trailing signature refuses the overwrite.
	bare := (&Shred{Kind: ShredData, Payload: []byte("x")}).Encode()
	if _, err := SetRetransmitter(bare, other); err != ErrNoRetransmitter {
		t.Fatalf("expected ErrNoRetransmitter, got %v", err)
	}
}

func TestDeshred(t *testing.T) {
	entries := []Entry{{NumHashes: 1, Hash: types.HashBytes([]byte("e"))}}
	payload := SerializeEntries(entries)

	shreds := []*Shred{
		{Kind: ShredData, Slot: 5, Index: 3, Payload: payload[:4]},
		{Kind: ShredData, Slot: 5, Index: 4, Payload: payload[4:], Flags: FlagDataComplete},
	}
	buf, err := Deshred(shreds)
	if err != nil {
		t.Fatalf("deshred: %v", err)
	}
	decoded, err := DeserializeEntries(buf)
	if err != nil {
		t.Fatalf("entries from deshred: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Hash != entries[0].Hash {
		t.Fatal("deshred round trip mismatch")
	}

	// Gap in the run is rejected.
	shreds[1].Index = 9
	if _, err := Deshred(shreds); err == nil {
		t.Fatal("expected error for non-contiguous shreds")
	}
}

func TestSlotMetaRoundTrip(t *testing.T) {
	parent := uint64(9)
	last := uint64(30)
	m := NewSlotMeta(10)
	m.Received = 31
	m.Consumed = 31
	m.ParentSlot = &parent
	m.NextSlots = []uint64{11, 12}
	m.LastIndex = &last
	m.CompletedDataIndexes.Insert(10)
	m.CompletedDataIndexes.Insert(20)
	m.CompletedDataIndexes.Insert(30)

	if !m.IsFull() {
		t.Fatal("meta should be full")
	}

	decoded, err := DeserializeSlotMeta(m.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if decoded.Slot != 10 || decoded.Consumed != 31 {
		t.Fatal("field mismatch")
	}
	if decoded.ParentSlot == nil || *decoded.ParentSlot != 9 {
		t.Fatal("parent slot mismatch")
	}
	if decoded.CompletedDataIndexes.Len() != 3 || !decoded.CompletedDataIndexes.Contains(20) {
		t.Fatal("completed indexes mismatch")
	}
	if !decoded.IsFull() {
		t.Fatal("IsFull lost in round trip")
	}

	var got []uint64
	decoded.CompletedDataIndexes.AscendRange(10, 30, func(idx uint64) bool {
		got = append(got, idx)
		return true
	})
	if len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("AscendRange = %v, want [10 20]", got)
	}
}

func TestStatusMetaRoundTrip(t *testing.T) {
	units := uint64(1200)
	m := &TransactionStatusMeta{
		Err:                  &TransactionError{Code: 4, InstructionIndex: 0xff},
		Fee:                  5000,
		PreBalances:          []uint64{10, 20},
		PostBalances:         []uint64{5, 25},
		ComputeUnitsConsumed: &units,
	}

	decoded, err := DeserializeTransactionStatusMeta(m.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if decoded.Succeeded() {
		t.Fatal("error lost in round trip")
	}
	if decoded.Err.Code != 4 || decoded.Fee != 5000 {
		t.Fatal("field mismatch")
	}
	if decoded.ComputeUnitsConsumed == nil || *decoded.ComputeUnitsConsumed != 1200 {
		t.Fatal("compute units mismatch")
	}

	ok := &TransactionStatusMeta{Fee: 5000}
	decoded, err = DeserializeTransactionStatusMeta(ok.Serialize())
	if err != nil {
		t.Fatalf("deserialize ok: %v", err)
	}
	if !decoded.Succeeded() {
		t.Fatal("success status lost")
	}
}
