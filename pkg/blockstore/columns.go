package blockstore

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/database"
)

// Column family names. The ledger ingest path writes them; the Reader only
// ever reads.
const (
	cfSlotMeta        = "slot_meta"
	cfRoots           = "roots"
	cfDataShred       = "data_shred"
	cfCodeShred       = "code_shred"
	cfTxStatus        = "transaction_status"
	cfTxMemos         = "transaction_memos"
	cfAddressSigs     = "address_signatures"
	cfBlocktime       = "blocktime"
	cfBlockHeight     = "block_height"
	cfRewards         = "rewards"
	cfPerfSamples     = "perf_samples"
	cfProgramCosts    = "program_costs"
	cfBankHash        = "bank_hash"
	cfOptimisticSlots = "optimistic_slots"
	cfDeadSlots       = "dead_slots"
	cfDuplicateSlots  = "duplicate_slots"
)

// Schema lists every column family the blockstore consumes. Status and
// rewards values are bulky and stored compressed.
func Schema() []database.Column {
	return []database.Column{
		{Name: cfSlotMeta},
		{Name: cfRoots},
		{Name: cfDataShred},
		{Name: cfCodeShred},
		{Name: cfTxStatus, Compressed: true},
		{Name: cfTxMemos},
		{Name: cfAddressSigs},
		{Name: cfBlocktime},
		{Name: cfBlockHeight},
		{Name: cfRewards, Compressed: true},
		{Name: cfPerfSamples},
		{Name: cfProgramCosts},
		{Name: cfBankHash},
		{Name: cfOptimisticSlots},
		{Name: cfDeadSlots},
		{Name: cfDuplicateSlots},
	}
}

// Key codecs. Integer fields are big-endian so lexicographic byte order
// equals numeric order; composite keys serialize field by field.

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeShredKey encodes a (slot, shred index) key.
// Format: [8-byte slot][8-byte index], both big-endian.
func EncodeShredKey(slot, index uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], slot)
	binary.BigEndian.PutUint64(key[8:], index)
	return key
}

// DecodeShredKey decodes a (slot, shred index) key.
func DecodeShredKey(key []byte) (slot, index uint64) {
	if len(key) < 16 {
		return 0, 0
	}
	return binary.BigEndian.Uint64(key[:8]), binary.BigEndian.Uint64(key[8:16])
}

// EncodeTxStatusKey encodes a (signature, slot) key.
// Format: [64-byte signature][8-byte slot big-endian]
func EncodeTxStatusKey(sig types.Signature, slot uint64) []byte {
	key := make([]byte, types.SignatureSize+8)
	copy(key[:types.SignatureSize], sig[:])
	binary.BigEndian.PutUint64(key[types.SignatureSize:], slot)
	return key
}

// DecodeTxStatusKey decodes a (signature, slot) key.
func DecodeTxStatusKey(key []byte) (types.Signature, uint64) {
	var sig types.Signature
	if len(key) < types.SignatureSize+8 {
		return sig, 0
	}
	copy(sig[:], key[:types.SignatureSize])
	return sig, binary.BigEndian.Uint64(key[types.SignatureSize:])
}

// EncodeAddressSigKey encodes an (address, slot, tx index, signature) key.
// Format: [32-byte address][8-byte slot][4-byte tx index][64-byte signature]
func EncodeAddressSigKey(addr types.Pubkey, slot uint64, txIndex uint32, sig types.Signature) []byte {
	key := make([]byte, types.PubkeySize+8+4+types.SignatureSize)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:40], slot)
	binary.BigEndian.PutUint32(key[40:44], txIndex)
	copy(key[44:], sig[:])
	return key
}

// DecodeAddressSigKey decodes an (address, slot, tx index, signature) key.
func DecodeAddressSigKey(key []byte) (addr types.Pubkey, slot uint64, txIndex uint32, sig types.Signature) {
	if len(key) < types.PubkeySize+8+4+types.SignatureSize {
		return
	}
	copy(addr[:], key[:32])
	slot = binary.BigEndian.Uint64(key[32:40])
	txIndex = binary.BigEndian.Uint32(key[40:44])
	copy(sig[:], key[44:])
	return
}

// EncodePubkeyKey encodes a bare pubkey key (program_costs).
func EncodePubkeyKey(pk types.Pubkey) []byte {
	return pk.Bytes()
}

// DecodePubkeyKey decodes a bare pubkey key.
func DecodePubkeyKey(key []byte) types.Pubkey {
	var pk types.Pubkey
	copy(pk[:], key)
	return pk
}
