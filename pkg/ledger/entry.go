package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

var (
	// ErrTruncatedEntry is returned when an entry buffer ends early.
	ErrTruncatedEntry = errors.New("truncated entry data")

	// ErrTruncatedTransaction is returned when a transaction buffer ends
	// early.
	ErrTruncatedTransaction = errors.New("truncated transaction data")

	// ErrSanitizeFailed is returned by Sanitize for incoherent
	// transactions.
	ErrSanitizeFailed = errors.New("transaction failed sanitization")
)

// Entry is one link of the slot's Poh chain: a hash count, the chained hash,
// and the transactions recorded under it.
type Entry struct {
	// NumHashes is the number of hash iterations since the previous entry.
	NumHashes uint64

	// Hash is the Poh hash after NumHashes iterations and transaction
	// mixins. The last entry's hash is the slot's blockhash.
	Hash types.Hash

	// Transactions recorded in this entry. Tick entries carry none.
	Transactions []VersionedTransaction
}

// IsTick reports whether this entry is a bare Poh tick.
func (e *Entry) IsTick() bool {
	return len(e.Transactions) == 0
}

// MessageHeader describes the account types of a transaction message.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction is an instruction with accounts compiled to indexes
// into the message account keys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// MessageAddressTableLookup loads additional accounts from an on-chain
// lookup table (v0 messages only).
type MessageAddressTableLookup struct {
	AccountKey      types.Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// MessageVersion tags the message encoding.
type MessageVersion uint8

const (
	// MessageLegacy is the pre-versioning message format.
	MessageLegacy MessageVersion = iota

	// MessageV0 adds address table lookups.
	MessageV0
)

// versionPrefix marks a versioned message; the low bits carry the version.
const versionPrefix = 0x80

// Message is a versioned transaction message.
type Message struct {
	Version             MessageVersion
	Header              MessageHeader
	AccountKeys         []types.Pubkey
	RecentBlockhash     types.Hash
	Instructions        []CompiledInstruction
	AddressTableLookups []MessageAddressTableLookup
}

// VersionedTransaction is a signed versioned message. The first signature is
// the transaction's identity.
type VersionedTransaction struct {
	Signatures []types.Signature
	Message    Message
}

// Signature returns the transaction's identifying (first) signature, or the
// zero signature if unsigned.
func (tx *VersionedTransaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// Sanitize validates structural coherence of the transaction. It does not
// verify signatures or execute semantics.
func (tx *VersionedTransaction) Sanitize() error {
	h := tx.Message.Header
	if h.NumRequiredSignatures == 0 {
		return fmt.Errorf("%w: no required signatures", ErrSanitizeFailed)
	}
	if len(tx.Signatures) != int(h.NumRequiredSignatures) {
		return fmt.Errorf("%w: %d signatures, header requires %d",
			ErrSanitizeFailed, len(tx.Signatures), h.NumRequiredSignatures)
	}
	if int(h.NumRequiredSignatures) > len(tx.Message.AccountKeys) {
		return fmt.Errorf("%w: %d signers but %d account keys",
			ErrSanitizeFailed, h.NumRequiredSignatures, len(tx.Message.AccountKeys))
	}
	if int(h.NumReadonlySignedAccounts) >= int(h.NumRequiredSignatures) {
		return fmt.Errorf("%w: all signers readonly", ErrSanitizeFailed)
	}

	// Accounts loaded through lookup tables extend the addressable range
	// beyond the static keys.
	total := len(tx.Message.AccountKeys)
	for _, lookup := range tx.Message.AddressTableLookups {
		total += len(lookup.WritableIndexes) + len(lookup.ReadonlyIndexes)
	}
	if total > 256 {
		return fmt.Errorf("%w: %d loaded accounts exceed 256", ErrSanitizeFailed, total)
	}
	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= total {
			return fmt.Errorf("%w: instruction %d program index %d out of range",
				ErrSanitizeFailed, i, inst.ProgramIDIndex)
		}
		for _, acct := range inst.Accounts {
			if int(acct) >= total {
				return fmt.Errorf("%w: instruction %d account index %d out of range",
					ErrSanitizeFailed, i, acct)
			}
		}
	}
	if tx.Message.Version == MessageLegacy && len(tx.Message.AddressTableLookups) > 0 {
		return fmt.Errorf("%w: legacy message with address table lookups", ErrSanitizeFailed)
	}
	return nil
}

// Serialize encodes the transaction to its wire form: a compact-u16 counted
// signature list followed by the versioned message.
func (tx *VersionedTransaction) Serialize() []byte {
	var buf []byte
	buf = appendCompactU16(buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf = append(buf, sig[:]...)
	}
	buf = tx.Message.append(buf)
	return buf
}

func (m *Message) append(buf []byte) []byte {
	if m.Version == MessageV0 {
		buf = append(buf, versionPrefix|0)
	}
	buf = append(buf, m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts)
	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf = append(buf, key[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendCompactU16(buf, len(m.Instructions))
	for _, inst := range m.Instructions {
		buf = append(buf, inst.ProgramIDIndex)
		buf = appendCompactU16(buf, len(inst.Accounts))
		buf = append(buf, inst.Accounts...)
		buf = appendCompactU16(buf, len(inst.Data))
		buf = append(buf, inst.Data...)
	}
	if m.Version == MessageV0 {
		buf = appendCompactU16(buf, len(m.AddressTableLookups))
		for _, lookup := range m.AddressTableLookups {
			buf = append(buf, lookup.AccountKey[:]...)
			buf = appendCompactU16(buf, len(lookup.WritableIndexes))
			buf = append(buf, lookup.WritableIndexes...)
			buf = appendCompactU16(buf, len(lookup.ReadonlyIndexes))
			buf = append(buf, lookup.ReadonlyIndexes...)
		}
	}
	return buf
}

// DeserializeTransaction decodes one transaction, returning the bytes
// consumed.
func DeserializeTransaction(b []byte) (*VersionedTransaction, int, error) {
	r := &byteReader{buf: b}

	tx := &VersionedTransaction{}
	nsigs, err := r.compactU16()
	if err != nil {
		return nil, 0, err
	}
	tx.Signatures = make([]types.Signature, nsigs)
	for i := 0; i < nsigs; i++ {
		raw, err := r.take(types.SignatureSize)
		if err != nil {
			return nil, 0, err
		}
		copy(tx.Signatures[i][:], raw)
	}

	if err := tx.Message.read(r); err != nil {
		return nil, 0, err
	}
	return tx, r.pos, nil
}

func (m *Message) read(r *byteReader) error {
	first, err := r.byte()
	if err != nil {
		return err
	}
	if first&versionPrefix != 0 {
		version := first &^ byte(versionPrefix)
		if version != 0 {
			return fmt.Errorf("unsupported message version %d", version)
		}
		m.Version = MessageV0
		if first, err = r.byte(); err != nil {
			return err
		}
	} else {
		m.Version = MessageLegacy
	}

	m.Header.NumRequiredSignatures = first
	if m.Header.NumReadonlySignedAccounts, err = r.byte(); err != nil {
		return err
	}
	if m.Header.NumReadonlyUnsignedAccounts, err = r.byte(); err != nil {
		return err
	}

	nkeys, err := r.compactU16()
	if err != nil {
		return err
	}
	m.AccountKeys = make([]types.Pubkey, nkeys)
	for i := 0; i < nkeys; i++ {
		raw, err := r.take(types.PubkeySize)
		if err != nil {
			return err
		}
		copy(m.AccountKeys[i][:], raw)
	}

	raw, err := r.take(types.HashSize)
	if err != nil {
		return err
	}
	copy(m.RecentBlockhash[:], raw)

	ninst, err := r.compactU16()
	if err != nil {
		return err
	}
	m.Instructions = make([]CompiledInstruction, ninst)
	for i := 0; i < ninst; i++ {
		inst := &m.Instructions[i]
		if inst.ProgramIDIndex, err = r.byte(); err != nil {
			return err
		}
		naccts, err := r.compactU16()
		if err != nil {
			return err
		}
		accts, err := r.take(naccts)
		if err != nil {
			return err
		}
		inst.Accounts = append([]uint8(nil), accts...)
		ndata, err := r.compactU16()
		if err != nil {
			return err
		}
		data, err := r.take(ndata)
		if err != nil {
			return err
		}
		inst.Data = append([]byte(nil), data...)
	}

	if m.Version == MessageV0 {
		nlookups, err := r.compactU16()
		if err != nil {
			return err
		}
		m.AddressTableLookups = make([]MessageAddressTableLookup, nlookups)
		for i := 0; i < nlookups; i++ {
			lookup := &m.AddressTableLookups[i]
			raw, err := r.take(types.PubkeySize)
			if err != nil {
				return err
			}
			copy(lookup.AccountKey[:], raw)
			nw, err := r.compactU16()
			if err != nil {
				return err
			}
			w, err := r.take(nw)
			if err != nil {
				return err
			}
			lookup.WritableIndexes = append([]uint8(nil), w...)
			nr, err := r.compactU16()
			if err != nil {
				return err
			}
			ro, err := r.take(nr)
			if err != nil {
				return err
			}
			lookup.ReadonlyIndexes = append([]uint8(nil), ro...)
		}
	}
	return nil
}

// SerializeEntries encodes a slice of entries as the canonical deshredded
// buffer: a little-endian u64 count followed by each entry.
func SerializeEntries(entries []Entry) []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(entries)))
	for i := range entries {
		e := &entries[i]
		buf = binary.LittleEndian.AppendUint64(buf, e.NumHashes)
		buf = append(buf, e.Hash[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(e.Transactions)))
		for j := range e.Transactions {
			buf = append(buf, e.Transactions[j].Serialize()...)
		}
	}
	return buf
}

// DeserializeEntries decodes the canonical deshredded buffer of one data
// block into its entries.
func DeserializeEntries(b []byte) ([]Entry, error) {
	r := &byteReader{buf: b}

	count, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("%w: entry count", ErrTruncatedEntry)
	}
	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e Entry
		if e.NumHashes, err = r.u64(); err != nil {
			return nil, fmt.Errorf("%w: entry %d num hashes", ErrTruncatedEntry, i)
		}
		raw, err := r.take(types.HashSize)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d hash", ErrTruncatedEntry, i)
		}
		copy(e.Hash[:], raw)
		ntxs, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d tx count", ErrTruncatedEntry, i)
		}
		e.Transactions = make([]VersionedTransaction, 0, ntxs)
		for j := uint64(0); j < ntxs; j++ {
			tx, n, err := DeserializeTransaction(r.rest())
			if err != nil {
				return nil, fmt.Errorf("entry %d tx %d: %w", i, j, err)
			}
			r.pos += n
			e.Transactions = append(e.Transactions, *tx)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// byteReader is a bounds-checked cursor over a byte slice.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) rest() []byte {
	return r.buf[r.pos:]
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrTruncatedTransaction
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncatedTransaction
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) u64() (uint64, error) {
	raw, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// compactU16 reads a Solana compact-u16 (shortvec) length.
func (r *byteReader) compactU16() (int, error) {
	var value, shift uint
	for i := 0; i < 3; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		value |= uint(b&0x7f) << shift
		if b&0x80 == 0 {
			if value > 0xffff {
				return 0, errors.New("compact-u16 overflow")
			}
			return int(value), nil
		}
		shift += 7
	}
	return 0, errors.New("compact-u16 too long")
}

// appendCompactU16 writes a Solana compact-u16 (shortvec) length.
func appendCompactU16(buf []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(buf, byte(v))
		}
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
