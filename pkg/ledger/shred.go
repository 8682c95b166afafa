package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

// ShredKind discriminates data shreds from erasure-coding shreds.
type ShredKind uint8

const (
	// ShredData carries a fragment of the slot's serialized entries.
	ShredData ShredKind = iota

	// ShredCode carries Reed-Solomon erasure information. Code shreds are
	// not entry-bearing.
	ShredCode
)

// Data-shred flag layout. The low six bits hold the reference tick; the top
// two mark data-block and slot boundaries.
const (
	// FlagTickMask extracts the reference tick.
	FlagTickMask = 0x3f

	// FlagDataComplete marks the last shred of a data block.
	FlagDataComplete = 0x40

	// FlagLastInSlot marks the last shred of the slot. Implies a complete
	// data block.
	FlagLastInSlot = 0x80
)

// Shred header layout offsets. All integers little-endian.
//
//	[0:64]   signature
//	[64]     kind
//	[65:73]  slot
//	[73:77]  index
//	[77:79]  version
//	[79:83]  fec set index
//	[83]     flags
//	[84:86]  payload size
//	[86:]    payload, optionally followed by a 64-byte retransmitter signature
const (
	shredHeaderSize     = 86
	shredFlagsOffset    = 83
	retransmitterSigLen = 64
)

var (
	// ErrShredTooShort is returned when a buffer cannot hold a header.
	ErrShredTooShort = errors.New("shred too short")

	// ErrShredPayloadSize is returned when the encoded payload size does
	// not match the buffer.
	ErrShredPayloadSize = errors.New("shred payload size mismatch")

	// ErrNoRetransmitter is returned when a shred has no trailing
	// retransmitter signature.
	ErrNoRetransmitter = errors.New("shred carries no retransmitter signature")
)

// Shred is the atomic unit of block storage: a signed, indexed fragment of a
// slot, either data or erasure code.
type Shred struct {
	Signature   types.Signature
	Kind        ShredKind
	Slot        uint64
	Index       uint32
	Version     uint16
	FECSetIndex uint32
	Flags       uint8
	Payload     []byte

	// Retransmitter is the signature of the node that retransmitted this
	// shred, when present. It trails the payload on the wire and is
	// excluded from the leader signature.
	Retransmitter *types.Signature
}

// DataComplete reports whether this shred ends a complete data block.
func (s *Shred) DataComplete() bool {
	return s.Kind == ShredData && s.Flags&FlagDataComplete != 0
}

// LastInSlot reports whether this shred is the final shred of its slot.
func (s *Shred) LastInSlot() bool {
	return s.Kind == ShredData && s.Flags&FlagLastInSlot != 0
}

// ReferenceTick returns the Poh tick the shred's data refers to, used by the
// missing-shred repair timing.
func (s *Shred) ReferenceTick() uint8 {
	if s.Kind != ShredData {
		return 0
	}
	return s.Flags & FlagTickMask
}

// Encode serializes the shred to its stored byte form.
func (s *Shred) Encode() []byte {
	size := shredHeaderSize + len(s.Payload)
	if s.Retransmitter != nil {
		size += retransmitterSigLen
	}
	buf := make([]byte, size)

	copy(buf[0:64], s.Signature[:])
	buf[64] = byte(s.Kind)
	binary.LittleEndian.PutUint64(buf[65:73], s.Slot)
	binary.LittleEndian.PutUint32(buf[73:77], s.Index)
	binary.LittleEndian.PutUint16(buf[77:79], s.Version)
	binary.LittleEndian.PutUint32(buf[79:83], s.FECSetIndex)
	buf[shredFlagsOffset] = s.Flags
	binary.LittleEndian.PutUint16(buf[84:86], uint16(len(s.Payload)))
	copy(buf[shredHeaderSize:], s.Payload)
	if s.Retransmitter != nil {
		copy(buf[shredHeaderSize+len(s.Payload):], s.Retransmitter[:])
	}
	return buf
}

// DecodeShred parses a shred from its stored byte form.
func DecodeShred(b []byte) (*Shred, error) {
	if len(b) < shredHeaderSize {
		return nil, ErrShredTooShort
	}

	s := &Shred{}
	copy(s.Signature[:], b[0:64])
	s.Kind = ShredKind(b[64])
	s.Slot = binary.LittleEndian.Uint64(b[65:73])
	s.Index = binary.LittleEndian.Uint32(b[73:77])
	s.Version = binary.LittleEndian.Uint16(b[77:79])
	s.FECSetIndex = binary.LittleEndian.Uint32(b[79:83])
	s.Flags = b[shredFlagsOffset]

	payloadSize := int(binary.LittleEndian.Uint16(b[84:86]))
	if payloadSize > MaxShredPayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrShredPayloadSize, payloadSize, MaxShredPayload)
	}

	switch len(b) - shredHeaderSize - payloadSize {
	case 0:
	case retransmitterSigLen:
		var sig types.Signature
		copy(sig[:], b[shredHeaderSize+payloadSize:])
		s.Retransmitter = &sig
	default:
		return nil, fmt.Errorf("%w: have %d bytes, header says %d",
			ErrShredPayloadSize, len(b)-shredHeaderSize, payloadSize)
	}

	s.Payload = make([]byte, payloadSize)
	copy(s.Payload, b[shredHeaderSize:shredHeaderSize+payloadSize])
	return s, nil
}

// SetRetransmitter overwrites the retransmitter signature in a stored shred
// byte buffer in place. The buffer must parse as a shred; a buffer without a
// trailing retransmitter signature is left unchanged and ErrNoRetransmitter
// is returned.
func SetRetransmitter(stored []byte, sig types.Signature) ([]byte, error) {
	if len(stored) < shredHeaderSize {
		return nil, ErrShredTooShort
	}
	payloadSize := int(binary.LittleEndian.Uint16(stored[84:86]))
	end := shredHeaderSize + payloadSize
	if len(stored) < end {
		return nil, fmt.Errorf("%w: have %d bytes, header says %d",
			ErrShredPayloadSize, len(stored)-shredHeaderSize, payloadSize)
	}
	if len(stored) == end {
		return nil, ErrNoRetransmitter
	}
	copy(stored[end:end+retransmitterSigLen], sig[:])
	return stored, nil
}

// ReferenceTickFromPayload reads the reference tick straight out of a stored
// shred buffer without a full decode. Used on the raw-iterator hot path of
// the missing-index scan.
func ReferenceTickFromPayload(b []byte) (uint8, error) {
	if len(b) <= shredFlagsOffset {
		return 0, ErrShredTooShort
	}
	return b[shredFlagsOffset] & FlagTickMask, nil
}

// ValidateDataShredPayload checks that a stored buffer is a structurally
// sound data shred.
func ValidateDataShredPayload(b []byte) error {
	s, err := DecodeShred(b)
	if err != nil {
		return err
	}
	if s.Kind != ShredData {
		return fmt.Errorf("expected data shred, found kind %d", s.Kind)
	}
	return nil
}

// Deshred reconstructs the contiguous serialized-entry buffer from an
// ordered, contiguous run of data shreds.
func Deshred(shreds []*Shred) ([]byte, error) {
	var total int
	for _, s := range shreds {
		if s.Kind != ShredData {
			return nil, fmt.Errorf("code shred %d in data range", s.Index)
		}
		total += len(s.Payload)
	}
	buf := make([]byte, 0, total)
	for i, s := range shreds {
		if i > 0 && s.Index != shreds[i-1].Index+1 {
			return nil, fmt.Errorf("data range not contiguous at index %d", s.Index)
		}
		buf = append(buf, s.Payload...)
	}
	return buf, nil
}
