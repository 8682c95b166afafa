package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

var (
	// ErrTruncatedValue is returned when a stored column value ends early.
	ErrTruncatedValue = errors.New("truncated column value")

	// ErrUnknownVersion is returned for an unrecognized value version tag.
	ErrUnknownVersion = errors.New("unknown value version")
)

// TransactionError carries the protocol error code of a failed transaction.
type TransactionError struct {
	// Code is the protocol-defined error discriminant.
	Code uint32

	// InstructionIndex is set when the error is attributable to one
	// instruction; 0xff otherwise.
	InstructionIndex uint8
}

// TransactionStatusMeta is the execution result of a confirmed transaction.
type TransactionStatusMeta struct {
	// Err is nil when the transaction succeeded.
	Err *TransactionError

	// Fee paid, in lamports.
	Fee uint64

	// PreBalances and PostBalances are per-account lamport balances
	// around execution, aligned with the message account keys.
	PreBalances  []uint64
	PostBalances []uint64

	// ComputeUnitsConsumed, when recorded.
	ComputeUnitsConsumed *uint64
}

// Succeeded reports whether the transaction executed without error.
func (m *TransactionStatusMeta) Succeeded() bool {
	return m.Err == nil
}

// Serialize encodes the status meta to its stored form.
func (m *TransactionStatusMeta) Serialize() []byte {
	var buf []byte
	if m.Err == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint32(buf, m.Err.Code)
		buf = append(buf, m.Err.InstructionIndex)
	}
	buf = binary.LittleEndian.AppendUint64(buf, m.Fee)
	buf = appendU64Slice(buf, m.PreBalances)
	buf = appendU64Slice(buf, m.PostBalances)
	buf = appendOptionalU64(buf, m.ComputeUnitsConsumed)
	return buf
}

// DeserializeTransactionStatusMeta decodes a stored status meta.
func DeserializeTransactionStatusMeta(b []byte) (*TransactionStatusMeta, error) {
	r := &byteReader{buf: b}
	m := &TransactionStatusMeta{}

	present, err := r.byte()
	if err != nil {
		return nil, ErrTruncatedValue
	}
	if present != 0 {
		var terr TransactionError
		code, err := r.take(4)
		if err != nil {
			return nil, ErrTruncatedValue
		}
		terr.Code = binary.LittleEndian.Uint32(code)
		if terr.InstructionIndex, err = r.byte(); err != nil {
			return nil, ErrTruncatedValue
		}
		m.Err = &terr
	}
	if m.Fee, err = r.u64(); err != nil {
		return nil, ErrTruncatedValue
	}
	if m.PreBalances, err = readU64Slice(r); err != nil {
		return nil, ErrTruncatedValue
	}
	if m.PostBalances, err = readU64Slice(r); err != nil {
		return nil, ErrTruncatedValue
	}
	if m.ComputeUnitsConsumed, err = readOptionalU64(r); err != nil {
		return nil, ErrTruncatedValue
	}
	return m, nil
}

// RewardType classifies a staking reward.
type RewardType uint8

const (
	RewardTypeUnspecified RewardType = iota
	RewardTypeFee
	RewardTypeRent
	RewardTypeStaking
	RewardTypeVoting
)

// Reward is one reward distribution recorded for a slot.
type Reward struct {
	Pubkey      types.Pubkey
	Lamports    int64
	PostBalance uint64
	RewardType  RewardType
	Commission  *uint8
}

// Rewards is the per-slot rewards record, optionally partitioned.
type Rewards struct {
	Rewards       []Reward
	NumPartitions *uint64
}

// Serialize encodes the rewards record to its stored form.
func (rw *Rewards) Serialize() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(rw.Rewards)))
	for i := range rw.Rewards {
		r := &rw.Rewards[i]
		buf = append(buf, r.Pubkey[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Lamports))
		buf = binary.LittleEndian.AppendUint64(buf, r.PostBalance)
		buf = append(buf, byte(r.RewardType))
		if r.Commission == nil {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1, *r.Commission)
		}
	}
	buf = appendOptionalU64(buf, rw.NumPartitions)
	return buf
}

// DeserializeRewards decodes a stored rewards record.
func DeserializeRewards(b []byte) (*Rewards, error) {
	r := &byteReader{buf: b}
	out := &Rewards{}

	n, err := r.u64()
	if err != nil {
		return nil, ErrTruncatedValue
	}
	out.Rewards = make([]Reward, 0, n)
	for i := uint64(0); i < n; i++ {
		var rw Reward
		raw, err := r.take(types.PubkeySize)
		if err != nil {
			return nil, ErrTruncatedValue
		}
		copy(rw.Pubkey[:], raw)
		lamports, err := r.u64()
		if err != nil {
			return nil, ErrTruncatedValue
		}
		rw.Lamports = int64(lamports)
		if rw.PostBalance, err = r.u64(); err != nil {
			return nil, ErrTruncatedValue
		}
		kind, err := r.byte()
		if err != nil {
			return nil, ErrTruncatedValue
		}
		rw.RewardType = RewardType(kind)
		present, err := r.byte()
		if err != nil {
			return nil, ErrTruncatedValue
		}
		if present != 0 {
			c, err := r.byte()
			if err != nil {
				return nil, ErrTruncatedValue
			}
			rw.Commission = &c
		}
		out.Rewards = append(out.Rewards, rw)
	}
	if out.NumPartitions, err = readOptionalU64(r); err != nil {
		return nil, ErrTruncatedValue
	}
	return out, nil
}

// PerfSample is a periodic throughput sample.
type PerfSample struct {
	NumTransactions        uint64
	NumNonVoteTransactions uint64
	NumSlots               uint64
	SamplePeriodSecs       uint16
}

// Serialize encodes the sample to its stored form.
func (p *PerfSample) Serialize() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, p.NumTransactions)
	buf = binary.LittleEndian.AppendUint64(buf, p.NumNonVoteTransactions)
	buf = binary.LittleEndian.AppendUint64(buf, p.NumSlots)
	buf = binary.LittleEndian.AppendUint16(buf, p.SamplePeriodSecs)
	return buf
}

// DeserializePerfSample decodes a stored sample.
func DeserializePerfSample(b []byte) (*PerfSample, error) {
	r := &byteReader{buf: b}
	p := &PerfSample{}
	var err error
	if p.NumTransactions, err = r.u64(); err != nil {
		return nil, ErrTruncatedValue
	}
	if p.NumNonVoteTransactions, err = r.u64(); err != nil {
		return nil, ErrTruncatedValue
	}
	if p.NumSlots, err = r.u64(); err != nil {
		return nil, ErrTruncatedValue
	}
	raw, err := r.take(2)
	if err != nil {
		return nil, ErrTruncatedValue
	}
	p.SamplePeriodSecs = binary.LittleEndian.Uint16(raw)
	return p, nil
}

// ProgramCost is the recorded compute cost of a program.
type ProgramCost struct {
	Cost uint64
}

// Serialize encodes the cost to its stored form.
func (p *ProgramCost) Serialize() []byte {
	return binary.LittleEndian.AppendUint64(nil, p.Cost)
}

// DeserializeProgramCost decodes a stored cost.
func DeserializeProgramCost(b []byte) (*ProgramCost, error) {
	if len(b) < 8 {
		return nil, ErrTruncatedValue
	}
	return &ProgramCost{Cost: binary.LittleEndian.Uint64(b)}, nil
}

// BankHashInfo is the frozen bank hash of a slot plus its duplicate
// confirmation status.
type BankHashInfo struct {
	FrozenHash           types.Hash
	IsDuplicateConfirmed bool
}

// Serialize encodes the record to its stored form.
func (i *BankHashInfo) Serialize() []byte {
	buf := make([]byte, 0, types.HashSize+1)
	buf = append(buf, i.FrozenHash[:]...)
	if i.IsDuplicateConfirmed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DeserializeBankHashInfo decodes a stored record.
func DeserializeBankHashInfo(b []byte) (*BankHashInfo, error) {
	if len(b) < types.HashSize+1 {
		return nil, ErrTruncatedValue
	}
	info := &BankHashInfo{IsDuplicateConfirmed: b[types.HashSize] != 0}
	copy(info.FrozenHash[:], b[:types.HashSize])
	return info, nil
}

// optimisticSlotVersion tags the OptimisticSlotInfo encoding.
const optimisticSlotVersion = 0

// OptimisticSlotInfo records an optimistic confirmation observation.
type OptimisticSlotInfo struct {
	Hash      types.Hash
	Timestamp int64
}

// Serialize encodes the record with a leading version tag.
func (i *OptimisticSlotInfo) Serialize() []byte {
	buf := make([]byte, 0, 1+types.HashSize+8)
	buf = append(buf, optimisticSlotVersion)
	buf = append(buf, i.Hash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(i.Timestamp))
	return buf
}

// DeserializeOptimisticSlotInfo decodes a stored record, honoring the
// version tag.
func DeserializeOptimisticSlotInfo(b []byte) (*OptimisticSlotInfo, error) {
	if len(b) < 1 {
		return nil, ErrTruncatedValue
	}
	if b[0] != optimisticSlotVersion {
		return nil, fmt.Errorf("%w: optimistic slot version %d", ErrUnknownVersion, b[0])
	}
	if len(b) < 1+types.HashSize+8 {
		return nil, ErrTruncatedValue
	}
	info := &OptimisticSlotInfo{}
	copy(info.Hash[:], b[1:1+types.HashSize])
	info.Timestamp = int64(binary.LittleEndian.Uint64(b[1+types.HashSize:]))
	return info, nil
}

// DuplicateSlotProof holds the two conflicting shreds proving a slot was
// produced in duplicate.
type DuplicateSlotProof struct {
	Shred1 []byte
	Shred2 []byte
}

// Serialize encodes the proof to its stored form.
func (p *DuplicateSlotProof) Serialize() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p.Shred1)))
	buf = append(buf, p.Shred1...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p.Shred2)))
	buf = append(buf, p.Shred2...)
	return buf
}

// DeserializeDuplicateSlotProof decodes a stored proof.
func DeserializeDuplicateSlotProof(b []byte) (*DuplicateSlotProof, error) {
	r := &byteReader{buf: b}
	p := &DuplicateSlotProof{}

	n, err := r.u64()
	if err != nil {
		return nil, ErrTruncatedValue
	}
	raw, err := r.take(int(n))
	if err != nil {
		return nil, ErrTruncatedValue
	}
	p.Shred1 = append([]byte(nil), raw...)

	n, err = r.u64()
	if err != nil {
		return nil, ErrTruncatedValue
	}
	raw, err = r.take(int(n))
	if err != nil {
		return nil, ErrTruncatedValue
	}
	p.Shred2 = append([]byte(nil), raw...)
	return p, nil
}

func appendU64Slice(buf []byte, vs []uint64) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(vs)))
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return buf
}

func readU64Slice(r *byteReader) ([]uint64, error) {
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
