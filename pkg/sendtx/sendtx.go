// Package sendtx implements the transaction forwarding service.
//
// The service receives client transactions on a channel, batches them, and
// forwards them to the current and upcoming slot leaders' TPU addresses. A
// processor thread polls signature statuses through an RPC oracle and
// retries stalled transactions until they root, fail, or expire. Four
// long-lived goroutines cooperate around guarded shared state: the
// service-info refresher, the receiver, the processor, and an optional mock
// transaction generator.
package sendtx

import (
	"errors"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

// Behavior constants at the service boundary.
const (
	// MaxPendingPoolSize bounds the pending-transaction map.
	MaxPendingPoolSize = 10_000

	// DefaultBatchSize triggers a send once this many transactions are
	// batched.
	DefaultBatchSize = 1

	// DefaultBatchSendRate flushes a nonempty batch at least this often.
	DefaultBatchSendRate = 1 * time.Millisecond

	// DefaultProcessTransactionsRate is the processor poll cadence; a
	// pending transaction is also not resent more often than this.
	DefaultProcessTransactionsRate = 2 * time.Second

	// DefaultRefreshRate is the service-info refresh cadence.
	DefaultRefreshRate = 60 * time.Second

	// DefaultLeaderForwardCount is how many upcoming leaders receive each
	// batch.
	DefaultLeaderForwardCount = 2
)

var (
	// ErrLeaderScheduleExhausted is returned when the cached schedule
	// does not cover the current slot.
	ErrLeaderScheduleExhausted = errors.New("leader schedule exhausted")

	// ErrLeaderAddressUnknown is returned when a scheduled leader has no
	// known TPU address.
	ErrLeaderAddressUnknown = errors.New("leader address unknown")

	// ErrServiceClosed is returned when submitting to a stopped service.
	ErrServiceClosed = errors.New("send transaction service closed")
)

// Config holds the forwarding service configuration.
type Config struct {
	// BatchSize triggers a send once the receiver has batched this many
	// transactions.
	BatchSize int

	// BatchSendRate flushes a nonempty batch at least this often.
	BatchSendRate time.Duration

	// ProcessTransactionsRate is the processor poll cadence.
	ProcessTransactionsRate time.Duration

	// RefreshRate is the service-info refresh cadence.
	RefreshRate time.Duration

	// LeaderForwardCount is how many upcoming leaders receive each batch.
	LeaderForwardCount int

	// MaxPendingPoolSize bounds the pending-transaction map.
	MaxPendingPoolSize int

	// SubmitQueueSize is the inbound channel capacity.
	SubmitQueueSize int
}

// DefaultConfig returns the default forwarding configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:               DefaultBatchSize,
		BatchSendRate:           DefaultBatchSendRate,
		ProcessTransactionsRate: DefaultProcessTransactionsRate,
		RefreshRate:             DefaultRefreshRate,
		LeaderForwardCount:      DefaultLeaderForwardCount,
		MaxPendingPoolSize:      MaxPendingPoolSize,
		SubmitQueueSize:         1024,
	}
}

// DurableNonceInfo marks a transaction as using a durable nonce instead of a
// recent blockhash. The processor's block-height expiry check does not
// consult it.
type DurableNonceInfo struct {
	NonceAccount types.Pubkey
	Nonce        types.Hash
}

// TransactionInfo is one in-flight transaction tracked by the service.
type TransactionInfo struct {
	// Signature identifies the transaction.
	Signature types.Signature

	// WireTransaction is the serialized transaction pushed to leaders.
	WireTransaction []byte

	// LastValidBlockHeight is the height after which the transaction's
	// blockhash expires.
	LastValidBlockHeight uint64

	// DurableNonce is set for nonce transactions.
	DurableNonce *DurableNonceInfo

	// MaxRetries caps resends when set.
	MaxRetries *int

	// Retries counts completed resends.
	Retries int

	// LastSentTime is the time of the most recent send, nil before the
	// first.
	LastSentTime *time.Time
}
