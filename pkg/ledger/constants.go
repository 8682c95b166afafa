// Package ledger defines the on-disk and on-wire data units of the X1 ledger:
// shreds, entries, transactions, slot metadata, and the value types of the
// blockstore column families.
package ledger

import "time"

// Protocol timing constants shared by the blockstore and the forwarding
// service.
const (
	// TicksPerSecond is the Poh tick rate (DEFAULT_TICKS_PER_SECOND).
	TicksPerSecond = 64

	// NumConsecutiveLeaderSlots is the length of one leader's slot run.
	NumConsecutiveLeaderSlots = 4

	// SlotDuration is the nominal wall-clock length of one slot.
	SlotDuration = 400 * time.Millisecond
)

// MaxShredPayload bounds a single data-shred payload. Shreds above this size
// are rejected at parse time.
const MaxShredPayload = 1228
