package sendtx

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/gossip"
	"github.com/fortiblox/X1-Ledger/pkg/ledger"
)

// ContactLookup resolves validator contact info from the gossip table.
type ContactLookup interface {
	GetThreadSafeContactInfo(pubkey types.Pubkey) (gossip.ContactInfo, bool)
}

// SlotLeader assigns one epoch slot index to its leader.
type SlotLeader struct {
	Slot   uint64
	Leader types.Pubkey
}

// serviceInfo is the refreshed snapshot of cluster state the sender and
// processor read: epoch info with its capture instant, the latest blockhash,
// the epoch leader schedule, and the leader TPU address map. The refresher
// thread is its single writer.
type serviceInfo struct {
	rpc    RPCClient
	gossip ContactLookup

	mu               sync.RWMutex
	epochInfo        EpochInfo
	epochInfoInstant time.Time
	latestBlockhash  types.Hash
	slotLeaders      []SlotLeader
	leaderAddresses  map[types.Pubkey]*net.UDPAddr
}

func newServiceInfo(rpc RPCClient, table ContactLookup) *serviceInfo {
	return &serviceInfo{
		rpc:             rpc,
		gossip:          table,
		leaderAddresses: make(map[types.Pubkey]*net.UDPAddr),
	}
}

// refresh re-fetches epoch info and blockhash, rebuilds the flattened leader
// schedule sorted by slot, and re-resolves leader TPU addresses. The old
// address map is replaced wholesale.
func (s *serviceInfo) refresh(ctx context.Context) error {
	epochInfo, err := s.rpc.GetEpochInfo(ctx)
	if err != nil {
		return fmt.Errorf("get epoch info: %w", err)
	}
	instant := time.Now()

	blockhash, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("get latest blockhash: %w", err)
	}

	schedule, err := s.rpc.GetLeaderSchedule(ctx)
	if err != nil {
		return fmt.Errorf("get leader schedule: %w", err)
	}

	slotLeaders := make([]SlotLeader, 0, epochInfo.SlotsInEpoch)
	for leaderStr, slots := range schedule {
		leader, err := types.PubkeyFromBase58(leaderStr)
		if err != nil {
			return fmt.Errorf("leader schedule pubkey %q: %w", leaderStr, err)
		}
		for _, slot := range slots {
			slotLeaders = append(slotLeaders, SlotLeader{Slot: slot, Leader: leader})
		}
	}
	sort.Slice(slotLeaders, func(i, j int) bool {
		return slotLeaders[i].Slot < slotLeaders[j].Slot
	})

	addresses := make(map[types.Pubkey]*net.UDPAddr)
	for _, sl := range slotLeaders {
		if _, done := addresses[sl.Leader]; done {
			continue
		}
		info, ok := s.gossip.GetThreadSafeContactInfo(sl.Leader)
		if !ok {
			continue
		}
		if addr := info.TPUAddr(); addr != nil {
			addresses[sl.Leader] = addr
		}
	}

	s.mu.Lock()
	s.epochInfo = *epochInfo
	s.epochInfoInstant = instant
	s.latestBlockhash = blockhash
	s.slotLeaders = slotLeaders
	s.leaderAddresses = addresses
	s.mu.Unlock()
	return nil
}

// getLeaderAddresses resolves the TPU addresses of the next count leaders,
// extrapolating the current slot from the epoch-info capture instant at one
// slot per 400 ms.
func (s *serviceInfo) getLeaderAddresses(count int) ([]*net.UDPAddr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slotsElapsed := uint64(time.Since(s.epochInfoInstant).Milliseconds()) /
		uint64(ledger.SlotDuration.Milliseconds())

	addrs := make([]*net.UDPAddr, 0, count)
	for i := 0; i < count; i++ {
		slotIndex := s.epochInfo.SlotIndex + slotsElapsed + uint64(ledger.NumConsecutiveLeaderSlots*i)
		if slotIndex >= uint64(len(s.slotLeaders)) {
			return nil, fmt.Errorf("%w: slot index %d of %d",
				ErrLeaderScheduleExhausted, slotIndex, len(s.slotLeaders))
		}
		leader := s.slotLeaders[slotIndex].Leader
		addr, ok := s.leaderAddresses[leader]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLeaderAddressUnknown, leader)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// LatestBlockhash returns the refreshed blockhash snapshot.
func (s *serviceInfo) LatestBlockhash() types.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestBlockhash
}
