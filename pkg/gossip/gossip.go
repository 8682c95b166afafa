// Package gossip holds the cluster contact-info table consumed by the
// transaction forwarding service.
//
// The gossip wire protocol itself runs elsewhere; this package only models
// the table of validator contact information that the protocol maintains,
// with the thread-safe lookup surface the forwarder needs to resolve leader
// TPU addresses.
package gossip

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
)

// SocketAddr represents an IP:port combination.
type SocketAddr struct {
	IP   net.IP
	Port uint16
}

// IsValid returns true if the socket address is set.
func (s SocketAddr) IsValid() bool {
	return len(s.IP) > 0 && s.Port > 0
}

// String returns the address as "IP:port".
func (s SocketAddr) String() string {
	if !s.IsValid() {
		return ""
	}
	return net.JoinHostPort(s.IP.String(), strconv.Itoa(int(s.Port)))
}

// ToUDPAddr converts to *net.UDPAddr, or nil when unset.
func (s SocketAddr) ToUDPAddr() *net.UDPAddr {
	if !s.IsValid() {
		return nil
	}
	return &net.UDPAddr{IP: s.IP, Port: int(s.Port)}
}

// ContactInfo is the advertised contact record of one validator.
type ContactInfo struct {
	// Pubkey is the node's identity public key.
	Pubkey types.Pubkey

	// ShredVersion for network compatibility.
	ShredVersion uint16

	// Socket addresses for the services the forwarder cares about.
	Gossip      SocketAddr
	TPU         SocketAddr
	TPUForwards SocketAddr

	// WallClock is the timestamp of the last contact-info update.
	WallClock time.Time
}

// TPUAddr returns the node's TPU socket, or nil when not advertised.
func (c *ContactInfo) TPUAddr() *net.UDPAddr {
	return c.TPU.ToUDPAddr()
}

// Table is the thread-safe contact-info table. The gossip driver is its
// writer; the forwarding service only reads.
type Table struct {
	mu    sync.RWMutex
	nodes map[types.Pubkey]ContactInfo
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{nodes: make(map[types.Pubkey]ContactInfo)}
}

// GetThreadSafeContactInfo returns a copy of the contact info for pubkey.
func (t *Table) GetThreadSafeContactInfo(pubkey types.Pubkey) (ContactInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.nodes[pubkey]
	return info, ok
}

// Upsert records or refreshes a node's contact info.
func (t *Table) Upsert(info ContactInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[info.Pubkey] = info
}

// Remove drops a node from the table.
func (t *Table) Remove(pubkey types.Pubkey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, pubkey)
}

// Len returns the number of known nodes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
