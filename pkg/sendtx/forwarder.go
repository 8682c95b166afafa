package sendtx

import (
	"fmt"
	"net"
)

// Forwarder pushes wire transactions to a set of leader addresses. The
// service treats it as an external transport; errors are surfaced to the
// caller.
type Forwarder interface {
	ForwardBatch(addrs []*net.UDPAddr, wireTransactions [][]byte) error
	Close() error
}

// UDPForwarder sends each wire transaction as one UDP datagram per leader
// TPU address. This is the default transport.
type UDPForwarder struct {
	conn *net.UDPConn
}

// NewUDPForwarder opens the sending socket.
func NewUDPForwarder() (*UDPForwarder, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &UDPForwarder{conn: conn}, nil
}

// ForwardBatch writes every transaction to every address.
func (f *UDPForwarder) ForwardBatch(addrs []*net.UDPAddr, wireTransactions [][]byte) error {
	for _, addr := range addrs {
		for _, wire := range wireTransactions {
			if _, err := f.conn.WriteToUDP(wire, addr); err != nil {
				return fmt.Errorf("send to %s: %w", addr, err)
			}
		}
	}
	return nil
}

// Close releases the socket.
func (f *UDPForwarder) Close() error {
	return f.conn.Close()
}
