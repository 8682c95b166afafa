package sendtx

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// RelayerConfig configures the gRPC relayer forwarder.
type RelayerConfig struct {
	// Endpoint is the relayer's gRPC address.
	Endpoint string

	// UseTLS enables transport security.
	UseTLS bool

	// RequestTimeout bounds each forward call.
	RequestTimeout time.Duration
}

// RelayerForwarder pushes wire-transaction batches to a transaction relayer
// over gRPC instead of hitting leader TPUs directly. The relayer fans the
// batch out to the addressed leaders on our behalf.
type RelayerForwarder struct {
	config RelayerConfig
	conn   *grpc.ClientConn
}

// Hand-rolled message types for the relayer protocol, mirroring its proto
// definitions so the forwarder does not depend on generated stubs.

type forwardPacket struct {
	Data []byte `protobuf:"bytes,1,opt,name=data"`
}

type forwardRequest struct {
	Packets   []*forwardPacket `protobuf:"bytes,1,rep,name=packets"`
	TPUAddrs  []string         `protobuf:"bytes,2,rep,name=tpu_addrs"`
	Timestamp int64            `protobuf:"varint,3,opt,name=timestamp"`
}

type forwardResponse struct {
	Accepted uint64 `protobuf:"varint,1,opt,name=accepted"`
}

const relayerForwardMethod = "/relayer.TransactionRelayer/ForwardTransactions"

// NewRelayerForwarder dials the relayer endpoint.
func NewRelayerForwarder(config RelayerConfig) (*RelayerForwarder, error) {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}

	creds := insecure.NewCredentials()
	if config.UseTLS {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}

	conn, err := grpc.Dial(config.Endpoint,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial relayer %s: %w", config.Endpoint, err)
	}
	return &RelayerForwarder{config: config, conn: conn}, nil
}

// ForwardBatch relays every transaction with the resolved leader addresses.
func (f *RelayerForwarder) ForwardBatch(addrs []*net.UDPAddr, wireTransactions [][]byte) error {
	packets := make([]*forwardPacket, len(wireTransactions))
	for i, wire := range wireTransactions {
		packets[i] = &forwardPacket{Data: wire}
	}
	tpuAddrs := make([]string, len(addrs))
	for i, addr := range addrs {
		tpuAddrs[i] = addr.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.config.RequestTimeout)
	defer cancel()

	req := &forwardRequest{
		Packets:   packets,
		TPUAddrs:  tpuAddrs,
		Timestamp: time.Now().UnixMilli(),
	}
	resp := &forwardResponse{}
	if err := f.conn.Invoke(ctx, relayerForwardMethod, req, resp); err != nil {
		return fmt.Errorf("forward to relayer: %w", err)
	}
	return nil
}

// Close tears down the gRPC connection.
func (f *RelayerForwarder) Close() error {
	return f.conn.Close()
}
