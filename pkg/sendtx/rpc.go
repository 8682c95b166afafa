package sendtx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fortiblox/X1-Ledger/internal/types"
	"github.com/fortiblox/X1-Ledger/pkg/rpcpool"
)

// EpochInfo is the RPC oracle's view of the current epoch.
type EpochInfo struct {
	AbsoluteSlot uint64 `json:"absoluteSlot"`
	BlockHeight  uint64 `json:"blockHeight"`
	Epoch        uint64 `json:"epoch"`
	SlotIndex    uint64 `json:"slotIndex"`
	SlotsInEpoch uint64 `json:"slotsInEpoch"`
}

// SignatureStatus is the oracle's view of one in-flight signature.
type SignatureStatus struct {
	Slot uint64 `json:"slot"`

	// Confirmations is nil once the transaction is rooted.
	Confirmations *uint64 `json:"confirmations"`

	// Err is non-null when the transaction failed.
	Err json.RawMessage `json:"err"`

	ConfirmationStatus string `json:"confirmationStatus"`
}

// Failed reports whether the status carries an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && !bytes.Equal(s.Err, []byte("null"))
}

// Rooted reports whether the transaction reached max confirmation.
func (s *SignatureStatus) Rooted() bool {
	return s.Confirmations == nil
}

// RPCClient is the oracle interface the forwarding service consumes.
type RPCClient interface {
	GetEpochInfo(ctx context.Context) (*EpochInfo, error)
	GetLatestBlockhash(ctx context.Context) (types.Hash, error)
	GetLeaderSchedule(ctx context.Context) (map[string][]uint64, error)
	GetBlockHeight(ctx context.Context) (uint64, error)

	// GetSignatureStatuses returns one status per supplied signature, in
	// the same order, with nil for unknown signatures.
	GetSignatureStatuses(ctx context.Context, sigs []types.Signature, searchTransactionHistory bool) ([]*SignatureStatus, error)
}

// HTTPClient implements RPCClient over JSON-RPC 2.0, drawing endpoints from
// a health-checked pool.
type HTTPClient struct {
	httpClient *http.Client
	pool       *rpcpool.Pool
}

// NewHTTPClient creates an RPC client with the given pool.
func NewHTTPClient(pool *rpcpool.Pool, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		pool:       pool,
	}
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call makes a JSON-RPC call against a healthy endpoint.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	endpoint, err := c.pool.GetEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("get endpoint: %w", err)
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.pool.MarkUnhealthy(endpoint, err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pool.MarkUnhealthy(endpoint, err)
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.pool.MarkUnhealthy(endpoint, fmt.Errorf("status %d", resp.StatusCode))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.pool.MarkUnhealthy(endpoint, err)
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		// RPC-level errors are not endpoint health issues.
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// GetEpochInfo returns the current epoch info.
func (c *HTTPClient) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	var info EpochInfo
	if err := c.call(ctx, "getEpochInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetLatestBlockhash returns the latest confirmed blockhash.
func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []interface{}{map[string]string{"commitment": "confirmed"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &resp); err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBase58(resp.Value.Blockhash)
}

// GetLeaderSchedule returns the epoch's leader schedule as a map from leader
// pubkey string to the leader's slot indexes within the epoch.
func (c *HTTPClient) GetLeaderSchedule(ctx context.Context) (map[string][]uint64, error) {
	var schedule map[string][]uint64
	if err := c.call(ctx, "getLeaderSchedule", nil, &schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// GetBlockHeight returns the current block height.
func (c *HTTPClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getBlockHeight", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetSignatureStatuses returns statuses aligned with sigs.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, sigs []types.Signature, searchTransactionHistory bool) ([]*SignatureStatus, error) {
	encoded := make([]string, len(sigs))
	for i, sig := range sigs {
		encoded[i] = sig.String()
	}

	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []interface{}{
		encoded,
		map[string]bool{"searchTransactionHistory": searchTransactionHistory},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Value) != len(sigs) {
		return nil, fmt.Errorf("signature status count mismatch: %d statuses for %d signatures",
			len(resp.Value), len(sigs))
	}
	return resp.Value, nil
}
