package pricefeedd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NodeClient submits prices to the node over JSON-RPC.
type NodeClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewNodeClient builds a client for the given RPC endpoint. The bearer token
// may be empty, in which case the node will reject the submission.
func NewNodeClient(endpoint, token string) *NodeClient {
	return &NodeClient{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SubmitPrice implements Submitter via oracle_setPrice.
func (c *NodeClient) SubmitPrice(ctx context.Context, feedID, price string, updatedAt time.Time, source string) error {
	if c == nil {
		return fmt.Errorf("node client not configured")
	}
	params := map[string]interface{}{
		"feed":   feedID,
		"price":  price,
		"source": source,
	}
	if !updatedAt.IsZero() {
		params["updatedAt"] = updatedAt.Unix()
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "oracle_setPrice",
		"params":  []interface{}{params},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("node rejected price (code %d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return nil
}
