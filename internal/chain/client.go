package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status is the node's view of the chain head.
type Status struct {
	ChainID string `json:"chain_id"`
	Height  uint64 `json:"height"`
}

// SubmitRequest is one signed submission.
type SubmitRequest struct {
	ChainID    string            `json:"chain_id"`
	Signer     string            `json:"signer"`
	ClientType string            `json:"client_type,omitempty"`
	Msgs       []json.RawMessage `json:"msgs"`
}

// SubmitResult identifies the accepted transaction.
type SubmitResult struct {
	TxHash string `json:"tx_hash"`
	Height uint64 `json:"height,omitempty"`
}

// Client is the RPC surface the adapter needs from a chain node.
type Client interface {
	Status(ctx context.Context) (Status, error)
	Balance(ctx context.Context, address, denom string) (uint64, error)
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	ClientType(ctx context.Context, checksum Checksum) (string, error)
}

// HTTPClient talks JSON over HTTP to a relay gateway in front of the node.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *HTTPClient) Balance(ctx context.Context, address, denom string) (uint64, error) {
	var out struct {
		Amount uint64 `json:"amount"`
	}
	path := "/balance/" + url.PathEscape(address)
	if denom != "" {
		path += "?denom=" + url.QueryEscape(denom)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Amount, nil
}

func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var out SubmitResult
	err := c.do(ctx, http.MethodPost, "/submit", req, &out)
	return out, err
}

func (c *HTTPClient) ClientType(ctx context.Context, checksum Checksum) (string, error) {
	var out struct {
		ClientType string `json:"client_type"`
	}
	if err := c.do(ctx, http.MethodGet, "/checksum/"+checksum.String(), nil, &out); err != nil {
		return "", err
	}
	if out.ClientType == "" {
		return "", fmt.Errorf("checksum %s: empty client type", checksum)
	}
	return out.ClientType, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
