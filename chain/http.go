package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClient talks to a REST chain gateway. It implements Client.
type HTTPClient struct {
	rest *resty.Client
}

// HTTPConfig configures the gateway client.
type HTTPConfig struct {
	// Endpoint is the gateway base URL, e.g.
	// https://testnet.gateway.example/api/v2.
	Endpoint string
	// APIKey is sent as the X-API-Key header when non-empty.
	APIKey string
	// Timeout bounds each gateway call.
	Timeout time.Duration
}

type gatewayEnvelope struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Code   int    `json:"code,omitempty"`
	Result struct {
		Hash   string `json:"hash,omitempty"`
		Status string `json:"status,omitempty"`
		Reason string `json:"reason,omitempty"`
		Seqno  uint64 `json:"seqno,omitempty"`
	} `json:"result"`
}

// NewHTTPClient builds a gateway client for the configured endpoint.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("chain: gateway endpoint required")
	}
	rest := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		rest.SetTimeout(cfg.Timeout)
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		rest.SetHeader("X-API-Key", key)
	}
	return &HTTPClient{rest: rest}, nil
}

// SubmitTransaction posts the signed transaction and returns the hash the
// gateway assigned.
func (c *HTTPClient) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	var envelope gatewayEnvelope
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"boc": base64.StdEncoding.EncodeToString(raw)}).
		SetResult(&envelope).
		SetError(&envelope).
		Post("/sendBocReturnHash")
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() >= 500 {
		return "", fmt.Errorf("%w: submit: gateway status %d", ErrUnavailable, resp.StatusCode())
	}
	if !envelope.OK {
		// A 4xx envelope with ok=false is the chain refusing the
		// transaction, not the gateway being broken.
		return "", fmt.Errorf("%w: %s", ErrRejected, envelope.Error)
	}
	hash := strings.TrimSpace(envelope.Result.Hash)
	if hash == "" {
		return "", fmt.Errorf("%w: submit: empty hash in response", ErrUnavailable)
	}
	return hash, nil
}

// TransactionStatus asks the gateway for the current view of a transaction.
func (c *HTTPClient) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	var envelope gatewayEnvelope
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("hash", hash).
		SetResult(&envelope).
		SetError(&envelope).
		Get("/transactionStatus")
	if err != nil {
		return "", fmt.Errorf("%w: status: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() >= 500 || !envelope.OK {
		return "", fmt.Errorf("%w: status: gateway status %d %s", ErrUnavailable, resp.StatusCode(), envelope.Error)
	}
	switch TxStatus(envelope.Result.Status) {
	case TxPending:
		return TxPending, nil
	case TxConfirmed:
		return TxConfirmed, nil
	case TxRejected:
		return TxRejected, nil
	default:
		return "", fmt.Errorf("%w: status: unknown status %q", ErrUnavailable, envelope.Result.Status)
	}
}

// AccountSequence fetches the next unused sequence number for an account.
func (c *HTTPClient) AccountSequence(ctx context.Context, account string) (uint64, error) {
	var envelope gatewayEnvelope
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("address", account).
		SetResult(&envelope).
		SetError(&envelope).
		Get("/accountState")
	if err != nil {
		return 0, fmt.Errorf("%w: account state: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() >= 500 || !envelope.OK {
		return 0, fmt.Errorf("%w: account state: gateway status %d %s", ErrUnavailable, resp.StatusCode(), envelope.Error)
	}
	return envelope.Result.Seqno, nil
}
