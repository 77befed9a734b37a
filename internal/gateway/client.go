// Package gateway is the HTTP client for the external payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnavailable covers timeouts, transport failures, 429 and 5xx. Callers may retry.
	ErrUnavailable   = errors.New("payment gateway unavailable")
	ErrNotFound      = errors.New("gateway transaction not found")
	ErrRejected      = errors.New("payment gateway rejected the request")
	// ErrNotConfigured is returned before any network call when credentials are absent.
	ErrNotConfigured = errors.New("payment gateway credentials not configured")
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type Client struct {
	BaseURL    string
	PrivateKey string
	HTTP       *http.Client
}

// New returns a Client whose calls are bounded by timeout (DefaultTimeout if zero).
func New(baseURL, privateKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		PrivateKey: privateKey,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client has the credentials to make calls.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.PrivateKey) != ""
}

// CreateTransaction registers a payment intent with the gateway.
func (c *Client) CreateTransaction(ctx context.Context, in CreateTransactionRequest) (Transaction, error) {
	var out envelope[Transaction]
	if err := c.do(ctx, http.MethodPost, "/transactions", nil, in, &out); err != nil {
		return Transaction{}, err
	}
	return out.Data, nil
}

// GetTransaction fetches the authoritative status of a transaction.
func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if id == "" {
		return Transaction{}, fmt.Errorf("%w: empty transaction id", ErrNotFound)
	}
	var out envelope[Transaction]
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return Transaction{}, err
	}
	return out.Data, nil
}

// FindByReference looks a transaction up by our reference. When the gateway
// holds several attempts for the reference, an APPROVED one wins, then the
// most recent.
func (c *Client) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	var out envelope[[]Transaction]
	q := url.Values{}
	q.Set("reference", reference)
	if err := c.do(ctx, http.MethodGet, "/transactions", q, nil, &out); err != nil {
		return Transaction{}, err
	}
	if len(out.Data) == 0 {
		return Transaction{}, fmt.Errorf("%w: reference %s", ErrNotFound, reference)
	}
	for _, tx := range out.Data {
		if strings.EqualFold(tx.Status, "APPROVED") {
			return tx, nil
		}
	}
	return out.Data[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.PrivateKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", ErrUnavailable, method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrRejected, method, path, resp.StatusCode, reason(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func reason(raw []byte) string {
	var e errorEnvelope
	if err := json.Unmarshal(raw, &e); err == nil && (e.Error.Type != "" || e.Error.Reason != "") {
		return strings.TrimSpace(e.Error.Type + " " + e.Error.Reason)
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
