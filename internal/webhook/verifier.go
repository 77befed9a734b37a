// Package webhook authenticates gateway callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrStaleRequest     = errors.New("webhook timestamp outside tolerance")
	ErrMisconfigured    = errors.New("webhook secret not configured")
	ErrMalformed        = errors.New("webhook payload malformed")
)

const (
	SignatureHeader = "x-signature"
	TimestampHeader = "x-timestamp"

	EventTransactionUpdated = "transaction.updated"

	DefaultTolerance = 5 * time.Minute
)

type Transaction struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	AmountInCents int64  `json:"amount_in_cents"`
}

// Event is a verified gateway callback.
type Event struct {
	Event string `json:"event"`
	Data  struct {
		Transaction Transaction `json:"transaction"`
	} `json:"data"`
	SentAt string `json:"sent_at,omitempty"`
}

// Relevant reports whether the event carries a transaction status update.
func (e Event) Relevant() bool {
	return e.Event == EventTransactionUpdated
}

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	nowFunc   func() time.Time
}

// NewVerifier returns a Verifier; a zero tolerance means DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		nowFunc:   time.Now,
	}
}

// Verify checks HMAC-SHA256(secret, timestamp ∥ rawBody) against signature and
// the timestamp against the tolerance window, then parses the body. rawBody
// must be the bytes as received.
func (v *Verifier) Verify(signature, timestamp string, rawBody []byte) (Event, error) {
	if len(v.secret) == 0 {
		return Event{}, ErrMisconfigured
	}
	if signature == "" || timestamp == "" {
		return Event{}, fmt.Errorf("%w: missing %s or %s header", ErrSignatureInvalid, SignatureHeader, TimestampHeader)
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return Event{}, fmt.Errorf("%w: signature is not hex", ErrSignatureInvalid)
	}
	if !hmac.Equal(provided, mac(v.secret, timestamp, rawBody)) {
		return Event{}, ErrSignatureInvalid
	}

	sentAt, err := parseTimestamp(timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if age := v.nowFunc().Sub(sentAt); age > v.tolerance || age < -v.tolerance {
		return Event{}, fmt.Errorf("%w: age %s", ErrStaleRequest, age.Round(time.Second))
	}

	var ev Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}

// Sign returns the hex signature the gateway sends for timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	return hex.EncodeToString(mac([]byte(secret), timestamp, body))
}

func mac(secret []byte, timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp))
	h.Write(body)
	return h.Sum(nil)
}

// parseTimestamp accepts unix seconds or milliseconds.
func parseTimestamp(s string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
