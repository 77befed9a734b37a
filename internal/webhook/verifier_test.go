package webhook

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "events_test_secret"

var body = []byte(`{"event":"transaction.updated","data":{"transaction":{"id":"tx-1","status":"APPROVED","reference":"ORDER_O1","amount_in_cents":10000000}}}`)

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier(secret, 5*time.Minute)
	v.nowFunc = func() time.Time { return now }
	return v
}

func TestVerify_Valid(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := newTestVerifier(now)

	ev, err := v.Verify(Sign(secret, ts, body), ts, body)
	require.NoError(t, err)
	assert.True(t, ev.Relevant())
	assert.Equal(t, "APPROVED", ev.Data.Transaction.Status)
	assert.Equal(t, "ORDER_O1", ev.Data.Transaction.Reference)
	assert.Equal(t, int64(10000000), ev.Data.Transaction.AmountInCents)
}

func TestVerify_MutatedBody(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := newTestVerifier(now)
	sig := Sign(secret, ts, body)

	mutated := bytes.Replace(body, []byte("APPROVED"), []byte("APPROVEE"), 1)
	_, err := v.Verify(sig, ts, mutated)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_ReserializedBodyFails(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := newTestVerifier(now)

	// same JSON value, different bytes
	spaced := []byte(`{"event": "transaction.updated", "data": {"transaction": {"id": "tx-1", "status": "APPROVED", "reference": "ORDER_O1", "amount_in_cents": 10000000}}}`)
	_, err := v.Verify(Sign(secret, ts, body), ts, spaced)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_Stale(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := newTestVerifier(now)

	old := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	_, err := v.Verify(Sign(secret, old, body), old, body)
	assert.ErrorIs(t, err, ErrStaleRequest)

	future := strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10)
	_, err = v.Verify(Sign(secret, future, body), future, body)
	assert.ErrorIs(t, err, ErrStaleRequest)

	edge := strconv.FormatInt(now.Add(-4*time.Minute).UnixMilli(), 10)
	_, err = v.Verify(Sign(secret, edge, body), edge, body)
	assert.NoError(t, err)
}

func TestVerify_TimestampIsSigned(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := newTestVerifier(now)
	old := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	fresh := strconv.FormatInt(now.Unix(), 10)

	// replaying an old signature with a fresh timestamp does not verify
	_, err := v.Verify(Sign(secret, old, body), fresh, body)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_MissingHeadersAndSecret(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := newTestVerifier(now)

	_, err := v.Verify("", "123", body)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	_, err = v.Verify("zz-not-hex", "123", body)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = NewVerifier("", 0).Verify("ab", "123", body)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestVerify_Malformed(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := newTestVerifier(now)
	raw := []byte(`not json`)

	_, err := v.Verify(Sign(secret, ts, raw), ts, raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEvent_Irrelevant(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := newTestVerifier(now)
	raw := []byte(`{"event":"nequi_token.updated","data":{}}`)

	ev, err := v.Verify(Sign(secret, ts, raw), ts, raw)
	require.NoError(t, err)
	assert.False(t, ev.Relevant())
}
