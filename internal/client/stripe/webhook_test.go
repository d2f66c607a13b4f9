package stripe

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

const testSecret = "whsec_test_secret"

func signHeader(t *testing.T, payload []byte, ts time.Time, secret string) string {
	t.Helper()
	sig := computeSignature(ts, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func TestConstructEventValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	header := signHeader(t, payload, time.Now(), testSecret)

	event, err := ConstructEvent(payload, header, testSecret, DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "payment_intent.succeeded", event.Type)
	assert.JSONEq(t, `{"id":"pi_1"}`, string(event.Data.Object))
}

func TestConstructEventWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	header := signHeader(t, payload, time.Now(), "whsec_other")

	_, err := ConstructEvent(payload, header, testSecret, DefaultTolerance)
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestConstructEventTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	header := signHeader(t, payload, time.Now(), testSecret)
	tampered := []byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{}}}`)

	_, err := ConstructEvent(tampered, header, testSecret, DefaultTolerance)
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestConstructEventStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	header := signHeader(t, payload, time.Now().Add(-time.Hour), testSecret)

	_, err := ConstructEvent(payload, header, testSecret, DefaultTolerance)
	require.Error(t, err)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestConstructEventAcceptsExtraSignatures(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object":{}}}`)
	ts := time.Now()
	good := computeSignature(ts, payload, testSecret)
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s",
		ts.Unix(), hex.EncodeToString(make([]byte, 32)), hex.EncodeToString(good))

	_, err := ConstructEvent(payload, header, testSecret, DefaultTolerance)
	require.NoError(t, err)
}

func TestConstructEventMalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	for _, header := range []string{"", "t=abc,v1=00", "v1=00"} {
		_, err := ConstructEvent(payload, header, testSecret, DefaultTolerance)
		assert.Error(t, err, "header %q", header)
	}
}
