package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// DefaultTolerance bounds how old a webhook timestamp may be before the
// event is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// Event is the decoded webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type signatureHeader struct {
	timestamp  time.Time
	signatures [][]byte
}

// parseSignatureHeader splits the Stripe-Signature header into its
// timestamp and v1 signature entries.
func parseSignatureHeader(header string) (signatureHeader, error) {
	parsed := signatureHeader{}
	for _, pair := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			unix, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return signatureHeader{}, fmt.Errorf("malformed timestamp: %q", kv[1])
			}
			parsed.timestamp = time.Unix(unix, 0)
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			parsed.signatures = append(parsed.signatures, sig)
		}
	}
	if parsed.timestamp.IsZero() {
		return signatureHeader{}, fmt.Errorf("signature header has no timestamp")
	}
	if len(parsed.signatures) == 0 {
		return signatureHeader{}, fmt.Errorf("signature header has no v1 entries")
	}
	return parsed, nil
}

func computeSignature(timestamp time.Time, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp.Unix())
	mac.Write(payload)
	return mac.Sum(nil)
}

// ConstructEvent verifies the payload against the signature header and
// decodes the event. The signed string is the raw request body, so callers
// must pass the body byte-for-byte as received.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	header, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, errs.Wrap(errs.KindForbidden, err, "webhook signature rejected")
	}
	if time.Since(header.timestamp) > tolerance {
		return Event{}, errs.New(errs.KindForbidden, "webhook timestamp outside tolerance")
	}
	expected := computeSignature(header.timestamp, payload, secret)
	verified := false
	for _, sig := range header.signatures {
		if hmac.Equal(expected, sig) {
			verified = true
			break
		}
	}
	if !verified {
		return Event{}, errs.New(errs.KindForbidden, "webhook signature mismatch")
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, errs.Wrap(errs.KindValidation, err, "malformed webhook payload")
	}
	return event, nil
}
