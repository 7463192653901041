/*
signature.go - Webhook authenticity verification

PURPOSE:
  Payment-completion events arrive over the open internet. Before any
  field of the payload is trusted, the signature header must check out
  against the shared secret, and the claimed timestamp must be recent.

WIRE FORMAT:
  Header: "t=<unix_ts>,v1=<hex hmac>"
  MAC:    HMAC-SHA256 over "<unix_ts>.<raw body>" with the shared secret

  Multiple v1 entries may appear during secret rotation; any match
  passes. Comparison is constant-time.
*/
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a signed timestamp may be. Events
// outside the window are rejected to blunt replay of captured requests.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrSignatureInvalid means the header is missing, malformed, or no
	// v1 entry matches the computed MAC.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrEventTooOld means the signed timestamp is outside the tolerance
	// window.
	ErrEventTooOld = errors.New("webhook event too old")
)

// Verifier checks webhook signatures with a shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks the signature header against the raw payload. Nothing
// beyond the raw bytes and the header is inspected before this passes.
func (v *Verifier) Verify(payload []byte, sigHeader string) error {
	ts, macs, err := parseHeader(sigHeader)
	if err != nil {
		return err
	}

	if v.now().Sub(time.Unix(ts, 0)) > v.tolerance {
		return ErrEventTooOld
	}

	expected := computeMAC(v.secret, ts, payload)
	for _, mac := range macs {
		if hmac.Equal(mac, expected) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// Sign produces a signature header for the payload. Used by tests and
// by local tooling that replays captured events.
func (v *Verifier) Sign(payload []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeMAC(v.secret, ts, payload)))
}

func computeMAC(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseHeader(header string) (int64, [][]byte, error) {
	var ts int64 = -1
	var macs [][]byte

	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, ErrSignatureInvalid
			}
			ts = parsed
		case "v1":
			mac, err := hex.DecodeString(val)
			if err != nil {
				return 0, nil, ErrSignatureInvalid
			}
			macs = append(macs, mac)
		}
	}

	if ts < 0 || len(macs) == 0 {
		return 0, nil, ErrSignatureInvalid
	}
	return ts, macs, nil
}
