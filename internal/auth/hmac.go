package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"rackops/internal/canonical"
)

// Freshness window for executor signatures, in seconds relative to the
// server clock. Signatures older than maxSignatureAge are replayable and
// rejected; small forward skew is tolerated.
const (
	maxForwardSkew  = 30
	maxSignatureAge = 300
)

var (
	// ErrNoSecret means no shared secret is configured at all; callers must
	// treat this as "HMAC path unavailable", not as a failed signature.
	ErrNoSecret = errors.New("no executor shared secret configured")

	errBadTimestamp   = errors.New("unparseable signature timestamp")
	errStaleTimestamp = errors.New("signature timestamp outside freshness window")
	errBadSignature   = errors.New("signature mismatch")
)

// for tests
var timeNow = time.Now

// SigningInput builds the exact byte sequence the executor signs: the
// canonical encoding of the payload with the timestamp's literal string
// form appended.
func SigningInput(payload json.RawMessage, timestamp string) ([]byte, error) {
	enc, err := canonical.Encode(payload)
	if err != nil {
		return nil, err
	}
	return append(enc, timestamp...), nil
}

// Sign computes the hex-lowercase HMAC-SHA256 signature for a payload and
// timestamp. Used by tests and by the control plane when it acts as a
// machine caller itself (derived follow-up jobs).
func Sign(payload json.RawMessage, timestamp, secret string) (string, error) {
	input, err := SigningInput(payload, timestamp)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(input)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks an executor signature. The freshness window is
// enforced before any HMAC computation; the comparison never short-circuits
// on a mismatching byte. The distinct error values are for internal logging
// only and must not be surfaced to callers.
func VerifySignature(payload json.RawMessage, signatureHex, timestamp, secret string) error {
	if secret == "" {
		return ErrNoSecret
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errBadTimestamp
	}
	age := timeNow().Unix() - ts
	if age < -maxForwardSkew || age > maxSignatureAge {
		return errStaleTimestamp
	}

	expected, err := Sign(payload, timestamp, secret)
	if err != nil {
		return err
	}
	if !constantTimeEqual([]byte(signatureHex), []byte(expected)) {
		return errBadSignature
	}
	return nil
}

// constantTimeEqual compares every byte pair regardless of where the first
// mismatch occurs. Length is checked up front; length is not secret.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
