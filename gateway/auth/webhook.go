package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
)

// SignatureHeader carries the webhook signature on inbound requests.
const SignatureHeader = "X-Webhook-Signature"

// sandboxIDField is excluded from the signing payload by the provider.
const sandboxIDField = "sandbox_id"

// ErrInvalidSignature is returned when the computed signature does not match
// the one presented by the caller.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// DecodePayload parses a raw webhook body into a key/value map. Numbers are
// kept as json.Number so re-serialization reproduces the caller's exact
// literals.
func DecodePayload(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return payload, nil
}

// CanonicalJSON serializes a payload the way the external signer does: keys
// sorted lexicographically at every level, "," and ":" separators with no
// whitespace, HTML characters unescaped, and non-ASCII runes escaped as
// \uXXXX.
func CanonicalJSON(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func escapeNonASCII(in []byte) []byte {
	ascii := true
	for _, b := range in {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return in
	}
	var out bytes.Buffer
	out.Grow(len(in))
	for _, r := range string(in) {
		if r < 0x80 {
			out.WriteByte(byte(r))
			continue
		}
		if r <= 0xFFFF {
			fmt.Fprintf(&out, `\u%04x`, r)
			continue
		}
		hi, lo := utf16.EncodeRune(r)
		fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
	}
	return out.Bytes()
}

// Sign computes the provider signature for a canonical payload.
func Sign(secret string, canonical []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify authenticates a raw webhook body against the presented signature.
// The sandbox_id field is removed from the signing copy before
// canonicalization. The comparison is constant time. On success the full
// parsed payload (sandbox_id included) is returned.
func Verify(secret string, body []byte, provided string) (map[string]any, error) {
	payload, err := DecodePayload(body)
	if err != nil {
		return nil, err
	}
	forSignature := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != sandboxIDField {
			forSignature[k] = v
		}
	}
	canonical, err := CanonicalJSON(forSignature)
	if err != nil {
		return nil, err
	}
	expected := Sign(secret, canonical)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return nil, ErrInvalidSignature
	}
	return payload, nil
}
