package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeysWithTightSeparators(t *testing.T) {
	payload, err := DecodePayload([]byte(`{"b":"2","a":"1","c":{"z":"9","y":"8"}}`))
	require.NoError(t, err)
	canonical, err := CanonicalJSON(payload)
	require.NoError(t, err)
	require.Equal(t, `{"a":"1","b":"2","c":{"y":"8","z":"9"}}`, string(canonical))
}

func TestCanonicalJSONPreservesNumberLiterals(t *testing.T) {
	payload, err := DecodePayload([]byte(`{"amount":1000.50,"count":3}`))
	require.NoError(t, err)
	canonical, err := CanonicalJSON(payload)
	require.NoError(t, err)
	require.Equal(t, `{"amount":1000.50,"count":3}`, string(canonical))
}

func TestCanonicalJSONDoesNotEscapeHTML(t *testing.T) {
	payload, err := DecodePayload([]byte(`{"description":"A&B <paid>"}`))
	require.NoError(t, err)
	canonical, err := CanonicalJSON(payload)
	require.NoError(t, err)
	require.Equal(t, `{"description":"A&B <paid>"}`, string(canonical))
}

func TestCanonicalJSONEscapesNonASCII(t *testing.T) {
	payload, err := DecodePayload([]byte(`{"payer_name":"Müller"}`))
	require.NoError(t, err)
	canonical, err := CanonicalJSON(payload)
	require.NoError(t, err)
	require.Equal(t, `{"payer_name":"M\u00fcller"}`, string(canonical))

	// Runes beyond the basic plane escape as a surrogate pair.
	payload, err = DecodePayload([]byte(`{"note":"💸"}`))
	require.NoError(t, err)
	canonical, err = CanonicalJSON(payload)
	require.NoError(t, err)
	require.Equal(t, `{"note":"\ud83d\udcb8"}`, string(canonical))
}

func TestVerifyExcludesSandboxID(t *testing.T) {
	const secret = "topsecret"
	body := []byte(`{"amount":"100.00","payment_id":"P1","sandbox_id":"sb_42"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(`{"amount":"100.00","payment_id":"P1"}`))
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	payload, err := Verify(secret, body, signature)
	require.NoError(t, err)
	require.Equal(t, "sb_42", payload["sandbox_id"], "sandbox_id stays in the parsed payload")
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	body := []byte(`{"payment_id":"P1","sandbox_id":"sb_42"}`)
	_, err := Verify("topsecret", body, "sha256=deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = Verify("topsecret", body, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsSignatureFromDifferentSecret(t *testing.T) {
	body := []byte(`{"payment_id":"P1","sandbox_id":"sb_42"}`)
	payload, err := DecodePayload(body)
	require.NoError(t, err)
	delete(payload, "sandbox_id")
	canonical, err := CanonicalJSON(payload)
	require.NoError(t, err)

	_, err = Verify("topsecret", body, Sign("othersecret", canonical))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = Verify("topsecret", body, Sign("topsecret", canonical))
	require.NoError(t, err)
}

func TestVerifyRejectsMalformedBody(t *testing.T) {
	_, err := Verify("topsecret", []byte(`not json`), "sha256=00")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestSignPrefix(t *testing.T) {
	sig := Sign("secret", []byte(`{}`))
	require.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
}
