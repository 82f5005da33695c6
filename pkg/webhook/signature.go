// Package webhook implements the HMAC signature schemes used by billing
// providers whose SDKs do not ship a verifier.
//
// Two schemes are supported:
//
//   - Hex HMAC: hex(HMAC-SHA256(secret, body)) in a single header.
//   - Standard Webhooks: base64(HMAC-SHA256(key, id + "." + timestamp + "." + body))
//     in "webhook-signature" as space separated "v1,<sig>" entries, with the
//     key given as "whsec_<base64>".
//
// All comparisons are constant time.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Standard Webhooks header names.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// DefaultTolerance is the maximum accepted clock distance for timestamped schemes.
const DefaultTolerance = 5 * time.Minute

const secretPrefix = "whsec_"

// SignHex returns hex(HMAC-SHA256(secret, payload)).
func SignHex(secret string, payload []byte) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyHex checks a hex encoded HMAC-SHA256 signature over payload.
func VerifyHex(secret string, payload []byte, signature string) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	if signature == "" {
		return ErrMissingHeader
	}
	expected, err := SignHex(secret, payload)
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(want, got) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignStandard produces a "v1,<base64>" Standard Webhooks signature.
func SignStandard(secret, msgID string, ts time.Time, payload []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return "v1," + base64.StdEncoding.EncodeToString(standardMAC(key, msgID, ts.Unix(), payload)), nil
}

// StandardHeaders returns a header set carrying a valid Standard Webhooks signature.
func StandardHeaders(secret, msgID string, ts time.Time, payload []byte) (http.Header, error) {
	sig, err := SignStandard(secret, msgID, ts, payload)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(HeaderID, msgID)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	h.Set(HeaderSignature, sig)
	return h, nil
}

// VerifyStandard validates a Standard Webhooks signature. Any of the
// space separated v1 signatures may match, which allows secret rotation.
func VerifyStandard(secret string, payload []byte, header http.Header, tolerance time.Duration, now time.Time) error {
	key, err := decodeSecret(secret)
	if err != nil {
		return err
	}
	msgID := header.Get(HeaderID)
	rawTS := header.Get(HeaderTimestamp)
	rawSig := header.Get(HeaderSignature)
	if msgID == "" || rawTS == "" || rawSig == "" {
		return ErrMissingHeader
	}

	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrMalformedSignature)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
		return ErrTimestampOutOfRange
	}

	expected := standardMAC(key, msgID, ts, payload)
	for _, part := range strings.Fields(rawSig) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func standardMAC(key []byte, msgID string, ts int64, payload []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msgID))
	h.Write([]byte{'.'})
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return h.Sum(nil)
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not base64", ErrInvalidConfiguration)
	}
	return key, nil
}
