package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Incident platform webhooks are signed Svix-style: the signature header
// holds space separated "v1,<base64 hmac>" entries over "id.timestamp.body".
const (
	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"

	signatureTolerance = 5 * time.Minute
)

var (
	errSignatureMissing = errors.New("webhook signature headers missing")
	errSignatureStale   = errors.New("webhook timestamp outside tolerance")
	errSignatureInvalid = errors.New("webhook signature mismatch")
)

func signingKey(secret string) []byte {
	if raw, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if key, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return key
		}
	}
	return []byte(secret)
}

// sign returns the base64 signature for one delivery.
func sign(secret, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, signingKey(secret))
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret, id, timestamp, header string, body []byte, now time.Time) error {
	if id == "" || timestamp == "" || header == "" {
		return errSignatureMissing
	}
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errSignatureStale
	}
	if age := now.Sub(time.Unix(sec, 0)); age > signatureTolerance || age < -signatureTolerance {
		return errSignatureStale
	}

	expected := []byte(sign(secret, id, timestamp, body))
	for _, candidate := range strings.Fields(header) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return errSignatureInvalid
}
