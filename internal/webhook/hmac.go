package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const signaturePrefix = "sha256="

// errVerification is the only error verification returns, so a caller can
// never tell a malformed header from a wrong secret.
var errVerification = errors.New("webhook verification failed")

// Sign returns the "sha256=<hex>" HMAC-SHA256 of body under secret, in the
// form senders put in the signature header.
func Sign(body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(digest(body, secret))
}

// verify checks header against the HMAC of body. Both "sha256=<hex>" and
// bare hex are accepted.
func verify(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return errVerification
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if err != nil {
		return errVerification
	}
	if subtle.ConstantTimeCompare(digest(body, secret), got) != 1 {
		return errVerification
	}
	return nil
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
