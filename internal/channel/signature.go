package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature reports whether signatureHeader matches the HMAC-SHA256
// of body under the channel secret. The platform sends the MAC
// base64-encoded in the X-Line-Signature header. Returns false on an empty
// or malformed header; never panics.
func VerifySignature(body []byte, signatureHeader string, secret []byte) bool {
	if signatureHeader == "" || len(secret) == 0 {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
