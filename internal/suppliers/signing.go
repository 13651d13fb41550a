// Package suppliers – callback signing
//
// Callback URLs embed the job id so asynchronous results can be correlated.
// Providers that cannot be trusted to echo opaque state additionally get an
// HMAC-SHA256 signature over the job id, computed with a shared secret, so
// the callback handler can verify the payload's origin without trusting the
// provider's body alone.
package suppliers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignJobID returns the hex HMAC-SHA256 of jobID under secret.
func SignJobID(secret, jobID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(jobID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is a valid signature of jobID.
// Comparison is constant-time.
func VerifySignature(secret, jobID, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(jobID))
	return hmac.Equal(want, mac.Sum(nil))
}
