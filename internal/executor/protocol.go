package executor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HealRequest is the wire request sent to the privileged helper: one JSON
// object per line over the Unix socket. Transport authentication is the
// socket file mode; the signature additionally binds the request to a shared
// secret so a stray writer on the socket cannot inject operations.
type HealRequest struct {
	ID         string            `json:"request_id"`
	Operation  string            `json:"operation"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Signature  string            `json:"signature,omitempty"`
}

// HealResponse mirrors the helper's reply.
type HealResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sign computes the request signature: HMAC-SHA256 over id:operation:timestamp.
func Sign(secret, id, operation, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id + ":" + operation + ":" + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the request carries a valid signature for secret.
// Comparison is constant time.
func (r *HealRequest) Verify(secret string) bool {
	if r.Signature == "" {
		return false
	}
	expected := Sign(secret, r.ID, r.Operation, r.Timestamp)
	return hmac.Equal([]byte(r.Signature), []byte(expected))
}
