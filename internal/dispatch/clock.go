package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Clock is the monotonic time source used everywhere lease math happens, so
// tests can substitute a fake clock instead of sleeping real time.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock, backed by time.Now (which already
// carries a monotonic reading on platforms Go supports).
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default production Clock.
var SystemClock Clock = systemClock{}

// NewID generates a fresh random identifier (session id, lease id) using
// google/uuid, the teacher's id-generation dependency throughout
// orchestrator/messagequeue and gateway/websocket.
func NewID() string {
	return uuid.New().String()
}

// NewNonce generates a 32-byte hex nonce via crypto/rand, matching the
// original implementation's secrets.token_hex(32) exactly: the nonce is a
// security-sensitive detail worth preserving bit-for-bit rather than
// swapping in uuid.
func NewNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
