package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Auth implements the token + HMAC nonce challenge-response scheme (C2, §4.1).
// It holds its own nonce table; the rest of the broker never reaches into it
// directly.
type Auth struct {
	mu            sync.Mutex
	nonces        map[string]string // client_id -> one-shot nonce
	authRequired  bool
	authSecret    string
	expectedToken string
}

// NewAuth constructs the verifier. When both secret and token are empty,
// the broker runs in dev mode (fail-open, auto-authenticate).
func NewAuth(authSecret, expectedToken string) *Auth {
	return &Auth{
		nonces:        make(map[string]string),
		authRequired:  authSecret != "" || expectedToken != "",
		authSecret:    authSecret,
		expectedToken: expectedToken,
	}
}

// Required reports whether prod-mode verification applies.
func (a *Auth) Required() bool {
	return a.authRequired
}

// GenerateChallenge mints a fresh nonce for client_id and returns the
// challenge frame to send.
func (a *Auth) GenerateChallenge(clientID string) (map[string]any, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.nonces[clientID] = nonce
	a.mu.Unlock()
	return map[string]any{
		"type":  "auth_challenge",
		"nonce": nonce,
	}, nil
}

// Verify checks token and HMAC nonce response for client_id. In dev mode it
// always returns true. The nonce is consumed (removed) on any verification
// attempt, matching the original's pop-on-verify semantics.
func (a *Auth) Verify(clientID, token, nonceResponse string) bool {
	if !a.authRequired {
		return true
	}

	if a.expectedToken == "" || token == "" {
		return false
	}
	if !constantTimeEqual(token, a.expectedToken) {
		return false
	}

	if a.authSecret == "" {
		return false
	}

	a.mu.Lock()
	expectedNonce, ok := a.nonces[clientID]
	if ok {
		delete(a.nonces, clientID)
	}
	a.mu.Unlock()
	if !ok || expectedNonce == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.authSecret))
	mac.Write([]byte(expectedNonce + clientID))
	expectedHMAC := hex.EncodeToString(mac.Sum(nil))

	return constantTimeEqual(nonceResponse, expectedHMAC)
}

func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
