package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestAuthDevModeAlwaysRequiredFalse(t *testing.T) {
	a := NewAuth("", "")
	if a.Required() {
		t.Fatal("expected dev mode (no secret, no token) to not require auth")
	}
	if !a.Verify("client-1", "", "") {
		t.Fatal("expected dev mode Verify to always succeed")
	}
}

func TestAuthVerifySucceedsWithCorrectHMAC(t *testing.T) {
	a := NewAuth("s3cret", "tok-1")
	if !a.Required() {
		t.Fatal("expected prod mode to require auth")
	}

	challenge, err := a.GenerateChallenge("client-1")
	if err != nil {
		t.Fatalf("unexpected error generating challenge: %v", err)
	}
	nonce := challenge["nonce"].(string)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(nonce + "client-1"))
	response := hex.EncodeToString(mac.Sum(nil))

	if !a.Verify("client-1", "tok-1", response) {
		t.Fatal("expected verify to succeed with correct token and HMAC response")
	}
}

func TestAuthVerifyFailsWithWrongToken(t *testing.T) {
	a := NewAuth("s3cret", "tok-1")
	challenge, _ := a.GenerateChallenge("client-1")
	nonce := challenge["nonce"].(string)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(nonce + "client-1"))
	response := hex.EncodeToString(mac.Sum(nil))

	if a.Verify("client-1", "wrong-token", response) {
		t.Fatal("expected verify to fail with wrong token")
	}
}

func TestAuthNonceIsConsumedOnFirstVerify(t *testing.T) {
	a := NewAuth("s3cret", "tok-1")
	challenge, _ := a.GenerateChallenge("client-1")
	nonce := challenge["nonce"].(string)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(nonce + "client-1"))
	response := hex.EncodeToString(mac.Sum(nil))

	if !a.Verify("client-1", "tok-1", response) {
		t.Fatal("expected first verify to succeed")
	}
	if a.Verify("client-1", "tok-1", response) {
		t.Fatal("expected replayed nonce response to be rejected")
	}
}
