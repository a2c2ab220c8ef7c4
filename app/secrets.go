package app

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const challengeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// GenerateChallenge returns a 128-char random string from
// [A-Za-z0-9_-] for the verification handshake (spec.md §4.4).
func GenerateChallenge() (string, error) {
	return randomFromAlphabet(128)
}

// GenerateVerifyToken returns a random opaque token a subscriber can use as
// hub.verify_token when none is supplied.
func GenerateVerifyToken() (string, error) {
	return randomFromAlphabet(32)
}

func randomFromAlphabet(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = challengeAlphabet[int(b)%len(challengeAlphabet)]
	}
	return string(out), nil
}

// SignPayload computes X-Hub-Signature's value: "sha1=" + hex(HMAC-SHA1(key,
// payload)), per spec.md §6. Precedence of key is secret, then verify_token,
// then empty string (spec.md §6 "Delivery callback").
func SignPayload(key string, payload []byte) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write(payload)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

// DeliverySecret picks the HMAC key for a subscription per spec.md §6
// precedence: secret, then verify_token, then "".
func DeliverySecret(secret, verifyToken string) string {
	if secret != "" {
		return secret
	}
	if verifyToken != "" {
		return verifyToken
	}
	return ""
}

// HashAdminSecret and CheckAdminSecret guard the /work and diagnostic admin
// routes with a bcrypt-hashed operator secret.
func HashAdminSecret(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin secret: %w", err)
	}
	return string(hash), nil
}

func CheckAdminSecret(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
