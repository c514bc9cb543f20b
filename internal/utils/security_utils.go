package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// GetRandomString returns a URL-safe random string of the given length. Each
// output character carries 6 bits of entropy, so lengths of 32 and up are
// comfortably past the 128-bit floor required for authorization codes.
func GetRandomString(length int) (string, error) {
	if length < 1 {
		return "", errors.New("length must be greater than 0")
	}
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	return state[:length], nil
}

// HashToken returns the hex SHA-256 of a raw token. Only this hash is ever
// persisted; the raw token lives exclusively in the client's hands.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// S256Challenge derives the PKCE S256 challenge for a code verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a code verifier against the challenge recorded at
// authorization time. Comparisons are constant time.
func VerifyPKCE(challenge string, method string, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return errors.New("missing code_verifier")
	}

	var derived string
	switch method {
	case "S256":
		derived = S256Challenge(verifier)
	case "plain", "":
		derived = verifier
	default:
		return errors.New("unsupported code_challenge_method")
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return errors.New("code_verifier does not match challenge")
	}
	return nil
}
