// Package secrets provides the credential store integrations resolve secret
// references through. Definitions carry references (string keys), never raw
// secret values; the store is the only component that sees the material.
package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for a missing key. Asking for a missing
// secret is a caller error unless the call site explicitly generates one via
// GetOrGenerate.
var ErrNotFound = errors.New("secret not found")

// Store is the opaque credential store supplied by the host.
type Store interface {
	// Get returns the secret for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores the secret under key, overwriting any previous value.
	Set(key, value string) error

	// Remove deletes the secret under key. Removing a missing key is not
	// an error.
	Remove(key string) error
}

// alphabet is the character set for generated secrets. Alphanumeric only:
// several vendors reject punctuation in auto-provisioned passwords.
const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate returns a cryptographically random secret of length n.
func Generate(n int) (string, error) {
	if n <= 0 {
		n = 24
	}

	// 248 is the largest multiple of len(alphabet) that fits in a byte;
	// bytes at or above it are rejected so every character is drawn
	// uniformly, without modulo bias.
	const limit = 4 * byte(len(alphabet))

	out := make([]byte, 0, n)
	var buf [64]byte
	for len(out) < n {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// GetOrGenerate returns the secret under key, generating and storing a fresh
// random one of length n when absent. Used for auto-provisioned passwords:
// repeated reconciliation calls observe the same value.
func GetOrGenerate(store Store, key string, n int) (string, error) {
	value, err := store.Get(key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	value, err = Generate(n)
	if err != nil {
		return "", err
	}
	if err := store.Set(key, value); err != nil {
		return "", fmt.Errorf("failed to store generated secret: %w", err)
	}
	return value, nil
}
