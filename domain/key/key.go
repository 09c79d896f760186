// Package key implements API key generation and validation.
//
// Keys are random 256-bit values rendered as "lg_" + 64 hex characters.
// Only a bcrypt hash of the full key is stored; lookups go through the
// 12-character prefix, which is kept in clear for indexing.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix is prepended to every generated key.
const KeyPrefix = "lg_"

// PrefixLen is the number of leading characters stored in clear for lookup.
const PrefixLen = 12

// Key is an issued API key record. The full key material is only known
// at generation time; Hash is its bcrypt digest.
type Key struct {
	ID        string
	Name      string
	Prefix    string
	Hash      string
	CreatedAt time.Time
	LastUsed  *time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the key has been revoked.
func (k Key) Revoked() bool {
	return k.RevokedAt != nil
}

// Identity names the caller a validated key belongs to. IssuedID is
// empty for keys that come from static configuration rather than the
// key store.
type Identity struct {
	Name     string
	IssuedID string
}

// Generated holds the result of Generate. Plain is the only copy of the
// full key; it must be shown to the caller and then discarded.
type Generated struct {
	Plain  string
	Prefix string
	Hash   string
}

// Generate creates a new random API key and its bcrypt hash.
func Generate() (Generated, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Generated{}, fmt.Errorf("generate key material: %w", err)
	}
	plain := KeyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return Generated{}, fmt.Errorf("hash key: %w", err)
	}
	return Generated{
		Plain:  plain,
		Prefix: plain[:PrefixLen],
		Hash:   string(hash),
	}, nil
}

// ValidateFormat checks that a presented key is shaped like one of ours
// and returns its lookup prefix. It rejects without touching storage,
// which keeps malformed probes cheap.
func ValidateFormat(plain string) (prefix string, ok bool) {
	if !strings.HasPrefix(plain, KeyPrefix) {
		return "", false
	}
	if len(plain) != len(KeyPrefix)+64 {
		return "", false
	}
	for _, c := range plain[len(KeyPrefix):] {
		if !isHex(byte(c)) {
			return "", false
		}
	}
	return plain[:PrefixLen], true
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f'
}

// Verify compares a presented key against a stored bcrypt hash.
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Reason explains why Validate rejected a key.
type Reason string

const (
	ReasonRevoked  Reason = "revoked"
	ReasonMismatch Reason = "mismatch"
)

// ValidationError carries the rejection reason for a structurally valid
// key that failed validation.
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string {
	return "invalid api key: " + string(e.Reason)
}

// Validate checks a presented key against an issued record. The record
// is assumed to have been fetched by prefix; Validate confirms the hash
// and the revocation state.
func Validate(plain string, k Key) error {
	if k.Revoked() {
		return &ValidationError{Reason: ReasonRevoked}
	}
	if !Verify(plain, k.Hash) {
		return &ValidationError{Reason: ReasonMismatch}
	}
	return nil
}
