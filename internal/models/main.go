// Package models defines the core data structures shared by the keyring,
// the local key store and the key-directory client/server.
package models

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"
)

// Fingerprint is the fixed-length byte identifier that uniquely names a key.
// V4 keys carry 20 bytes, v6 keys 32; two keys are the same key if and only
// if their fingerprint bytes are exactly equal.
type Fingerprint []byte

// String returns the lowercase hex form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f)
}

// Equal reports whether two fingerprints are byte-for-byte identical.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return bytes.Equal(f, other)
}

// MarshalText encodes the fingerprint as lowercase hex, so JSON payloads
// carry a readable form instead of base64 bytes.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(f)), nil
}

// UnmarshalText decodes a hex-encoded fingerprint.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode fingerprint: %w", err)
	}
	*f = raw
	return nil
}

// ParseFingerprint converts a hex string into a Fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint %q: %w", s, err)
	}
	return Fingerprint(raw), nil
}

// Key is the lightweight descriptor of a key record, used for search
// results, sync reports and transport to/from the key directory.
type Key struct {
	// Fingerprint uniquely identifies the key.
	Fingerprint Fingerprint `json:"fingerprint"`
	// UserIDs lists the identity strings bound to the key.
	UserIDs []string `json:"user_ids,omitempty"`
	// Secret marks private key material.
	Secret bool `json:"secret,omitempty"`
	// Armored holds the serialized key block. It is set only when the key
	// has not been persisted locally, i.e. it came from a remote source.
	Armored []byte `json:"armored,omitempty"`
}

// SyncReport classifies the local and remote key sets for one identity.
type SyncReport struct {
	// SyncManaged is false when the identity does not resolve to a
	// remote-checkable email address; in that case Common carries all
	// local keys and the other lists are empty.
	SyncManaged bool `json:"sync_managed"`
	// LocalOnly holds local keys absent from the remote directory.
	LocalOnly []Key `json:"local_only"`
	// Common holds keys present on both sides.
	Common []Key `json:"common"`
	// RemoteOnly holds remote keys absent from the local store.
	RemoteOnly []Key `json:"remote_only"`
}

// KeyIdentity is one user-ID binding on a directory-stored key, indexed
// by the email extracted from it.
type KeyIdentity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// KeyRecord is the directory's stored form of one submitted key. The
// fingerprint is kept in hex, matching the wire encoding of Fingerprint.
type KeyRecord struct {
	Fingerprint  string    `json:"fingerprint"`
	Armored      string    `json:"armored"`
	Verified     bool      `json:"verified"`
	SubmissionID string    `json:"submission_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// KeyType filters searches by the kind of key material wanted.
type KeyType int

const (
	// KeyTypePublic selects public keys. Searches of this type may
	// consult the remote directory.
	KeyTypePublic KeyType = iota
	// KeyTypePrivate selects private keys. Private searches never leave
	// the local store.
	KeyTypePrivate
)

// String returns a short name for the key type.
func (t KeyType) String() string {
	switch t {
	case KeyTypePublic:
		return "public"
	case KeyTypePrivate:
		return "private"
	}
	return fmt.Sprintf("KeyType(%d)", int(t))
}
