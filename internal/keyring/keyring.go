// Package keyring reconciles key material from a local key store with an
// optional remote key directory. It decides per lookup whether local state
// stands alone or is merged with remote results, deduplicates overlapping
// material by fingerprint, and computes three-way sync reports. The layer
// never writes to either collaborator as a side effect of a lookup.
package keyring

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/None-later/end-to-end/internal/identity"
	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
)

var (
	// ErrRemoteUnavailable marks network or provider failures while
	// reaching the remote key directory. Implementations of
	// RemoteProvider wrap their transport errors with it.
	ErrRemoteUnavailable = errors.New("remote key directory unavailable")
	// ErrNoRemoteProvider is returned by operations that cannot proceed
	// without a configured remote directory, such as uploads.
	ErrNoRemoteProvider = errors.New("no remote key directory configured")
)

// LocalStore defines the synchronous persistence operations the keyring
// needs from the local key store. Absent keys are nil results, not errors;
// store failures propagate to the keyring's callers unchanged.
type LocalStore interface {
	// SearchByIdentity returns descriptors of keys bound to the exact
	// identity string.
	SearchByIdentity(ctx context.Context, query string) ([]models.Key, error)
	// SearchByIdentityMatcher returns descriptors of keys with at least
	// one user ID accepted by match.
	SearchByIdentityMatcher(ctx context.Context, match func(uid string) bool) ([]models.Key, error)
	// KeyBlock resolves a descriptor to its stored parsed block, or nil.
	KeyBlock(ctx context.Context, key models.Key) (*pgp.KeyBlock, error)
	// KeyBlockByID resolves a 64-bit key ID (primary or subkey) to a
	// stored parsed block of the requested kind, or nil.
	KeyBlockByID(ctx context.Context, id uint64, secret bool) (*pgp.KeyBlock, error)
	// ImportKeyBlock persists a parsed block.
	ImportKeyBlock(ctx context.Context, block *pgp.KeyBlock) error
	// RestoreKeyring replaces or augments the store from a serialized
	// backup attributed to the given identity.
	RestoreKeyring(ctx context.Context, backup []byte, identity string) error
}

// RemoteProvider defines the asynchronous lookups served by a remote
// key directory. Every method may fail with an error wrapping
// ErrRemoteUnavailable; empty result sets are successes.
type RemoteProvider interface {
	// TrustedKeysByEmail returns descriptors of the directory's verified
	// public keys for an email address, serialized form included.
	TrustedKeysByEmail(ctx context.Context, email string) ([]models.Key, error)
	// VerificationKeysByID returns parsed public keys matching a 64-bit
	// key ID, for signature verification.
	VerificationKeysByID(ctx context.Context, id uint64) ([]*pgp.KeyBlock, error)
	// ImportKeys submits key material to the directory on behalf of an
	// identity and reports whether it was accepted.
	ImportKeys(ctx context.Context, keys []models.Key, identity string) (bool, error)
}

// KeyRing composes a LocalStore with an optional RemoteProvider.
type KeyRing struct {
	store  LocalStore
	remote RemoteProvider
	log    *zap.Logger

	// RealmPolicy reports whether an email address belongs to a realm the
	// remote directory manages; identities outside it are never compared
	// against the directory. Nil accepts every valid email.
	RealmPolicy func(email string) bool
}

// New builds a KeyRing over the given store. remote may be nil, in which
// case every lookup is local-only; log may be nil.
func New(store LocalStore, remote RemoteProvider, log *zap.Logger) *KeyRing {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyRing{store: store, remote: remote, log: log}
}

// ImportKey parses raw key material and persists every block it contains,
// returning their descriptors.
func (kr *KeyRing) ImportKey(ctx context.Context, raw []byte) ([]models.Key, error) {
	blocks, err := pgp.ParseKeys(raw)
	if err != nil {
		return nil, err
	}
	imported := make([]models.Key, 0, len(blocks))
	for _, b := range blocks {
		if err := kr.store.ImportKeyBlock(ctx, b); err != nil {
			return nil, err
		}
		imported = append(imported, b.Descriptor())
	}
	return imported, nil
}

// RestoreKeyring canonicalizes the supplied identity and delegates to the
// store's restore hook, so restored material is attributed consistently
// with how searches will later look it up.
func (kr *KeyRing) RestoreKeyring(ctx context.Context, backup []byte, identityStr string) error {
	return kr.store.RestoreKeyring(ctx, backup, identity.Canonicalize(identityStr))
}

// remoteManaged reports whether the email falls under the directory's
// realm per the configured policy.
func (kr *KeyRing) remoteManaged(email string) bool {
	if kr.RealmPolicy == nil {
		return true
	}
	return kr.RealmPolicy(email)
}
