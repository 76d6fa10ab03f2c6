package keyring

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
)

// ResolveKeyBlock resolves a descriptor to its parsed key block. The local
// store has precedence; a descriptor that is unknown locally but carries
// serialized bytes, as remote search results do, is materialized from
// those bytes. Private keys are only ever served from the local store, so
// a secret descriptor with no local block resolves to nil.
func (kr *KeyRing) ResolveKeyBlock(ctx context.Context, key models.Key) (*pgp.KeyBlock, error) {
	block, err := kr.store.KeyBlock(ctx, key)
	if err != nil {
		return nil, err
	}
	if block != nil || key.Secret || len(key.Armored) == 0 {
		return block, nil
	}
	parsed, err := pgp.ParseKey(key.Armored)
	if err != nil {
		return nil, fmt.Errorf("materialize key %s: %w", key.Fingerprint, err)
	}
	return parsed, nil
}

// ResolveKeyBlockByID resolves a 64-bit key ID to a parsed block, checking
// the local store first and falling back to the remote directory for
// public keys. The remote fallback is best-effort: a directory failure is
// logged and reported as key-not-found rather than as an error, and when
// the directory knows several keys under one ID the first is returned.
func (kr *KeyRing) ResolveKeyBlockByID(ctx context.Context, id uint64, secret bool) (*pgp.KeyBlock, error) {
	block, err := kr.store.KeyBlockByID(ctx, id, secret)
	if err != nil {
		return nil, err
	}
	if block != nil || secret || kr.remote == nil {
		return block, nil
	}

	keys, err := kr.remote.VerificationKeysByID(ctx, id)
	if err != nil {
		kr.log.Warn("remote verification-key lookup failed",
			zap.String("key_id", pgp.FormatKeyID(id)),
			zap.Error(err))
		return nil, nil
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return keys[0], nil
}
