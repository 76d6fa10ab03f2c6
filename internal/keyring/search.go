package keyring

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/None-later/end-to-end/internal/identity"
	"github.com/None-later/end-to-end/internal/models"
)

// SearchByIdentity returns key descriptors bound to an identity, merged
// across the local store and the remote directory.
//
// The local store is always consulted first. The remote directory is
// consulted only for public-key searches, only when a provider is
// configured, and only when an email address can be extracted from the
// identity; otherwise local results stand alone. Overlap between the two
// sources is collapsed by fingerprint with the local copy retained.
//
// A failed remote lookup degrades to the local results unless
// requireRemote is set, in which case the failure propagates and no keys
// are returned.
func (kr *KeyRing) SearchByIdentity(ctx context.Context, identityStr string, typ models.KeyType, requireRemote bool) ([]models.Key, error) {
	email, _ := identity.ExtractEmail(identityStr)

	local, err := kr.searchLocal(ctx, identityStr, email, typ)
	if err != nil {
		return nil, err
	}

	if typ == models.KeyTypePrivate || kr.remote == nil || email == "" {
		return local, nil
	}

	remote, err := kr.remote.TrustedKeysByEmail(ctx, email)
	if err != nil {
		if requireRemote {
			return nil, fmt.Errorf("remote search for %q: %w", email, err)
		}
		kr.log.Warn("remote key search failed, serving local results",
			zap.String("email", email),
			zap.Error(err))
		return local, nil
	}
	if len(remote) == 0 {
		return local, nil
	}

	merged := make([]models.Key, 0, len(local)+len(remote))
	merged = append(merged, local...)
	merged = append(merged, remote...)
	return dedupByFingerprint(merged), nil
}

// searchLocal queries the store and filters the results to the requested
// key kind. Identities carrying an email are matched by case-insensitive
// substring against stored user IDs; anything else is matched verbatim.
// The result is never nil.
func (kr *KeyRing) searchLocal(ctx context.Context, identityStr, email string, typ models.KeyType) ([]models.Key, error) {
	var (
		found []models.Key
		err   error
	)
	if email == "" {
		found, err = kr.store.SearchByIdentity(ctx, identityStr)
	} else {
		needle := strings.ToLower(email)
		found, err = kr.store.SearchByIdentityMatcher(ctx, func(uid string) bool {
			return strings.Contains(strings.ToLower(uid), needle)
		})
	}
	if err != nil {
		return nil, err
	}

	wantSecret := typ == models.KeyTypePrivate
	out := make([]models.Key, 0, len(found))
	for _, k := range found {
		if k.Secret == wantSecret {
			out = append(out, k)
		}
	}
	return out, nil
}

// dedupByFingerprint drops every key whose fingerprint was already seen,
// preserving order. Callers append local results before remote ones, so
// the local copy of a duplicated key survives.
func dedupByFingerprint(keys []models.Key) []models.Key {
	seen := make(map[string]struct{}, len(keys))
	out := make([]models.Key, 0, len(keys))
	for _, k := range keys {
		fp := string(k.Fingerprint)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, k)
	}
	return out
}
