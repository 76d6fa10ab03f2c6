// Package service implements the key directory's business logic,
// delegating persistence to a repository interface.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/None-later/end-to-end/internal/identity"
	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
)

// Validation failures on the lookup, submission and curation paths.
// Handlers map these to client errors.
var (
	ErrInvalidIdentity  = errors.New("identity has no valid email")
	ErrNoKeys           = errors.New("submission holds no keys")
	ErrSecretMaterial   = errors.New("submission contains private key material")
	ErrIdentityMismatch = errors.New("key does not name the claimed identity")
	ErrBadKey           = errors.New("unparseable key material")
	ErrBadKeyID         = errors.New("malformed key ID")
	ErrBadFingerprint   = errors.New("malformed fingerprint")
)

// KeyRepository defines the persistence operations needed by the
// DirectoryService.
type KeyRepository interface {
	// FindByEmail returns keys bound to the email, case-insensitively.
	FindByEmail(ctx context.Context, email string, verifiedOnly bool) ([]models.KeyRecord, error)
	// FindByKeyID returns keys carrying the 16-digit hex key ID.
	FindByKeyID(ctx context.Context, keyID string, verifiedOnly bool) ([]models.KeyRecord, error)
	// ListUnverified returns pending submissions, oldest first.
	ListUnverified(ctx context.Context) ([]models.KeyRecord, error)
	// Exists reports whether a live record holds the fingerprint.
	Exists(ctx context.Context, fingerprint string) (bool, error)
	// Upsert inserts or refreshes one key with its indexes.
	Upsert(ctx context.Context, rec models.KeyRecord, keyIDs []string, identities []models.KeyIdentity) error
	// SetVerified flips the verified flag on a stored key.
	SetVerified(ctx context.Context, fingerprint string, verified bool) error
	// SoftDelete hides a key from lookups.
	SoftDelete(ctx context.Context, fingerprint string) error
}

// SubmissionResult reports what a key submission changed.
type SubmissionResult struct {
	SubmissionID string   `json:"submission_id"`
	Accepted     bool     `json:"accepted"`
	New          []string `json:"new,omitempty"`
	Refreshed    []string `json:"refreshed,omitempty"`
}

// DirectoryService implements lookup, submission and curation of
// directory keys.
type DirectoryService struct {
	repo KeyRepository
	log  *zap.Logger
}

// NewDirectoryService constructs a DirectoryService over the provided
// repository. log may be nil.
func NewDirectoryService(repo KeyRepository, log *zap.Logger) *DirectoryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectoryService{repo: repo, log: log}
}

// TrustedKeys returns the verified keys bound to an email address as wire
// descriptors. Clients re-derive metadata from the armored bytes, so the
// descriptors carry only fingerprint and serialized form.
func (s *DirectoryService) TrustedKeys(ctx context.Context, email string) ([]models.Key, error) {
	records, err := s.repo.FindByEmail(ctx, email, true)
	if err != nil {
		return nil, err
	}
	return s.descriptors(records), nil
}

// VerificationKeys returns the verified keys carrying the given hex key
// ID, primary or subkey.
func (s *DirectoryService) VerificationKeys(ctx context.Context, keyID string) ([]models.Key, error) {
	id, err := pgp.ParseKeyID(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadKeyID, keyID)
	}
	records, err := s.repo.FindByKeyID(ctx, pgp.FormatKeyID(id), true)
	if err != nil {
		return nil, err
	}
	return s.descriptors(records), nil
}

// descriptors converts stored records to wire descriptors. A row whose
// fingerprint does not decode is skipped with a warning instead of
// failing the whole lookup.
func (s *DirectoryService) descriptors(records []models.KeyRecord) []models.Key {
	keys := make([]models.Key, 0, len(records))
	for _, rec := range records {
		fp, err := models.ParseFingerprint(rec.Fingerprint)
		if err != nil {
			s.log.Warn("skipping key with corrupt fingerprint",
				zap.String("fingerprint", rec.Fingerprint),
				zap.Error(err))
			continue
		}
		keys = append(keys, models.Key{Fingerprint: fp, Armored: []byte(rec.Armored)})
	}
	return keys
}

// SubmitKeys validates and stores armored public keys submitted for an
// identity. Every block must parse, be public and name the identity's
// email; one bad block rejects the whole submission. Stored keys start
// unverified and stay invisible to lookups until verified.
func (s *DirectoryService) SubmitKeys(ctx context.Context, identityStr string, armoredKeys []string) (*SubmissionResult, error) {
	email, ok := identity.ExtractEmail(identityStr)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentity, identityStr)
	}
	if len(armoredKeys) == 0 {
		return nil, ErrNoKeys
	}

	var blocks []*pgp.KeyBlock
	for _, armored := range armoredKeys {
		parsed, err := pgp.ParseKeys([]byte(armored))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		blocks = append(blocks, parsed...)
	}
	if len(blocks) == 0 {
		return nil, ErrNoKeys
	}
	for _, block := range blocks {
		if block.IsSecret() {
			return nil, ErrSecretMaterial
		}
		if !blockNamesEmail(block, email) {
			return nil, fmt.Errorf("%w: %s", ErrIdentityMismatch, block.Fingerprint())
		}
	}

	result := &SubmissionResult{SubmissionID: uuid.NewString()}
	for _, block := range blocks {
		armored, err := block.ArmorPublic()
		if err != nil {
			return nil, err
		}
		fp := block.Fingerprint().String()
		exists, err := s.repo.Exists(ctx, fp)
		if err != nil {
			return nil, err
		}

		ids := block.KeyIDs()
		keyIDs := make([]string, len(ids))
		for i, id := range ids {
			keyIDs[i] = pgp.FormatKeyID(id)
		}
		uids := block.UserIDs()
		identities := make([]models.KeyIdentity, len(uids))
		for i, uid := range uids {
			uidEmail, _ := identity.ExtractEmail(uid)
			identities[i] = models.KeyIdentity{UserID: uid, Email: uidEmail}
		}

		rec := models.KeyRecord{
			Fingerprint:  fp,
			Armored:      string(armored),
			SubmissionID: result.SubmissionID,
		}
		if err := s.repo.Upsert(ctx, rec, keyIDs, identities); err != nil {
			return nil, err
		}
		if exists {
			result.Refreshed = append(result.Refreshed, fp)
		} else {
			result.New = append(result.New, fp)
		}
	}
	result.Accepted = true

	s.log.Info("accepted key submission",
		zap.String("submission_id", result.SubmissionID),
		zap.String("email", email),
		zap.Int("new", len(result.New)),
		zap.Int("refreshed", len(result.Refreshed)))
	return result, nil
}

// blockNamesEmail reports whether any user ID on the block carries the
// email, ignoring case.
func blockNamesEmail(block *pgp.KeyBlock, email string) bool {
	for _, uid := range block.UserIDs() {
		if uidEmail, ok := identity.ExtractEmail(uid); ok && strings.EqualFold(uidEmail, email) {
			return true
		}
	}
	return false
}

// PendingKeys lists submissions awaiting verification.
func (s *DirectoryService) PendingKeys(ctx context.Context) ([]models.KeyRecord, error) {
	return s.repo.ListUnverified(ctx)
}

// VerifyKey marks a stored key as verified, exposing it to lookups.
func (s *DirectoryService) VerifyKey(ctx context.Context, fingerprint string) error {
	fp, err := models.ParseFingerprint(fingerprint)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadFingerprint, fingerprint)
	}
	if err := s.repo.SetVerified(ctx, fp.String(), true); err != nil {
		return err
	}
	s.log.Info("key verified", zap.String("fingerprint", fp.String()))
	return nil
}

// RemoveKey soft-deletes a stored key; the cleaner purges it later.
func (s *DirectoryService) RemoveKey(ctx context.Context, fingerprint string) error {
	fp, err := models.ParseFingerprint(fingerprint)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadFingerprint, fingerprint)
	}
	if err := s.repo.SoftDelete(ctx, fp.String()); err != nil {
		return err
	}
	s.log.Info("key removed", zap.String("fingerprint", fp.String()))
	return nil
}
