// Package keystore persists a keyring in a single JSON file. Records hold
// the armored form of every key block; parsed blocks are kept in memory
// after Load so lookups never reparse. All mutations are written back to
// the file before they return.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/None-later/end-to-end/internal/identity"
	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
)

type record struct {
	Fingerprint models.Fingerprint `json:"fingerprint"`
	UserIDs     []string           `json:"user_ids"`
	Armored     string             `json:"armored"`
	Secret      bool               `json:"secret,omitempty"`
}

type fileLayout struct {
	Version int      `json:"version"`
	Keys    []record `json:"keys"`
}

// Store is a file-backed key store. It implements keyring.LocalStore.
type Store struct {
	path string

	mu     sync.Mutex
	blocks []*pgp.KeyBlock
}

// New builds a Store over the given file path. Call Load before use.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the keyring file and parses every record. A missing file is
// an empty keyring, not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.blocks = nil
			return nil
		}
		return err
	}
	defer f.Close()

	var layout fileLayout
	if err := json.NewDecoder(f).Decode(&layout); err != nil {
		return fmt.Errorf("decode keyring file: %w", err)
	}
	blocks := make([]*pgp.KeyBlock, 0, len(layout.Keys))
	for _, rec := range layout.Keys {
		block, err := pgp.ParseKey([]byte(rec.Armored))
		if err != nil {
			return fmt.Errorf("parse stored key %s: %w", rec.Fingerprint, err)
		}
		blocks = append(blocks, block)
	}
	s.blocks = blocks
	return nil
}

// save writes the whole keyring back to the file. Callers hold s.mu.
func (s *Store) save() error {
	layout := fileLayout{Version: 1, Keys: make([]record, 0, len(s.blocks))}
	for _, b := range s.blocks {
		armored, err := b.Armor()
		if err != nil {
			return fmt.Errorf("armor key %x: %w", b.Fingerprint(), err)
		}
		layout.Keys = append(layout.Keys, record{
			Fingerprint: models.Fingerprint(b.Fingerprint()),
			UserIDs:     b.UserIDs(),
			Armored:     string(armored),
			Secret:      b.IsSecret(),
		})
	}

	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(&layout)
}

// SearchByIdentity returns descriptors of keys carrying the exact user ID.
func (s *Store) SearchByIdentity(ctx context.Context, query string) ([]models.Key, error) {
	return s.SearchByIdentityMatcher(ctx, func(uid string) bool { return uid == query })
}

// SearchByIdentityMatcher returns descriptors of keys with at least one
// user ID accepted by match.
func (s *Store) SearchByIdentityMatcher(_ context.Context, match func(uid string) bool) ([]models.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Key
	for _, b := range s.blocks {
		for _, uid := range b.UserIDs() {
			if match(uid) {
				out = append(out, b.Descriptor())
				break
			}
		}
	}
	return out, nil
}

// KeyBlock resolves a descriptor to its stored block by fingerprint and
// secrecy, or nil when absent.
func (s *Store) KeyBlock(_ context.Context, key models.Key) (*pgp.KeyBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks {
		if b.IsSecret() == key.Secret && key.Fingerprint.Equal(b.Fingerprint()) {
			return b, nil
		}
	}
	return nil, nil
}

// KeyBlockByID resolves a 64-bit key ID, covering subkeys, to the first
// stored block of the requested secrecy, or nil when absent.
func (s *Store) KeyBlockByID(_ context.Context, id uint64, secret bool) (*pgp.KeyBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks {
		if b.IsSecret() == secret && b.HasKeyID(id) {
			return b, nil
		}
	}
	return nil, nil
}

// ImportKeyBlock persists a block. Importing a secret block also records
// its public counterpart, so public lookups never depend on secret
// material. Re-importing a known fingerprint replaces the stored block,
// which may carry fresh signatures or subkeys.
func (s *Store) ImportKeyBlock(_ context.Context, block *pgp.KeyBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.add(block)
	if block.IsSecret() {
		public, err := block.Public()
		if err != nil {
			return fmt.Errorf("derive public counterpart: %w", err)
		}
		s.add(public)
	}
	return s.save()
}

// add inserts or replaces the entry matching the block's fingerprint and
// secrecy. Callers hold s.mu.
func (s *Store) add(block *pgp.KeyBlock) {
	fp := models.Fingerprint(block.Fingerprint())
	for i, b := range s.blocks {
		if b.IsSecret() == block.IsSecret() && fp.Equal(b.Fingerprint()) {
			s.blocks[i] = block
			return
		}
	}
	s.blocks = append(s.blocks, block)
}

// RestoreKeyring imports every block of a serialized keyring backup.
// The backup must contain at least one key bound to the identity it is
// restored for; restoring someone else's dump is refused. Existing
// entries survive, matching import semantics.
func (s *Store) RestoreKeyring(_ context.Context, backup []byte, identityStr string) error {
	blocks, err := pgp.ParseKeys(backup)
	if err != nil {
		return fmt.Errorf("parse backup: %w", err)
	}
	if len(blocks) == 0 {
		return errors.New("backup holds no keys")
	}
	if !backupNamesIdentity(blocks, identityStr) {
		return fmt.Errorf("backup does not name %s", identityStr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		s.add(b)
		if b.IsSecret() {
			public, err := b.Public()
			if err != nil {
				return fmt.Errorf("derive public counterpart: %w", err)
			}
			s.add(public)
		}
	}
	return s.save()
}

func backupNamesIdentity(blocks []*pgp.KeyBlock, identityStr string) bool {
	email, _ := identity.ExtractEmail(identityStr)
	needle := strings.ToLower(email)
	for _, b := range blocks {
		for _, uid := range b.UserIDs() {
			if email == "" {
				if uid == identityStr {
					return true
				}
			} else if strings.Contains(strings.ToLower(uid), needle) {
				return true
			}
		}
	}
	return false
}
