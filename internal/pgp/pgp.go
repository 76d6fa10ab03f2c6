// Package pgp adapts OpenPGP key blocks to the lightweight descriptor form
// used for searches, comparisons and sync reports. Parsing and signature
// checking are delegated to the openpgp library; this package never touches
// a key store.
package pgp

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/None-later/end-to-end/internal/models"
)

// KeyBlock is a parsed OpenPGP key: the primary key, its user IDs and
// subkeys, with private material when the source block carried it.
type KeyBlock struct {
	entity *openpgp.Entity
}

// FromEntity wraps an already-parsed entity.
func FromEntity(e *openpgp.Entity) *KeyBlock {
	return &KeyBlock{entity: e}
}

// ParseKeys reads one or more key blocks from armored or binary input.
// Reading verifies the embedded self-signatures; material whose signatures
// do not check out fails to parse.
func ParseKeys(raw []byte) ([]*KeyBlock, error) {
	ents, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	if err != nil {
		ents, err = openpgp.ReadKeyRing(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse key block: %w", err)
		}
	}
	blocks := make([]*KeyBlock, 0, len(ents))
	for _, e := range ents {
		blocks = append(blocks, &KeyBlock{entity: e})
	}
	return blocks, nil
}

// ParseKey reads exactly one key block from armored or binary input.
func ParseKey(raw []byte) (*KeyBlock, error) {
	blocks, err := ParseKeys(raw)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("parse key block: no keys found")
	}
	return blocks[0], nil
}

// Entity exposes the underlying parsed entity for cryptographic use.
func (b *KeyBlock) Entity() *openpgp.Entity {
	return b.entity
}

// Fingerprint returns a copy of the primary key's fingerprint bytes.
func (b *KeyBlock) Fingerprint() models.Fingerprint {
	fp := b.entity.PrimaryKey.Fingerprint
	out := make(models.Fingerprint, len(fp))
	copy(out, fp)
	return out
}

// KeyID returns the primary key's 64-bit key ID.
func (b *KeyBlock) KeyID() uint64 {
	return b.entity.PrimaryKey.KeyId
}

// HasKeyID reports whether the given key ID names the primary key or any
// subkey of this block.
func (b *KeyBlock) HasKeyID(id uint64) bool {
	if b.entity.PrimaryKey.KeyId == id {
		return true
	}
	for _, sk := range b.entity.Subkeys {
		if sk.PublicKey != nil && sk.PublicKey.KeyId == id {
			return true
		}
	}
	return false
}

// KeyIDs returns the primary key ID followed by the subkey IDs.
func (b *KeyBlock) KeyIDs() []uint64 {
	ids := make([]uint64, 0, 1+len(b.entity.Subkeys))
	ids = append(ids, b.entity.PrimaryKey.KeyId)
	for _, sk := range b.entity.Subkeys {
		if sk.PublicKey != nil {
			ids = append(ids, sk.PublicKey.KeyId)
		}
	}
	return ids
}

// UserIDs returns the identity strings bound to the key, sorted so callers
// see a deterministic order.
func (b *KeyBlock) UserIDs() []string {
	ids := make([]string, 0, len(b.entity.Identities))
	for name := range b.entity.Identities {
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids
}

// IsSecret reports whether the block carries private key material.
func (b *KeyBlock) IsSecret() bool {
	return b.entity.PrivateKey != nil
}

// Armor serializes the block as it is held: a private-key block when secret
// material is present, a public-key block otherwise.
func (b *KeyBlock) Armor() ([]byte, error) {
	blockType := openpgp.PublicKeyType
	if b.IsSecret() {
		blockType = openpgp.PrivateKeyType
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, blockType, nil)
	if err != nil {
		return nil, fmt.Errorf("armor encode: %w", err)
	}
	if b.IsSecret() {
		err = b.entity.SerializePrivateWithoutSigning(w, nil)
	} else {
		err = b.entity.Serialize(w)
	}
	if err != nil {
		return nil, fmt.Errorf("serialize key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close armor: %w", err)
	}
	return buf.Bytes(), nil
}

// ArmorPublic serializes only the public part of the block, regardless of
// whether private material is present.
func (b *KeyBlock) ArmorPublic() ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, fmt.Errorf("armor encode: %w", err)
	}
	if err := b.entity.Serialize(w); err != nil {
		return nil, fmt.Errorf("serialize key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Public returns the public counterpart of the block. Public blocks are
// returned as-is.
func (b *KeyBlock) Public() (*KeyBlock, error) {
	if !b.IsSecret() {
		return b, nil
	}
	var buf bytes.Buffer
	if err := b.entity.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize public part: %w", err)
	}
	ents, err := openpgp.ReadKeyRing(bytes.NewReader(buf.Bytes()))
	if err != nil || len(ents) == 0 {
		return nil, fmt.Errorf("reparse public part: %w", err)
	}
	return &KeyBlock{entity: ents[0]}, nil
}

// Descriptor projects the block onto the descriptor used by searches and
// sync reports. The serialized form is left empty; locally stored keys do
// not carry raw bytes around.
func (b *KeyBlock) Descriptor() models.Key {
	return models.Key{
		Fingerprint: b.Fingerprint(),
		UserIDs:     b.UserIDs(),
		Secret:      b.IsSecret(),
	}
}

// DescriptorWithArmor projects the block onto a descriptor that also
// carries its serialized form, for keys that are about to leave the local
// store (uploads) or that never entered it (remote results).
func (b *KeyBlock) DescriptorWithArmor() (models.Key, error) {
	armored, err := b.Armor()
	if err != nil {
		return models.Key{}, err
	}
	key := b.Descriptor()
	key.Armored = armored
	return key, nil
}

// FormatKeyID renders a 64-bit key ID in the conventional 16-digit upper
// hex form.
func FormatKeyID(id uint64) string {
	return fmt.Sprintf("%016X", id)
}

// ParseKeyID parses a hex key ID as produced by FormatKeyID.
func ParseKeyID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse key id %q: %w", s, err)
	}
	return id, nil
}
