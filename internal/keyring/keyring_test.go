package keyring

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
)

var errBoom = errors.New("boom")

type fakeStore struct {
	searchFunc       func(ctx context.Context, query string) ([]models.Key, error)
	matcherFunc      func(ctx context.Context, match func(string) bool) ([]models.Key, error)
	keyBlockFunc     func(ctx context.Context, key models.Key) (*pgp.KeyBlock, error)
	keyBlockByIDFunc func(ctx context.Context, id uint64, secret bool) (*pgp.KeyBlock, error)
	importFunc       func(ctx context.Context, block *pgp.KeyBlock) error
	restoreFunc      func(ctx context.Context, backup []byte, identity string) error
}

func (s *fakeStore) SearchByIdentity(ctx context.Context, query string) ([]models.Key, error) {
	if s.searchFunc == nil {
		return nil, nil
	}
	return s.searchFunc(ctx, query)
}

func (s *fakeStore) SearchByIdentityMatcher(ctx context.Context, match func(string) bool) ([]models.Key, error) {
	if s.matcherFunc == nil {
		return nil, nil
	}
	return s.matcherFunc(ctx, match)
}

func (s *fakeStore) KeyBlock(ctx context.Context, key models.Key) (*pgp.KeyBlock, error) {
	if s.keyBlockFunc == nil {
		return nil, nil
	}
	return s.keyBlockFunc(ctx, key)
}

func (s *fakeStore) KeyBlockByID(ctx context.Context, id uint64, secret bool) (*pgp.KeyBlock, error) {
	if s.keyBlockByIDFunc == nil {
		return nil, nil
	}
	return s.keyBlockByIDFunc(ctx, id, secret)
}

func (s *fakeStore) ImportKeyBlock(ctx context.Context, block *pgp.KeyBlock) error {
	if s.importFunc == nil {
		return nil
	}
	return s.importFunc(ctx, block)
}

func (s *fakeStore) RestoreKeyring(ctx context.Context, backup []byte, identity string) error {
	if s.restoreFunc == nil {
		return nil
	}
	return s.restoreFunc(ctx, backup, identity)
}

type fakeRemote struct {
	trustedFunc func(ctx context.Context, email string) ([]models.Key, error)
	verifyFunc  func(ctx context.Context, id uint64) ([]*pgp.KeyBlock, error)
	importFunc  func(ctx context.Context, keys []models.Key, identity string) (bool, error)
}

func (r *fakeRemote) TrustedKeysByEmail(ctx context.Context, email string) ([]models.Key, error) {
	if r.trustedFunc == nil {
		return nil, nil
	}
	return r.trustedFunc(ctx, email)
}

func (r *fakeRemote) VerificationKeysByID(ctx context.Context, id uint64) ([]*pgp.KeyBlock, error) {
	if r.verifyFunc == nil {
		return nil, nil
	}
	return r.verifyFunc(ctx, id)
}

func (r *fakeRemote) ImportKeys(ctx context.Context, keys []models.Key, identity string) (bool, error) {
	if r.importFunc == nil {
		return true, nil
	}
	return r.importFunc(ctx, keys, identity)
}

// fp builds a distinguishable fingerprint from a single byte.
func fp(b byte) models.Fingerprint {
	return models.Fingerprint(bytes.Repeat([]byte{b}, 20))
}

func pub(f models.Fingerprint, uids ...string) models.Key {
	return models.Key{Fingerprint: f, UserIDs: uids}
}

func sec(f models.Fingerprint, uids ...string) models.Key {
	return models.Key{Fingerprint: f, UserIDs: uids, Secret: true}
}

func fps(keys []models.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Fingerprint.String())
	}
	return out
}

func genBlock(t *testing.T, name, email string) *pgp.KeyBlock {
	t.Helper()
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity(name, "", email, cfg)
	if err != nil {
		t.Fatalf("generate entity: %v", err)
	}
	return pgp.FromEntity(entity)
}

func TestImportKey(t *testing.T) {
	block := genBlock(t, "Alice", "alice@example.com")
	armored, err := block.ArmorPublic()
	if err != nil {
		t.Fatalf("armor: %v", err)
	}

	var stored []*pgp.KeyBlock
	store := &fakeStore{
		importFunc: func(_ context.Context, b *pgp.KeyBlock) error {
			stored = append(stored, b)
			return nil
		},
	}
	kr := New(store, nil, nil)

	imported, err := kr.ImportKey(context.Background(), armored)
	if err != nil {
		t.Fatalf("ImportKey: %v", err)
	}
	if len(imported) != 1 || len(stored) != 1 {
		t.Fatalf("imported %d descriptors, stored %d blocks, want 1 and 1", len(imported), len(stored))
	}
	if !imported[0].Fingerprint.Equal(models.Fingerprint(block.Fingerprint())) {
		t.Errorf("imported fingerprint = %s, want %s", imported[0].Fingerprint, models.Fingerprint(block.Fingerprint()))
	}
	if imported[0].Secret {
		t.Error("descriptor of a public block marked secret")
	}
}

func TestImportKeyGarbage(t *testing.T) {
	kr := New(&fakeStore{}, nil, nil)
	if _, err := kr.ImportKey(context.Background(), []byte("not a key")); err == nil {
		t.Fatal("ImportKey accepted garbage")
	}
}

func TestImportKeyStoreError(t *testing.T) {
	block := genBlock(t, "Alice", "alice@example.com")
	armored, err := block.ArmorPublic()
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	store := &fakeStore{
		importFunc: func(context.Context, *pgp.KeyBlock) error { return errBoom },
	}
	kr := New(store, nil, nil)

	if _, err := kr.ImportKey(context.Background(), armored); !errors.Is(err, errBoom) {
		t.Fatalf("ImportKey error = %v, want %v", err, errBoom)
	}
}

func TestRestoreKeyringCanonicalizesIdentity(t *testing.T) {
	var gotBackup []byte
	var gotIdentity string
	store := &fakeStore{
		restoreFunc: func(_ context.Context, backup []byte, identity string) error {
			gotBackup = backup
			gotIdentity = identity
			return nil
		},
	}
	kr := New(store, nil, nil)

	backup := []byte("backup-payload")
	if err := kr.RestoreKeyring(context.Background(), backup, "alice@example.com"); err != nil {
		t.Fatalf("RestoreKeyring: %v", err)
	}
	if gotIdentity != "<alice@example.com>" {
		t.Errorf("restore identity = %q, want %q", gotIdentity, "<alice@example.com>")
	}
	if !bytes.Equal(gotBackup, backup) {
		t.Errorf("restore backup = %q, want %q", gotBackup, backup)
	}
}

func TestRestoreKeyringKeepsFullIdentity(t *testing.T) {
	var gotIdentity string
	store := &fakeStore{
		restoreFunc: func(_ context.Context, _ []byte, identity string) error {
			gotIdentity = identity
			return nil
		},
	}
	kr := New(store, nil, nil)

	const full = "Alice <alice@example.com>"
	if err := kr.RestoreKeyring(context.Background(), nil, full); err != nil {
		t.Fatalf("RestoreKeyring: %v", err)
	}
	if gotIdentity != full {
		t.Errorf("restore identity = %q, want %q", gotIdentity, full)
	}
}
