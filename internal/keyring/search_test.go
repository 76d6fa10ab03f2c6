package keyring

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/None-later/end-to-end/internal/models"
)

// matcherStore runs the keyring's matcher against each key's first user
// ID, like a real store scanning its records.
func matcherStore(keys ...models.Key) *fakeStore {
	return &fakeStore{
		matcherFunc: func(_ context.Context, match func(string) bool) ([]models.Key, error) {
			var out []models.Key
			for _, k := range keys {
				if len(k.UserIDs) > 0 && match(k.UserIDs[0]) {
					out = append(out, k)
				}
			}
			return out, nil
		},
	}
}

func TestSearchByIdentityExactMatchWithoutEmail(t *testing.T) {
	var gotQuery string
	store := &fakeStore{
		searchFunc: func(_ context.Context, query string) ([]models.Key, error) {
			gotQuery = query
			return []models.Key{pub(fp(0xA1), "device-backup")}, nil
		},
	}
	remoteCalled := false
	remote := &fakeRemote{
		trustedFunc: func(context.Context, string) ([]models.Key, error) {
			remoteCalled = true
			return nil, nil
		},
	}
	kr := New(store, remote, zap.NewNop())

	got, err := kr.SearchByIdentity(context.Background(), "device-backup", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("SearchByIdentity: %v", err)
	}
	if gotQuery != "device-backup" {
		t.Errorf("store queried with %q, want verbatim identity", gotQuery)
	}
	if remoteCalled {
		t.Error("remote consulted for an identity without an email")
	}
	if len(got) != 1 {
		t.Fatalf("got %d keys, want 1", len(got))
	}
}

func TestSearchByIdentityEmailMatchIsCaseInsensitive(t *testing.T) {
	store := matcherStore(
		pub(fp(0xA1), "Alice <ALICE@Example.COM>"),
		pub(fp(0xB2), "Bob <bob@example.com>"),
	)
	kr := New(store, nil, zap.NewNop())

	got, err := kr.SearchByIdentity(context.Background(), "alice@example.com", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("SearchByIdentity: %v", err)
	}
	if want := []string{fp(0xA1).String()}; !reflect.DeepEqual(fps(got), want) {
		t.Errorf("got fingerprints %v, want %v", fps(got), want)
	}
}

func TestSearchByIdentityFiltersByKeyType(t *testing.T) {
	store := matcherStore(
		pub(fp(0xA1), "Alice <alice@example.com>"),
		sec(fp(0xA2), "Alice <alice@example.com>"),
	)
	remoteCalled := false
	remote := &fakeRemote{
		trustedFunc: func(context.Context, string) ([]models.Key, error) {
			remoteCalled = true
			return []models.Key{pub(fp(0xC3), "alice@example.com")}, nil
		},
	}
	kr := New(store, remote, zap.NewNop())
	ctx := context.Background()

	private, err := kr.SearchByIdentity(ctx, "alice@example.com", models.KeyTypePrivate, false)
	if err != nil {
		t.Fatalf("private search: %v", err)
	}
	if want := []string{fp(0xA2).String()}; !reflect.DeepEqual(fps(private), want) {
		t.Errorf("private search got %v, want %v", fps(private), want)
	}
	if remoteCalled {
		t.Error("remote consulted for a private-key search")
	}

	public, err := kr.SearchByIdentity(ctx, "alice@example.com", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("public search: %v", err)
	}
	if want := []string{fp(0xA1).String(), fp(0xC3).String()}; !reflect.DeepEqual(fps(public), want) {
		t.Errorf("public search got %v, want %v", fps(public), want)
	}
}

func TestSearchByIdentityMergeKeepsLocalCopy(t *testing.T) {
	store := matcherStore(pub(fp(0xA1), "Alice <alice@example.com>"))
	remote := &fakeRemote{
		trustedFunc: func(_ context.Context, email string) ([]models.Key, error) {
			if email != "alice@example.com" {
				t.Errorf("remote queried with %q, want extracted email", email)
			}
			remoteA := pub(fp(0xA1), "Alice <alice@example.com>")
			remoteA.Armored = []byte("remote copy")
			remoteB := pub(fp(0xB2), "Alice <alice@example.com>")
			remoteB.Armored = []byte("remote only")
			return []models.Key{remoteA, remoteB}, nil
		},
	}
	kr := New(store, remote, zap.NewNop())

	got, err := kr.SearchByIdentity(context.Background(), "Alice <alice@example.com>", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("SearchByIdentity: %v", err)
	}
	if want := []string{fp(0xA1).String(), fp(0xB2).String()}; !reflect.DeepEqual(fps(got), want) {
		t.Fatalf("got fingerprints %v, want %v", fps(got), want)
	}
	if got[0].Armored != nil {
		t.Error("duplicated key resolved to the remote copy, want the local one")
	}
	if got[1].Armored == nil {
		t.Error("remote-only key lost its serialized form")
	}
}

func TestSearchByIdentityEmptyRemoteKeepsLocal(t *testing.T) {
	store := matcherStore(pub(fp(0xA1), "Alice <alice@example.com>"))
	remote := &fakeRemote{
		trustedFunc: func(context.Context, string) ([]models.Key, error) {
			return []models.Key{}, nil
		},
	}
	kr := New(store, remote, zap.NewNop())

	got, err := kr.SearchByIdentity(context.Background(), "alice@example.com", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("SearchByIdentity: %v", err)
	}
	if want := []string{fp(0xA1).String()}; !reflect.DeepEqual(fps(got), want) {
		t.Errorf("got fingerprints %v, want %v", fps(got), want)
	}
}

func TestSearchByIdentityRemoteFailureDegrades(t *testing.T) {
	store := matcherStore(pub(fp(0xA1), "Alice <alice@example.com>"))
	remote := &fakeRemote{
		trustedFunc: func(context.Context, string) ([]models.Key, error) {
			return nil, errBoom
		},
	}
	kr := New(store, remote, nil)

	got, err := kr.SearchByIdentity(context.Background(), "alice@example.com", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("degraded search returned error: %v", err)
	}
	if want := []string{fp(0xA1).String()}; !reflect.DeepEqual(fps(got), want) {
		t.Errorf("got fingerprints %v, want local results %v", fps(got), want)
	}
}

func TestSearchByIdentityRemoteFailureStrict(t *testing.T) {
	store := matcherStore(pub(fp(0xA1), "Alice <alice@example.com>"))
	remote := &fakeRemote{
		trustedFunc: func(context.Context, string) ([]models.Key, error) {
			return nil, errBoom
		},
	}
	kr := New(store, remote, zap.NewNop())

	got, err := kr.SearchByIdentity(context.Background(), "alice@example.com", models.KeyTypePublic, true)
	if !errors.Is(err, errBoom) {
		t.Fatalf("strict search error = %v, want %v", err, errBoom)
	}
	if got != nil {
		t.Errorf("strict search returned %d keys alongside the error", len(got))
	}
}

func TestSearchByIdentityStoreErrorPropagates(t *testing.T) {
	store := &fakeStore{
		matcherFunc: func(context.Context, func(string) bool) ([]models.Key, error) {
			return nil, errBoom
		},
	}
	kr := New(store, nil, zap.NewNop())

	if _, err := kr.SearchByIdentity(context.Background(), "alice@example.com", models.KeyTypePublic, false); !errors.Is(err, errBoom) {
		t.Fatalf("store error = %v, want %v", err, errBoom)
	}
}

func TestSearchByIdentityNoMatchesIsEmptyNotNil(t *testing.T) {
	kr := New(&fakeStore{}, nil, zap.NewNop())

	got, err := kr.SearchByIdentity(context.Background(), "alice@example.com", models.KeyTypePublic, false)
	if err != nil {
		t.Fatalf("SearchByIdentity: %v", err)
	}
	if got == nil {
		t.Fatal("empty search returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Fatalf("got %d keys, want none", len(got))
	}
}

func TestDedupByFingerprintFirstWins(t *testing.T) {
	in := []models.Key{
		pub(fp(0xA1), "first-a"),
		pub(fp(0xB2), "first-b"),
		pub(fp(0xA1), "second-a"),
		pub(fp(0xC3), "first-c"),
		pub(fp(0xB2), "second-b"),
	}

	got := dedupByFingerprint(in)

	want := []models.Key{
		pub(fp(0xA1), "first-a"),
		pub(fp(0xB2), "first-b"),
		pub(fp(0xC3), "first-c"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedup = %+v, want %+v", got, want)
	}
}
