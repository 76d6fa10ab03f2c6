package keyring

import (
	"context"
	"fmt"

	"github.com/None-later/end-to-end/internal/identity"
	"github.com/None-later/end-to-end/internal/models"
)

// CompareWithRemote partitions the public keys known for an identity into
// the three-way sync report described on models.SyncReport.
//
// An identity without an extractable email, outside the directory's realm,
// or looked up with no provider configured is not sync-managed: its report
// carries all local keys as Common and empty LocalOnly and RemoteOnly
// sets. For managed identities a failed directory lookup propagates as an
// error; no report is fabricated from partial data.
func (kr *KeyRing) CompareWithRemote(ctx context.Context, identityStr string) (*models.SyncReport, error) {
	email, _ := identity.ExtractEmail(identityStr)

	local, err := kr.searchLocal(ctx, identityStr, email, models.KeyTypePublic)
	if err != nil {
		return nil, err
	}
	local = dedupByFingerprint(local)

	if email == "" || kr.remote == nil || !kr.remoteManaged(email) {
		return &models.SyncReport{
			SyncManaged: false,
			LocalOnly:   []models.Key{},
			Common:      local,
			RemoteOnly:  []models.Key{},
		}, nil
	}

	remote, err := kr.remote.TrustedKeysByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("remote comparison for %q: %w", email, err)
	}
	remote = dedupByFingerprint(remote)

	report := &models.SyncReport{
		SyncManaged: true,
		LocalOnly:   []models.Key{},
		Common:      []models.Key{},
		RemoteOnly:  []models.Key{},
	}
	remoteSet := fingerprintSet(remote)
	localSet := fingerprintSet(local)
	for _, k := range local {
		if _, ok := remoteSet[string(k.Fingerprint)]; ok {
			report.Common = append(report.Common, k)
		} else {
			report.LocalOnly = append(report.LocalOnly, k)
		}
	}
	for _, k := range remote {
		if _, ok := localSet[string(k.Fingerprint)]; !ok {
			report.RemoteOnly = append(report.RemoteOnly, k)
		}
	}
	return report, nil
}

// UploadKeys submits the local public keys matching an identity to the
// remote directory under the canonicalized identity, and reports whether
// the directory accepted them. With no matching local keys the upload is
// skipped and reported as not accepted; with no provider configured it
// fails with ErrNoRemoteProvider.
func (kr *KeyRing) UploadKeys(ctx context.Context, identityStr string) (bool, error) {
	if kr.remote == nil {
		return false, ErrNoRemoteProvider
	}

	email, _ := identity.ExtractEmail(identityStr)
	local, err := kr.searchLocal(ctx, identityStr, email, models.KeyTypePublic)
	if err != nil {
		return false, err
	}
	local = dedupByFingerprint(local)
	if len(local) == 0 {
		return false, nil
	}

	for i, k := range local {
		if len(k.Armored) != 0 {
			continue
		}
		block, err := kr.store.KeyBlock(ctx, k)
		if err != nil {
			return false, err
		}
		if block == nil {
			return false, fmt.Errorf("key %s missing from local store", k.Fingerprint)
		}
		armored, err := block.ArmorPublic()
		if err != nil {
			return false, fmt.Errorf("armor key %s: %w", k.Fingerprint, err)
		}
		local[i].Armored = armored
	}

	canonical := identity.Canonicalize(identityStr)
	accepted, err := kr.remote.ImportKeys(ctx, local, canonical)
	if err != nil {
		return false, fmt.Errorf("upload keys for %q: %w", canonical, err)
	}
	return accepted, nil
}

func fingerprintSet(keys []models.Key) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[string(k.Fingerprint)] = struct{}{}
	}
	return set
}
