// Package repository provides persistence for the key directory against a
// PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/None-later/end-to-end/internal/models"
)

// ErrNotFound marks updates addressing a fingerprint the directory does
// not hold.
var ErrNotFound = errors.New("key not found")

// PostgresKeyRepository stores submitted keys with their key-ID and
// identity indexes. Key IDs are kept as 16-digit hex text; a uint64 with
// the top bit set does not fit Postgres' signed BIGINT.
type PostgresKeyRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresKeyRepository creates a PostgresKeyRepository using the
// provided *sql.DB.
func NewPostgresKeyRepository(db *sql.DB) *PostgresKeyRepository {
	return &PostgresKeyRepository{DB: db}
}

// FindByEmail returns the keys bound to an email address. Matching is
// case-insensitive; emails are indexed lowercase.
func (r *PostgresKeyRepository) FindByEmail(ctx context.Context, email string, verifiedOnly bool) ([]models.KeyRecord, error) {
	query := `
		SELECT DISTINCT k.fingerprint, k.armored, k.verified, k.submission_id, k.created_at, k.updated_at
		FROM keys k
		JOIN key_identities i ON i.fingerprint = k.fingerprint
		WHERE i.email = lower($1) AND k.deleted = false`
	if verifiedOnly {
		query += ` AND k.verified = true`
	}
	rows, err := r.DB.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("FindByEmail: %w", err)
	}
	defer rows.Close()
	return scanKeyRecords(rows)
}

// FindByKeyID returns the keys carrying a 16-digit hex key ID, covering
// subkey IDs.
func (r *PostgresKeyRepository) FindByKeyID(ctx context.Context, keyID string, verifiedOnly bool) ([]models.KeyRecord, error) {
	query := `
		SELECT DISTINCT k.fingerprint, k.armored, k.verified, k.submission_id, k.created_at, k.updated_at
		FROM keys k
		JOIN key_ids ki ON ki.fingerprint = k.fingerprint
		WHERE ki.key_id = $1 AND k.deleted = false`
	if verifiedOnly {
		query += ` AND k.verified = true`
	}
	rows, err := r.DB.QueryContext(ctx, query, strings.ToUpper(keyID))
	if err != nil {
		return nil, fmt.Errorf("FindByKeyID: %w", err)
	}
	defer rows.Close()
	return scanKeyRecords(rows)
}

// ListUnverified returns the pending submissions, oldest first.
func (r *PostgresKeyRepository) ListUnverified(ctx context.Context) ([]models.KeyRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT fingerprint, armored, verified, submission_id, created_at, updated_at
		FROM keys WHERE verified = false AND deleted = false
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ListUnverified: %w", err)
	}
	defer rows.Close()
	return scanKeyRecords(rows)
}

// Exists reports whether the directory holds a live record for the
// fingerprint.
func (r *PostgresKeyRepository) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM keys WHERE fingerprint = $1 AND deleted = false)`,
		fingerprint,
	).Scan(&exists)
	return exists, err
}

// Upsert inserts or refreshes one key with its indexes in a transaction.
// A re-submitted key keeps its verified flag; un-verifying is an explicit
// admin operation, never a side effect of an upload.
func (r *PostgresKeyRepository) Upsert(ctx context.Context, rec models.KeyRecord, keyIDs []string, identities []models.KeyIdentity) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO keys (fingerprint, armored, verified, submission_id)
		VALUES ($1, $2, false, $3)
		ON CONFLICT (fingerprint) DO UPDATE SET
			armored = EXCLUDED.armored,
			submission_id = EXCLUDED.submission_id,
			deleted = false,
			updated_at = now()
	`, rec.Fingerprint, rec.Armored, rec.SubmissionID)
	if err != nil {
		return fmt.Errorf("upsert key: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM key_ids WHERE fingerprint = $1`, rec.Fingerprint); err != nil {
		return fmt.Errorf("clear key IDs: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO key_ids (fingerprint, key_id)
		SELECT $1, unnest($2::text[])
	`, rec.Fingerprint, pq.Array(keyIDs))
	if err != nil {
		return fmt.Errorf("insert key IDs: %w", err)
	}

	userIDs := make([]string, len(identities))
	emails := make([]string, len(identities))
	for i, id := range identities {
		userIDs[i] = id.UserID
		emails[i] = strings.ToLower(id.Email)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM key_identities WHERE fingerprint = $1`, rec.Fingerprint); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO key_identities (fingerprint, user_id, email)
		SELECT $1, t.user_id, t.email
		FROM unnest($2::text[], $3::text[]) AS t(user_id, email)
	`, rec.Fingerprint, pq.Array(userIDs), pq.Array(emails))
	if err != nil {
		return fmt.Errorf("insert identities: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SetVerified flips the verified flag on a stored key.
func (r *PostgresKeyRepository) SetVerified(ctx context.Context, fingerprint string, verified bool) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE keys SET verified = $2, updated_at = now()
		WHERE fingerprint = $1 AND deleted = false
	`, fingerprint, verified)
	if err != nil {
		return fmt.Errorf("SetVerified: %w", err)
	}
	return oneRow(res)
}

// SoftDelete hides a key from every lookup; the cleaner purges it later.
func (r *PostgresKeyRepository) SoftDelete(ctx context.Context, fingerprint string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE keys SET deleted = true, updated_at = now()
		WHERE fingerprint = $1 AND deleted = false
	`, fingerprint)
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	return oneRow(res)
}

// PurgeDeleted removes soft-deleted rows for good once they are older
// than the cutoff.
func (r *PostgresKeyRepository) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM keys WHERE deleted = true AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("PurgeDeleted: %w", err)
	}
	return res.RowsAffected()
}

// PurgeUnverified removes submissions that were never verified and have
// not been touched since the cutoff.
func (r *PostgresKeyRepository) PurgeUnverified(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM keys WHERE verified = false AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("PurgeUnverified: %w", err)
	}
	return res.RowsAffected()
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanKeyRecords(rows *sql.Rows) ([]models.KeyRecord, error) {
	var records []models.KeyRecord
	for rows.Next() {
		var rec models.KeyRecord
		if err := rows.Scan(&rec.Fingerprint, &rec.Armored, &rec.Verified, &rec.SubmissionID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
