package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS keys (
    fingerprint TEXT PRIMARY KEY,
    armored TEXT NOT NULL,
    verified BOOLEAN NOT NULL DEFAULT FALSE,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    submission_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS key_ids (
    fingerprint TEXT REFERENCES keys(fingerprint) ON DELETE CASCADE,
    key_id TEXT NOT NULL,
    PRIMARY KEY (fingerprint, key_id)
);

CREATE TABLE IF NOT EXISTS key_identities (
    fingerprint TEXT REFERENCES keys(fingerprint) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    email TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS key_ids_key_id_idx ON key_ids (key_id);
CREATE INDEX IF NOT EXISTS key_identities_email_idx ON key_identities (email);
`

func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
