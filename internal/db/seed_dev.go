package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DevCredentialID is the api_keys row SeedDev maintains.
const DevCredentialID = "dev"

type SeedDevOptions struct {
	// KeyHash and KeyPrefix describe the dev API key; the raw key stays in
	// the environment.
	KeyHash   string
	KeyPrefix string
}

// SeedDev upserts an active API key so a dev server accepts requests without
// running the admin tool first.  A no-op when KeyHash is empty.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.KeyHash == "" {
		return nil
	}
	now := time.Now().UTC().UnixMilli()

	if _, err := db.ExecContext(ctx, `
INSERT INTO api_keys(id, name, key_hash, key_prefix, is_active, created_at_ms)
VALUES (?, 'Development', ?, ?, 1, ?)
ON CONFLICT(id) DO UPDATE SET
  key_hash = excluded.key_hash,
  key_prefix = excluded.key_prefix,
  is_active = 1;
`, DevCredentialID, opt.KeyHash, opt.KeyPrefix, now); err != nil {
		return fmt.Errorf("seed dev api key: %w", err)
	}
	return nil
}
