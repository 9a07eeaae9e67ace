package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	dbpkg "github.com/BrandonDHaskell/cardkey/internal/db"
)

type CredentialStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCredentialStore(db *sql.DB, writer *dbpkg.Worker) *CredentialStore {
	return &CredentialStore{db: db, writer: writer}
}

func (s *CredentialStore) FindCredentialByHash(ctx context.Context, keyHash string) (store.Credential, error) {
	var (
		c         store.Credential
		active    int
		lastUsed  sql.NullInt64
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, key_hash, key_prefix, is_active, usage_count,
       last_used_at_ms, rate_limit, created_at_ms
FROM api_keys WHERE key_hash = ?;
`, keyHash).Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &active, &c.UsageCount,
		&lastUsed, &c.RateLimit, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return store.Credential{}, fmt.Errorf("FindCredentialByHash: %w", err)
	}
	c.IsActive = active != 0
	c.LastUsedAt = timePtr(lastUsed)
	c.CreatedAt = fromMs(createdMs)
	return c, nil
}

func (s *CredentialStore) InsertCredential(ctx context.Context, c store.Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO api_keys(
  id, name, key_hash, key_prefix, is_active, usage_count,
  last_used_at_ms, rate_limit, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			c.ID, c.Name, c.KeyHash, c.KeyPrefix, boolInt(c.IsActive), c.UsageCount,
			nullMs(c.LastUsedAt), c.RateLimit, toMs(c.CreatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return fmt.Errorf("InsertCredential: %w", err)
		}
		return nil
	})
}

// HealthStore reports liveness and row counts for the health endpoint.
type HealthStore struct {
	db *sql.DB
}

func NewHealthStore(db *sql.DB) *HealthStore {
	return &HealthStore{db: db}
}

func (s *HealthStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *HealthStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM cards),
  (SELECT COUNT(*) FROM api_keys),
  (SELECT COUNT(*) FROM api_keys WHERE is_active = 1);
`).Scan(&st.Cards, &st.Credentials, &st.ActiveCredentials)
	if err != nil {
		return store.Stats{}, fmt.Errorf("Stats: %w", err)
	}
	return st, nil
}

// SeedDev upserts the dev API key row.  It runs at startup before the
// server accepts requests.
func (s *CredentialStore) SeedDev(ctx context.Context, opt dbpkg.SeedDevOptions) error {
	return dbpkg.SeedDev(ctx, s.db, opt)
}
