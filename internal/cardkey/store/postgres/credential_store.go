package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

type CredentialStore struct {
	db *pgxpool.Pool
}

func NewCredentialStore(db *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) FindCredentialByHash(ctx context.Context, keyHash string) (store.Credential, error) {
	var c store.Credential
	err := s.db.QueryRow(ctx, `
SELECT id, name, key_hash, key_prefix, is_active, usage_count,
       last_used_at, rate_limit, created_at
FROM api_keys WHERE key_hash = $1`, keyHash,
	).Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &c.IsActive, &c.UsageCount,
		&c.LastUsedAt, &c.RateLimit, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Credential{}, store.ErrNotFound
	}
	if err != nil {
		return store.Credential{}, fmt.Errorf("FindCredentialByHash: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) InsertCredential(ctx context.Context, c store.Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO api_keys(
  id, name, key_hash, key_prefix, is_active, usage_count,
  last_used_at, rate_limit, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.KeyHash, c.KeyPrefix, c.IsActive, c.UsageCount,
		c.LastUsedAt, c.RateLimit, c.CreatedAt,
	); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("InsertCredential: %w", err)
	}
	return nil
}

type HealthStore struct {
	db *pgxpool.Pool
}

func NewHealthStore(db *pgxpool.Pool) *HealthStore {
	return &HealthStore{db: db}
}

func (s *HealthStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *HealthStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM cards),
  (SELECT COUNT(*) FROM api_keys),
  (SELECT COUNT(*) FROM api_keys WHERE is_active)`,
	).Scan(&st.Cards, &st.Credentials, &st.ActiveCredentials)
	if err != nil {
		return store.Stats{}, fmt.Errorf("Stats: %w", err)
	}
	return st, nil
}
