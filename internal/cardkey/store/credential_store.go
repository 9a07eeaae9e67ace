package store

import (
	"context"
	"time"
)

// Credential is an API key.  Only its SHA-256 hash is stored.
type Credential struct {
	ID         string
	Name       string
	KeyHash    string
	KeyPrefix  string
	IsActive   bool
	UsageCount int64
	LastUsedAt *time.Time
	RateLimit  int
	CreatedAt  time.Time
}

type CredentialStore interface {
	FindCredentialByHash(ctx context.Context, keyHash string) (Credential, error)
	InsertCredential(ctx context.Context, c Credential) error
}

// HealthStore backs the health endpoint.
type HealthStore interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}
