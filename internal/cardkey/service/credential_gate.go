package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

// CredentialGate resolves an API key to its credential.  The core only uses
// the result to attribute counters and audit records.
type CredentialGate struct {
	creds   store.CredentialStore
	enabled bool
}

func NewCredentialGate(creds store.CredentialStore, enabled bool) *CredentialGate {
	return &CredentialGate{creds: creds, enabled: enabled}
}

// Enabled reports whether the public API accepts requests at all.
func (g *CredentialGate) Enabled() bool { return g.enabled }

func (g *CredentialGate) Authenticate(ctx context.Context, apiKey string) (*store.Credential, error) {
	if !g.enabled {
		return nil, ErrAPIDisabled
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, MissingParams("api_key")
	}

	c, err := g.creds.FindCredentialByHash(ctx, HashAPIKey(apiKey))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, systemErr("find api key", err)
	}
	if !c.IsActive {
		return nil, ErrInvalidCredential
	}
	return &c, nil
}

// HashAPIKey is the stored form of an API key, the same digest used for
// card secrets.
func HashAPIKey(key string) string { return keycodec.Fingerprint(key) }

// IssueKey creates an active API key and returns the raw key once.
func IssueKey(ctx context.Context, creds store.CredentialStore, name string, rateLimit int) (string, store.Credential, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", store.Credential{}, MissingParams("name")
	}
	key := keycodec.Generate()
	c := store.Credential{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   HashAPIKey(key),
		KeyPrefix: keycodec.Prefix(key),
		IsActive:  true,
		RateLimit: rateLimit,
		CreatedAt: time.Now().UTC(),
	}
	if err := creds.InsertCredential(ctx, c); err != nil {
		return "", store.Credential{}, systemErr("insert api key", err)
	}
	return key, c, nil
}
