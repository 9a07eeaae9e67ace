// Package keycodec generates card secrets and derives the fingerprints used
// to store and look them up.  The raw secret is shown to the end user once;
// only its fingerprint is persisted.
package keycodec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts bounds how many random secrets GenerateUnique tries before it
// falls back to a timestamp-salted secret.
const MaxAttempts = 10

// PrefixLen is the number of leading secret characters kept as an
// operator-facing hint.
const PrefixLen = 8

// ExistsFunc reports whether a fingerprint is already taken.
type ExistsFunc func(ctx context.Context, fingerprint string) (bool, error)

// Generate returns a new 32-character lowercase hex secret.
func Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Fingerprint returns the lowercase hex SHA-256 of the trimmed secret.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the first PrefixLen characters of secret.
func Prefix(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) <= PrefixLen {
		return secret
	}
	return secret[:PrefixLen]
}

// GenerateUnique returns a secret whose fingerprint exists() reports as
// free.  After MaxAttempts collisions it returns a secret salted with the
// current time in microseconds, which is not re-checked.
func GenerateUnique(ctx context.Context, exists ExistsFunc) (string, error) {
	return generateUnique(ctx, exists, Generate, time.Now)
}

func generateUnique(ctx context.Context, exists ExistsFunc, gen func() string, now func() time.Time) (string, error) {
	for i := 0; i < MaxAttempts; i++ {
		secret := gen()
		taken, err := exists(ctx, Fingerprint(secret))
		if err != nil {
			return "", fmt.Errorf("check fingerprint: %w", err)
		}
		if !taken {
			return secret, nil
		}
	}

	micros := fmt.Sprintf("%d", now().UnixMicro())
	return gen() + micros[len(micros)-6:], nil
}
