package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

type AuditStore struct {
	db *pgxpool.Pool
}

func NewAuditStore(db *pgxpool.Pool) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) AppendVerification(ctx context.Context, rec store.VerificationRecord) error {
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO verification_logs(
  card_id, binding_id, api_key_id, ip_address, user_agent,
  verified_at, success, error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.CardID, rec.BindingID, nullString(rec.CredentialID), rec.IPAddress, rec.UserAgent,
		rec.VerifiedAt, rec.Success, rec.ErrorMessage,
	); err != nil {
		return fmt.Errorf("AppendVerification: %w", err)
	}
	return nil
}

func (s *AuditStore) RecentVerifications(ctx context.Context, cardID int64, limit int) ([]store.VerificationRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, `
SELECT id, card_id, binding_id, COALESCE(api_key_id, ''), ip_address, user_agent,
       verified_at, success, error_message
FROM verification_logs
WHERE card_id = $1
ORDER BY verified_at DESC, id DESC
LIMIT $2`, cardID, lim)
	if err != nil {
		return nil, fmt.Errorf("RecentVerifications: %w", err)
	}
	defer rows.Close()

	var out []store.VerificationRecord
	for rows.Next() {
		var rec store.VerificationRecord
		if err := rows.Scan(&rec.ID, &rec.CardID, &rec.BindingID, &rec.CredentialID,
			&rec.IPAddress, &rec.UserAgent, &rec.VerifiedAt, &rec.Success, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("RecentVerifications scan: %w", err)
		}
		rec.VerifiedAt = rec.VerifiedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *AuditStore) AppendAPICall(ctx context.Context, rec store.APICallRecord) error {
	if rec.CalledAt.IsZero() {
		rec.CalledAt = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO api_call_logs(
  api_key_id, endpoint, method, ip_address, user_agent,
  response_code, response_time_ms, called_at, success, error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		nullString(rec.CredentialID), rec.Endpoint, rec.Method, rec.IPAddress, rec.UserAgent,
		rec.ResponseCode, rec.ResponseTime.Milliseconds(), rec.CalledAt, rec.Success, rec.ErrorMessage,
	); err != nil {
		return fmt.Errorf("AppendAPICall: %w", err)
	}
	return nil
}

func (s *AuditStore) PruneAPICallsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_call_logs WHERE called_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("PruneAPICallsOlderThan: %w", err)
	}
	return tag.RowsAffected(), nil
}
