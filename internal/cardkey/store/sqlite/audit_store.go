package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	dbpkg "github.com/BrandonDHaskell/cardkey/internal/db"
)

type AuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(db *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{db: db, writer: writer}
}

func (s *AuditStore) AppendVerification(ctx context.Context, rec store.VerificationRecord) error {
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}

	var bindingID any
	if rec.BindingID != nil {
		bindingID = *rec.BindingID
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO verification_logs(
  card_id, binding_id, api_key_id, ip_address, user_agent,
  verified_at_ms, success, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.CardID, bindingID, nullString(rec.CredentialID), rec.IPAddress, rec.UserAgent,
			toMs(rec.VerifiedAt), boolInt(rec.Success), rec.ErrorMessage,
		); err != nil {
			return fmt.Errorf("AppendVerification: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) RecentVerifications(ctx context.Context, cardID int64, limit int) ([]store.VerificationRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, card_id, binding_id, api_key_id, ip_address, user_agent,
       verified_at_ms, success, error_message
FROM verification_logs
WHERE card_id = ?
ORDER BY verified_at_ms DESC, id DESC
LIMIT ?;
`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentVerifications: %w", err)
	}
	defer rows.Close()

	var out []store.VerificationRecord
	for rows.Next() {
		var (
			rec        store.VerificationRecord
			bindingID  sql.NullInt64
			credID     sql.NullString
			verifiedMs int64
			success    int
		)
		if err := rows.Scan(&rec.ID, &rec.CardID, &bindingID, &credID, &rec.IPAddress, &rec.UserAgent,
			&verifiedMs, &success, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("RecentVerifications scan: %w", err)
		}
		if bindingID.Valid {
			id := bindingID.Int64
			rec.BindingID = &id
		}
		rec.CredentialID = credID.String
		rec.VerifiedAt = fromMs(verifiedMs)
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *AuditStore) AppendAPICall(ctx context.Context, rec store.APICallRecord) error {
	if rec.CalledAt.IsZero() {
		rec.CalledAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO api_call_logs(
  api_key_id, endpoint, method, ip_address, user_agent,
  response_code, response_time_ms, called_at_ms, success, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			nullString(rec.CredentialID), rec.Endpoint, rec.Method, rec.IPAddress, rec.UserAgent,
			rec.ResponseCode, rec.ResponseTime.Milliseconds(), toMs(rec.CalledAt),
			boolInt(rec.Success), rec.ErrorMessage,
		); err != nil {
			return fmt.Errorf("AppendAPICall: %w", err)
		}
		return nil
	})
}

// PruneAPICallsOlderThan deletes api_call_logs rows called before cutoff and
// returns how many went.  Uses idx_api_call_logs_called.
func (s *AuditStore) PruneAPICallsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM api_call_logs WHERE called_at_ms < ?;`, toMs(cutoff))
		if err != nil {
			return fmt.Errorf("PruneAPICallsOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
