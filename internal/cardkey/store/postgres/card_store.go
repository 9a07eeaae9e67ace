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

const cardColumns = `
  id, fingerprint, key_prefix, card_type, status,
  valid_days, expire_date, total_count, used_count,
  allow_multi_device, max_devices, note,
  created_at, first_used_at, last_used_at`

func scanCard(row pgx.Row) (store.Card, error) {
	var (
		c                store.Card
		cardType, status string
	)
	err := row.Scan(
		&c.ID, &c.Fingerprint, &c.KeyPrefix, &cardType, &status,
		&c.ValidDays, &c.ExpireDate, &c.TotalCount, &c.UsedCount,
		&c.AllowMultiDevice, &c.MaxDevices, &c.Note,
		&c.CreatedAt, &c.FirstUsedAt, &c.LastUsedAt,
	)
	if err != nil {
		return store.Card{}, err
	}
	c.Type = store.CardType(cardType)
	c.Status = store.CardStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

const bindingColumns = `
  id, card_id, device_id, device_name, ip_address,
  first_bind_time, last_active_time, is_active`

func scanBinding(row pgx.Row) (store.DeviceBinding, error) {
	var b store.DeviceBinding
	err := row.Scan(&b.ID, &b.CardID, &b.DeviceID, &b.DeviceName, &b.IPAddress,
		&b.FirstBindTime, &b.LastActiveTime, &b.IsActive)
	return b, err
}

type CardStore struct {
	db *pgxpool.Pool
}

func NewCardStore(db *pgxpool.Pool) *CardStore {
	return &CardStore{db: db}
}

func (s *CardStore) FindByFingerprint(ctx context.Context, fingerprint string) (store.Card, error) {
	c, err := scanCard(s.db.QueryRow(ctx,
		`SELECT`+cardColumns+` FROM cards WHERE fingerprint = $1`, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Card{}, store.ErrNotFound
	}
	if err != nil {
		return store.Card{}, fmt.Errorf("FindByFingerprint: %w", err)
	}
	return c, nil
}

func (s *CardStore) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cards WHERE fingerprint = $1)`, fingerprint,
	).Scan(&ok); err != nil {
		return false, fmt.Errorf("FingerprintExists: %w", err)
	}
	return ok, nil
}

func (s *CardStore) InsertCard(ctx context.Context, c store.Card) (store.Card, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx, `
INSERT INTO cards(
  fingerprint, key_prefix, card_type, status,
  valid_days, expire_date, total_count, used_count,
  allow_multi_device, max_devices, note,
  created_at, first_used_at, last_used_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`,
		c.Fingerprint, c.KeyPrefix, string(c.Type), string(c.Status),
		c.ValidDays, c.ExpireDate, c.TotalCount, c.UsedCount,
		c.AllowMultiDevice, c.MaxDevices, c.Note,
		c.CreatedAt, c.FirstUsedAt, c.LastUsedAt,
	).Scan(&c.ID)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return store.Card{}, store.ErrDuplicate
		}
		return store.Card{}, fmt.Errorf("InsertCard: %w", err)
	}
	return c, nil
}

func (s *CardStore) ActiveBindings(ctx context.Context, cardID int64) ([]store.DeviceBinding, error) {
	rows, err := s.db.Query(ctx, `SELECT`+bindingColumns+`
FROM device_bindings
WHERE card_id = $1 AND is_active
ORDER BY last_active_time DESC, id DESC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("ActiveBindings: %w", err)
	}
	defer rows.Close()

	var out []store.DeviceBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("ActiveBindings scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LockByFingerprint opens a transaction and takes the card's row lock.  The
// transaction stays open until Commit or Release.
func (s *CardStore) LockByFingerprint(ctx context.Context, fingerprint string, wait time.Duration) (store.LockedCard, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("LockByFingerprint begin: %w", err)
	}

	if wait > 0 {
		// SET does not take bind parameters.
		if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, wait.Milliseconds())); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("LockByFingerprint lock_timeout: %w", err)
		}
	}

	card, err := scanCard(tx.QueryRow(ctx,
		`SELECT`+cardColumns+` FROM cards WHERE fingerprint = $1 FOR UPDATE`, fingerprint))
	if err != nil {
		_ = tx.Rollback(ctx)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, store.ErrNotFound
		case pgCode(err) == codeLockNotAvailable:
			return nil, store.ErrLockTimeout
		}
		return nil, fmt.Errorf("LockByFingerprint select: %w", err)
	}
	return &lockedCard{tx: tx, card: card}, nil
}

type lockedCard struct {
	tx   pgx.Tx
	card store.Card
	done bool
}

func (l *lockedCard) Card() store.Card { return l.card }

func (l *lockedCard) Binding(ctx context.Context, deviceID string) (store.DeviceBinding, bool, error) {
	if l.done {
		return store.DeviceBinding{}, false, store.ErrReleased
	}
	b, err := scanBinding(l.tx.QueryRow(ctx, `SELECT`+bindingColumns+`
FROM device_bindings WHERE card_id = $1 AND device_id = $2`, l.card.ID, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.DeviceBinding{}, false, nil
	}
	if err != nil {
		return store.DeviceBinding{}, false, fmt.Errorf("Binding: %w", err)
	}
	return b, true, nil
}

func (l *lockedCard) ActiveBindingCount(ctx context.Context) (int, error) {
	if l.done {
		return 0, store.ErrReleased
	}
	var n int
	if err := l.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM device_bindings WHERE card_id = $1 AND is_active`, l.card.ID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ActiveBindingCount: %w", err)
	}
	return n, nil
}

// Commit writes the set and commits the transaction, which also drops the
// row lock.  Any failure rolls back; the handle is finished either way.
func (l *lockedCard) Commit(ctx context.Context, c *store.CardCommit) error {
	if l.done {
		return store.ErrReleased
	}
	l.done = true
	defer l.tx.Rollback(ctx)

	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tag, err := l.tx.Exec(ctx, `
UPDATE cards SET status = $1, used_count = $2, first_used_at = $3, last_used_at = $4
WHERE id = $5 AND status = $6 AND used_count = $7`,
		string(c.Card.Status), c.Card.UsedCount, c.Card.FirstUsedAt, c.Card.LastUsedAt,
		l.card.ID, string(l.card.Status), l.card.UsedCount,
	)
	if err != nil {
		return fmt.Errorf("Commit update card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("Commit card %d: %w", l.card.ID, store.ErrConflict)
	}

	var newBindingID int64
	if nb := c.NewBinding; nb != nil {
		err := l.tx.QueryRow(ctx, `
INSERT INTO device_bindings(
  card_id, device_id, device_name, ip_address,
  first_bind_time, last_active_time, is_active
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
			l.card.ID, nb.DeviceID, nb.DeviceName, nb.IPAddress,
			nb.FirstBindTime, nb.LastActiveTime, nb.IsActive,
		).Scan(&newBindingID)
		if err != nil {
			if pgCode(err) == codeUniqueViolation {
				return fmt.Errorf("Commit binding %s: %w", nb.DeviceID, store.ErrDuplicate)
			}
			return fmt.Errorf("Commit insert binding: %w", err)
		}
	}

	if b := c.Binding; b != nil {
		tag, err := l.tx.Exec(ctx, `
UPDATE device_bindings SET device_name = $1, ip_address = $2, last_active_time = $3
WHERE card_id = $4 AND device_id = $5`,
			b.DeviceName, b.IPAddress, b.LastActiveTime, l.card.ID, b.DeviceID)
		if err != nil {
			return fmt.Errorf("Commit refresh binding: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("refresh binding %s: %w", b.DeviceID, store.ErrNotFound)
		}
	}

	if c.UnbindDeviceID != "" {
		tag, err := l.tx.Exec(ctx,
			`DELETE FROM device_bindings WHERE card_id = $1 AND device_id = $2`,
			l.card.ID, c.UnbindDeviceID)
		if err != nil {
			return fmt.Errorf("Commit unbind: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("unbind %s: %w", c.UnbindDeviceID, store.ErrNotFound)
		}
	}

	if c.CredentialID != "" {
		tag, err := l.tx.Exec(ctx,
			`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $1 WHERE id = $2`,
			at, c.CredentialID)
		if err != nil {
			return fmt.Errorf("Commit touch credential: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("touch credential %s: %w", c.CredentialID, store.ErrNotFound)
		}
	}

	if err := l.tx.Commit(ctx); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}

	if c.NewBinding != nil {
		c.NewBinding.ID = newBindingID
		c.NewBinding.CardID = l.card.ID
	}
	l.card.Status = c.Card.Status
	l.card.UsedCount = c.Card.UsedCount
	l.card.FirstUsedAt = c.Card.FirstUsedAt
	l.card.LastUsedAt = c.Card.LastUsedAt
	return nil
}

// Release rolls back an uncommitted transaction.  It uses a fresh context
// so a cancelled request still frees the row lock.
func (l *lockedCard) Release() {
	if l.done {
		return
	}
	l.done = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.tx.Rollback(ctx)
}
