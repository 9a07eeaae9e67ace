package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	dbpkg "github.com/BrandonDHaskell/cardkey/internal/db"
	"github.com/BrandonDHaskell/cardkey/internal/keylock"
)

const cardColumns = `
  id, fingerprint, key_prefix, card_type, status,
  valid_days, expire_at_ms, total_count, used_count,
  allow_multi_device, max_devices, note,
  created_at_ms, first_used_at_ms, last_used_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (store.Card, error) {
	var (
		c                        store.Card
		cardType, status         string
		validDays, expire, total sql.NullInt64
		multi                    int
		createdMs                int64
		firstUsed, lastUsed      sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.Fingerprint, &c.KeyPrefix, &cardType, &status,
		&validDays, &expire, &total, &c.UsedCount,
		&multi, &c.MaxDevices, &c.Note,
		&createdMs, &firstUsed, &lastUsed,
	)
	if err != nil {
		return store.Card{}, err
	}
	c.Type = store.CardType(cardType)
	c.Status = store.CardStatus(status)
	c.ValidDays = intPtr(validDays)
	c.ExpireDate = timePtr(expire)
	c.TotalCount = intPtr(total)
	c.AllowMultiDevice = multi != 0
	c.CreatedAt = fromMs(createdMs)
	c.FirstUsedAt = timePtr(firstUsed)
	c.LastUsedAt = timePtr(lastUsed)
	return c, nil
}

type CardStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	locks  *keylock.Table
}

// NewCardStore serializes verification per card through locks.  Every
// CardStore sharing one database must share one Table.
func NewCardStore(db *sql.DB, writer *dbpkg.Worker, locks *keylock.Table) *CardStore {
	if locks == nil {
		locks = keylock.New()
	}
	return &CardStore{db: db, writer: writer, locks: locks}
}

func (s *CardStore) FindByFingerprint(ctx context.Context, fingerprint string) (store.Card, error) {
	c, err := scanCard(s.db.QueryRowContext(ctx,
		`SELECT`+cardColumns+` FROM cards WHERE fingerprint = ?;`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Card{}, store.ErrNotFound
	}
	if err != nil {
		return store.Card{}, fmt.Errorf("FindByFingerprint: %w", err)
	}
	return c, nil
}

func (s *CardStore) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cards WHERE fingerprint = ?;`, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("FingerprintExists: %w", err)
	}
	return true, nil
}

func (s *CardStore) InsertCard(ctx context.Context, c store.Card) (store.Card, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO cards(
  fingerprint, key_prefix, card_type, status,
  valid_days, expire_at_ms, total_count, used_count,
  allow_multi_device, max_devices, note,
  created_at_ms, first_used_at_ms, last_used_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			c.Fingerprint, c.KeyPrefix, string(c.Type), string(c.Status),
			nullInt(c.ValidDays), nullMs(c.ExpireDate), nullInt(c.TotalCount), c.UsedCount,
			boolInt(c.AllowMultiDevice), c.MaxDevices, c.Note,
			toMs(c.CreatedAt), nullMs(c.FirstUsedAt), nullMs(c.LastUsedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return fmt.Errorf("InsertCard: %w", err)
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return store.Card{}, err
	}
	return c, nil
}

func (s *CardStore) ActiveBindings(ctx context.Context, cardID int64) ([]store.DeviceBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, card_id, device_id, device_name, ip_address,
       first_bind_at_ms, last_active_at_ms, is_active
FROM device_bindings
WHERE card_id = ? AND is_active = 1
ORDER BY last_active_at_ms DESC, id DESC;
`, cardID)
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

func scanBinding(row rowScanner) (store.DeviceBinding, error) {
	var (
		b                 store.DeviceBinding
		firstMs, activeMs int64
		active            int
	)
	if err := row.Scan(&b.ID, &b.CardID, &b.DeviceID, &b.DeviceName, &b.IPAddress,
		&firstMs, &activeMs, &active); err != nil {
		return store.DeviceBinding{}, err
	}
	b.FirstBindTime = fromMs(firstMs)
	b.LastActiveTime = fromMs(activeMs)
	b.IsActive = active != 0
	return b, nil
}

func (s *CardStore) LockByFingerprint(ctx context.Context, fingerprint string, wait time.Duration) (store.LockedCard, error) {
	if ok, err := s.FingerprintExists(ctx, fingerprint); err != nil {
		return nil, err
	} else if !ok {
		return nil, store.ErrNotFound
	}

	release, err := s.locks.Acquire(ctx, fingerprint, wait)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, store.ErrLockTimeout
		}
		return nil, err
	}

	card, err := s.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		release()
		return nil, err
	}
	return &lockedCard{s: s, card: card, release: release}, nil
}

// lockedCard reads through the shared connection while the per-card lock
// is held and writes its whole CardCommit in one worker transaction.
type lockedCard struct {
	s         *CardStore
	card      store.Card
	release   func()
	released  bool
	committed bool
}

func (l *lockedCard) Card() store.Card { return l.card }

func (l *lockedCard) Binding(ctx context.Context, deviceID string) (store.DeviceBinding, bool, error) {
	if l.released {
		return store.DeviceBinding{}, false, store.ErrReleased
	}
	b, err := scanBinding(l.s.db.QueryRowContext(ctx, `
SELECT id, card_id, device_id, device_name, ip_address,
       first_bind_at_ms, last_active_at_ms, is_active
FROM device_bindings WHERE card_id = ? AND device_id = ?;
`, l.card.ID, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.DeviceBinding{}, false, nil
	}
	if err != nil {
		return store.DeviceBinding{}, false, fmt.Errorf("Binding: %w", err)
	}
	return b, true, nil
}

func (l *lockedCard) ActiveBindingCount(ctx context.Context) (int, error) {
	if l.released {
		return 0, store.ErrReleased
	}
	var n int
	if err := l.s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_bindings WHERE card_id = ? AND is_active = 1;`, l.card.ID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ActiveBindingCount: %w", err)
	}
	return n, nil
}

func (l *lockedCard) Commit(ctx context.Context, c *store.CardCommit) error {
	if l.released || l.committed {
		return store.ErrReleased
	}
	l.committed = true
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var newBindingID int64
	err := l.s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The keylock only covers this process; the guard catches writers
		// from another process on the same file.
		res, err := tx.ExecContext(ctx, `
UPDATE cards
SET status = ?, used_count = ?, first_used_at_ms = ?, last_used_at_ms = ?
WHERE id = ? AND status = ? AND used_count = ?;
`, string(c.Card.Status), c.Card.UsedCount, nullMs(c.Card.FirstUsedAt), nullMs(c.Card.LastUsedAt),
			l.card.ID, string(l.card.Status), l.card.UsedCount)
		if err != nil {
			return fmt.Errorf("Commit update card: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("Commit card %d: %w", l.card.ID, store.ErrConflict)
		}

		if nb := c.NewBinding; nb != nil {
			res, err := tx.ExecContext(ctx, `
INSERT INTO device_bindings(
  card_id, device_id, device_name, ip_address,
  first_bind_at_ms, last_active_at_ms, is_active
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, l.card.ID, nb.DeviceID, nb.DeviceName, nb.IPAddress,
				toMs(nb.FirstBindTime), toMs(nb.LastActiveTime), boolInt(nb.IsActive))
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("Commit binding %s: %w", nb.DeviceID, store.ErrDuplicate)
				}
				return fmt.Errorf("Commit insert binding: %w", err)
			}
			if newBindingID, err = res.LastInsertId(); err != nil {
				return err
			}
		}

		if b := c.Binding; b != nil {
			res, err := tx.ExecContext(ctx, `
UPDATE device_bindings
SET device_name = ?, ip_address = ?, last_active_at_ms = ?
WHERE card_id = ? AND device_id = ?;
`, b.DeviceName, b.IPAddress, toMs(b.LastActiveTime), l.card.ID, b.DeviceID)
			if err != nil {
				return fmt.Errorf("Commit refresh binding: %w", err)
			}
			if err := expectOne(res, "binding "+b.DeviceID); err != nil {
				return err
			}
		}

		if c.UnbindDeviceID != "" {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM device_bindings WHERE card_id = ? AND device_id = ?;`,
				l.card.ID, c.UnbindDeviceID)
			if err != nil {
				return fmt.Errorf("Commit unbind: %w", err)
			}
			if err := expectOne(res, "binding "+c.UnbindDeviceID); err != nil {
				return err
			}
		}

		if c.CredentialID != "" {
			res, err := tx.ExecContext(ctx, `
UPDATE api_keys SET usage_count = usage_count + 1, last_used_at_ms = ?
WHERE id = ?;
`, toMs(at), c.CredentialID)
			if err != nil {
				return fmt.Errorf("Commit touch credential: %w", err)
			}
			if err := expectOne(res, "credential "+c.CredentialID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if c.NewBinding != nil {
		c.NewBinding.ID = newBindingID
		c.NewBinding.CardID = l.card.ID
	}
	next := l.card
	next.Status = c.Card.Status
	next.UsedCount = c.Card.UsedCount
	next.FirstUsedAt = c.Card.FirstUsedAt
	next.LastUsedAt = c.Card.LastUsedAt
	l.card = next
	return nil
}

func (l *lockedCard) Release() {
	if l.released {
		return
	}
	l.released = true
	l.release()
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
