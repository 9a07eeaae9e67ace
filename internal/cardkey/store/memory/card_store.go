package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/keylock"
)

func (s *Store) FindByFingerprint(_ context.Context, fingerprint string) (store.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byFP[fingerprint]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	return s.cards[id], nil
}

func (s *Store) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	_, err := s.FindByFingerprint(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) InsertCard(_ context.Context, card store.Card) (store.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byFP[card.Fingerprint]; ok {
		return store.Card{}, store.ErrDuplicate
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	s.nextCardID++
	card.ID = s.nextCardID
	s.cards[card.ID] = card
	s.byFP[card.Fingerprint] = card.ID
	return card, nil
}

func (s *Store) ActiveBindings(_ context.Context, cardID int64) ([]store.DeviceBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.DeviceBinding
	for _, b := range s.bindings[cardID] {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveTime.After(out[j].LastActiveTime) })
	return out, nil
}

// BindingCount returns every binding row for the card, active or not.
// Test-only helper.
func (s *Store) BindingCount(cardID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings[cardID])
}

func (s *Store) LockByFingerprint(ctx context.Context, fingerprint string, wait time.Duration) (store.LockedCard, error) {
	if _, err := s.FindByFingerprint(ctx, fingerprint); err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, fingerprint, wait)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, store.ErrLockTimeout
		}
		return nil, err
	}

	// Re-read under the lock so the snapshot reflects the last commit.
	card, err := s.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		release()
		return nil, err
	}
	return &lockedCard{s: s, card: card, release: release}, nil
}

type lockedCard struct {
	s         *Store
	card      store.Card
	release   func()
	released  bool
	committed bool
}

func (l *lockedCard) Card() store.Card { return l.card }

func (l *lockedCard) Binding(_ context.Context, deviceID string) (store.DeviceBinding, bool, error) {
	if l.released {
		return store.DeviceBinding{}, false, store.ErrReleased
	}
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	b, ok := l.s.bindings[l.card.ID][deviceID]
	return b, ok, nil
}

func (l *lockedCard) ActiveBindingCount(_ context.Context) (int, error) {
	if l.released {
		return 0, store.ErrReleased
	}
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	n := 0
	for _, b := range l.s.bindings[l.card.ID] {
		if b.IsActive {
			n++
		}
	}
	return n, nil
}

// Commit validates the whole write set before touching any map, so a
// failure leaves the store exactly as it was.
func (l *lockedCard) Commit(_ context.Context, c *store.CardCommit) error {
	if l.released || l.committed {
		return store.ErrReleased
	}
	l.committed = true
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cards[l.card.ID]
	if !ok {
		return fmt.Errorf("commit card %d: %w", l.card.ID, store.ErrNotFound)
	}
	if existing.Status != l.card.Status || existing.UsedCount != l.card.UsedCount {
		return fmt.Errorf("commit card %d: %w", l.card.ID, store.ErrConflict)
	}
	byDevice := s.bindings[existing.ID]

	if c.NewBinding != nil {
		if _, dup := byDevice[c.NewBinding.DeviceID]; dup {
			return fmt.Errorf("commit binding %s: %w", c.NewBinding.DeviceID, store.ErrDuplicate)
		}
	}
	if c.Binding != nil {
		if _, found := byDevice[c.Binding.DeviceID]; !found {
			return fmt.Errorf("refresh binding %s: %w", c.Binding.DeviceID, store.ErrNotFound)
		}
	}
	if c.UnbindDeviceID != "" {
		if _, found := byDevice[c.UnbindDeviceID]; !found {
			return fmt.Errorf("unbind %s: %w", c.UnbindDeviceID, store.ErrNotFound)
		}
	}
	var cred store.Credential
	if c.CredentialID != "" {
		cred, ok = s.credentials[c.CredentialID]
		if !ok {
			return fmt.Errorf("touch credential %s: %w", c.CredentialID, store.ErrNotFound)
		}
	}

	// Apply.
	updated := existing
	updated.Status = c.Card.Status
	updated.UsedCount = c.Card.UsedCount
	updated.FirstUsedAt = c.Card.FirstUsedAt
	updated.LastUsedAt = c.Card.LastUsedAt
	s.cards[existing.ID] = updated

	if byDevice == nil {
		byDevice = make(map[string]store.DeviceBinding)
		s.bindings[existing.ID] = byDevice
	}
	if c.NewBinding != nil {
		s.nextBindingID++
		c.NewBinding.ID = s.nextBindingID
		c.NewBinding.CardID = existing.ID
		byDevice[c.NewBinding.DeviceID] = *c.NewBinding
	}
	if c.Binding != nil {
		prev := byDevice[c.Binding.DeviceID]
		prev.DeviceName = c.Binding.DeviceName
		prev.IPAddress = c.Binding.IPAddress
		prev.LastActiveTime = c.Binding.LastActiveTime
		byDevice[c.Binding.DeviceID] = prev
	}
	if c.UnbindDeviceID != "" {
		delete(byDevice, c.UnbindDeviceID)
	}
	if c.CredentialID != "" {
		at := c.At
		cred.UsageCount++
		cred.LastUsedAt = &at
		s.credentials[cred.ID] = cred
	}

	l.card = updated
	return nil
}

func (l *lockedCard) Release() {
	if l.released {
		return
	}
	l.released = true
	l.release()
}
