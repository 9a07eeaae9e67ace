package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

// DeviceInfo describes the device presenting a card.
type DeviceInfo struct {
	DeviceID  string
	Name      string
	IPAddress string
}

// Admission is the registry's decision for one device.  It is staged into
// the caller's CardCommit; nothing is written until that commits.
type Admission struct {
	Binding store.DeviceBinding
	IsNew   bool
}

func (a *Admission) stage(c *store.CardCommit) {
	if a.IsNew {
		c.NewBinding = &a.Binding
	} else {
		c.Binding = &a.Binding
	}
}

// BindingRegistry decides device admission.  It has no locking of its own:
// Admit takes a LockedCard, so the caller already serializes the card.
type BindingRegistry struct {
	cards    store.CardStore
	bindings store.BindingStore
	lockWait time.Duration
	now      func() time.Time
}

// NewBindingRegistry uses the UTC wall clock when now is nil.
func NewBindingRegistry(cards store.CardStore, bindings store.BindingStore, lockWait time.Duration, now func() time.Time) *BindingRegistry {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &BindingRegistry{cards: cards, bindings: bindings, lockWait: lockWait, now: now}
}

// Admit returns the existing binding refreshed with dev's details, or a new
// binding when the card still has room.  A known device is always admitted,
// whatever the current count.
func (r *BindingRegistry) Admit(ctx context.Context, lc store.LockedCard, dev DeviceInfo, now time.Time) (Admission, error) {
	existing, ok, err := lc.Binding(ctx, dev.DeviceID)
	if err != nil {
		return Admission{}, systemErr("lookup binding", err)
	}
	if ok {
		existing.LastActiveTime = now
		existing.IPAddress = dev.IPAddress
		if dev.Name != "" {
			existing.DeviceName = dev.Name
		}
		return Admission{Binding: existing}, nil
	}

	card := lc.Card()
	if card.MaxDevices < 1 {
		return Admission{}, checkConfiguration(card, true)
	}
	n, err := lc.ActiveBindingCount(ctx)
	if err != nil {
		return Admission{}, systemErr("count bindings", err)
	}
	if n >= card.MaxDevices {
		return Admission{}, ErrDeviceLimitExceeded
	}

	return Admission{
		IsNew: true,
		Binding: store.DeviceBinding{
			CardID:         card.ID,
			DeviceID:       dev.DeviceID,
			DeviceName:     dev.Name,
			IPAddress:      dev.IPAddress,
			FirstBindTime:  now,
			LastActiveTime: now,
			IsActive:       true,
		},
	}, nil
}

func (r *BindingRegistry) ActiveBindings(ctx context.Context, cardID int64) ([]store.DeviceBinding, error) {
	bs, err := r.bindings.ActiveBindings(ctx, cardID)
	if err != nil {
		return nil, systemErr("list bindings", err)
	}
	return bs, nil
}

// ActiveCount is the number of active bindings for the card.
func (r *BindingRegistry) ActiveCount(ctx context.Context, cardID int64) (int, error) {
	bs, err := r.ActiveBindings(ctx, cardID)
	return len(bs), err
}

// Unbind removes one device from the card identified by secret.  It takes
// the card lock so it cannot interleave with a verification.
func (r *BindingRegistry) Unbind(ctx context.Context, secret, deviceID string) error {
	secret = strings.TrimSpace(secret)
	deviceID = strings.TrimSpace(deviceID)
	if secret == "" || deviceID == "" {
		return MissingParams("card_key", "device_id")
	}

	ctx, cancel := lockedContext(ctx, r.lockWait, DefaultCommitBudget)
	defer cancel()

	lc, err := lockCard(ctx, r.cards, keycodec.Fingerprint(secret), r.lockWait)
	if err != nil {
		return err
	}
	defer lc.Release()

	if _, ok, err := lc.Binding(ctx, deviceID); err != nil {
		return systemErr("lookup binding", err)
	} else if !ok {
		return ErrBindingNotFound
	}

	if err := lc.Commit(ctx, &store.CardCommit{
		Card:           lc.Card(),
		UnbindDeviceID: deviceID,
		At:             r.now(),
	}); err != nil {
		return systemErr("unbind", err)
	}
	return nil
}

// lockedContext bounds a locked section: the lock wait plus the budget for
// the reads and the commit that follow it.  Backends whose lock wait does
// not cover every blocking call, such as a pool acquire, stop there.
func lockedContext(ctx context.Context, wait, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, wait+budget)
}

// lockCard translates store lock errors into service errors.  A lock
// timeout is a system error, and so is running out of the section's
// deadline before the lock was granted.
func lockCard(ctx context.Context, cards store.CardStore, fp string, wait time.Duration) (store.LockedCard, error) {
	lc, err := cards.LockByFingerprint(ctx, fp, wait)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrCardNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return nil, systemErr("lock card", store.ErrLockTimeout)
	case err != nil:
		return nil, systemErr("lock card", err)
	}
	return lc, nil
}
