package store

import (
	"context"
	"time"
)

type CardType string

const (
	CardTypeTime  CardType = "time"
	CardTypeCount CardType = "count"
)

type CardStatus string

const (
	StatusActive   CardStatus = "active"
	StatusInactive CardStatus = "inactive"
	StatusExpired  CardStatus = "expired"
	StatusUsedUp   CardStatus = "used_up"
)

// Card is the persisted license key.  Fingerprint and Type are fixed at
// insertion; backends never rewrite them.
type Card struct {
	ID          int64
	Fingerprint string
	KeyPrefix   string
	Type        CardType
	Status      CardStatus

	ValidDays  *int
	ExpireDate *time.Time

	TotalCount *int
	UsedCount  int

	AllowMultiDevice bool
	MaxDevices       int

	Note        string
	CreatedAt   time.Time
	FirstUsedAt *time.Time
	LastUsedAt  *time.Time
}

// DeviceBinding ties one device to one card.  (CardID, DeviceID) is unique.
type DeviceBinding struct {
	ID             int64
	CardID         int64
	DeviceID       string
	DeviceName     string
	IPAddress      string
	FirstBindTime  time.Time
	LastActiveTime time.Time
	IsActive       bool
}

// CardCommit is the write set of one locked operation.  Commit applies all
// of it in a single transaction or none of it.
type CardCommit struct {
	// Card carries the new status and usage columns.
	Card Card

	// NewBinding is inserted; its ID is filled in on success.
	NewBinding *DeviceBinding

	// Binding is an existing binding whose descriptive fields and
	// last_active_time are refreshed.
	Binding *DeviceBinding

	// UnbindDeviceID removes that device's binding for the card.
	UnbindDeviceID string

	// CredentialID, when set, gets usage_count+1 and last_used_at=At.
	CredentialID string

	At time.Time
}

// LockedCard is a card row held under an exclusive per-card lock.  Commit
// may be called once; it ends the write phase whether or not it succeeds.
// Release without a successful Commit discards all staged changes.
type LockedCard interface {
	Card() Card
	Binding(ctx context.Context, deviceID string) (DeviceBinding, bool, error)
	ActiveBindingCount(ctx context.Context) (int, error)
	Commit(ctx context.Context, c *CardCommit) error
	Release()
}

type CardStore interface {
	// LockByFingerprint blocks for at most wait.  It returns ErrNotFound when
	// no card has the fingerprint and ErrLockTimeout when the wait elapses.
	LockByFingerprint(ctx context.Context, fingerprint string, wait time.Duration) (LockedCard, error)

	// FindByFingerprint is a non-locking snapshot read.
	FindByFingerprint(ctx context.Context, fingerprint string) (Card, error)

	FingerprintExists(ctx context.Context, fingerprint string) (bool, error)
	InsertCard(ctx context.Context, card Card) (Card, error)
}

// BindingStore is the read side of the device binding registry.
type BindingStore interface {
	ActiveBindings(ctx context.Context, cardID int64) ([]DeviceBinding, error)
}
