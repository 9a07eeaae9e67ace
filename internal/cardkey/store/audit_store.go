package store

import (
	"context"
	"time"
)

// VerificationRecord is one verify attempt against a known card.
type VerificationRecord struct {
	ID           int64
	CardID       int64
	BindingID    *int64 // nil when no device was supplied or admission failed
	IPAddress    string
	UserAgent    string
	VerifiedAt   time.Time
	Success      bool
	ErrorMessage string
	CredentialID string
}

// APICallRecord is one authenticated API request.
type APICallRecord struct {
	ID           int64
	CredentialID string
	Endpoint     string
	Method       string
	IPAddress    string
	UserAgent    string
	ResponseCode int
	ResponseTime time.Duration
	CalledAt     time.Time
	Success      bool
	ErrorMessage string
}

// AuditStore persists verification and API call records append-only.
type AuditStore interface {
	AppendVerification(ctx context.Context, rec VerificationRecord) error
	RecentVerifications(ctx context.Context, cardID int64, limit int) ([]VerificationRecord, error)
	AppendAPICall(ctx context.Context, rec APICallRecord) error
	PruneAPICallsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
