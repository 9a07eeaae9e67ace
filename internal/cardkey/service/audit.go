package service

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

const (
	maxUserAgent    = 500
	maxErrorMessage = 1000
	maxDeviceName   = 255
)

// AuditSink receives append-only records.  An error from a sink is
// reported to the operational log and never changes a request's outcome.
type AuditSink interface {
	RecordVerification(ctx context.Context, rec store.VerificationRecord) error
	RecordAPICall(ctx context.Context, rec store.APICallRecord) error
}

// StoreSink persists records through an AuditStore.
type StoreSink struct {
	Store store.AuditStore
}

func (s StoreSink) RecordVerification(ctx context.Context, rec store.VerificationRecord) error {
	return s.Store.AppendVerification(ctx, rec)
}

func (s StoreSink) RecordAPICall(ctx context.Context, rec store.APICallRecord) error {
	return s.Store.AppendAPICall(ctx, rec)
}

// FanOut delivers every record to each sink in order.  All sinks are tried;
// their errors are joined.
type FanOut []AuditSink

func (f FanOut) RecordVerification(ctx context.Context, rec store.VerificationRecord) error {
	var errs []error
	for _, s := range f {
		if err := s.RecordVerification(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f FanOut) RecordAPICall(ctx context.Context, rec store.APICallRecord) error {
	var errs []error
	for _, s := range f {
		if err := s.RecordAPICall(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discardSink struct{}

func (discardSink) RecordVerification(context.Context, store.VerificationRecord) error { return nil }
func (discardSink) RecordAPICall(context.Context, store.APICallRecord) error           { return nil }

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
