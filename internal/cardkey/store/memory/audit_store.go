package memory

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

func (s *Store) AppendVerification(_ context.Context, rec store.VerificationRecord) error {
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecordID++
	rec.ID = s.nextRecordID
	s.verifications = append(s.verifications, rec)
	return nil
}

// RecentVerifications walks the log backwards so the newest record comes
// first.  Ties on VerifiedAt keep insertion order reversed.
func (s *Store) RecentVerifications(_ context.Context, cardID int64, limit int) ([]store.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.VerificationRecord
	for i := len(s.verifications) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.verifications[i].CardID == cardID {
			out = append(out, s.verifications[i])
		}
	}
	return out, nil
}

func (s *Store) AppendAPICall(_ context.Context, rec store.APICallRecord) error {
	if rec.CalledAt.IsZero() {
		rec.CalledAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecordID++
	rec.ID = s.nextRecordID
	s.calls = append(s.calls, rec)
	return nil
}

func (s *Store) PruneAPICallsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.calls[:0]
	var n int64
	for _, c := range s.calls {
		if c.CalledAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.calls = kept
	return n, nil
}

// Verifications returns a copy of all verification records.  Test-only helper.
func (s *Store) Verifications() []store.VerificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.VerificationRecord, len(s.verifications))
	copy(out, s.verifications)
	return out
}

// APICalls returns a copy of all API call records.  Test-only helper.
func (s *Store) APICalls() []store.APICallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.APICallRecord, len(s.calls))
	copy(out, s.calls)
	return out
}
