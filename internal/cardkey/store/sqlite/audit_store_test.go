package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	sqlitestore "github.com/BrandonDHaskell/cardkey/internal/cardkey/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// Verification log
// ═══════════════════════════════════════════════════════════════════════════

func TestAuditStore_RecentVerifications_NewestFirst(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w, nil)
	as := sqlitestore.NewAuditStore(conn, w)
	ctx := context.Background()
	card := seedCountCard(t, cs, "fp-1", 3, 1)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bindingID := int64(9)
	for i := 0; i < 12; i++ {
		rec := store.VerificationRecord{
			CardID:     card.ID,
			VerifiedAt: base.Add(time.Duration(i) * time.Minute),
			Success:    i%2 == 0,
			IPAddress:  "10.0.0.1",
		}
		if i == 11 {
			rec.BindingID = &bindingID
			rec.CredentialID = "k1"
		}
		if err := as.AppendVerification(ctx, rec); err != nil {
			t.Fatalf("AppendVerification: %v", err)
		}
	}

	got, err := as.RecentVerifications(ctx, card.ID, 10)
	if err != nil {
		t.Fatalf("RecentVerifications: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 records, got %d", len(got))
	}
	if !got[0].VerifiedAt.Equal(base.Add(11 * time.Minute)) {
		t.Errorf("first record: got %v", got[0].VerifiedAt)
	}
	if got[0].BindingID == nil || *got[0].BindingID != 9 || got[0].CredentialID != "k1" {
		t.Errorf("newest record columns: %+v", got[0])
	}
	if got[1].BindingID != nil || got[1].CredentialID != "" {
		t.Errorf("anonymous record should have no binding/credential: %+v", got[1])
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// API call log
// ═══════════════════════════════════════════════════════════════════════════

func TestAuditStore_PruneAPICalls(t *testing.T) {
	conn := openTestDB(t)
	as := sqlitestore.NewAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		if err := as.AppendAPICall(ctx, store.APICallRecord{
			CredentialID: "k1",
			Endpoint:     "/api/v1/verify",
			Method:       "POST",
			ResponseCode: 0,
			ResponseTime: 12 * time.Millisecond,
			CalledAt:     now.Add(-age),
			Success:      true,
		}); err != nil {
			t.Fatalf("AppendAPICall: %v", err)
		}
	}

	n, err := as.PruneAPICallsOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted: got %d, want 2", n)
	}
	if left := countRows(t, conn, `SELECT COUNT(*) FROM api_call_logs`); left != 1 {
		t.Errorf("remaining: got %d, want 1", left)
	}
}

func TestHealthStore_Stats(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	cs := sqlitestore.NewCardStore(conn, w, nil)
	creds := sqlitestore.NewCredentialStore(conn, w)
	hs := sqlitestore.NewHealthStore(conn)
	ctx := context.Background()

	seedCountCard(t, cs, "fp-1", 1, 1)
	seedCountCard(t, cs, "fp-2", 1, 1)
	_ = creds.InsertCredential(ctx, store.Credential{ID: "a", Name: "a", KeyHash: "ha", KeyPrefix: "ha", IsActive: true})
	_ = creds.InsertCredential(ctx, store.Credential{ID: "b", Name: "b", KeyHash: "hb", KeyPrefix: "hb", IsActive: false})

	if err := hs.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	st, err := hs.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Cards != 2 || st.Credentials != 2 || st.ActiveCredentials != 1 {
		t.Errorf("stats: %+v", st)
	}
}
