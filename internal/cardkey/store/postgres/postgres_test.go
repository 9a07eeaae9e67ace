package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	pgstore "github.com/BrandonDHaskell/cardkey/internal/cardkey/store/postgres"
	"github.com/BrandonDHaskell/cardkey/internal/db"
)

// openTestPool connects to CARDKEY_TEST_POSTGRES_URL or skips.  Each test
// works on fresh fingerprints so runs do not interfere.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("CARDKEY_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CARDKEY_TEST_POSTGRES_URL not set")
	}
	pool, err := db.ConnectPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("ConnectPostgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedCard(t *testing.T, cs *pgstore.CardStore, total int) store.Card {
	t.Helper()
	fp := keycodec.Fingerprint(keycodec.Generate())
	c, err := cs.InsertCard(context.Background(), store.Card{
		Fingerprint: fp,
		KeyPrefix:   fp[:keycodec.PrefixLen],
		Type:        store.CardTypeCount,
		Status:      store.StatusActive,
		TotalCount:  &total,
		MaxDevices:  1,
	})
	if err != nil {
		t.Fatalf("InsertCard: %v", err)
	}
	return c
}

func TestCardStore_LockTimeout(t *testing.T) {
	pool := openTestPool(t)
	cs := pgstore.NewCardStore(pool)
	ctx := context.Background()
	card := seedCard(t, cs, 3)

	held, err := cs.LockByFingerprint(ctx, card.Fingerprint, time.Second)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer held.Release()

	if _, err := cs.LockByFingerprint(ctx, card.Fingerprint, 50*time.Millisecond); !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestCardStore_ConcurrentDecrements(t *testing.T) {
	pool := openTestPool(t)
	cs := pgstore.NewCardStore(pool)
	ctx := context.Background()
	card := seedCard(t, cs, 100)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lc, err := cs.LockByFingerprint(ctx, card.Fingerprint, 5*time.Second)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer lc.Release()
			next := lc.Card()
			next.UsedCount++
			if err := lc.Commit(ctx, &store.CardCommit{Card: next}); err != nil {
				t.Errorf("commit: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := cs.FindByFingerprint(ctx, card.Fingerprint)
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if got.UsedCount != workers {
		t.Errorf("used_count: got %d, want %d", got.UsedCount, workers)
	}
}

func TestCardStore_ReleaseDiscards(t *testing.T) {
	pool := openTestPool(t)
	cs := pgstore.NewCardStore(pool)
	ctx := context.Background()
	card := seedCard(t, cs, 3)

	lc, err := cs.LockByFingerprint(ctx, card.Fingerprint, time.Second)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	lc.Release()

	if err := lc.Commit(ctx, &store.CardCommit{Card: lc.Card()}); !errors.Is(err, store.ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
	again, err := cs.LockByFingerprint(ctx, card.Fingerprint, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again.Release()
}
