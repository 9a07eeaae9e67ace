package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store/memory"
	sqlitestore "github.com/BrandonDHaskell/cardkey/internal/cardkey/store/sqlite"
	"github.com/BrandonDHaskell/cardkey/internal/db"
)

func silentLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// harness wires the services over one set of stores.
type harness struct {
	cards    store.CardStore
	bindings store.BindingStore
	audit    store.AuditStore
	creds    store.CredentialStore

	registry *service.BindingRegistry
	verify   *service.VerificationService
	query    *service.QueryService
	issuer   *service.Issuer
}

type harnessOpts struct {
	sink         service.AuditSink
	now          func() time.Time
	lockWait     time.Duration
	commitBudget time.Duration
}

func newMemoryHarness(t *testing.T, opts harnessOpts) (*harness, *memory.Store) {
	t.Helper()
	ms := memory.New()
	return build(ms, ms, ms, ms, opts), ms
}

func newSQLiteHarness(t *testing.T, opts harnessOpts) (*harness, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)

	cs := sqlitestore.NewCardStore(conn, w, nil)
	return build(cs, cs, sqlitestore.NewAuditStore(conn, w), sqlitestore.NewCredentialStore(conn, w), opts), conn
}

func build(cards store.CardStore, bindings store.BindingStore, audit store.AuditStore, creds store.CredentialStore, opts harnessOpts) *harness {
	if opts.lockWait == 0 {
		opts.lockWait = service.DefaultLockWait
	}
	sink := opts.sink
	if sink == nil {
		sink = service.StoreSink{Store: audit}
	}
	reg := service.NewBindingRegistry(cards, bindings, opts.lockWait, opts.now)
	return &harness{
		cards:    cards,
		bindings: bindings,
		audit:    audit,
		creds:    creds,
		registry: reg,
		verify: service.NewVerificationService(cards, reg, sink, service.VerificationConfig{
			LockWait:     opts.lockWait,
			CommitBudget: opts.commitBudget,
			Now:          opts.now,
			Logger:       silentLogger(),
		}),
		query:  service.NewQueryService(cards, reg, audit, 0, opts.now),
		issuer: service.NewIssuer(cards, silentLogger()),
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf(
		"file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type cardOpts struct {
	typ        store.CardType
	status     store.CardStatus
	total      int
	used       int
	maxDevices int
	expire     *time.Time
}

// seedCard inserts a card directly and returns its secret.
func seedCard(t *testing.T, cards store.CardStore, cs cardOpts) (string, store.Card) {
	t.Helper()
	secret := keycodec.Generate()
	c := store.Card{
		Fingerprint: keycodec.Fingerprint(secret),
		KeyPrefix:   keycodec.Prefix(secret),
		Type:        cs.typ,
		Status:      cs.status,
		UsedCount:   cs.used,
		MaxDevices:  cs.maxDevices,
		ExpireDate:  cs.expire,
	}
	if c.Type == "" {
		c.Type = store.CardTypeCount
	}
	if c.Status == "" {
		c.Status = store.StatusActive
	}
	if c.Type == store.CardTypeCount {
		total := cs.total
		c.TotalCount = &total
	}
	saved, err := cards.InsertCard(context.Background(), c)
	if err != nil {
		t.Fatalf("seedCard: %v", err)
	}
	return secret, saved
}

func mustFind(t *testing.T, cards store.CardStore, secret string) store.Card {
	t.Helper()
	c, err := cards.FindByFingerprint(context.Background(), keycodec.Fingerprint(secret))
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	return c
}

// failingSink rejects every record.
type failingSink struct{}

func (failingSink) RecordVerification(context.Context, store.VerificationRecord) error {
	return fmt.Errorf("sink down")
}

func (failingSink) RecordAPICall(context.Context, store.APICallRecord) error {
	return fmt.Errorf("sink down")
}

// wrappedCards records every commit and can stall the way a backend does
// when its pool is exhausted: blocked until the context ends, whatever the
// lock wait says.
type wrappedCards struct {
	store.CardStore
	stallLock   bool
	stallCommit bool

	mu      sync.Mutex
	commits []store.CardCommit
}

func (w *wrappedCards) LockByFingerprint(ctx context.Context, fp string, wait time.Duration) (store.LockedCard, error) {
	if w.stallLock {
		<-ctx.Done()
		return nil, fmt.Errorf("acquire connection: %w", ctx.Err())
	}
	lc, err := w.CardStore.LockByFingerprint(ctx, fp, wait)
	if err != nil {
		return nil, err
	}
	return &wrappedLock{LockedCard: lc, owner: w}, nil
}

func (w *wrappedCards) lastCommit(t *testing.T) store.CardCommit {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.commits) == 0 {
		t.Fatal("no commit recorded")
	}
	return w.commits[len(w.commits)-1]
}

type wrappedLock struct {
	store.LockedCard
	owner *wrappedCards
}

func (l *wrappedLock) Commit(ctx context.Context, c *store.CardCommit) error {
	if l.owner.stallCommit {
		<-ctx.Done()
		return fmt.Errorf("commit: %w", ctx.Err())
	}
	l.owner.mu.Lock()
	l.owner.commits = append(l.owner.commits, *c)
	l.owner.mu.Unlock()
	return l.LockedCard.Commit(ctx, c)
}
