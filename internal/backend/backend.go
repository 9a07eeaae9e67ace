// Package backend opens the store implementation selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store/memory"
	pgstore "github.com/BrandonDHaskell/cardkey/internal/cardkey/store/postgres"
	sqlitestore "github.com/BrandonDHaskell/cardkey/internal/cardkey/store/sqlite"
	"github.com/BrandonDHaskell/cardkey/internal/config"
	"github.com/BrandonDHaskell/cardkey/internal/db"
)

// Stores is one backend seen through every store interface.
type Stores struct {
	Kind        string
	Cards       store.CardStore
	Bindings    store.BindingStore
	Audit       store.AuditStore
	Credentials store.CredentialStore
	Health      store.HealthStore

	closers []func()
}

// Close releases the backend in reverse order of acquisition.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Stores, error) {
	var (
		st  *Stores
		err error
	)
	switch cfg.Store {
	case config.StoreMemory:
		ms := memory.New()
		st = &Stores{Cards: ms, Bindings: ms, Audit: ms, Credentials: ms, Health: ms}
	case config.StoreSQLite:
		st, err = openSQLite(ctx, cfg)
	case config.StorePostgres:
		st, err = openPostgres(ctx, cfg)
	default:
		err = fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	st.Kind = cfg.Store
	logger.WithField("store", cfg.Store).Info("store opened")

	if cfg.Env == "dev" && cfg.DevAPIKey != "" {
		if err := seedDevKey(ctx, st, cfg); err != nil {
			st.Close()
			return nil, err
		}
		logger.WithField("prefix", keycodec.Prefix(cfg.DevAPIKey)).Info("dev api key seeded")
	}
	return st, nil
}

func openSQLite(ctx context.Context, cfg config.Config) (*Stores, error) {
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, err
	}
	w := db.NewWorker(conn)
	cards := sqlitestore.NewCardStore(conn, w, nil)
	return &Stores{
		Cards:       cards,
		Bindings:    cards,
		Audit:       sqlitestore.NewAuditStore(conn, w),
		Credentials: sqlitestore.NewCredentialStore(conn, w),
		Health:      sqlitestore.NewHealthStore(conn),
		closers: []func(){
			func() { _ = conn.Close() },
			w.Close,
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*Stores, error) {
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	cards := pgstore.NewCardStore(pool)
	return &Stores{
		Cards:       cards,
		Bindings:    cards,
		Audit:       pgstore.NewAuditStore(pool),
		Credentials: pgstore.NewCredentialStore(pool),
		Health:      pgstore.NewHealthStore(pool),
		closers:     []func(){pool.Close},
	}, nil
}

// seedDevKey makes the configured dev API key usable.  SQLite rewrites the
// fixed dev row in place; other backends insert it once.
func seedDevKey(ctx context.Context, st *Stores, cfg config.Config) error {
	hash := service.HashAPIKey(cfg.DevAPIKey)
	if cs, ok := st.Credentials.(*sqlitestore.CredentialStore); ok {
		return cs.SeedDev(ctx, db.SeedDevOptions{KeyHash: hash, KeyPrefix: keycodec.Prefix(cfg.DevAPIKey)})
	}
	err := st.Credentials.InsertCredential(ctx, store.Credential{
		ID:        db.DevCredentialID,
		Name:      "Development",
		KeyHash:   hash,
		KeyPrefix: keycodec.Prefix(cfg.DevAPIKey),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}
