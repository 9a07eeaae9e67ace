package backend_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/backend"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/config"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpen_SeedsDevKey(t *testing.T) {
	cases := map[string]config.Config{
		"memory": {Store: config.StoreMemory, Env: "dev", DevAPIKey: "dev-key-123"},
		"sqlite": {Store: config.StoreSQLite, Env: "dev", DevAPIKey: "dev-key-123", DBPath: filepath.Join(t.TempDir(), "cardkey.db")},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := backend.Open(ctx, cfg, quiet())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			gate := service.NewCredentialGate(st.Credentials, true)
			if _, err := gate.Authenticate(ctx, "dev-key-123"); err != nil {
				t.Fatalf("dev key rejected: %v", err)
			}
			if err := st.Health.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
		})
	}
}

func TestOpen_SQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: config.StoreSQLite, Env: "prod", DBPath: filepath.Join(t.TempDir(), "cardkey.db")}

	st, err := backend.Open(ctx, cfg, quiet())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key, _, err := service.IssueKey(ctx, st.Credentials, "persisted", 0)
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	st.Close()

	st, err = backend.Open(ctx, cfg, quiet())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if _, err := service.NewCredentialGate(st.Credentials, true).Authenticate(ctx, key); err != nil {
		t.Fatalf("key lost across reopen: %v", err)
	}
}

func TestOpen_UnknownStore(t *testing.T) {
	if _, err := backend.Open(context.Background(), config.Config{Store: "etcd"}, quiet()); err == nil {
		t.Fatal("expected error")
	}
}
