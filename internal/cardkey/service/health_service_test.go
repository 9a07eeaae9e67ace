package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store/memory"
)

type downStore struct{}

func (downStore) Ping(context.Context) error                 { return errors.New("connection refused") }
func (downStore) Stats(context.Context) (store.Stats, error) { return store.Stats{}, nil }

func TestHealth_Healthy(t *testing.T) {
	ms := memory.New()
	ctx := context.Background()
	if _, _, err := service.IssueKey(ctx, ms, "k", 0); err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	resp, err := service.NewHealthService(ms, "1.2.3").Check(ctx)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != "healthy" || resp.Database != "connected" || resp.Version != "1.2.3" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Stats == nil || resp.Stats.TotalAPIKeys != 1 || resp.Stats.ActiveAPIKeys != 1 {
		t.Errorf("unexpected stats %+v", resp.Stats)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	resp, err := service.NewHealthService(downStore{}, "dev").Check(context.Background())
	if !errors.Is(err, service.ErrSystem) {
		t.Fatalf("expected ErrSystem, got %v", err)
	}
	if resp.Status != "unhealthy" || resp.Stats != nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Error == "connection refused" {
		t.Errorf("driver error leaked to response")
	}
}
