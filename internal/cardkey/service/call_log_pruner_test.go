package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store/memory"
)

func TestCallLogPruner_DisabledWhenRetentionZero(t *testing.T) {
	p := service.NewCallLogPruner(memory.New(), service.PrunerConfig{RetentionDays: 0}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	// Stop should return immediately.
	p.Stop()
}

func TestCallLogPruner_PrunesOnStart(t *testing.T) {
	ms := memory.New()
	ctx := context.Background()

	for _, age := range []int{40, 1} {
		if err := ms.AppendAPICall(ctx, store.APICallRecord{
			Endpoint: "/api/verify",
			CalledAt: time.Now().UTC().AddDate(0, 0, -age),
		}); err != nil {
			t.Fatalf("AppendAPICall: %v", err)
		}
	}

	p := service.NewCallLogPruner(ms, service.PrunerConfig{RetentionDays: 30, Interval: time.Hour}, silentLogger())
	p.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(ms.APICalls()) != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	calls := ms.APICalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 remaining call, got %d", len(calls))
	}
	if age := time.Since(calls[0].CalledAt); age > 2*24*time.Hour {
		t.Errorf("the recent record should survive, kept one %v old", age)
	}
}

func TestCallLogPruner_StopsOnContextCancel(t *testing.T) {
	p := service.NewCallLogPruner(memory.New(), service.PrunerConfig{RetentionDays: 1, Interval: time.Millisecond}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
