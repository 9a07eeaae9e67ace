package keycodec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateUnique_FallsBackAfterMaxAttempts(t *testing.T) {
	calls := 0
	alwaysTaken := func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	}
	fixed := func() string { return "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" }
	clock := func() time.Time { return time.UnixMicro(1700000000123456) }

	secret, err := generateUnique(context.Background(), alwaysTaken, fixed, clock)
	if err != nil {
		t.Fatalf("generateUnique: %v", err)
	}
	if calls != MaxAttempts {
		t.Errorf("expected %d existence checks, got %d", MaxAttempts, calls)
	}
	if want := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa123456"; secret != want {
		t.Errorf("expected salted secret %q, got %q", want, secret)
	}
}

func TestGenerateUnique_PropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, string) (bool, error) { return false, boom }

	_, err := generateUnique(context.Background(), failing, Generate, time.Now)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestGenerateUnique_RetriesOnCollision(t *testing.T) {
	seq := []string{"first", "second", "third"}
	i := 0
	gen := func() string {
		s := seq[i]
		i++
		return s
	}
	taken := map[string]bool{
		Fingerprint("first"):  true,
		Fingerprint("second"): true,
	}
	exists := func(_ context.Context, fp string) (bool, error) { return taken[fp], nil }

	secret, err := generateUnique(context.Background(), exists, gen, time.Now)
	if err != nil {
		t.Fatalf("generateUnique: %v", err)
	}
	if secret != "third" {
		t.Errorf("expected third candidate, got %q", secret)
	}
}
