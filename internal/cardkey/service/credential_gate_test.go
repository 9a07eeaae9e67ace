package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store/memory"
)

func TestIssueKeyThenAuthenticate(t *testing.T) {
	ms := memory.New()
	ctx := context.Background()

	key, cred, err := service.IssueKey(ctx, ms, "billing", 100)
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32-char key, got %q", key)
	}
	if cred.KeyHash == key || cred.KeyHash != service.HashAPIKey(key) {
		t.Errorf("credential must store only the hash")
	}

	gate := service.NewCredentialGate(ms, true)
	got, err := gate.Authenticate(ctx, " "+key+" ")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != cred.ID || got.Name != "billing" {
		t.Errorf("unexpected credential %+v", got)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	ms := memory.New()
	ctx := context.Background()
	if err := ms.InsertCredential(ctx, store.Credential{
		ID: "off", Name: "disabled", KeyHash: service.HashAPIKey("inactive-key"), IsActive: false,
	}); err != nil {
		t.Fatalf("InsertCredential: %v", err)
	}

	gate := service.NewCredentialGate(ms, true)
	cases := []struct {
		key  string
		want error
	}{
		{"", service.ErrMissingParameters},
		{"unknown", service.ErrInvalidCredential},
		{"inactive-key", service.ErrInvalidCredential},
	}
	for _, tc := range cases {
		if _, err := gate.Authenticate(ctx, tc.key); !errors.Is(err, tc.want) {
			t.Errorf("key %q: expected %v, got %v", tc.key, tc.want, err)
		}
	}

	off := service.NewCredentialGate(ms, false)
	if _, err := off.Authenticate(ctx, "anything"); !errors.Is(err, service.ErrAPIDisabled) {
		t.Errorf("expected ErrAPIDisabled, got %v", err)
	}
}

func TestIssueKey_RequiresName(t *testing.T) {
	if _, _, err := service.IssueKey(context.Background(), memory.New(), "  ", 0); !errors.Is(err, service.ErrMissingParameters) {
		t.Errorf("expected ErrMissingParameters, got %v", err)
	}
}
