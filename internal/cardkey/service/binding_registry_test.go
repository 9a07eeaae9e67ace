package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
)

func TestUnbind_FreesASlot(t *testing.T) {
	h, _ := newMemoryHarness(t, harnessOpts{})
	ctx := context.Background()
	secret, card := seedCard(t, h.cards, cardOpts{total: 10, maxDevices: 1})

	if _, err := h.verify.Verify(ctx, nil, verifyReq(secret, "d1"), meta); err != nil {
		t.Fatalf("verify d1: %v", err)
	}
	if _, err := h.verify.Verify(ctx, nil, verifyReq(secret, "d2"), meta); !errors.Is(err, service.ErrDeviceLimitExceeded) {
		t.Fatalf("expected limit, got %v", err)
	}

	if err := h.registry.Unbind(ctx, secret, "d1"); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if n, err := h.registry.ActiveCount(ctx, card.ID); err != nil || n != 0 {
		t.Fatalf("expected 0 active bindings, got %d (%v)", n, err)
	}

	d, err := h.verify.Verify(ctx, nil, verifyReq(secret, "d2"), meta)
	if err != nil {
		t.Fatalf("verify d2 after unbind: %v", err)
	}
	if !d.DeviceBinding.IsNewDevice {
		t.Errorf("expected d2 to be new")
	}
}

func TestUnbind_Errors(t *testing.T) {
	h, _ := newMemoryHarness(t, harnessOpts{})
	ctx := context.Background()
	secret, _ := seedCard(t, h.cards, cardOpts{total: 10, maxDevices: 1})

	if err := h.registry.Unbind(ctx, secret, "ghost"); !errors.Is(err, service.ErrBindingNotFound) {
		t.Errorf("expected ErrBindingNotFound, got %v", err)
	}
	if err := h.registry.Unbind(ctx, "nope", "d1"); !errors.Is(err, service.ErrCardNotFound) {
		t.Errorf("expected ErrCardNotFound, got %v", err)
	}
	if err := h.registry.Unbind(ctx, secret, ""); !errors.Is(err, service.ErrMissingParameters) {
		t.Errorf("expected ErrMissingParameters, got %v", err)
	}
}

func TestUnbind_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	base, _ := newMemoryHarness(t, harnessOpts{})
	wc := &wrappedCards{CardStore: base.cards}
	h := build(wc, base.bindings, base.audit, base.creds, harnessOpts{now: func() time.Time { return fixed }})
	ctx := context.Background()
	secret, _ := seedCard(t, h.cards, cardOpts{total: 10, maxDevices: 1})

	if _, err := h.verify.Verify(ctx, nil, verifyReq(secret, "d1"), meta); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := h.registry.Unbind(ctx, secret, "d1"); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	c := wc.lastCommit(t)
	if c.UnbindDeviceID != "d1" {
		t.Fatalf("last commit is not the unbind: %+v", c)
	}
	if !c.At.Equal(fixed) {
		t.Errorf("At: got %v, want %v", c.At, fixed)
	}
}

func TestActiveBindings_NewestFirst(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	h, _ := newMemoryHarness(t, harnessOpts{now: tick})
	ctx := context.Background()
	secret, card := seedCard(t, h.cards, cardOpts{total: 10, maxDevices: 3})

	for _, d := range []string{"a", "b", "a"} {
		if _, err := h.verify.Verify(ctx, nil, verifyReq(secret, d), meta); err != nil {
			t.Fatalf("verify %s: %v", d, err)
		}
	}
	bs, err := h.registry.ActiveBindings(ctx, card.ID)
	if err != nil {
		t.Fatalf("ActiveBindings: %v", err)
	}
	if len(bs) != 2 || bs[0].DeviceID != "a" {
		t.Errorf("expected a (most recently active) first, got %+v", bs)
	}
}
