package service

import (
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

func TestTransitionTable(t *testing.T) {
	all := []store.CardStatus{store.StatusActive, store.StatusInactive, store.StatusExpired, store.StatusUsedUp}
	allowed := map[[2]store.CardStatus]bool{
		{store.StatusActive, store.StatusExpired}:  true,
		{store.StatusActive, store.StatusUsedUp}:   true,
		{store.StatusActive, store.StatusInactive}: true,
		{store.StatusInactive, store.StatusActive}: true,
	}

	for _, from := range all {
		for _, to := range all {
			c := store.Card{Status: from}
			err := transition(&c, to)
			if allowed[[2]store.CardStatus{from, to}] {
				if err != nil || c.Status != to {
					t.Errorf("%s -> %s: expected allowed, got %v", from, to, err)
				}
				continue
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("%s -> %s: expected ErrIllegalTransition, got %v", from, to, err)
			}
			if c.Status != from {
				t.Errorf("%s -> %s: rejected transition mutated status", from, to)
			}
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	cases := []struct {
		name string
		card store.Card
		want bool
	}{
		{"time past", store.Card{Type: store.CardTypeTime, ExpireDate: &past}, true},
		{"time future", store.Card{Type: store.CardTypeTime, ExpireDate: &future}, false},
		{"time exact", store.Card{Type: store.CardTypeTime, ExpireDate: &now}, false},
		{"time no date", store.Card{Type: store.CardTypeTime}, false},
		{"count with date", store.Card{Type: store.CardTypeCount, ExpireDate: &past}, false},
	}
	for _, tc := range cases {
		if got := isExpired(tc.card, now); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRemaining(t *testing.T) {
	total := 3
	if r := remaining(store.Card{Type: store.CardTypeCount, TotalCount: &total, UsedCount: 5}); r == nil || *r != 0 {
		t.Errorf("expected remaining clamped to 0, got %v", r)
	}
	if r := remaining(store.Card{Type: store.CardTypeTime}); r != nil {
		t.Errorf("time cards have no remaining count")
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := truncate("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
}
