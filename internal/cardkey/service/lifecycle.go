package service

import (
	"fmt"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

// transitions lists every status change the service may make.  Verification
// moves an active card to expired or used_up; operators toggle
// active and inactive.  Nothing else is reachable.
var transitions = map[store.CardStatus][]store.CardStatus{
	store.StatusActive:   {store.StatusExpired, store.StatusUsedUp, store.StatusInactive},
	store.StatusInactive: {store.StatusActive},
}

func transition(card *store.Card, to store.CardStatus) error {
	for _, allowed := range transitions[card.Status] {
		if allowed == to {
			card.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, card.Status, to)
}

// terminalErr returns the rejection for a card that may not be consumed,
// or nil for an active card.
func terminalErr(card store.Card) error {
	switch card.Status {
	case store.StatusActive:
		return nil
	case store.StatusInactive:
		return ErrCardDisabled
	case store.StatusExpired:
		return ErrCardExpired
	case store.StatusUsedUp:
		return ErrCardUsedUp
	default:
		return fmt.Errorf("%w: unknown status %q", ErrConfiguration, card.Status)
	}
}

// checkConfiguration rejects cards that could never have been issued
// correctly.  No default is guessed.
func checkConfiguration(card store.Card, withDevice bool) error {
	switch card.Type {
	case store.CardTypeTime:
	case store.CardTypeCount:
		if card.TotalCount == nil {
			return fmt.Errorf("%w: count card %d has no total_count", ErrConfiguration, card.ID)
		}
	default:
		return fmt.Errorf("%w: unknown card type %q", ErrConfiguration, card.Type)
	}
	if withDevice && card.MaxDevices < 1 {
		return fmt.Errorf("%w: card %d has max_devices %d", ErrConfiguration, card.ID, card.MaxDevices)
	}
	return nil
}

// isExpired reports whether a time card is past its expire_date.  Count
// cards and time cards without a date never expire.
func isExpired(card store.Card, now time.Time) bool {
	return card.Type == store.CardTypeTime && card.ExpireDate != nil && now.After(*card.ExpireDate)
}

func remaining(card store.Card) *int {
	if card.Type != store.CardTypeCount || card.TotalCount == nil {
		return nil
	}
	n := *card.TotalCount - card.UsedCount
	if n < 0 {
		n = 0
	}
	return &n
}
