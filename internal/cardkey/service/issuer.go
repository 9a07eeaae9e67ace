package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

const MaxBatch = 1000

var ErrInvalidIssue = errors.New("invalid issue request")

type IssueRequest struct {
	Type             store.CardType
	Quantity         int
	ValidDays        int // time cards; 0 means never expires
	TotalCount       int // count cards; must be at least 1
	AllowMultiDevice bool
	MaxDevices       int
	Note             string
}

// IssuedCard carries the raw secret.  It is returned once and never stored.
type IssuedCard struct {
	Secret string
	Card   store.Card
}

type Issuer struct {
	cards  store.CardStore
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewIssuer(cards store.CardStore, logger logrus.FieldLogger) *Issuer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Issuer{cards: cards, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

func (req IssueRequest) validate() error {
	if req.Quantity < 1 || req.Quantity > MaxBatch {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidIssue, MaxBatch)
	}
	if req.MaxDevices < 1 {
		return fmt.Errorf("%w: max_devices must be at least 1", ErrInvalidIssue)
	}
	switch req.Type {
	case store.CardTypeTime:
		if req.ValidDays < 0 {
			return fmt.Errorf("%w: valid_days must not be negative", ErrInvalidIssue)
		}
	case store.CardTypeCount:
		if req.TotalCount < 1 {
			return fmt.Errorf("%w: count cards need total_count >= 1", ErrInvalidIssue)
		}
	default:
		return fmt.Errorf("%w: unknown card type %q", ErrInvalidIssue, req.Type)
	}
	return nil
}

// Issue creates req.Quantity active cards.  Cards inserted before a failure
// stay issued and are returned with the error.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) ([]IssuedCard, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := i.now()
	out := make([]IssuedCard, 0, req.Quantity)
	for n := 0; n < req.Quantity; n++ {
		ic, err := i.issueOne(ctx, req, now)
		if err != nil {
			return out, err
		}
		out = append(out, ic)
	}
	i.logger.WithFields(logrus.Fields{"type": req.Type, "quantity": len(out)}).Info("cards issued")
	return out, nil
}

func (i *Issuer) issueOne(ctx context.Context, req IssueRequest, now time.Time) (IssuedCard, error) {
	card := store.Card{
		Type:             req.Type,
		Status:           store.StatusActive,
		AllowMultiDevice: req.AllowMultiDevice,
		MaxDevices:       req.MaxDevices,
		Note:             req.Note,
		CreatedAt:        now,
	}
	switch req.Type {
	case store.CardTypeTime:
		// valid_days is kept even when 0; only a positive value expires.
		days := req.ValidDays
		card.ValidDays = &days
		if days > 0 {
			exp := now.Add(time.Duration(days) * 24 * time.Hour)
			card.ExpireDate = &exp
		}
	case store.CardTypeCount:
		total := req.TotalCount
		card.TotalCount = &total
	}

	// The fallback secret is not re-checked, so a lost insert race is
	// retried with a fresh one.
	for attempt := 0; attempt < 3; attempt++ {
		secret, err := keycodec.GenerateUnique(ctx, i.cards.FingerprintExists)
		if err != nil {
			return IssuedCard{}, systemErr("generate secret", err)
		}
		card.Fingerprint = keycodec.Fingerprint(secret)
		card.KeyPrefix = keycodec.Prefix(secret)

		saved, err := i.cards.InsertCard(ctx, card)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return IssuedCard{}, systemErr("insert card", err)
		}
		return IssuedCard{Secret: secret, Card: saved}, nil
	}
	return IssuedCard{}, systemErr("insert card", store.ErrDuplicate)
}
