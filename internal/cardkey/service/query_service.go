package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
)

const DefaultRecentLogs = 10

// QueryService is a read-only projection of a card.  It never takes the
// card lock, so a result may trail an in-flight verification.
type QueryService struct {
	cards      store.CardStore
	registry   *BindingRegistry
	logs       store.AuditStore
	recentLogs int
	now        func() time.Time
}

func NewQueryService(cards store.CardStore, reg *BindingRegistry, logs store.AuditStore, recentLogs int, now func() time.Time) *QueryService {
	if recentLogs <= 0 {
		recentLogs = DefaultRecentLogs
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &QueryService{cards: cards, registry: reg, logs: logs, recentLogs: recentLogs, now: now}
}

func (s *QueryService) Query(ctx context.Context, req types.QueryRequest) (types.QueryData, error) {
	secret := strings.TrimSpace(req.CardKey)
	if secret == "" {
		return types.QueryData{}, MissingParams("card_key")
	}

	card, err := s.cards.FindByFingerprint(ctx, keycodec.Fingerprint(secret))
	if errors.Is(err, store.ErrNotFound) {
		return types.QueryData{}, ErrCardNotFound
	}
	if err != nil {
		return types.QueryData{}, systemErr("find card", err)
	}

	bindings, err := s.registry.ActiveBindings(ctx, card.ID)
	if err != nil {
		return types.QueryData{}, err
	}
	logs, err := s.logs.RecentVerifications(ctx, card.ID, s.recentLogs)
	if err != nil {
		return types.QueryData{}, systemErr("recent logs", err)
	}

	data := types.QueryData{
		CardInfo:       cardInfo(card, s.now()),
		DeviceBindings: make([]types.BindingInfo, 0, len(bindings)),
		RecentLogs:     make([]types.LogEntry, 0, len(logs)),
	}
	for _, b := range bindings {
		data.DeviceBindings = append(data.DeviceBindings, types.BindingInfo{
			DeviceID:       b.DeviceID,
			DeviceName:     b.DeviceName,
			IPAddress:      b.IPAddress,
			FirstBindTime:  b.FirstBindTime.UTC().Format(time.RFC3339),
			LastActiveTime: b.LastActiveTime.UTC().Format(time.RFC3339),
		})
	}
	for _, l := range logs {
		data.RecentLogs = append(data.RecentLogs, types.LogEntry{
			VerificationTime: l.VerifiedAt.UTC().Format(time.RFC3339),
			IPAddress:        l.IPAddress,
			Success:          l.Success,
			ErrorMessage:     l.ErrorMessage,
		})
	}
	return data, nil
}

// cardInfo reports is_expired from the clock; the persisted status only
// changes on the next verify.
func cardInfo(card store.Card, now time.Time) types.CardInfo {
	info := types.CardInfo{
		CardType:         string(card.Type),
		Status:           string(card.Status),
		ExpireDate:       formatTime(card.ExpireDate),
		FirstUsedAt:      formatTime(card.FirstUsedAt),
		LastUsedAt:       formatTime(card.LastUsedAt),
		AllowMultiDevice: card.AllowMultiDevice,
		MaxDevices:       card.MaxDevices,
		IsExpired:        isExpired(card, now),
	}
	if card.Type == store.CardTypeCount {
		used := card.UsedCount
		info.TotalCount = card.TotalCount
		info.UsedCount = &used
		info.RemainingCount = remaining(card)
	}
	return info
}
