package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/keycodec"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
)

const (
	// DefaultLockWait bounds how long a verification waits for a busy card.
	DefaultLockWait = 3 * time.Second

	// DefaultCommitBudget bounds the work after the lock is granted, and
	// separately the audit write.
	DefaultCommitBudget = 5 * time.Second
)

// RequestMeta is what the transport knows about the caller.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type VerificationConfig struct {
	LockWait     time.Duration
	CommitBudget time.Duration
	Now          func() time.Time
	Logger       logrus.FieldLogger
}

type VerificationService struct {
	cards        store.CardStore
	registry     *BindingRegistry
	audit        AuditSink
	lockWait     time.Duration
	commitBudget time.Duration
	now          func() time.Time
	logger       logrus.FieldLogger
}

func NewVerificationService(cards store.CardStore, reg *BindingRegistry, audit AuditSink, cfg VerificationConfig) *VerificationService {
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if cfg.CommitBudget <= 0 {
		cfg.CommitBudget = DefaultCommitBudget
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if audit == nil {
		audit = discardSink{}
	}
	return &VerificationService{
		cards:        cards,
		registry:     reg,
		audit:        audit,
		lockWait:     cfg.LockWait,
		commitBudget: cfg.CommitBudget,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
}

// outcome is what the locked section learned, kept for the audit record.
type outcome struct {
	card      store.Card
	bindingID *int64
	data      types.VerifyData
}

// Verify redeems the card once.  cred may be nil for internal callers; when
// set, its usage counters are committed with a successful verification.
func (s *VerificationService) Verify(ctx context.Context, cred *store.Credential, req types.VerifyRequest, meta RequestMeta) (types.VerifyData, error) {
	secret := strings.TrimSpace(req.CardKey)
	if secret == "" {
		return types.VerifyData{}, MissingParams("card_key")
	}

	// Once started a verification commits or fails as a whole.  The caller
	// cannot cancel it, but the locked section and the audit write each have
	// their own deadline.
	ctx = context.WithoutCancel(ctx)

	fp := keycodec.Fingerprint(secret)
	dev := DeviceInfo{
		DeviceID:  strings.TrimSpace(req.DeviceID),
		Name:      truncate(meta.UserAgent, maxDeviceName),
		IPAddress: meta.IPAddress,
	}
	now := s.now()
	log := s.logger.WithField("fp", fp[:12])

	lockedCtx, cancel := lockedContext(ctx, s.lockWait, s.commitBudget)
	out, err := s.verifyLocked(lockedCtx, cred, fp, dev, now)
	cancel()

	if errors.Is(err, ErrCardNotFound) {
		log.Info("verify: card not found")
		return types.VerifyData{}, err
	}

	auditCtx, cancelAudit := context.WithTimeout(ctx, s.commitBudget)
	defer cancelAudit()
	if out.card.ID == 0 {
		// Failed before the card was read; attribute the attempt if possible.
		if c, ferr := s.cards.FindByFingerprint(auditCtx, fp); ferr == nil {
			out.card = c
		}
	}
	if out.card.ID != 0 {
		s.record(auditCtx, out, cred, meta, now, err)
	}

	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"card_id": out.card.ID, "device": dev.DeviceID}).Debug("verify: ok")
		return out.data, nil
	case CodeOf(err) == types.CodeSystemError:
		log.WithError(err).Error("verify failed")
	default:
		log.WithField("card_id", out.card.ID).Infof("verify rejected: %v", err)
	}
	return types.VerifyData{}, err
}

func (s *VerificationService) verifyLocked(ctx context.Context, cred *store.Credential, fp string, dev DeviceInfo, now time.Time) (outcome, error) {
	var out outcome

	lc, err := lockCard(ctx, s.cards, fp, s.lockWait)
	if err != nil {
		return out, err
	}
	defer lc.Release()

	card := lc.Card()
	out.card = card

	if err := terminalErr(card); err != nil {
		return out, err
	}
	if err := checkConfiguration(card, dev.DeviceID != ""); err != nil {
		return out, err
	}

	if isExpired(card, now) {
		next := card
		if err := transition(&next, store.StatusExpired); err != nil {
			return out, err
		}
		if err := lc.Commit(ctx, &store.CardCommit{Card: next, At: now}); err != nil {
			return out, systemErr("persist expiry", err)
		}
		out.card = next
		return out, ErrCardExpired
	}

	var adm *Admission
	if dev.DeviceID != "" {
		a, err := s.registry.Admit(ctx, lc, dev, now)
		if err != nil {
			return out, err
		}
		adm = &a
		if !a.IsNew {
			id := a.Binding.ID
			out.bindingID = &id
		}
	}

	next := card
	if next.FirstUsedAt == nil {
		next.FirstUsedAt = &now
	}
	next.LastUsedAt = &now

	if next.Type == store.CardTypeCount {
		if next.UsedCount >= *next.TotalCount {
			// Only reachable if a previous commit left an active card at its
			// limit.  Close it now.
			if err := transition(&next, store.StatusUsedUp); err != nil {
				return out, err
			}
			if err := lc.Commit(ctx, &store.CardCommit{Card: next, At: now}); err != nil {
				return out, systemErr("persist used_up", err)
			}
			out.card = next
			return out, ErrCardUsedUp
		}
		next.UsedCount++
		if next.UsedCount >= *next.TotalCount {
			if err := transition(&next, store.StatusUsedUp); err != nil {
				return out, err
			}
		}
	}

	commit := &store.CardCommit{Card: next, At: now}
	if adm != nil {
		adm.stage(commit)
	}
	if cred != nil {
		commit.CredentialID = cred.ID
	}
	if err := lc.Commit(ctx, commit); err != nil {
		return out, systemErr("commit verification", err)
	}

	out.card = next
	if adm != nil {
		id := adm.Binding.ID
		out.bindingID = &id
	}
	out.data = verifyData(next, adm)
	return out, nil
}

func verifyData(card store.Card, adm *Admission) types.VerifyData {
	d := types.VerifyData{
		CardType:       string(card.Type),
		ExpireDate:     formatTime(card.ExpireDate),
		RemainingCount: remaining(card),
	}
	if adm != nil {
		d.DeviceBinding = &types.DeviceBindingResult{
			DeviceID:    adm.Binding.DeviceID,
			IsNewDevice: adm.IsNew,
		}
	}
	return d
}

// record emits the audit entry after the lock is gone.  Sink errors are
// logged and dropped.
func (s *VerificationService) record(ctx context.Context, out outcome, cred *store.Credential, meta RequestMeta, at time.Time, verr error) {
	rec := store.VerificationRecord{
		CardID:     out.card.ID,
		BindingID:  out.bindingID,
		IPAddress:  meta.IPAddress,
		UserAgent:  truncate(meta.UserAgent, maxUserAgent),
		VerifiedAt: at,
		Success:    verr == nil,
	}
	if verr != nil {
		rec.ErrorMessage = truncate(verr.Error(), maxErrorMessage)
	}
	if cred != nil {
		rec.CredentialID = cred.ID
	}
	if err := s.audit.RecordVerification(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("card_id", rec.CardID).Warn("audit: verification record dropped")
	}
}

// SetEnabled toggles a card between active and inactive.  Setting the
// status a card already has is a no-op; anything the transition table does
// not allow, such as re-enabling an expired card, is rejected.
func (s *VerificationService) SetEnabled(ctx context.Context, secret string, enabled bool) (store.Card, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return store.Card{}, MissingParams("card_key")
	}
	ctx, cancel := lockedContext(ctx, s.lockWait, s.commitBudget)
	defer cancel()

	lc, err := lockCard(ctx, s.cards, keycodec.Fingerprint(secret), s.lockWait)
	if err != nil {
		return store.Card{}, err
	}
	defer lc.Release()

	target := store.StatusInactive
	if enabled {
		target = store.StatusActive
	}
	next := lc.Card()
	if next.Status == target {
		return next, nil
	}
	if err := transition(&next, target); err != nil {
		return store.Card{}, err
	}
	if err := lc.Commit(ctx, &store.CardCommit{Card: next, At: s.now()}); err != nil {
		return store.Card{}, systemErr("set status", err)
	}
	s.logger.WithFields(logrus.Fields{"card_id": next.ID, "status": next.Status}).Info("card status changed")
	return next, nil
}
