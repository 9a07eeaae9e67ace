package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
)

// CallLogPruner periodically deletes API call records older than the
// retention period.  Verification records are never pruned; they back the
// card query history.
//
// A retention of 0 disables pruning.
type CallLogPruner struct {
	store     store.AuditStore
	retention time.Duration
	interval  time.Duration
	logger    logrus.FieldLogger
	cancel    context.CancelFunc
	done      chan struct{}
}

type PrunerConfig struct {
	// RetentionDays is how many days of API call history to keep.
	RetentionDays int

	// Interval defaults to 6h.
	Interval time.Duration
}

// NewCallLogPruner creates a pruner but does not start it.
func NewCallLogPruner(s store.AuditStore, cfg PrunerConfig, logger logrus.FieldLogger) *CallLogPruner {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CallLogPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  cfg.Interval,
		logger:    logger.WithField("component", "call_log_pruner"),
		done:      make(chan struct{}),
	}
}

// Start prunes once immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (p *CallLogPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.WithFields(logrus.Fields{
		"retention_days": int(p.retention.Hours() / 24),
		"interval":       p.interval.String(),
	}).Info("pruner started")
}

// Stop signals the loop to exit and waits for it.
func (p *CallLogPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *CallLogPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *CallLogPruner) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneAPICallsOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.WithError(err).Warn("prune failed")
		return
	}
	if deleted > 0 {
		p.logger.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("pruned api call records")
	}
}
