package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
)

// Expirer is the part of the consent service the sweep needs.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// ExpiryWorker periodically moves consents past their window end to EXPIRED.
type ExpiryWorker struct {
	expirer  Expirer
	interval time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewExpiryWorker builds the worker.
func NewExpiryWorker(expirer Expirer, cfg config.ExpiryConfig, logger *zap.Logger) *ExpiryWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryWorker{
		expirer:  expirer,
		interval: cfg.Interval(),
		batch:    batch,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("expiry worker started", zap.Duration("interval", w.interval), zap.Int("batch", w.batch))
	for {
		w.Sweep(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("expiry worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires due consents in batches until a batch comes back short.
func (w *ExpiryWorker) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.expirer.ExpireDue(ctx, w.now().UTC(), w.batch)
		total += n
		if err != nil {
			w.logger.Warn("expiry sweep interrupted", zap.Int("expired", total), zap.Error(err))
			break
		}
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.logger.Info("expired consents", zap.Int("count", total))
	}
	return total
}
