package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/observability"
)

// GuardConfig tunes retries and the circuit breaker around ledger calls.
type GuardConfig struct {
	Name             string
	CallTimeout      time.Duration
	MaxRetries       int
	RetryBase        time.Duration
	FailureThreshold int
	FailureWindow    time.Duration
	OpenTimeout      time.Duration
}

// GuardConfigFrom maps service configuration onto GuardConfig.
func GuardConfigFrom(cfg config.LedgerConfig) GuardConfig {
	return GuardConfig{
		Name:             "ledger",
		CallTimeout:      cfg.CallTimeout(),
		MaxRetries:       cfg.MaxRetries,
		RetryBase:        cfg.RetryBase(),
		FailureThreshold: cfg.FailureThreshold,
		FailureWindow:    cfg.FailureWindow(),
		OpenTimeout:      cfg.OpenTimeout(),
	}
}

// Guard wraps an Appender with per-call timeouts, retries of transient
// failures and a circuit breaker. Closed trips to Open after FailureThreshold
// consecutive failures; Open fails fast until OpenTimeout elapses; HalfOpen
// lets exactly one trial call through.
type Guard struct {
	next   Appender
	cfg    GuardConfig
	cb     *gobreaker.CircuitBreaker[string]
	logger *zap.Logger
}

// NewGuard builds a guarded appender.
func NewGuard(next Appender, cfg GuardConfig, logger *zap.Logger, metrics *observability.Metrics) *Guard {
	if cfg.Name == "" {
		cfg.Name = "ledger"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := uint32(cfg.FailureThreshold)
	g := &Guard{next: next, cfg: cfg, logger: logger}
	g.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.FailureWindow,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejected(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.RecordBreakerTransition(name, from.String(), to.String())
		},
	})
	return g
}

// State reports the breaker state: "closed", "open" or "half-open".
func (g *Guard) State() string {
	return g.cb.State().String()
}

// Append writes through the breaker. Failures surface as ErrUnavailable,
// permanent rejections as ErrRejected.
func (g *Guard) Append(ctx context.Context, consentID, eventType string, payload map[string]any) (string, error) {
	var entryID string
	backoff := retry.WithMaxRetries(uint64(g.cfg.MaxRetries), retry.NewExponential(g.cfg.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := g.cb.Execute(func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
			defer cancel()
			return g.next.Append(callCtx, consentID, eventType, payload)
		})
		switch {
		case err == nil:
			entryID = id
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return err
		case IsRejected(err):
			return err
		case ctx.Err() != nil:
			return err
		default:
			g.logger.Debug("ledger append attempt failed",
				zap.String("consent_id", consentID),
				zap.String("event_type", eventType),
				zap.Error(err))
			return retry.RetryableError(err)
		}
	})
	if err == nil {
		return entryID, nil
	}
	if IsRejected(err) {
		return "", err
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
}
