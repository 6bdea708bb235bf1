package crawler

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/clipmetrics/viewtracker/internal/progress"
	"github.com/clipmetrics/viewtracker/internal/telemetry"
)

// Orchestrator drives the Engine across a full target list, strictly one at
// a time. Sequential browser access is the invariant here: a bounded-
// concurrency variant was measured to raise memory pressure and crash rates
// in constrained deployments, so throughput is traded for predictable
// recovery behavior.
type Orchestrator struct {
	engine  *Engine
	session Session
	cfg     Config
	logger  *zap.Logger
}

// NewOrchestrator wires the Engine and its session into a batch driver.
func NewOrchestrator(engine *Engine, session Session, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engine:  engine,
		session: session,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// CrawlAll processes every target sequentially, then runs the end-of-pass
// retry waves over failures: first on a fresh primary session, then on the
// alternate launch profile. Later successful retries replace the earlier
// entry in place, never alongside it. The context is the cancellation
// boundary; on expiry the session is closed and partial results returned.
func (o *Orchestrator) CrawlAll(ctx context.Context, targets []TargetRecord) ([]CrawlResult, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	if err := o.session.Start(ctx, EngineChromium); err != nil {
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	defer o.session.Close()

	tracker := progress.NewTracker(len(targets), o.cfg.ProgressEvery, o.logger)
	results := make([]CrawlResult, 0, len(targets))

	for i, target := range targets {
		if ctx.Err() != nil {
			o.logger.Warn("batch canceled, returning partial results",
				zap.Int("processed", len(results)),
				zap.Int("total", len(targets)),
			)
			return results, nil
		}
		result := o.engine.Crawl(ctx, target)
		results = append(results, result)
		tracker.Observe(result.Success)

		// Periodic memory hygiene: long Chrome-driving processes accrete
		// heap that the allocator does not hand back on its own.
		if (i+1)%o.cfg.GCEvery == 0 {
			debug.FreeOSMemory()
		}
	}

	if o.cfg.RetryFailedAtEnd && ctx.Err() == nil {
		o.retryWave(ctx, targets, results, EngineChromium)
		if o.cfg.UseCompatRetry && ctx.Err() == nil {
			o.retryWave(ctx, targets, results, EngineCompat)
		}
	}

	tracker.Finish()
	for _, r := range results {
		telemetry.TargetsCrawled.WithLabelValues(telemetry.CrawlOutcome(r.Success, r.IsBroken)).Inc()
	}
	return results, nil
}

// CrawlOne runs a single target on a dedicated session lifecycle; used by the
// synchronous lookup path, which is independent of any running batch.
func (o *Orchestrator) CrawlOne(ctx context.Context, target TargetRecord) (CrawlResult, error) {
	if err := o.session.Start(ctx, EngineChromium); err != nil {
		return CrawlResult{}, fmt.Errorf("start browser session: %w", err)
	}
	defer o.session.Close()
	return o.engine.Crawl(ctx, target), nil
}

// retryWave re-crawls every retryable failure on a freshly started session of
// the given profile, overwriting entries that now succeed.
func (o *Orchestrator) retryWave(ctx context.Context, targets []TargetRecord, results []CrawlResult, kind EngineKind) {
	var retryable []int
	for i, r := range results {
		if !r.Success && isRetryableClass(r.ErrorClass) {
			retryable = append(retryable, i)
		}
	}
	if len(retryable) == 0 {
		return
	}

	o.logger.Info("retry wave starting",
		zap.Int("targets", len(retryable)),
		zap.String("engine", string(kind)),
	)
	if err := o.session.Start(ctx, kind); err != nil {
		o.logger.Error("retry wave session start failed", zap.Error(err))
		return
	}

	recovered := 0
	for _, idx := range retryable {
		if ctx.Err() != nil {
			break
		}
		result := o.engine.Crawl(ctx, targets[idx])
		if result.Success {
			results[idx] = result
			recovered++
		}
	}
	o.logger.Info("retry wave finished",
		zap.Int("recovered", recovered),
		zap.Int("attempted", len(retryable)),
		zap.String("engine", string(kind)),
	)
}

// isRetryableClass reports whether a failed result is worth another pass.
// Invalid URLs and confirmed-gone targets are terminal.
func isRetryableClass(class ErrorClass) bool {
	switch class {
	case ErrTimeout, ErrSessionCrash, ErrExtractionFailed:
		return true
	default:
		return false
	}
}
