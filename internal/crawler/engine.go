package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Engine is the per-URL state machine. It validates the target, keeps the
// session alive, navigates, invokes the extraction chain, and classifies
// failures into retry / restart / terminal via Decide. It owns no browser
// state itself; the injected Session does.
type Engine struct {
	session   Session
	extractor *Extractor
	cfg       Config
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration)
}

// NewEngine builds an Engine around the given session.
func NewEngine(session Session, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		session:   session,
		extractor: NewExtractor(cfg.MinYear, cfg.MaxYear),
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Crawl processes one target through the full state machine and always
// returns a structured result; per-URL failures never surface as errors.
func (e *Engine) Crawl(ctx context.Context, target TargetRecord) CrawlResult {
	canonical, err := ValidateURL(target.URL)
	if err != nil {
		e.logger.Warn("rejecting target before navigation",
			zap.String("record_id", target.RecordID),
			zap.Error(err),
		)
		return CrawlResult{
			URL:        target.URL,
			RecordID:   target.RecordID,
			IsBroken:   true,
			ErrorClass: ErrInvalidURL,
			ErrorText:  err.Error(),
		}
	}

	// Crash-loop breaker: one poisoned target must not stall the batch.
	if e.session.ConsecutiveCrashes() >= e.cfg.CrashBudget {
		e.logger.Warn("crash budget exhausted, skipping target",
			zap.String("url", canonical),
			zap.Int("consecutive_crashes", e.session.ConsecutiveCrashes()),
		)
		e.session.ResetCrashes()
		return CrawlResult{
			URL:        canonical,
			RecordID:   target.RecordID,
			ErrorClass: ErrSessionCrash,
			ErrorText:  "skipped after repeated session crashes",
		}
	}

	for attempt := 0; ; attempt++ {
		result, retry := e.attempt(ctx, target, canonical, attempt)
		if !retry {
			return result
		}
		// Cancellation between attempts still yields an identified result so
		// the target's row is accounted for, never silently dropped.
		if err := ctx.Err(); err != nil {
			return e.terminal(target, canonical, ClassifyLoadError(err), err, false)
		}
	}
}

// attempt runs a single pass through the state machine. retry true means the
// caller should loop; the returned result is only meaningful when retry is
// false.
func (e *Engine) attempt(ctx context.Context, target TargetRecord, canonical string, attempt int) (CrawlResult, bool) {
	if e.session.VideosSinceRestart() >= e.cfg.RestartEvery {
		e.logger.Info("proactive session restart",
			zap.Int("videos_since_restart", e.session.VideosSinceRestart()),
		)
		if err := e.session.Start(ctx, e.session.Kind()); err != nil {
			return e.terminal(target, canonical, ErrSessionCrash, err, false), false
		}
	}
	if !e.session.Started() {
		if err := e.session.Start(ctx, e.session.Kind()); err != nil {
			return e.terminal(target, canonical, ErrSessionCrash, err, false), false
		}
	}

	// Randomized pre-navigation delay so the request cadence has no fixed
	// fingerprint.
	e.sleep(ctx, jitterBetween(e.cfg.DelayMin, e.cfg.DelayMax))

	snap, err := e.session.Load(ctx, canonical)
	if err != nil {
		return e.handleLoadError(ctx, target, canonical, attempt, err)
	}

	metrics, ok := e.extractor.Extract(snap)
	if !ok {
		return e.handleEmptyExtraction(ctx, target, canonical, attempt, snap)
	}

	e.session.RecordSuccess()
	return e.success(target, canonical, metrics), false
}

func (e *Engine) handleLoadError(ctx context.Context, target TargetRecord, canonical string, attempt int, err error) (CrawlResult, bool) {
	class := ClassifyLoadError(err)
	if class == ErrSessionCrash {
		e.session.RecordCrash()
	}

	action := Decide(class, attempt, e.cfg.MaxRetries, e.session.ConsecutiveCrashes(), e.cfg.CrashBudget)
	e.logger.Warn("page load failed",
		zap.String("url", canonical),
		zap.String("class", string(class)),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)

	switch action {
	case ActionRestartAndRetry:
		// Short jittered pause before relaunch; crashed Chrome processes
		// occasionally hold the profile lock for a moment.
		e.sleep(ctx, jitterBetween(time.Second, 3*time.Second))
		if startErr := e.session.Start(ctx, e.session.Kind()); startErr != nil {
			return e.terminal(target, canonical, ErrSessionCrash, startErr, false), false
		}
		return CrawlResult{}, true
	case ActionRetry:
		e.sleep(ctx, linearBackoff(attempt))
		return CrawlResult{}, true
	default:
		broken := false
		switch class {
		case ErrTimeout:
			// Exhausted timeouts are treated as likely-broken so stale
			// numbers do not persist.
			broken = true
		case ErrSessionCrash:
			broken = false
		default:
			broken = IsGoneError(err)
		}
		return e.terminal(target, canonical, class, err, broken), false
	}
}

func (e *Engine) handleEmptyExtraction(ctx context.Context, target TargetRecord, canonical string, attempt int, snap PageSnapshot) (CrawlResult, bool) {
	switch ClassifyTitle(snap.Title) {
	case TitleGone:
		err := fmt.Errorf("target gone: page title %q", snap.Title)
		return e.terminal(target, canonical, ErrNotFound, err, true), false
	case TitleBotCheck:
		e.logger.Warn("bot check page served", zap.String("url", canonical), zap.String("title", snap.Title))
	}

	err := fmt.Errorf("no extraction strategy matched (title %q)", snap.Title)
	if Decide(ErrExtractionFailed, attempt, e.cfg.MaxRetries, e.session.ConsecutiveCrashes(), e.cfg.CrashBudget) == ActionRetry {
		e.sleep(ctx, linearBackoff(attempt))
		return CrawlResult{}, true
	}
	return e.terminal(target, canonical, ErrExtractionFailed, err, false), false
}

// success applies the publish-date priority policy: a validly formatted
// ledger date wins over the freshly scraped one, which is occasionally
// noisier.
func (e *Engine) success(target TargetRecord, canonical string, m Metrics) CrawlResult {
	date := ""
	switch {
	case IsValidDate(target.ExistingPublishDate):
		date = target.ExistingPublishDate
	case IsValidDate(m.PublishDate):
		date = m.PublishDate
	}
	return CrawlResult{
		URL:         canonical,
		RecordID:    target.RecordID,
		Success:     true,
		Views:       int64Ptr(m.Views),
		Likes:       int64Ptr(m.Likes),
		Comments:    int64Ptr(m.Comments),
		Shares:      int64Ptr(m.Shares),
		PublishDate: date,
		ErrorClass:  ErrNone,
	}
}

func (e *Engine) terminal(target TargetRecord, canonical string, class ErrorClass, err error, broken bool) CrawlResult {
	result := CrawlResult{
		URL:        canonical,
		RecordID:   target.RecordID,
		IsBroken:   broken,
		ErrorClass: class,
	}
	if err != nil {
		result.ErrorText = err.Error()
	}
	e.logger.Warn("target failed",
		zap.String("url", canonical),
		zap.String("class", string(class)),
		zap.Bool("broken", broken),
		zap.String("error", result.ErrorText),
	)
	return result
}

func int64Ptr(v int64) *int64 {
	return &v
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func jitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// linearBackoff grows the wait by one second per attempt, matching the
// measured recovery time of transient extraction failures.
func linearBackoff(attempt int) time.Duration {
	return 2*time.Second + time.Duration(attempt)*time.Second
}
