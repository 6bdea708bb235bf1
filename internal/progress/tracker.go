// Package progress tracks batch completion and emits periodic operator
// visibility: processed counts, success rate, elapsed time, and ETA.
package progress

import (
	"time"

	"go.uber.org/zap"
)

// Snapshot is a point-in-time view of a running batch.
type Snapshot struct {
	Total       int
	Processed   int
	Succeeded   int
	SuccessRate float64
	Elapsed     time.Duration
	ETA         time.Duration
}

// Tracker accumulates per-target outcomes for one batch pass. It is not safe
// for concurrent use; the crawl pipeline is sequential by design.
type Tracker struct {
	total     int
	processed int
	succeeded int
	every     int
	start     time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// NewTracker starts the clock for a batch of the given size, logging a
// progress line every `every` targets.
func NewTracker(total, every int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = 25
	}
	t := &Tracker{
		total:  total,
		every:  every,
		now:    time.Now,
		logger: logger,
	}
	t.start = t.now()
	return t
}

// Observe records one completed target and logs at the configured cadence.
func (t *Tracker) Observe(success bool) {
	t.processed++
	if success {
		t.succeeded++
	}
	if t.processed%t.every == 0 || t.processed == t.total {
		s := t.Snapshot()
		t.logger.Info("batch progress",
			zap.Int("processed", s.Processed),
			zap.Int("total", s.Total),
			zap.Int("succeeded", s.Succeeded),
			zap.Float64("success_rate", s.SuccessRate),
			zap.Duration("elapsed", s.Elapsed),
			zap.Duration("eta", s.ETA),
		)
	}
}

// Snapshot computes the current counters and the remaining-time estimate.
func (t *Tracker) Snapshot() Snapshot {
	elapsed := t.now().Sub(t.start)
	s := Snapshot{
		Total:     t.total,
		Processed: t.processed,
		Succeeded: t.succeeded,
		Elapsed:   elapsed,
	}
	if t.processed > 0 {
		s.SuccessRate = float64(t.succeeded) / float64(t.processed)
		perTarget := elapsed / time.Duration(t.processed)
		s.ETA = perTarget * time.Duration(t.total-t.processed)
	}
	return s
}

// Finish logs the end-of-batch summary.
func (t *Tracker) Finish() {
	s := t.Snapshot()
	t.logger.Info("batch complete",
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Processed-s.Succeeded),
		zap.Float64("success_rate", s.SuccessRate),
		zap.Duration("elapsed", s.Elapsed),
	)
}
