// Package app coordinates a full tracking run: snapshot the ledger, crawl
// every target, merge results against the ledger snapshot, and reconcile the
// outcome into the sheet. One run at a time; the API layer reports a conflict
// while a run is active.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clipmetrics/viewtracker/internal/crawler"
	"github.com/clipmetrics/viewtracker/internal/reconcile"
	"github.com/clipmetrics/viewtracker/internal/telemetry"
)

// ErrJobRunning indicates a crawl job is already in flight.
var ErrJobRunning = errors.New("a crawl job is already running")

// TargetSource produces the work list; implemented by ledger.Client.
type TargetSource interface {
	Targets(ctx context.Context) ([]crawler.TargetRecord, error)
}

// Batcher runs crawl passes; implemented by crawler.Orchestrator.
type Batcher interface {
	CrawlAll(ctx context.Context, targets []crawler.TargetRecord) ([]crawler.CrawlResult, error)
	CrawlOne(ctx context.Context, target crawler.TargetRecord) (crawler.CrawlResult, error)
}

// Reconciling writes merged results to the sheet.
type Reconciling interface {
	Reconcile(ctx context.Context, records []reconcile.Record) (reconcile.Summary, error)
}

// Clock abstracts wall time for job timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// JobStatus is the lifecycle state of a crawl job.
type JobStatus string

// Job lifecycle states.
const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobSummary aggregates what a finished run did.
type JobSummary struct {
	Targets  int `json:"targets"`
	Success  int `json:"success"`
	Partial  int `json:"partial"`
	Broken   int `json:"broken"`
	Updated  int `json:"updated"`
	Appended int `json:"appended"`
	Deduped  int `json:"deduped"`
	Skipped  int `json:"skipped"`
}

// Job is one tracking run.
type Job struct {
	ID       string     `json:"id"`
	Status   JobStatus  `json:"status"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
	Summary  JobSummary `json:"summary"`
	Error    string     `json:"error,omitempty"`
}

// Runner owns the single-flight run lifecycle.
type Runner struct {
	baseCtx    context.Context
	source     TargetSource
	batcher    Batcher
	reconciler Reconciling
	clock      Clock
	idGen      IDGenerator
	logger     *zap.Logger

	runTimeout time.Duration

	mu      sync.Mutex
	running bool
	last    *Job
}

// NewRunner builds a Runner. Jobs run on baseCtx, not the triggering
// request's context, so an HTTP disconnect does not kill a run.
func NewRunner(baseCtx context.Context, source TargetSource, batcher Batcher, reconciler Reconciling, clock Clock, idGen IDGenerator, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		baseCtx:    baseCtx,
		source:     source,
		batcher:    batcher,
		reconciler: reconciler,
		clock:      clock,
		idGen:      idGen,
		logger:     logger,
	}
}

// SetRunTimeout bounds a whole run. Zero means unbounded. On expiry the
// in-flight session is closed and whatever partial results were accumulated
// are reconciled.
func (r *Runner) SetRunTimeout(d time.Duration) {
	r.runTimeout = d
}

// Ready reports whether every run collaborator is wired, with a per-component
// state map for the readiness endpoint.
func (r *Runner) Ready() (bool, map[string]string) {
	components := map[string]string{
		"ledger":  readyState(r.source != nil),
		"crawler": readyState(r.batcher != nil),
		"sink":    readyState(r.reconciler != nil),
	}
	ok := r.source != nil && r.batcher != nil && r.reconciler != nil
	return ok, components
}

func readyState(configured bool) string {
	if configured {
		return "configured"
	}
	return "missing"
}

// Start launches a run over the full ledger, or over the given record IDs
// only when the list is non-empty. Returns the job ID, or ErrJobRunning.
func (r *Runner) Start(recordIDs []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", ErrJobRunning
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return "", err
	}
	job := &Job{ID: id, Status: JobRunning, Started: r.clock.Now()}
	r.running = true
	r.last = job

	go r.run(job, recordIDs)
	return id, nil
}

// Last returns a copy of the most recent job, or false if none has run.
func (r *Runner) Last() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Job{}, false
	}
	return *r.last, true
}

// Lookup crawls one URL synchronously on a dedicated session. Rejected while
// a batch run holds the browser.
func (r *Runner) Lookup(ctx context.Context, url string) (crawler.CrawlResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return crawler.CrawlResult{}, ErrJobRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	return r.batcher.CrawlOne(ctx, crawler.TargetRecord{URL: url})
}

func (r *Runner) run(job *Job, recordIDs []string) {
	start := r.clock.Now()
	summary, err := r.execute(recordIDs)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	finished := r.clock.Now()
	job.Finished = &finished
	job.Summary = summary
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		r.logger.Error("crawl job failed", zap.String("job_id", job.ID), zap.Error(err))
	} else {
		job.Status = JobCompleted
		r.logger.Info("crawl job completed",
			zap.String("job_id", job.ID),
			zap.Int("targets", summary.Targets),
			zap.Int("success", summary.Success),
		)
	}
	telemetry.RunDuration.Observe(finished.Sub(start).Seconds())
}

func (r *Runner) execute(recordIDs []string) (JobSummary, error) {
	var summary JobSummary

	ctx := r.baseCtx
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	targets, err := r.source.Targets(ctx)
	if err != nil {
		return summary, err
	}
	targets = filterTargets(targets, recordIDs)
	summary.Targets = len(targets)
	if len(targets) == 0 {
		return summary, nil
	}

	results, err := r.batcher.CrawlAll(ctx, targets)
	if err != nil {
		return summary, err
	}

	records := MergeResults(targets, results)
	for _, rec := range records {
		switch rec.Status {
		case reconcile.StatusSuccess:
			summary.Success++
		case reconcile.StatusBroken:
			summary.Broken++
		default:
			summary.Partial++
		}
	}

	// Reconciliation runs on the base context: when the run timeout cut the
	// crawl short, the partial results still land in the sheet.
	recSummary, err := r.reconciler.Reconcile(r.baseCtx, records)
	if err != nil {
		return summary, err
	}
	summary.Updated = recSummary.Updated
	summary.Appended = recSummary.Appended
	summary.Deduped = recSummary.Deduped
	summary.Skipped = recSummary.Skipped
	return summary, nil
}

// filterTargets restricts the work list to the given record IDs; an empty
// list means the full ledger.
func filterTargets(targets []crawler.TargetRecord, recordIDs []string) []crawler.TargetRecord {
	if len(recordIDs) == 0 {
		return targets
	}
	want := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		want[id] = true
	}
	filtered := targets[:0:0]
	for _, t := range targets {
		if want[t.RecordID] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// MergeResults joins crawl results back to their ledger targets and applies
// the write policy:
//   - success carries the fresh counters;
//   - broken rows get blanked counters;
//   - a failed-but-not-broken target keeps the ledger's last known views so a
//     transient failure never erases data.
//
// The baseline falls back from the ledger's baseline column to the ledger's
// views at run start, so a row gains a baseline the first time it is seen.
func MergeResults(targets []crawler.TargetRecord, results []crawler.CrawlResult) []reconcile.Record {
	byID := make(map[string]crawler.TargetRecord, len(targets))
	for _, t := range targets {
		byID[t.RecordID] = t
	}

	records := make([]reconcile.Record, 0, len(results))
	for _, res := range results {
		target := byID[res.RecordID]

		baseline := target.ExistingBaselineViews
		if baseline == nil {
			baseline = target.ExistingViews
		}

		rec := reconcile.Record{
			RecordID:    res.RecordID,
			Link:        res.URL,
			Baseline:    baseline,
			PublishDate: res.PublishDate,
			IsBroken:    res.IsBroken,
		}
		switch {
		case res.IsBroken:
			rec.Status = reconcile.StatusBroken
		case res.Success:
			rec.Views = res.Views
			rec.Status = reconcile.StatusSuccess
			if rec.PublishDate == "" {
				rec.Status = reconcile.StatusPartial
			}
		default:
			rec.Views = target.ExistingViews
			rec.PublishDate = target.ExistingPublishDate
			rec.Status = reconcile.StatusPartial
		}
		records = append(records, rec)
	}
	return records
}
