// Package reconcile writes a finished crawl pass into the tracking sheet:
// updates rows in place by record ID, appends rows for records the sheet has
// never seen, enforces the broken-link blanking rule, and removes duplicate
// rows. A pass is idempotent; re-running it with the same inputs changes
// nothing but the last-check timestamps.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipmetrics/viewtracker/internal/crawler"
	"github.com/clipmetrics/viewtracker/internal/sink"
	"github.com/clipmetrics/viewtracker/internal/telemetry"
)

// Row statuses written to the sheet's status column.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusBroken  = "broken"
)

// Record is one reconciliation unit, already merged from the ledger snapshot
// and the crawl result by the run driver.
type Record struct {
	RecordID    string
	Link        string
	Views       *int64
	Baseline    *int64
	PublishDate string
	Status      string
	IsBroken    bool
}

// Config holds the write-pacing knobs.
type Config struct {
	// WriteInterval spaces sheet writes; the API enforces a per-minute quota.
	WriteInterval time.Duration
	// QuotaCooldown is the wait before the single retry after a quota hit.
	QuotaCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteInterval <= 0 {
		c.WriteInterval = 1200 * time.Millisecond
	}
	if c.QuotaCooldown <= 0 {
		c.QuotaCooldown = time.Minute
	}
	return c
}

// Reconciler owns one sheet and serializes all writes to it.
type Reconciler struct {
	store   sink.Store
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

// New builds a Reconciler over the given store.
func New(store sink.Store, cfg Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Reconciler{
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.WriteInterval), 1),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Summary reports what a reconciliation pass did.
type Summary struct {
	Updated  int
	Appended int
	Skipped  int
	Deduped  int
}

// Reconcile writes every record into the sheet, then removes duplicate rows.
// The sheet index is read once up front; all row targeting during the pass
// uses that snapshot. Individual write failures are logged and skipped, never
// fatal; only a failed initial read or a dead context aborts the pass.
func (r *Reconciler) Reconcile(ctx context.Context, records []Record) (Summary, error) {
	var summary Summary

	index, err := r.store.ReadIndex(ctx)
	if err != nil {
		return summary, fmt.Errorf("read sheet index: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if rec.RecordID == "" {
			continue
		}

		ref, exists := index[rec.RecordID]
		out := r.renderRow(rec, ref.PublishDate)

		var writeErr error
		if exists {
			writeErr = r.writeWithRetry(ctx, func() error {
				return r.store.UpdateRow(ctx, ref.Row, out)
			})
			if writeErr == nil {
				summary.Updated++
			}
		} else {
			writeErr = r.writeWithRetry(ctx, func() error {
				return r.store.AppendRow(ctx, out)
			})
			if writeErr == nil {
				summary.Appended++
			}
		}
		if writeErr != nil {
			summary.Skipped++
			r.logger.Error("sheet write skipped",
				zap.String("record_id", rec.RecordID),
				zap.Error(writeErr),
			)
		}
	}

	deduped, err := r.dedupe(ctx)
	if err != nil {
		return summary, err
	}
	summary.Deduped = deduped
	return summary, nil
}

const firstDataRow = 2

// renderRow produces the sheet cells for one record. Broken links get blank
// metric and date cells: stale data must never survive on a row marked
// broken. For live rows the publish date keeps the first valid value ever
// seen: a valid cell already on the sheet is never overwritten, and the
// incoming date only fills a blank or malformed cell.
func (r *Reconciler) renderRow(rec Record, existingDate string) sink.Row {
	out := sink.Row{
		RecordID:  rec.RecordID,
		Link:      rec.Link,
		LastCheck: r.now().Format("2006-01-02 15:04:05"),
		Status:    rec.Status,
	}
	if rec.IsBroken {
		out.Status = StatusBroken
		return out
	}

	out.Views = formatCount(rec.Views)
	out.Baseline = formatCount(rec.Baseline)
	switch {
	case crawler.IsValidDate(existingDate):
		out.PublishDate = existingDate
	case crawler.IsValidDate(rec.PublishDate):
		out.PublishDate = rec.PublishDate
	}
	return out
}

// writeWithRetry paces the write through the limiter; a quota rejection gets
// one cooldown-and-retry before the write is given up.
func (r *Reconciler) writeWithRetry(ctx context.Context, write func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	err := write()
	if err == nil || !sink.IsQuotaError(err) {
		return err
	}

	telemetry.SinkQuotaHits.Inc()
	r.logger.Warn("sheet quota hit, cooling down",
		zap.Duration("cooldown", r.cfg.QuotaCooldown),
	)
	r.sleep(ctx, r.cfg.QuotaCooldown)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return write()
}

// dedupe re-reads the sheet and deletes every duplicate record ID row,
// keeping the first occurrence. Deletion runs bottom-up so earlier row
// numbers stay valid as rows shift.
func (r *Reconciler) dedupe(ctx context.Context) (int, error) {
	rows, err := r.store.Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("read sheet for dedup: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	var dupes []int
	for i, row := range rows {
		if row.RecordID == "" {
			continue
		}
		if seen[row.RecordID] {
			dupes = append(dupes, firstDataRow+i)
			continue
		}
		seen[row.RecordID] = true
	}
	if len(dupes) == 0 {
		return 0, nil
	}

	sort.Sort(sort.Reverse(sort.IntSlice(dupes)))
	deleted := 0
	for _, rowNum := range dupes {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		err := r.writeWithRetry(ctx, func() error {
			return r.store.DeleteRow(ctx, rowNum)
		})
		if err != nil {
			r.logger.Error("duplicate row delete skipped",
				zap.Int("row", rowNum),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		r.logger.Info("duplicate rows removed", zap.Int("count", deleted))
	}
	return deleted, nil
}

func formatCount(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
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
