// Package crawler implements the resilient crawl engine: URL validation,
// the multi-strategy metrics extraction chain, failure classification, the
// per-URL state machine, and the batch orchestrator that drives it.
package crawler

import (
	"context"
	"time"
)

// ErrorClass partitions per-URL failures into the retry taxonomy.
type ErrorClass string

// Failure classes carried on CrawlResult.
const (
	ErrNone             ErrorClass = "none"
	ErrInvalidURL       ErrorClass = "invalid_url"
	ErrTimeout          ErrorClass = "timeout"
	ErrSessionCrash     ErrorClass = "session_crash"
	ErrNotFound         ErrorClass = "not_found"
	ErrExtractionFailed ErrorClass = "extraction_failed"
)

// EngineKind selects the browser launch profile. EngineCompat is a second,
// differently-fingerprinted profile used only during the end-of-run retry
// wave; some targets that reject the default profile load under it.
type EngineKind string

// Supported launch profiles.
const (
	EngineChromium EngineKind = "chromium"
	EngineCompat   EngineKind = "chromium-compat"
)

// TargetRecord is one unit of crawl work, produced from a ledger snapshot at
// the start of a run and immutable for the run's duration.
type TargetRecord struct {
	RecordID              string
	URL                   string
	ExistingPublishDate   string
	ExistingViews         *int64
	ExistingBaselineViews *int64
}

// Metrics are the engagement counters pulled out of a loaded video page.
type Metrics struct {
	Views       int64
	Likes       int64
	Comments    int64
	Shares      int64
	PublishDate string
}

// CrawlResult is the outcome of crawling one URL. Numeric fields are nil when
// unknown or cleared, which is distinct from zero. IsBroken true implies
// Views is nil: a broken link never carries stale numbers forward.
type CrawlResult struct {
	URL         string
	RecordID    string
	Success     bool
	Views       *int64
	Likes       *int64
	Comments    *int64
	Shares      *int64
	PublishDate string
	IsBroken    bool
	ErrorClass  ErrorClass
	ErrorText   string
}

// PageSnapshot is everything the session manager captures from a loaded page
// in a single pass, so the extraction chain can run without further browser
// round trips.
type PageSnapshot struct {
	URL           string
	Title         string
	UniversalData string
	SigiState     string
	NextData      string
	HTML          string
	ViewsText     string
}

// Session is the browser session owned by the engine for the duration of a
// batch. Implemented by session.Manager; tests inject fakes.
type Session interface {
	Start(ctx context.Context, kind EngineKind) error
	Load(ctx context.Context, url string) (PageSnapshot, error)
	Close()
	Started() bool
	Kind() EngineKind
	VideosSinceRestart() int
	ConsecutiveCrashes() int
	RecordCrash()
	RecordSuccess()
	ResetCrashes()
}

// Config holds the knobs for the crawl engine and orchestrator. It is
// decoupled from Viper so the engine can be constructed directly in tests.
type Config struct {
	MaxRetries       int
	CrashBudget      int
	RestartEvery     int
	DelayMin         time.Duration
	DelayMax         time.Duration
	MinYear          int
	MaxYear          int
	GCEvery          int
	ProgressEvery    int
	RetryFailedAtEnd bool
	UseCompatRetry   bool
}

// withDefaults fills zero values with the production defaults.
func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.CrashBudget <= 0 {
		c.CrashBudget = 3
	}
	if c.RestartEvery <= 0 {
		c.RestartEvery = 75
	}
	if c.DelayMax <= 0 {
		c.DelayMin = 2 * time.Second
		c.DelayMax = 4 * time.Second
	}
	if c.MinYear <= 0 {
		c.MinYear = 2016
	}
	if c.MaxYear <= 0 {
		c.MaxYear = 2030
	}
	if c.GCEvery <= 0 {
		c.GCEvery = 50
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 25
	}
	return c
}
