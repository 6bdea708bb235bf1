// Package session owns the headless browser lifecycle: launch profiles,
// stealth configuration, page loads with one-pass state capture, bounded
// teardown, and the crash counters the engine's retry policy reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/clipmetrics/viewtracker/internal/crawler"
	"github.com/clipmetrics/viewtracker/internal/telemetry"
)

// ErrNotStarted indicates Load was called before Start.
var ErrNotStarted = errors.New("session not started")

// Config holds the browser-level knobs, decoupled from Viper.
type Config struct {
	NavTimeout    time.Duration
	WaitAfterLoad time.Duration
	CloseTimeout  time.Duration
	WindowWidth   int
	WindowHeight  int
	Timezone      string
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.WaitAfterLoad <= 0 {
		c.WaitAfterLoad = 2500 * time.Millisecond
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 15 * time.Second
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth = 1920
		c.WindowHeight = 1080
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Ho_Chi_Minh"
	}
	return c
}

// Manager is the chromedp-backed implementation of crawler.Session. It is not
// safe for concurrent use; the crawl pipeline is sequential by design.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	kind      crawler.EngineKind
	userAgent string
	started   bool

	videosSinceRestart int
	consecutiveCrashes int
	totalCrashes       int
}

// NewManager builds an unstarted Manager; the engine launches it lazily.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg.withDefaults(), logger: logger}
}

// Start launches a fresh browser under the given profile, tearing down any
// previous one first. The since-restart counter resets; the crash counter
// survives restarts so the crash-loop breaker can see across them.
func (m *Manager) Start(ctx context.Context, kind crawler.EngineKind) error {
	if m.started {
		m.Close()
	}

	m.userAgent = pickUserAgent(kind)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
		chromedp.UserAgent(m.userAgent),
	)
	if kind == crawler.EngineCompat {
		// The compat profile runs the legacy headless mode, which presents a
		// measurably different fingerprint to bot-detection scripts.
		opts = append(opts, chromedp.Flag("headless", "old"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	warmupCtx, cancelWarmup := context.WithTimeout(browserCtx, m.cfg.NavTimeout)
	defer cancelWarmup()
	if err := chromedp.Run(warmupCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser warmup: %w", err)
	}
	if ctx.Err() != nil {
		browserCancel()
		allocCancel()
		return ctx.Err()
	}

	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.kind = kind
	m.started = true
	m.videosSinceRestart = 0

	telemetry.SessionRestarts.WithLabelValues(string(kind)).Inc()
	m.logger.Info("browser session started",
		zap.String("engine", string(kind)),
		zap.String("user_agent", m.userAgent),
	)
	return nil
}

// pageCapture mirrors the object snapshotJS builds in the page.
type pageCapture struct {
	Title         string `json:"title"`
	UniversalData string `json:"universalData"`
	SigiState     string `json:"sigiState"`
	NextData      string `json:"nextData"`
	ViewsText     string `json:"viewsText"`
	HTML          string `json:"html"`
}

// snapshotJS pulls everything the extraction chain needs in one evaluation:
// the embedded state scripts, the visible view-count node, and the raw markup.
const snapshotJS = `(() => {
    const byID = (id) => {
        const el = document.getElementById(id);
        return el && el.textContent ? el.textContent : '';
    };
    let viewsText = '';
    const selectors = [
        'strong[data-e2e="video-views"]',
        '[data-e2e="video-views"]',
        '[data-e2e="browse-video-views"]',
    ];
    for (const sel of selectors) {
        const el = document.querySelector(sel);
        if (el && el.textContent) { viewsText = el.textContent.trim(); break; }
    }
    return {
        title: document.title || '',
        universalData: byID('__UNIVERSAL_DATA_FOR_REHYDRATION__'),
        sigiState: byID('SIGI_STATE'),
        nextData: byID('__NEXT_DATA__'),
        viewsText: viewsText,
        html: document.documentElement ? document.documentElement.outerHTML : '',
    };
})()`

// Load opens the URL in a fresh tab, waits for the page to settle, and
// captures a snapshot in a single evaluation pass.
func (m *Manager) Load(ctx context.Context, rawURL string) (crawler.PageSnapshot, error) {
	if !m.started {
		return crawler.PageSnapshot{}, ErrNotStarted
	}

	tabCtx, cancelTab := chromedp.NewContext(m.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, m.cfg.NavTimeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var capture pageCapture
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(m.userAgent),
		emulation.SetTimezoneOverride(m.cfg.Timezone),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Embedded state scripts hydrate shortly after the body is ready.
		chromedp.Sleep(m.cfg.WaitAfterLoad),
		chromedp.Evaluate(snapshotJS, &capture),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return crawler.PageSnapshot{}, fmt.Errorf("load %s: %w", rawURL, err)
	}

	return crawler.PageSnapshot{
		URL:           rawURL,
		Title:         capture.Title,
		UniversalData: capture.UniversalData,
		SigiState:     capture.SigiState,
		NextData:      capture.NextData,
		HTML:          capture.HTML,
		ViewsText:     capture.ViewsText,
	}, nil
}

// Close tears the browser down, waiting up to CloseTimeout for a clean exit
// before force-dropping the contexts. Either way the OS memory is handed back;
// Chrome teardown leaves a large freed heap behind.
func (m *Manager) Close() {
	if !m.started {
		return
	}
	m.started = false

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = chromedp.Cancel(m.browserCtx)
	}()

	timer := time.NewTimer(m.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("browser close timed out, force dropping",
			zap.Duration("timeout", m.cfg.CloseTimeout),
		)
	}
	m.browserCancel()
	m.allocCancel()
	m.browserCtx = nil
	m.logger.Info("browser session closed",
		zap.Int("videos_since_restart", m.videosSinceRestart),
		zap.Int("total_crashes", m.totalCrashes),
	)
	debug.FreeOSMemory()
}

// Started reports whether a browser is currently up.
func (m *Manager) Started() bool { return m.started }

// Kind returns the active launch profile, defaulting to the primary one
// before the first Start.
func (m *Manager) Kind() crawler.EngineKind {
	if m.kind == "" {
		return crawler.EngineChromium
	}
	return m.kind
}

// VideosSinceRestart returns pages loaded successfully since the last launch.
func (m *Manager) VideosSinceRestart() int { return m.videosSinceRestart }

// ConsecutiveCrashes returns the current crash streak.
func (m *Manager) ConsecutiveCrashes() int { return m.consecutiveCrashes }

// RecordCrash extends the crash streak. The lifetime total survives restarts
// and streak resets; it is reported when the session closes.
func (m *Manager) RecordCrash() {
	m.consecutiveCrashes++
	m.totalCrashes++
}

// TotalCrashes returns the lifetime crash count across all restarts.
func (m *Manager) TotalCrashes() int { return m.totalCrashes }

// RecordSuccess bumps the restart counter and ends any crash streak.
func (m *Manager) RecordSuccess() {
	m.videosSinceRestart++
	m.consecutiveCrashes = 0
}

// ResetCrashes clears the crash streak after the breaker skips a target.
func (m *Manager) ResetCrashes() { m.consecutiveCrashes = 0 }

// forwardCancel propagates the caller's cancellation into the chromedp task
// context, which otherwise only observes its own timeout.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
