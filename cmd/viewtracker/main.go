// Command viewtracker serves the video tracking service: an HTTP surface that
// triggers crawl-and-reconcile runs over the ledger's video list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/clipmetrics/viewtracker/internal/api"
	"github.com/clipmetrics/viewtracker/internal/app"
	"github.com/clipmetrics/viewtracker/internal/clock/system"
	"github.com/clipmetrics/viewtracker/internal/config"
	"github.com/clipmetrics/viewtracker/internal/crawler"
	"github.com/clipmetrics/viewtracker/internal/id/uuid"
	"github.com/clipmetrics/viewtracker/internal/ledger"
	"github.com/clipmetrics/viewtracker/internal/logging"
	"github.com/clipmetrics/viewtracker/internal/reconcile"
	"github.com/clipmetrics/viewtracker/internal/session"
	"github.com/clipmetrics/viewtracker/internal/sink"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "viewtracker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crawlCfg := crawler.Config{
		MaxRetries:       cfg.Crawler.MaxRetries,
		CrashBudget:      cfg.Crawler.CrashBudget,
		RestartEvery:     cfg.Crawler.RestartEvery,
		DelayMin:         cfg.Crawler.DelayMin(),
		DelayMax:         cfg.Crawler.DelayMax(),
		MinYear:          cfg.Crawler.MinYear,
		MaxYear:          cfg.Crawler.MaxYear,
		GCEvery:          cfg.Crawler.GCEvery,
		ProgressEvery:    cfg.Crawler.ProgressEvery,
		RetryFailedAtEnd: cfg.Crawler.RetryFailedAtEnd,
		UseCompatRetry:   cfg.Crawler.UseCompatRetry,
	}
	sess := session.NewManager(session.Config{
		NavTimeout:    time.Duration(cfg.Session.NavTimeoutSec) * time.Second,
		WaitAfterLoad: time.Duration(cfg.Session.WaitAfterLoadMs) * time.Millisecond,
		CloseTimeout:  time.Duration(cfg.Session.CloseTimeoutSec) * time.Second,
		WindowWidth:   cfg.Session.WindowWidth,
		WindowHeight:  cfg.Session.WindowHeight,
		Timezone:      cfg.Session.Timezone,
	}, logger.Named("session"))
	engine := crawler.NewEngine(sess, crawlCfg, logger.Named("engine"))
	orchestrator := crawler.NewOrchestrator(engine, sess, crawlCfg, logger.Named("orchestrator"))

	source := ledger.NewClient(ledger.Config{
		BaseURL:   cfg.Ledger.BaseURL,
		AppID:     cfg.Ledger.AppID,
		AppSecret: cfg.Ledger.AppSecret,
		AppToken:  cfg.Ledger.AppToken,
		TableID:   cfg.Ledger.TableID,
		PageSize:  cfg.Ledger.PageSize,
		Timeout:   time.Duration(cfg.Ledger.TimeoutSec) * time.Second,
	}, logger.Named("ledger"))

	var sheetOpts []option.ClientOption
	if cfg.Sheet.CredentialsFile != "" {
		sheetOpts = append(sheetOpts, option.WithCredentialsFile(cfg.Sheet.CredentialsFile))
	}
	store, err := sink.NewSheetStore(ctx, cfg.Sheet.SpreadsheetID, cfg.Sheet.SheetName, logger.Named("sink"), sheetOpts...)
	if err != nil {
		return fmt.Errorf("build sheet store: %w", err)
	}
	reconciler := reconcile.New(store, reconcile.Config{
		WriteInterval: time.Duration(cfg.Reconcile.WriteIntervalMs) * time.Millisecond,
		QuotaCooldown: time.Duration(cfg.Reconcile.QuotaCooldownSec) * time.Second,
	}, logger.Named("reconcile"))

	runner := app.NewRunner(ctx, source, orchestrator, reconciler, system.New(), uuid.NewGenerator(), logger.Named("runner"))
	if cfg.Crawler.RunTimeoutMin > 0 {
		runner.SetRunTimeout(time.Duration(cfg.Crawler.RunTimeoutMin) * time.Minute)
	}
	server := api.NewServer(runner, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
