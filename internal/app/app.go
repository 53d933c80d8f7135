// Package app はサブコマンドの解析と依存関係のワイヤリング、各起動モードの実行を担う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/dealsync/internal/channel/telegram"
	"github.com/hitoshi/dealsync/internal/config"
	"github.com/hitoshi/dealsync/internal/database"
	"github.com/hitoshi/dealsync/internal/handler"
	"github.com/hitoshi/dealsync/internal/logger"
	"github.com/hitoshi/dealsync/internal/middleware"
	"github.com/hitoshi/dealsync/internal/worker/cycle"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込み、
// 読み込んだLOG_LEVELでロガーを再構成する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel)), nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandMigrate:
		log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
		url, err := config.LoadDatabaseURL()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(url, log)
	}

	var opts runOnceOptions
	if cmd == CommandRunOnce {
		var err error
		if opts, err = parseRunOnceArgs(args[1:], w); err != nil {
			return fmt.Errorf("invalid arguments: %w", err)
		}
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.Timezone.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	bot, err := telegram.Connect(cfg.TelegramBotToken)
	if err != nil {
		return err
	}

	svc := buildServices(cfg, db, bot, log)

	if cmd == CommandRunOnce {
		return runOnce(ctx, svc, opts, log)
	}
	return runWorker(ctx, cfg, db, svc, log)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, url string, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(url)),
	)
	return db, nil
}

// runOnce は手動サイクルを1回実行し、結果をログに出力して終了する。
func runOnce(ctx context.Context, svc *services, opts runOnceOptions, log *slog.Logger) error {
	report, err := svc.orchestrator.RunCycle(ctx, cycle.Trigger{
		Kind:     cycle.TriggerManual,
		Location: opts.Location,
	})
	if err != nil {
		return fmt.Errorf("cycle failed: %w", err)
	}

	logReport(log, report)
	return nil
}

// logReport はサイクル結果の要約を出力する。ロケーション単位の失敗は個別に出力する。
func logReport(log *slog.Logger, report *cycle.CycleReport) {
	log.Info("サイクル結果",
		slog.Int("locations", report.Locations),
		slog.Int("records_processed", report.RecordsProcessed),
		slog.Int("new_deals", report.NewDeals),
		slog.Int("expired", report.Expired),
		slog.Int("digests_sent", report.DigestsSent),
		slog.Int("pushed", report.Pushed),
		slog.Int("location_errors", len(report.LocationErrors)),
		slog.Int64("duration_ms", report.Duration.Milliseconds()),
	)
	for loc, msg := range report.LocationErrors {
		log.Warn("ロケーションの同期に失敗しました",
			slog.Int64("location_id", loc),
			slog.String("error", msg),
		)
	}
}

// runWorker はスケジューラ、HTTP API、保持期間ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(ctx context.Context, cfg *config.Config, db *sql.DB, svc *services, log *slog.Logger) error {
	scheduler, err := cycle.NewScheduler(svc.orchestrator, cfg.SyncSchedule, cfg.Timezone, cfg.RunOnStartup, log)
	if err != nil {
		return err
	}

	ctx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        log,
		HealthChecker: db,
		Gatherer:      svc.registry,
		Recorder:      svc.recorder,
		APIToken:      cfg.APIToken,
		RateLimiter:   rateLimiter,
		Cycles:        svc.orchestrator,
		Digests:       svc.paginator,
		BaseContext:   ctx,
	})

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// wait=trueの手動サイクルはサイクル完了まで応答しないため長めに取る
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.cleanup.Start(ctx, cleanupInterval)
	}()
	go func() {
		defer wg.Done()
		if err := scheduler.Start(ctx); err != nil {
			log.Error("scheduler stopped with error", slog.String("error", err.Error()))
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down worker...")
	case err := <-serverErr:
		runErr = fmt.Errorf("server listen error: %w", err)
		log.Error("server listen error", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	// サーバーエラーで抜けた場合もスケジューラとジョブを止める
	cancelJobs()
	wg.Wait()

	log.Info("worker stopped gracefully")
	return runErr
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(databaseURL string, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(databaseURL)),
	)

	version, err := database.RunMigrations(databaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
