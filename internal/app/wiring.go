package app

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dealsync/internal/catalog"
	"github.com/hitoshi/dealsync/internal/channel/telegram"
	"github.com/hitoshi/dealsync/internal/config"
	"github.com/hitoshi/dealsync/internal/dealsync"
	"github.com/hitoshi/dealsync/internal/digest"
	"github.com/hitoshi/dealsync/internal/dispatch"
	"github.com/hitoshi/dealsync/internal/metrics"
	"github.com/hitoshi/dealsync/internal/repository"
	"github.com/hitoshi/dealsync/internal/security"
	"github.com/hitoshi/dealsync/internal/targeting"
	"github.com/hitoshi/dealsync/internal/worker/cleanup"
	"github.com/hitoshi/dealsync/internal/worker/cycle"
)

// services はサブコマンドが共有するドメインサービス一式。
type services struct {
	registry     *prometheus.Registry
	recorder     *metrics.Collector
	dispatcher   *dispatch.Dispatcher
	paginator    *digest.Paginator
	orchestrator *cycle.Orchestrator
	cleanup      *cleanup.CleanupJob
}

// buildServices は設定とDB接続、Bot APIクライアントから全依存関係をワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB, bot telegram.BotAPI, logger *slog.Logger) *services {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	// 2. リポジトリ
	productRepo := repository.NewPostgresProductRepo(db)
	dealRepo := repository.NewPostgresDealRepo(db)
	recipientRepo := repository.NewPostgresRecipientRepo(db)
	preferenceRepo := repository.NewPostgresPreferenceRepo(db)
	notificationRepo := repository.NewPostgresNotificationLogRepo(db)
	digestRepo := repository.NewPostgresDigestRepo(db)

	// 3. 外部接続
	guard := security.NewURLGuard()
	catalogClient := catalog.NewClient(guard.NewSafeClient(cfg.CatalogTimeout), catalog.Config{
		BaseURL:         cfg.CatalogBaseURL,
		Cookie:          cfg.CatalogCookie,
		PageSize:        cfg.CatalogPageSize,
		MaxPages:        cfg.CatalogMaxPages,
		MaxResponseSize: cfg.CatalogMaxSize,
		Location:        cfg.Timezone,
	}, logger)
	channel := telegram.New(bot, telegram.Config{
		RatePerSecond: cfg.ChannelRatePerSec,
		Burst:         cfg.ChannelBurst,
	}, logger)

	// 4. ドメインサービス
	synchronizer := dealsync.NewSynchronizer(productRepo, dealRepo, logger)
	dispatcher := dispatch.NewDispatcher(
		channel, notificationRepo, recipientRepo, preferenceRepo, digestRepo, recorder,
		dispatch.JitterPacer{Min: cfg.NotifyMinDelay, Max: cfg.NotifyMaxDelay},
		logger,
	)
	paginator := digest.NewPaginator(
		recipientRepo, digestRepo, dispatcher,
		dispatch.FixedPacer{Delay: cfg.DigestSendDelay},
		cfg.DigestPageSize, logger,
	)

	cycleCfg := cycle.Config{
		FetchTimeout:   cfg.CatalogTimeout,
		RecipientPacer: dispatch.FixedPacer{Delay: cfg.DigestRecipientDelay},
	}
	if cfg.PushNewDeals {
		targeter := targeting.NewService(recipientRepo, preferenceRepo, logger)
		cycleCfg.Push = cycle.NewPusher(targeter, dispatcher, digestRepo, logger)
	}
	orchestrator := cycle.NewOrchestrator(
		recipientRepo, dealRepo, catalogClient, synchronizer, dispatcher, paginator,
		recorder, cycleCfg, logger,
	)

	return &services{
		registry:     registry,
		recorder:     recorder,
		dispatcher:   dispatcher,
		paginator:    paginator,
		orchestrator: orchestrator,
		cleanup:      cleanup.NewCleanupJob(db, cfg.LogRetentionDays, logger),
	}
}

// cleanupInterval は保持期間ジョブの実行間隔。
const cleanupInterval = 24 * time.Hour
