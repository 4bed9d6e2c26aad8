package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/relnotify/internal/config"
	"github.com/hitoshi/relnotify/internal/database"
	"github.com/hitoshi/relnotify/internal/handler"
	"github.com/hitoshi/relnotify/internal/metrics"
	"github.com/hitoshi/relnotify/internal/middleware"
	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/notify"
	"github.com/hitoshi/relnotify/internal/repository"
	"github.com/hitoshi/relnotify/internal/source"
	"github.com/hitoshi/relnotify/internal/source/mangaupdates"
	"github.com/hitoshi/relnotify/internal/source/shikimori"
	"github.com/hitoshi/relnotify/internal/subscription"
	"github.com/hitoshi/relnotify/internal/worker/reconcile"
)

// components はコマンド間で共有する依存関係。
type components struct {
	cfg    *config.Config
	logger *slog.Logger

	db           *database.DB
	entityRepo   *repository.SQLEntityRepo
	subRepo      *repository.SQLSubscriptionRepo
	claimRepo    *repository.SQLClaimRepo
	sources      *source.Registry
	subService   *subscription.Service
	promRegistry *prometheus.Registry
	collector    *metrics.Collector
}

// scheduledKind は種別ごとのスケジューラと実行間隔。
type scheduledKind struct {
	kind      model.Kind
	scheduler *reconcile.Scheduler
	interval  time.Duration
}

// buildComponents はDB接続を開き、リポジトリ、外部ソース、サービスを初期化する。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	db, err := database.OpenWithLockTimeout(cfg.DatabaseURL, cfg.ClaimTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("データベースに接続しました", slog.String("dialect", string(db.Dialect)))

	c := &components{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		entityRepo: repository.NewSQLEntityRepo(db),
		subRepo:    repository.NewSQLSubscriptionRepo(db),
		claimRepo:  repository.NewSQLClaimRepo(db, cfg.ClaimTimeout),
		sources:    buildSources(cfg, logger),
	}

	c.promRegistry = prometheus.NewRegistry()
	c.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.collector = metrics.NewCollector(c.promRegistry)

	c.subService = subscription.NewService(
		repository.NewSQLUserRepo(db),
		c.entityRepo,
		c.subRepo,
		c.sources,
		logger,
		cfg.FetchTimeout,
	)

	return c, nil
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	return c.db.Close()
}

// buildSources は種別ごとの外部ソースを登録したRegistryを返す。
// 外部ソースごとにHTTPクライアントを分け、レート制限を独立させる。
func buildSources(cfg *config.Config, logger *slog.Logger) *source.Registry {
	registry := source.NewRegistry()

	animeHTTP := source.NewHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}, cfg.ShikimoriRatePerSec, logger)
	registry.Register(model.KindAnime, shikimori.NewClient(animeHTTP, cfg.ShikimoriURL))

	mangaHTTP := source.NewHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}, cfg.MangaUpdatesRatePerSec, logger)
	if cfg.MangaSource == config.MangaSourceRSS {
		registry.Register(model.KindManga, mangaupdates.NewRSSClient(mangaHTTP, cfg.MangaUpdatesURL))
	} else {
		registry.Register(model.KindManga, mangaupdates.NewClient(mangaHTTP, cfg.MangaUpdatesURL))
	}

	return registry
}

// buildSender は通知チャネルに応じたSenderを返す。
func buildSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	if cfg.NotifyChannel == config.ChannelLog {
		return notify.NewLogSender(logger), nil
	}
	return notify.NewTelegramSender(notify.TelegramConfig{
		Token:   cfg.TelegramBotToken,
		APIURL:  cfg.TelegramAPIURL,
		Timeout: cfg.DeliveryTimeout,
	})
}

// schedulers は有効な種別ごとのスケジューラを生成する。
func (c *components) schedulers() ([]scheduledKind, error) {
	sender, err := buildSender(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}

	dispatcher := notify.NewDispatcher(sender, c.cfg.TelegramRatePerSec, c.cfg.DeliveryTimeout, c.collector, c.logger)
	reconciler := reconcile.NewReconciler(
		c.sources, c.claimRepo, c.subRepo, dispatcher,
		c.collector, c.logger, c.cfg.FetchTimeout, c.cfg.Location,
	)

	kinds := []struct {
		kind      model.Kind
		enabled   bool
		interval  time.Duration
		notBefore time.Duration
	}{
		{model.KindAnime, c.cfg.AnimeEnabled, c.cfg.AnimeInterval, c.cfg.AnimeNotBefore},
		{model.KindManga, c.cfg.MangaEnabled, c.cfg.MangaInterval, c.cfg.MangaNotBefore},
	}

	var out []scheduledKind
	for _, k := range kinds {
		if !k.enabled {
			continue
		}
		scheduler := reconcile.NewScheduler(k.kind, c.entityRepo, reconciler, c.collector, c.logger,
			reconcile.SchedulerConfig{
				MaxConcurrency: c.cfg.MaxConcurrent,
				NotBefore:      k.notBefore,
				Location:       c.cfg.Location,
			})
		out = append(out, scheduledKind{kind: k.kind, scheduler: scheduler, interval: k.interval})
	}
	return out, nil
}

// router はHTTPルーターを生成する。rlは呼び出し側で停止する。
func (c *components) router(rl *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		HealthChecker:       c.db,
		Gatherer:            c.promRegistry,
		SubscriptionService: c.subService,
		RateLimiter:         rl,
		Logger:              c.logger,
	})
}
