package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/relnotify/internal/config"
	"github.com/hitoshi/relnotify/internal/database"
	"github.com/hitoshi/relnotify/internal/logger"
	"github.com/hitoshi/relnotify/internal/middleware"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// 設定の読み込みに失敗した場合もinfoレベルのロガーを設定してからエラーを返す。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。ログはwに、コマンドの出力は標準出力に書き込む。
func Run(w io.Writer, args []string) error {
	return run(w, os.Stdout, args)
}

func run(logW, out io.Writer, args []string) error {
	cmd, rest, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(logW)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	log := slog.Default()

	log.Debug("starting application",
		slog.String("command", string(cmd)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == CommandMigrate {
		return runMigrate(cfg, log)
	}

	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case CommandServe:
		return runServe(ctx, c)
	case CommandRunOnce:
		return runOnce(ctx, c, out)
	case CommandSubscribe:
		return runSubscribe(ctx, c, out, rest)
	case CommandUnsubscribe:
		return runUnsubscribe(ctx, c, out, rest)
	case CommandStatus:
		return runStatus(ctx, c, out, rest)
	case CommandSearch:
		return runSearch(ctx, c, out, rest)
	default:
		return runWorker(ctx, c)
	}
}

// runServe はHTTPサーバーのみを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, c *components) error {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), c.logger)
	defer rl.Stop()

	return serveHTTP(ctx, c.router(rl), c.cfg.ServerPort, c.logger)
}

// runWorker は種別ごとの照合スケジューラとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると、実行中のサイクルの終了を待ってから停止する。
func runWorker(ctx context.Context, c *components) error {
	kinds, err := c.schedulers()
	if err != nil {
		return fmt.Errorf("failed to build schedulers: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, k := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.scheduler.Start(ctx, k.interval)
		}()
	}

	c.logger.Info("ワーカーを開始しました",
		slog.Int("schedulers", len(kinds)),
		slog.String("notify_channel", c.cfg.NotifyChannel),
		slog.Int("max_concurrent", c.cfg.MaxConcurrent),
	)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), c.logger)
	defer rl.Stop()

	err = serveHTTP(ctx, c.router(rl), c.cfg.ServerPort, c.logger)
	cancel()
	wg.Wait()

	c.logger.Info("ワーカーを停止しました")
	return err
}

// serveHTTP はctxが終了するまでHTTPサーバーを起動し、終了後にシャットダウンする。
func serveHTTP(ctx context.Context, h http.Handler, port string, log *slog.Logger) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTPサーバーを起動しました", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("HTTPサーバーを停止しています")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("マイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("マイグレーションが完了しました")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
