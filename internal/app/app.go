// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kouame09/225-OS-sub000/internal/config"
	"github.com/kouame09/225-OS-sub000/internal/database"
	"github.com/kouame09/225-OS-sub000/internal/handler"
	"github.com/kouame09/225-OS-sub000/internal/logger"
	"github.com/kouame09/225-OS-sub000/internal/metrics"
	"github.com/kouame09/225-OS-sub000/internal/middleware"
	"github.com/kouame09/225-OS-sub000/internal/websocket"
	"github.com/kouame09/225-OS-sub000/internal/worker/statsync"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの上限。
	shutdownTimeout = 30 * time.Second
	// databasePingTimeout はヘルスチェック用DBの接続確認の上限。
	databasePingTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// wが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるよう、LOG_LEVELだけ先に参照する
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとキャンセルされるコンテキストでRunContextを呼ぶ。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はサブコマンドを解析し、ctxがキャンセルされるまで対応するモードで実行する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// セッション管理を開始し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	comps, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}

	if err := comps.sessions.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer comps.sessions.Stop()

	snapshots, unwatch := comps.sessions.Watch()
	defer unwatch()
	go comps.hub.Follow(ctx, snapshots)

	// DATABASE_URLが設定されていればヘルスチェックに含める
	var checker handler.HealthChecker
	if cfg.DatabaseURL != "" {
		db, err := database.OpenAndPing(ctx, cfg.DatabaseURL, databasePingTimeout)
		if err != nil {
			log.Warn("データベースに接続できないためヘルスチェックから除外します", slog.String("error", err.Error()))
		} else {
			defer db.Close()
			checker = db
		}
	}

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			Logger:       log,
		},
		RateLimiter:    rateLimiter,
		StatusRecorder: comps.collector,
		AuthService:    comps.sessions,
		ProjectService: comps.directory,
		ProfileService: comps.directory,
		HealthChecker:  checker,
		Realtime:       websocket.HandleWebSocket(comps.hub, originPatterns(cfg.CORSAllowedOrigin)),
		Metrics:        comps.metricsHandler(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "APIサーバー")
}

// runWorker はワーカーモードで起動する。
// セッションの初期状態が確定するのを待ち、統計値同期ジョブを実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	comps, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}

	if err := comps.sessions.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer comps.sessions.Stop()

	if err := comps.sessions.WaitInitialized(ctx); err != nil {
		// 初期化前に停止を要求された
		return nil
	}
	if !comps.sessions.Snapshot().Authenticated() {
		log.Warn("サインインしていないため統計値の保存は拒否されます")
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(comps.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, metricsServer, "ワーカーメトリクス"); err != nil {
			log.Error("メトリクスサーバーの起動に失敗しました", slog.String("error", err.Error()))
		}
	}()

	job := statsync.NewJob(comps.directory, comps.directory, comps.collector, log, statsync.Config{
		Interval:       cfg.StatsSyncInterval,
		MaxConcurrency: cfg.StatsSyncConcurrency,
	})

	// 同期ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	log.Info("ワーカーを停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました",
		slog.Uint64("version", uint64(res.After)),
	)
	return nil
}

// serveUntilDone はserverを起動し、ctxがキャンセルされるとシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+"を起動しました", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s stopped: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info(name + "を停止しています")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-errCh
	slog.Info(name + "を停止しました")
	return nil
}

// rateLimiterConfig はreq/min単位の設定をreq/secに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
	rl.AuthBurst = cfg.RateLimitAuth
	return rl
}

// originPatterns はCORSの許可オリジンからWebSocketのオリジンパターンを導出する。
func originPatterns(allowedOrigin string) []string {
	if allowedOrigin == "" {
		return nil
	}
	u, err := url.Parse(allowedOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
