package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kouame09/225-OS-sub000/internal/approval"
	"github.com/kouame09/225-OS-sub000/internal/auth"
	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/config"
	"github.com/kouame09/225-OS-sub000/internal/credstore"
	"github.com/kouame09/225-OS-sub000/internal/directory"
	"github.com/kouame09/225-OS-sub000/internal/github"
	"github.com/kouame09/225-OS-sub000/internal/metrics"
	"github.com/kouame09/225-OS-sub000/internal/model"
	"github.com/kouame09/225-OS-sub000/internal/notify"
	"github.com/kouame09/225-OS-sub000/internal/security"
	"github.com/kouame09/225-OS-sub000/internal/session"
	"github.com/kouame09/225-OS-sub000/internal/token"
	"github.com/kouame09/225-OS-sub000/internal/websocket"
)

// outboundTimeout はリポジトリホストへの呼び出しのタイムアウト。
const outboundTimeout = 10 * time.Second

// components はserveとworkerで共有する依存関係。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	store     *credstore.FileStore
	backend   *backend.Client
	auth      *auth.Client
	tokens    *token.Resolver
	sessions  *session.Manager
	gate      *approval.Gate
	directory *directory.Service
	hub       *websocket.Hub
}

// buildComponents は設定から全コンポーネントを生成し、承認チェックをセッション管理に登録する。
func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	store, err := credstore.OpenFileStore(cfg.CredentialStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	api := backend.NewClient(backend.Config{
		BaseURL:  cfg.BackendURL,
		AnonKey:  cfg.BackendAnonKey,
		Recorder: collector,
		Logger:   logger,
	})
	authClient := auth.NewClient(api, store, logger)
	resolver := token.NewResolver(store, credstore.DefaultPrefix, authClient, cfg.TokenTimeout, logger)

	hub := websocket.NewHub(logger)
	notifier := notify.Multi(notify.NewLogSink(logger), hub)

	manager := session.NewManager(authClient, store, session.Config{
		BootTimeout:    cfg.SessionBootTimeout,
		SignOutTimeout: cfg.SignOutTimeout,
		Prefix:         credstore.DefaultPrefix,
		SiteURL:        cfg.BaseURL,
		Notifier:       notifier,
		Recorder:       collector,
		Logger:         logger,
	})

	guard := security.NewURLGuard()
	repoHost := github.NewClient(guard.NewSafeClient(outboundTimeout), logger, github.Config{
		Endpoint: cfg.GitHubAPIURL,
		Token:    cfg.GitHubToken,
	})

	dir := directory.NewService(directory.Config{
		Backend: api,
		Tokens:  resolver,
		URLs:    guard,
		Text:    security.NewTextSanitizer(),
		Stats:   repoHost,
		Bucket:  cfg.StorageBucket,
		Logger:  logger,
	})

	gate := approval.NewGate(dir, manager, notifier, collector, logger)
	manager.UseApprovalGate(func(ctx context.Context, user model.User) {
		gate.Check(ctx, user)
	})

	return &components{
		registry:  registry,
		collector: collector,
		store:     store,
		backend:   api,
		auth:      authClient,
		tokens:    resolver,
		sessions:  manager,
		gate:      gate,
		directory: dir,
		hub:       hub,
	}, nil
}

// metricsHandler は/metricsのハンドラーを返す。
func (c *components) metricsHandler() http.Handler {
	return metrics.Handler(c.registry)
}
