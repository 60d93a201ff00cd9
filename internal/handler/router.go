package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kouame09/225-OS-sub000/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// セッション
	AuthService AuthService

	// データアクセス
	ProjectService ProjectService
	ProfileService ProfileService

	// 付帯エンドポイント。nilの場合はルートを登録しない
	HealthChecker HealthChecker
	Realtime      http.Handler
	Metrics       http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → CSRF → RateLimit(General)
//
// /health と /metrics はチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/health", NewHealthHandler(deps.AuthService, deps.HealthChecker, logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	projectHandler := NewProjectHandler(deps.ProjectService, logger)
	authHandler := NewAuthHandler(deps.AuthService, projectHandler.ResetMine)
	profileHandler := NewProfileHandler(deps.ProfileService)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewSessionMiddleware(deps.AuthService))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 認証ルート（認証専用レート制限を追加）
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/login", authHandler.Login)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/reset", authHandler.ResetPassword)
				r.Post("/callback", authHandler.OAuthCallback)
			})
			r.Get("/oauth/github", authHandler.OAuthLogin("github"))
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Get("/state", authHandler.State)
		})

		// プロジェクト
		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", projectHandler.List)
			r.With(middleware.RequireSession).Post("/", projectHandler.Create)
			r.Get("/slug/{slug}", projectHandler.GetBySlug)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.With(middleware.RequireSession).Patch("/", projectHandler.Update)
				r.With(middleware.RequireSession).Delete("/", projectHandler.Delete)
				r.With(middleware.RequireSession).Post("/sync", projectHandler.Sync)
			})
		})

		// メンバー
		r.Get("/api/talents", profileHandler.Talents)
		r.Get("/api/profiles/{id}", profileHandler.Get)

		// サインイン中のユーザー
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)
			r.Get("/api/me/projects", projectHandler.ListMine)
			r.Patch("/api/profiles/me", profileHandler.UpdateMe)
			r.Post("/api/uploads", profileHandler.Upload)
		})

		if deps.Realtime != nil {
			r.Method(http.MethodGet, "/ws", deps.Realtime)
		}
	})

	return r
}
