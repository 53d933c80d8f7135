// Package handler はHTTP APIのルーティングとハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/dealsync/internal/metrics"
	"github.com/hitoshi/dealsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
	Recorder      metrics.Recorder

	// APITokenが空の場合、/api配下のルートは登録しない
	APIToken    string
	RateLimiter *middleware.RateLimiter

	Cycles      CycleRunner
	Digests     DigestContinuer
	BaseContext context.Context
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders
//	/api/*: APIKey → RateLimit
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Recorder))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger).Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	if deps.APIToken == "" {
		deps.Logger.Warn("API_TOKENが未設定のため/apiエンドポイントを無効化します")
		return r
	}

	cycleHandler := NewCycleHandler(deps.Cycles, deps.BaseContext, deps.Logger)
	digestHandler := NewDigestHandler(deps.Digests, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.APIToken))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Post("/cycles", cycleHandler.TriggerCycle)
		r.Post("/recipients/{id}/digest", digestHandler.ContinueDigest)
	})

	return r
}
