// Package handler はHTTP APIのルーティングとハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/musicjunkieg/ideal-telegram/internal/metrics"
	"github.com/musicjunkieg/ideal-telegram/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	Runner AnalysisRunner
	DB     DBPinger
	Scorer ScorerHealthChecker

	// Prometheusスクレイプ用。nilの場合は/metricsを公開しない。
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → RateLimit(General)
//
// /healthzと/metricsはレート制限の外に配置する（監視系からの定期アクセスを妨げない）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.DB, deps.Scorer)
	analysisHandler := NewAnalysisHandler(deps.Runner)

	// --- 運用系ルート（レート制限なし） ---

	r.Get("/healthz", healthHandler.Healthz)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---
	// 分析実行は外部APIへのリクエスト増幅が大きいため専用レート制限を追加する
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/analysis", func(r chi.Router) {
			r.With(deps.RateLimiter.AnalysisRunMiddleware()).Post("/run", analysisHandler.RunAnalysis)
		})
	})

	return r
}
