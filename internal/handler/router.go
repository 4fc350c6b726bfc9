package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/metrics"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIToken          string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 制御・履歴
	ControlService ControlServiceInterface
	Outreach       OutreachHistoryInterface
	Activity       ActivityHistoryInterface

	// メトリクス
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → SecurityHeaders → CORSMiddleware → LoggingMiddleware
//	→ AuthMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// ヘルスチェック（/health）とメトリクス（/metrics）は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	controlHandler := NewControlHandler(deps.ControlService, deps.Outreach, deps.Activity)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, statusResponse{Status: "ok"})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 接続（認証情報の登録とログイン）
		r.Post("/api/connect", controlHandler.Connect)

		// 監視制御
		r.Route("/api/monitor", func(r chi.Router) {
			r.Post("/start", controlHandler.StartMonitoring)
			r.Post("/stop", controlHandler.StopMonitoring)
			r.Get("/status", controlHandler.MonitorStatus)
		})

		// POST /api/test-dm - テストDM送信（送信専用レート制限を追加）
		r.With(deps.RateLimiter.TestDMMiddleware()).Post("/api/test-dm", controlHandler.SendTestDM)

		// 履歴参照
		r.Get("/api/outreach", controlHandler.ListOutreach)
		r.Get("/api/activity", controlHandler.ListActivity)
	})

	return r
}
