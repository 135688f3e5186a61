package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/crmdesk/internal/metrics"
	"github.com/hitoshi/crmdesk/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はストアの疎通確認を行うインターフェース。
// *sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	Logger            *slog.Logger
	CORSAllowedOrigin string // カンマ区切りで複数指定可
	RateLimiter       *middleware.RateLimiter
	HSTS              bool // trueの場合 Strict-Transport-Security を付与する

	// メトリクス
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 顧客
	ClientService ClientServiceInterface

	// nilの場合、/health は常に200を返す（インメモリストア）
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Metrics → Logging → Recovery → SecurityHeaders → CORS
//
// 保護ルートには更に SessionGate → RateLimit(General) → RateLimit(Mutation) を適用する。
// APIルートはルート直下と /api/v1 配下の両方にマウントする。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	// パニック時のステータスも記録するため、Metrics と Logging は Recovery の外側に置く
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, collector)
	clientHandler := NewClientHandler(deps.ClientService, collector)
	gate := middleware.NewSessionGate(deps.TokenVerifier, collector)

	api := func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// --- 認証不要のルート ---
			r.Post("/login-callback", authHandler.LoginCallback)
			r.Post("/google/callback", authHandler.LoginCallback)
			r.Post("/logout", authHandler.Logout)

			// ミドルウェアスタック: SessionGate → RateLimit(General)
			r.With(gate, deps.RateLimiter.GeneralMiddleware()).Get("/protected", authHandler.Protected)
		})

		// 顧客管理
		// ミドルウェアスタック: SessionGate → RateLimit(General) → RateLimit(Mutation)
		r.Route("/clients", func(r chi.Router) {
			r.Use(gate)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(deps.RateLimiter.MutationMiddleware())

			r.Get("/", clientHandler.List)
			r.Post("/", clientHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", clientHandler.Get)
				r.Put("/", clientHandler.Update)
				r.Delete("/", clientHandler.Delete)
			})
		})
	}

	api(r)
	r.Route("/api/v1", api)

	// --- 運用ルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, messageResponse{Message: "crmdesk API は稼働中です。"})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はストアの疎通を確認し、結果を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
