package handler

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/solify/internal/metrics"
	"github.com/hitoshi/solify/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator      middleware.Authenticator
	CORSAllowedOrigins []string
	TrustedProxies     []netip.Prefix // 空の場合は転送ヘッダーを信用しない
	RateLimiter        *middleware.RateLimiter
	RequestTimeout     time.Duration
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector

	// 運用エンドポイント
	DB             Pinger
	RPC            RPCHealthChecker
	MetricsHandler http.Handler

	// サービス
	AuthService    AuthServiceInterface
	RelayService   RelayServiceInterface
	BalanceService BalanceServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	TrustedRealIP → Logging → StatusMetrics → Recovery → SecurityHeaders → CORS → Timeout
//
// 認証が必要なルートには Auth → RateLimit(General) を追加し、
// 未認証のルートにはクライアントIPごとの RateLimit(Public) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(chimw.Timeout(timeout))

	authHandler := NewAuthHandler(deps.AuthService)
	txnHandler := NewTxnHandler(deps.RelayService)
	balanceHandler := NewBalanceHandler(deps.BalanceService)

	// --- 運用エンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB, deps.RPC))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.PublicMiddleware())

			r.Post("/signup", authHandler.Signup)
			r.Post("/signin", authHandler.Signin)
			r.Get("/balance2", balanceHandler.AddressBalance)
			r.Post("/airdrop", balanceHandler.Airdrop)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Auth → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/balance", balanceHandler.MyBalance)
			r.Get("/txn", txnHandler.List)
			// 署名専用のレート制限を追加
			r.With(deps.RateLimiter.SignMiddleware()).Post("/txn/sign", txnHandler.Sign)
		})
	})

	return r
}
