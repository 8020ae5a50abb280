// Package app はコマンドライン引数に応じてサーバー・ワーカー・マイグレーションを起動する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/solify/internal/auth"
	"github.com/hitoshi/solify/internal/balance"
	"github.com/hitoshi/solify/internal/chain"
	"github.com/hitoshi/solify/internal/config"
	"github.com/hitoshi/solify/internal/custody"
	"github.com/hitoshi/solify/internal/database"
	"github.com/hitoshi/solify/internal/handler"
	"github.com/hitoshi/solify/internal/logger"
	"github.com/hitoshi/solify/internal/metrics"
	"github.com/hitoshi/solify/internal/middleware"
	"github.com/hitoshi/solify/internal/relay"
	"github.com/hitoshi/solify/internal/repository"
	"github.com/hitoshi/solify/internal/worker/cleanup"
	"github.com/hitoshi/solify/internal/worker/confirm"
)

// cleanupInterval は履歴クリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is not set; signin will fail until it is configured")
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	attrs := []any{slog.String("command", string(cmd))}
	if cmd.needsChain() {
		attrs = append(attrs,
			slog.String("port", cfg.ServerPort),
			slog.String("network", cfg.SolanaNetwork),
		)
	}
	slog.Info("starting application", attrs...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newRegistry はプロセスとGoランタイムのコレクタを含むPrometheusレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server はAPIサーバーの構成要素。
type server struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// newServer は全依存関係をワイヤリングし、APIルーターを構築する。
func newServer(cfg *config.Config, db *sql.DB, rpc *chain.Client, reg *prometheus.Registry) (*server, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	txRepo := repository.NewPostgresTransactionRepo(db)

	// 2. 鍵管理
	codec, err := custody.NewCodec(cfg.KeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key codec: %w", err)
	}
	if !codec.Sealed() {
		slog.Warn("KEY_ENCRYPTION_KEY is not set; private keys are stored unsealed")
	}
	keys := custody.NewService(userRepo, codec)

	// 3. メトリクス
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	authService := auth.NewService(
		userRepo,
		auth.NewPasswordHasher(cfg.BcryptCost),
		auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL),
		codec,
	)
	relayService := relay.New(keys, rpc, txRepo, collector, relay.Config{
		ConfirmTimeout:      cfg.ConfirmTimeout,
		ConfirmPollInterval: cfg.ConfirmPollInterval,
	})
	gateway := balance.NewGateway(rpc, userRepo, collector, balance.Config{
		NetworkName:     cfg.SolanaNetwork,
		AirdropAllowed:  cfg.AirdropAllowed(),
		AirdropLamports: cfg.AirdropLamports,
	})

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(
		cfg.RateLimitGeneral, cfg.RateLimitSign, cfg.RateLimitPublic,
	))

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:      authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		RequestTimeout:     cfg.RequestTimeout,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             slog.Default(),
		Metrics:            collector,

		DB:             db,
		RPC:            rpc,
		MetricsHandler: metrics.Handler(reg),

		AuthService:    authService,
		RelayService:   relayService,
		BalanceService: gateway,
	})

	return &server{router: router, rateLimiter: rateLimiter}, nil
}

// runServe はAPIサーバーモードで起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rpc := chain.NewClient(cfg.RPCURL)
	defer rpc.Close()

	srv, err := newServer(cfg, db, rpc, newRegistry())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 確定待ちの署名リクエストに余裕を持たせる
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, httpServer, "API server")
}

// runWorker はワーカーモードで起動する。
// 確認スケジューラと履歴クリーンアップジョブを実行し、/healthと/metricsのみを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rpc := chain.NewClient(cfg.RPCURL)
	defer rpc.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	scheduler := confirm.NewScheduler(
		repository.NewPostgresTransactionRepo(db),
		rpc,
		collector,
		slog.Default(),
		confirm.Config{BatchSize: cfg.ConfirmBatchSize},
	)
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cfg.HistoryRetentionDays)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(db, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("confirm_interval", cfg.ConfirmWorkerInterval),
		slog.Int("batch_size", cfg.ConfirmBatchSize),
		slog.Int("retention_days", cfg.HistoryRetentionDays),
	)

	go cleanupJob.Start(ctx, cleanupInterval)
	go scheduler.Start(ctx, cfg.ConfirmWorkerInterval)

	return serveUntilDone(ctx, httpServer, "worker")
}

// newWorkerRouter はワーカープロセス用の運用エンドポイントを返す。
func newWorkerRouter(db handler.Pinger, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(db, nil))
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}

// serveUntilDone はHTTPサーバーを起動し、コンテキストのキャンセルでシャットダウンする。
func serveUntilDone(ctx context.Context, httpServer *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen failed: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
