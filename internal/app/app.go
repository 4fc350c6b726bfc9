package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/skoolnoob/skool-auto-dm-v3/internal/activity"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/config"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/contentsource"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/database"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/dispatcher"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/engine"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/handler"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/ledger"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/logger"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/metrics"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/middleware"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/repository"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/security"
	"github.com/skoolnoob/skool-auto-dm-v3/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.SkoolBaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、監視エンジンの全依存関係をワイヤリングし、HTTPサーバーを起動する。
// 前回起動時に監視が有効だった対象は自動的に再開される。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	credRepo := repository.NewPostgresCredentialRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	targetRepo := repository.NewPostgresTargetRepo(db)
	outreachRepo := repository.NewPostgresOutreachRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	contentText := security.NewContentText()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. エンジン依存の初期化
	sessionManager := session.NewManager(session.ManagerConfig{
		BaseURL:         cfg.SkoolBaseURL,
		FreshnessWindow: cfg.FreshnessWindow,
		ProbeTimeout:    cfg.OperationTimeout,
	}, credRepo, sessionRepo, ssrfGuard, slog.Default())

	outreachLedger := ledger.New(outreachRepo, cfg.RetryFailed, slog.Default())
	msgDispatcher := dispatcher.New(cfg.SendMinInterval, slog.Default())
	recorder := activity.NewRecorder(activityRepo, slog.Default())

	// 6. ブラウザ資源のファクトリ
	// 監視1つにつき1ブラウザプロセス。Pollerが排他的に所有する。
	sourceFactory := func() (contentsource.ContentSource, error) {
		return contentsource.NewSkoolSource(contentsource.SkoolConfig{
			BaseURL:          cfg.SkoolBaseURL,
			Headless:         cfg.Headless,
			NoSandbox:        cfg.NoSandbox,
			OperationTimeout: cfg.OperationTimeout,
			LoginTimeout:     cfg.LoginTimeout,
			SendConfirmWait:  cfg.SendConfirmWait,
		}, contentText, slog.Default()), nil
	}

	// 7. 監視マネージャーの構築
	engineManager := engine.NewManager(
		engine.PollerConfig{
			PollInterval:    cfg.PollInterval,
			MaxAuthFailures: cfg.MaxAuthFailures,
		},
		sourceFactory,
		credRepo, targetRepo,
		sessionManager, outreachLedger, msgDispatcher,
		recorder, collector, ssrfGuard,
		slog.Default(),
	)

	// 8. 監視の自動再開
	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engineManager.ResumeAll(resumeCtx); err != nil {
		slog.Error("failed to resume monitors", slog.String("error", err.Error()))
	}
	resumeCancel()

	// 9. ルーターの構築
	rateLimiterCfg := middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		TestDMRate:      rate.Limit(float64(cfg.RateLimitTestDM) / 60.0),
		TestDMBurst:     cfg.RateLimitTestDM,
		CleanupInterval: 5 * time.Minute,
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		APIToken:          cfg.APIToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		ControlService:    engineManager,
		Outreach:          outreachRepo,
		Activity:          activityRepo,
		Gatherer:          registry,
	})

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", slog.String("error", err.Error()))
	}

	// 実行中の監視ループを停止（送信中のDMは完了を待ってから確定される）
	engineManager.StopAll()

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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
