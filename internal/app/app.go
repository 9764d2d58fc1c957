package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/forumscope/internal/config"
	"github.com/hitoshi/forumscope/internal/database"
	"github.com/hitoshi/forumscope/internal/handler"
	"github.com/hitoshi/forumscope/internal/logger"
	"github.com/hitoshi/forumscope/internal/metrics"
	"github.com/hitoshi/forumscope/internal/middleware"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
	// dbConnectAttempts はコンテナ起動直後のDB待ち合わせ回数（1秒間隔）。
	dbConnectAttempts = 3
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// LOG_FILEが指定されていればwに加えてローテーション付きファイルにも出力する。
// 返されたio.Closerはログファイルを閉じる。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログを再構成する
	out, closer := logger.NewWriter(w, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})
	logger.SetupDefault(out, logger.ParseLevel(cfg.LogLevel))

	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandAggregate:
		return runAggregate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.WaitForDB(context.Background(), db, dbConnectAttempts, time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// SCHEDULER_ENABLEDがtrueなら同一プロセスでスケジューラも動かす。
// SIGINTまたはSIGTERMシグナルを受信するとスケジューラ、サーバーの順に停止する。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()
	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}
	defer c.close()

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAnalyze))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           c.metrics,
		MetricsHandler:    metrics.Handler(c.registry),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		TokenVerifier: c.auth,
		AdminChecker:  c.auth,
		AuthService:   c.auth,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure: cfg.CookieSecure,
			TokenTTL:     cfg.TokenTTL,
		},

		PostService:    c.posts,
		CatalogService: c.catalog,

		Tasks:    c.scheduler,
		Trending: c.orchestrator,
		Analyzer: c.classifier,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // トレンド要約はLLM呼び出しを含む
		IdleTimeout:  60 * time.Second,
	}

	if cfg.SchedulerEnabled {
		c.scheduler.StartAll()
	} else {
		slog.Info("scheduler autostart disabled")
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		c.scheduler.StopAll()
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.scheduler.Shutdown(ctx); err != nil {
		slog.Warn("scheduler did not stop in time", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 集約と再スコアリングを定期実行し、メトリクスとヘルスチェックのみを公開する。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(c.registry))
	mux.Handle("/health", handler.NewHealthHandler(db))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("worker starting",
		slog.Duration("aggregation_interval", cfg.AggregationInterval),
		slog.Duration("rescore_interval", cfg.RescoreInterval),
	)
	c.scheduler.StartAll()

	<-stop
	slog.Info("shutting down worker...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.scheduler.Shutdown(ctx); err != nil {
		slog.Warn("scheduler did not stop in time", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runAggregate は集約を1回同期実行し、結果をログに出力して終了する。
func runAggregate(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := c.orchestrator.AggregateAllSources(ctx)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	slog.Info("aggregation finished",
		slog.Int("sources", report.Sources),
		slog.Int("candidates", report.Candidates),
		slog.Int("inserted", report.Ingest.Inserted),
		slog.Int("duplicates", report.Ingest.Duplicates),
		slog.Int("failed", report.Ingest.Failed),
		slog.Duration("duration", report.Duration),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL, slog.Default()); err != nil {
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
