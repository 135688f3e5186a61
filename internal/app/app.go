package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/crmdesk/internal/auth"
	"github.com/hitoshi/crmdesk/internal/client"
	"github.com/hitoshi/crmdesk/internal/config"
	"github.com/hitoshi/crmdesk/internal/database"
	"github.com/hitoshi/crmdesk/internal/handler"
	"github.com/hitoshi/crmdesk/internal/logger"
	"github.com/hitoshi/crmdesk/internal/metrics"
	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/repository"
	"github.com/hitoshi/crmdesk/internal/token"
	"github.com/hitoshi/crmdesk/internal/user"
)

// defaultPort はPORT・SERVER_PORTが未設定の場合の待ち受けポート。
const defaultPort = "4000"

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

	if cfg.IsDevelopment() {
		logger.SetLevel(slog.LevelDebug)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("storage", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		var direction string
		if len(args) > 1 {
			direction = args[1]
		}
		dir, err := database.ParseDirection(direction)
		if err != nil {
			return err
		}
		return runMigrate(cfg, dir)
	default:
		return runServe(cfg)
	}
}

// application はserveモードで構築した依存関係一式。
type application struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	db          *sql.DB // インメモリストアの場合はnil
}

// Close はapplicationが保持するリソースを解放する。
func (a *application) Close() error {
	a.rateLimiter.Stop()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// newApplication は設定に従ってストア・サービス・ルーターをワイヤリングする。
func newApplication(cfg *config.Config) (*application, error) {
	// 1. ストアの初期化
	var (
		db         *sql.DB
		userRepo   repository.UserRepository
		clientRepo repository.ClientRepository
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		userRepo = repository.NewMemoryUserRepo()
		clientRepo = repository.NewMemoryClientRepo()
		slog.Warn("using in-memory storage; data is lost on restart")
	default:
		var err error
		db, err = openDatabase(cfg)
		if err != nil {
			return nil, err
		}

		var dbtx database.DBTX = db
		if cfg.QueryLogging() {
			dbtx = database.NewQueryLogger(db, slog.Default())
		}
		userRepo = repository.NewPostgresUserRepo(dbtx)
		clientRepo = repository.NewPostgresClientRepo(dbtx)
	}

	// 2. トークンサービスの初期化
	tokens, err := token.NewService(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	// 3. ドメインサービスの初期化
	authService := auth.NewService(
		auth.NewSimulatedProfileProvider(),
		user.NewService(userRepo),
		tokens,
	)
	clientService := client.NewService(clientRepo)

	// 4. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)

	deps := &handler.RouterDeps{
		TokenVerifier:     tokens,
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HSTS:              cfg.CookieSecure(),

		Metrics:  collector,
		Gatherer: reg,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:  cfg.CookieSecure(),
			SessionMaxAge: tokens.TTL(),
		},

		ClientService: clientService,
	}
	// nilの*sql.DBをインターフェースに入れないよう、DB利用時のみ設定する
	if db != nil {
		deps.HealthChecker = db
	}

	return &application{
		handler:     handler.NewRouter(deps),
		rateLimiter: rateLimiter,
		db:          db,
	}, nil
}

// openDatabase はDBに接続し、開発環境ではマイグレーションを適用する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	if cfg.AutoMigrate() {
		if err := runMigrate(cfg, database.DirectionUp); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func closeQuietly(db *sql.DB) {
	if db != nil {
		db.Close()
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	a, err := newApplication(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upはすべての未適用マイグレーションを順番に適用し、downは直近の1つを巻き戻す。
func runMigrate(cfg *config.Config, dir database.Direction) error {
	if cfg.StorageDriver != config.StoragePostgres {
		return fmt.Errorf("migrate requires STORAGE_DRIVER=%s", config.StoragePostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", string(dir)),
	)

	version, err := database.Migrate(cfg.DatabaseURL, dir)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// healthcheckPort はヘルスチェック先のポートをPORT、SERVER_PORTの順で解決する。
func healthcheckPort() string {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return defaultPort
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
