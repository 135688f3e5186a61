package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// 実行環境を表す値。
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ストレージドライバーを表す値。
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// DefaultJWTTTL はJWT_EXPIRES_IN未設定時のトークン有効期間（7日）。
const DefaultJWTTTL = 7 * 24 * time.Hour

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	StorageDriver string
	DatabaseURL   string

	// Token
	JWTSecret string
	JWTTTL    time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral  int
	RateLimitMutation int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// IsDevelopment は開発環境で起動しているかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// AutoMigrate はserve起動時にスキーマを自動適用するかを返す。
// 開発環境以外では常に無効。
func (c *Config) AutoMigrate() bool {
	return c.IsDevelopment() && c.StorageDriver == StoragePostgres
}

// QueryLogging はSQLクエリをログ出力するかを返す。
// 開発環境以外では常に無効。
func (c *Config) QueryLogging() bool {
	return c.IsDevelopment()
}

// CookieSecure はセッションCookieにSecure属性を付与するかを返す。
func (c *Config) CookieSecure() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.AppEnv = getEnvString("APP_ENV", EnvProduction)

	cfg.StorageDriver = getEnvString("STORAGE_DRIVER", StoragePostgres)
	if cfg.StorageDriver != StoragePostgres && cfg.StorageDriver != StorageMemory {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER: %q", cfg.StorageDriver)
	}

	if cfg.StorageDriver == StoragePostgres {
		cfg.DatabaseURL = databaseURLFromEnv()
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL (or DB_HOST and DB_NAME)")
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.JWTTTL = DefaultJWTTTL
	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		ttl, err := ParseTTL(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
		}
		cfg.JWTTTL = ttl
	}

	// Optional fields with defaults
	var err error
	if cfg.RateLimitGeneral, err = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120); err != nil {
		return nil, err
	}
	if cfg.RateLimitMutation, err = getEnvPositiveInt("RATE_LIMIT_MUTATION", 30); err != nil {
		return nil, err
	}
	cfg.ServerPort = getEnvString("PORT", getEnvString("SERVER_PORT", "4000"))
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ParseTTL はトークン有効期間の文字列を解釈する。
// "7d" のような日数指定、"12h" のようなGoのduration表記、秒数のみの整数を受け付ける。
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var d time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", s, err)
		}
		d = time.Duration(days) * 24 * time.Hour
	default:
		if secs, err := strconv.Atoi(s); err == nil {
			d = time.Duration(secs) * time.Second
			break
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	return d, nil
}

// databaseURLFromEnv はDATABASE_URL、またはDB_*の個別パラメータから接続URLを組み立てる。
func databaseURLFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, getEnvString("DB_PORT", "5432")),
		Path:   "/" + name,
	}
	if user := os.Getenv("DB_USERNAME"); user != "" {
		if pass := os.Getenv("DB_PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	u.RawQuery = "sslmode=" + getEnvString("DB_SSLMODE", "disable")

	return u.String()
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は正の整数の環境変数を読み込む。
// 0以下の値ではすべてのリクエストが拒否されるため、解釈できない値と同様にエラーとする。
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if i <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, i)
	}
	return i, nil
}
