package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileEnv は設定ファイル（TOML）のパスを指定する環境変数名。
const ConfigFileEnv = "CAREPORTAL_CONFIG"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote API
	APIBaseURL   string
	APITimeout   time.Duration
	APIRateLimit int // リソースごとの req/min
	APIRateBurst int

	// Cache
	CacheStaleTime  time.Duration
	CacheGCTime     time.Duration
	CacheGCInterval time.Duration

	// Session
	SessionStorage     string // file, bolt, redis, memory
	SessionStoragePath string
	SessionNamespace   string
	RedisURL           string

	// Prefetch
	PrefetchMaxConcurrent int
	PrefetchInterval      time.Duration

	// Logging
	LogLevel string

	// Server（ビューブリッジ）
	ServerPort        string
	CORSAllowedOrigin string
}

// source は環境変数と設定ファイルの値を優先順位付きで参照する。
// 環境変数が設定ファイルより優先される。
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// Load は環境変数（および任意のTOML設定ファイル）からConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv(ConfigFileEnv); path != "" {
		values, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}

	cfg := &Config{}

	var missing []string

	cfg.APIBaseURL = strings.TrimSuffix(src.get("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.APITimeout = getDuration(src, "API_TIMEOUT", 15*time.Second)
	cfg.APIRateLimit = getInt(src, "API_RATE_LIMIT", 300)
	cfg.APIRateBurst = getInt(src, "API_RATE_BURST", 20)
	cfg.CacheStaleTime = getDuration(src, "CACHE_STALE_TIME", time.Minute)
	cfg.CacheGCTime = getDuration(src, "CACHE_GC_TIME", 5*time.Minute)
	cfg.CacheGCInterval = getDuration(src, "CACHE_GC_INTERVAL", time.Minute)
	cfg.SessionStorage = strings.ToLower(getString(src, "SESSION_STORAGE", "file"))
	cfg.SessionStoragePath = getString(src, "SESSION_STORAGE_PATH", defaultStoragePath())
	cfg.SessionNamespace = getString(src, "SESSION_NAMESPACE", "auth-storage")
	cfg.RedisURL = getString(src, "REDIS_URL", "")
	cfg.PrefetchMaxConcurrent = getInt(src, "PREFETCH_MAX_CONCURRENT", 4)
	cfg.PrefetchInterval = getDuration(src, "PREFETCH_INTERVAL", 5*time.Minute)
	cfg.LogLevel = getString(src, "LOG_LEVEL", "info")
	cfg.ServerPort = getString(src, "SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getString(src, "CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.SessionStorage {
	case "file", "bolt", "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when SESSION_STORAGE=redis")
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORAGE: %q", cfg.SessionStorage)
	}

	return cfg, nil
}

// loadFile はTOML設定ファイルを読み込み、キーを環境変数名（大文字）に正規化して返す。
func loadFile(path string) (map[string]string, error) {
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// defaultStoragePath は ~/.careportal を返す。ホームディレクトリが取得できない場合は相対パス。
func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".careportal"
	}
	return filepath.Join(home, ".careportal")
}

func getString(src source, key, defaultVal string) string {
	if v := src.get(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(src source, key string, defaultVal int) int {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getDuration(src source, key string, defaultVal time.Duration) time.Duration {
	v := src.get(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
