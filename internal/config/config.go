// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ジョブ投入方式
const (
	DispatcherInline = "inline"
	DispatcherQueue  = "queue"
)

// エクスポート結果の保存先
const (
	ExportStoreMemory = "memory"
	ExportStoreRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // zerolog のログレベル

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制限
	MaxFileSize int64 // 単一画像の最大サイズ（バイト）
	MaxFiles    int   // 1回の投入で受け付ける最大枚数

	// 圧縮設定
	DefaultTargetSize float64 // 目標サイズの初期値
	DefaultTargetUnit string  // 目標サイズの単位 (KB, MB)
	MaxDimension      int     // 長辺の最大ピクセル数
	MaxPixels         int64   // デコードを許可する最大画素数（幅×高さ）

	// エクスポート設定
	ExportPrefix              string // アーカイブ内のファイル名に付ける接頭辞
	ExportAsyncThresholdBytes int64  // 同期返却から非同期へ切り替える合計サイズ
	ExportExpireMinutes       int    // 非同期エクスポート結果の保持期間（分）
	ExportStore               string // memory または redis

	// ジョブ/キュー設定
	JobDispatcher      string // inline または queue
	QueueRedisURL      string // Asynq / エクスポート保存用Redis接続URL
	QueueConcurrency   int    // Asynq ワーカー、またはワークスペース毎のプロセス内実行の並列数
	SessionIdleMinutes int    // 無操作でワークスペースを破棄するまでの時間（分）

	// 監視
	MetricsEnabled bool // /metrics を公開するか
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 25*1024*1024), // 25MB
		MaxFiles:    getEnvAsInt("MAX_FILES", 50),

		DefaultTargetSize: getEnvAsFloat("DEFAULT_TARGET_SIZE", 500),
		DefaultTargetUnit: strings.ToUpper(getEnv("DEFAULT_TARGET_UNIT", "KB")),
		MaxDimension:      getEnvAsInt("MAX_DIMENSION", 1920),
		MaxPixels:         getEnvAsInt64("MAX_PIXELS", 50_000_000),

		ExportPrefix:              getEnv("EXPORT_PREFIX", "compressed_"),
		ExportAsyncThresholdBytes: getEnvAsInt64("EXPORT_ASYNC_THRESHOLD_BYTES", 20*1024*1024), // 20MB
		ExportExpireMinutes:       getEnvAsInt("EXPORT_EXPIRE_MINUTES", 10),
		ExportStore:               strings.ToLower(getEnv("EXPORT_STORE", ExportStoreMemory)),

		JobDispatcher:      strings.ToLower(getEnv("JOB_DISPATCHER", DispatcherInline)),
		QueueRedisURL:      getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueConcurrency:   getEnvAsInt("QUEUE_CONCURRENCY", 4),
		SessionIdleMinutes: getEnvAsInt("SESSION_IDLE_MINUTES", 30),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("MAX_FILES must be positive")
	}
	if c.DefaultTargetSize <= 0 || math.IsInf(c.DefaultTargetSize, 0) || math.IsNaN(c.DefaultTargetSize) {
		return fmt.Errorf("DEFAULT_TARGET_SIZE must be a positive number")
	}
	if c.DefaultTargetUnit != "KB" && c.DefaultTargetUnit != "MB" {
		return fmt.Errorf("DEFAULT_TARGET_UNIT must be KB or MB (received: %s)", c.DefaultTargetUnit)
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("MAX_DIMENSION must be positive")
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("MAX_PIXELS must be positive")
	}
	if c.QueueConcurrency <= 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive")
	}
	if c.SessionIdleMinutes <= 0 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must be positive")
	}

	switch c.JobDispatcher {
	case DispatcherInline, DispatcherQueue:
	default:
		return fmt.Errorf("JOB_DISPATCHER must be inline or queue (received: %s)", c.JobDispatcher)
	}
	switch c.ExportStore {
	case ExportStoreMemory, ExportStoreRedis:
	default:
		return fmt.Errorf("EXPORT_STORE must be memory or redis (received: %s)", c.ExportStore)
	}
	if (c.JobDispatcher == DispatcherQueue || c.ExportStore == ExportStoreRedis) && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required when redis-backed components are enabled")
	}

	// ローカル開発では認証設定は任意
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
