package common

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Log       LogConfig
	OCR       OCRConfig
	Queue     QueueConfig
	Security  SecurityConfig
	Extract   ExtractConfig
	Storage   StorageConfig
	Retention RetentionConfig
	Watch     WatchConfig
}

// DatabaseConfig holds database-related configuration.
// Driver is "postgres" (DSN is a pgx URL) or "sqlite" (DSN is a modernc file/memory DSN).
type DatabaseConfig struct {
	Driver           string
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract        string
	Pdftoppm         string
	TessdataDir      string
	Languages        []string
	MaxFileSize      int64
	MaxDimension     int
	Timeout          time.Duration
	DPI              int
	MaxPages         int
	BatchConcurrency int
}

// QueueConfig holds processing queue limits.
type QueueConfig struct {
	MaxConcurrent  int
	OCRLimit       int
	TransformLimit int
	CompressLimit  int
	StorageLimit   int
	DailyCostLimit float64
	HistorySize    int
	TickInterval   time.Duration
	JobTimeout     time.Duration
	MaxRetries     int
}

// SecurityConfig holds scanner configuration.
type SecurityConfig struct {
	MaxFileSize        int64
	EnableVirusScan    bool
	CheckFileSignature bool
}

// ExtractConfig holds content extraction configuration.
type ExtractConfig struct {
	MinPDFTextChars int
	MaxEntities     int
	FetchTimeout    time.Duration
	FetchMaxBytes   int64
	UserAgent       string
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend   string // local | minio | s3
	LocalDir  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// MinCompressionSavings is the fraction of bytes compression must save to be kept.
	MinCompressionSavings float64
	// DeferCompression stores raw bytes on upload and leaves compression to queued jobs.
	DeferCompression bool
}

// RetentionConfig controls the scheduled cleanup of soft-deleted evidence.
type RetentionConfig struct {
	Period   time.Duration
	Schedule string
}

// WatchConfig configures the optional drop-folder watcher.
type WatchConfig struct {
	Dir      string
	Debounce time.Duration
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory is applied first when present; real env vars win.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:        getEnv("GRPC_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		OCR: OCRConfig{
			Tesseract:        getEnv("TESSERACT_BIN", "tesseract"),
			Pdftoppm:         getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TessdataDir:      getEnv("TESSDATA_PREFIX", ""),
			Languages:        getEnvAsList("OCR_LANGUAGES", []string{"jpn", "eng"}),
			MaxFileSize:      getEnvAsInt64("OCR_MAX_FILE_SIZE", 20<<20),
			MaxDimension:     getEnvAsInt("OCR_MAX_DIMENSION", 4000),
			Timeout:          getEnvAsDuration("OCR_TIMEOUT", 60*time.Second),
			DPI:              getEnvAsInt("OCR_DPI", 300),
			MaxPages:         getEnvAsInt("OCR_MAX_PAGES", 20),
			BatchConcurrency: getEnvAsInt("OCR_BATCH_CONCURRENCY", 2),
		},
		Queue: QueueConfig{
			MaxConcurrent:  getEnvAsInt("QUEUE_MAX_CONCURRENT", 5),
			OCRLimit:       getEnvAsInt("QUEUE_OCR_LIMIT", 2),
			TransformLimit: getEnvAsInt("QUEUE_TRANSFORM_LIMIT", 3),
			CompressLimit:  getEnvAsInt("QUEUE_COMPRESS_LIMIT", 2),
			StorageLimit:   getEnvAsInt("QUEUE_STORAGE_LIMIT", 2),
			DailyCostLimit: getEnvAsFloat64("QUEUE_DAILY_COST_LIMIT", 100.0),
			HistorySize:    getEnvAsInt("QUEUE_HISTORY_SIZE", 1000),
			TickInterval:   getEnvAsDuration("QUEUE_TICK_INTERVAL", 100*time.Millisecond),
			JobTimeout:     getEnvAsDuration("QUEUE_JOB_TIMEOUT", 5*time.Minute),
			MaxRetries:     getEnvAsInt("QUEUE_MAX_RETRIES", 2),
		},
		Security: SecurityConfig{
			MaxFileSize:        getEnvAsInt64("SECURITY_MAX_FILE_SIZE", 50<<20),
			EnableVirusScan:    getEnvAsBool("SECURITY_VIRUS_SCAN", true),
			CheckFileSignature: getEnvAsBool("SECURITY_CHECK_SIGNATURE", true),
		},
		Extract: ExtractConfig{
			MinPDFTextChars: getEnvAsInt("EXTRACT_MIN_PDF_TEXT_CHARS", 50),
			MaxEntities:     getEnvAsInt("EXTRACT_MAX_ENTITIES", 500),
			FetchTimeout:    getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
			FetchMaxBytes:   getEnvAsInt64("FETCH_MAX_BYTES", 10<<20),
			UserAgent:       getEnv("FETCH_USER_AGENT", "evidence-pipeline/1.0"),
		},
		Storage: StorageConfig{
			Backend:               getEnv("STORAGE_BACKEND", "local"),
			LocalDir:              getEnv("STORAGE_LOCAL_DIR", "./data/blobs"),
			Endpoint:              getEnv("STORAGE_ENDPOINT", ""),
			Region:                getEnv("STORAGE_REGION", "us-east-1"),
			Bucket:                getEnv("STORAGE_BUCKET", "evidence"),
			AccessKey:             getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:             getEnv("STORAGE_SECRET_KEY", ""),
			UseSSL:                getEnvAsBool("STORAGE_USE_SSL", false),
			MinCompressionSavings: getEnvAsFloat64("STORAGE_MIN_COMPRESSION_SAVINGS", 0.10),
			DeferCompression:      getEnvAsBool("STORAGE_DEFER_COMPRESSION", false),
		},
		Retention: RetentionConfig{
			Period:   getEnvAsDuration("RETENTION_PERIOD", 30*24*time.Hour),
			Schedule: getEnv("RETENTION_SCHEDULE", "@daily"),
		},
		Watch: WatchConfig{
			Dir:      getEnv("WATCH_DIR", ""),
			Debounce: getEnvAsDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits on '+' or ',' so tesseract-style "jpn+eng" works too.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == '+' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("DB_DRIVER", c.Database.Driver, OneOf("postgres", "sqlite"))
	v.Field("DB_URL", c.Database.DSN, Required)
	v.Field("GRPC_ADDR", c.Server.GRPCAddr, Required)
	v.Field("STORAGE_BACKEND", c.Storage.Backend, OneOf("local", "minio", "s3"))
	v.Field("QUEUE_MAX_CONCURRENT", c.Queue.MaxConcurrent, Positive)
	v.Field("QUEUE_DAILY_COST_LIMIT", c.Queue.DailyCostLimit, NonNegative)
	v.Field("SECURITY_MAX_FILE_SIZE", c.Security.MaxFileSize, Positive)
	if c.Storage.Backend == "minio" || c.Storage.Backend == "s3" {
		v.Field("STORAGE_BUCKET", c.Storage.Bucket, Required)
	}
	if c.Storage.Backend == "minio" {
		v.Field("STORAGE_ENDPOINT", c.Storage.Endpoint, Required)
	}
	if err := v.Error(); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid configuration", err)
	}
	return nil
}
