package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Cells    CellsConfig
	Queue    QueueConfig
	Upload   UploadConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
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
	HTTPAddr string
	GRPCAddr string
}

// OCRConfig holds rasterizer and OCR engine configuration
type OCRConfig struct {
	Pdftoppm      string
	Tesseract     string
	Languages     string
	TessdataDir   string
	PSM           int
	Scale         float64
	MinConfidence float64
	MaxCells      int // per detected table row
}

// CellsConfig holds table cell detection thresholds. GridRows and GridCols override the
// preset's fallback grid when positive.
type CellsConfig struct {
	GridPreset   string
	RowTolerance int
	GridRows     int
	GridCols     int
}

// QueueConfig holds page worker pool configuration
type QueueConfig struct {
	BatchSize    int
	PageTimeout  time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// UploadConfig holds upload limits
type UploadConfig struct {
	MaxBytes int64
	MaxPages int
}

// StorageConfig selects the blob store for uploaded PDFs
type StorageConfig struct {
	Backend  string // local | gcs
	LocalDir string
	Bucket   string
	Prefix   string
}

// RedisConfig holds the status cache configuration; empty Addr disables it
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig holds the job event publisher configuration; no brokers disables it
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level  string
	Format string // text | json
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
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
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		},
		OCR: OCRConfig{
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			Languages:     getEnv("OCR_LANGUAGES", "jpn+eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			PSM:           getEnvAsInt("OCR_PSM", 6),
			Scale:         getEnvAsFloat64("RENDER_SCALE", 2.0),
			MinConfidence: getEnvAsFloat64("OCR_MIN_CONFIDENCE", 30),
			MaxCells:      getEnvAsInt("OCR_MAX_CELLS", 50),
		},
		Cells: CellsConfig{
			GridPreset:   getEnv("CELL_GRID_PRESET", "default"),
			RowTolerance: getEnvAsInt("CELL_ROW_TOLERANCE", 20),
			GridRows:     getEnvAsInt("GRID_ROWS", 0),
			GridCols:     getEnvAsInt("GRID_COLS", 0),
		},
		Queue: QueueConfig{
			BatchSize:    getEnvAsInt("QUEUE_BATCH_SIZE", 3),
			PageTimeout:  getEnvAsDuration("QUEUE_PAGE_TIMEOUT", 2*time.Minute),
			PollInterval: getEnvAsDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
			StaleAfter:   getEnvAsDuration("QUEUE_STALE_AFTER", 10*time.Minute),
		},
		Upload: UploadConfig{
			MaxBytes: getEnvAsInt64("UPLOAD_MAX_BYTES", 10<<20),
			MaxPages: getEnvAsInt("UPLOAD_MAX_PAGES", 20),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "local"),
			LocalDir: getEnv("STORAGE_DIR", "./tmp/uploads"),
			Bucket:   getEnv("GCS_BUCKET", ""),
			Prefix:   getEnv("GCS_PREFIX", "allergy-pdfs"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_STATUS_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "allergy.jobs"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.OCR.Scale <= 0 {
		return NewAppError("CONFIG_ERROR", "RENDER_SCALE must be positive", ErrInvalidInput)
	}
	switch c.Cells.GridPreset {
	case "", "default", "basic":
	default:
		return NewAppError("CONFIG_ERROR", "CELL_GRID_PRESET must be default or basic", ErrInvalidInput)
	}
	if c.Queue.BatchSize <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_BATCH_SIZE must be positive", ErrInvalidInput)
	}
	if c.Upload.MaxPages <= 0 || c.Upload.MaxBytes <= 0 {
		return NewAppError("CONFIG_ERROR", "upload limits must be positive", ErrInvalidInput)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "GCS_BUCKET is required for the gcs backend", ErrInvalidInput)
	}
	return nil
}

// NewLogger builds the process logger from LogConfig.
func (l LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
