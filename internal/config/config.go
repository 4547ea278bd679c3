package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the service settings, read from the environment.
type Config struct {
	HTTPAddr       string
	HealthGRPCAddr string

	// Detection. An empty CascadePath selects the embedded facefinder cascade.
	CascadePath  string
	MinNeighbors int
	ScaleFactor  float64
	MinFaceW     int
	MinFaceH     int

	// PDF handling
	MaxPages  int
	RenderDPI int

	// Batches
	Workers         int
	DocumentTimeout time.Duration
	MaxUploadSize   int64

	// Optional infrastructure; empty disables it.
	DatabaseDSN string
	RedisAddr   string
	JWTSecret   string
	JWTAudience string

	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		HealthGRPCAddr: getEnv("HEALTH_GRPC_ADDR", ":8081"),
		CascadePath:    os.Getenv("CASCADE_PATH"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.MinNeighbors, err = getInt("MIN_NEIGHBORS", 10); err != nil {
		return nil, err
	}
	if cfg.ScaleFactor, err = getFloat("SCALE_FACTOR", 1.1); err != nil {
		return nil, err
	}
	if cfg.MinFaceW, err = getInt("MIN_FACE_WIDTH", 40); err != nil {
		return nil, err
	}
	if cfg.MinFaceH, err = getInt("MIN_FACE_HEIGHT", 30); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = getInt("MAX_PDF_PAGES", 20); err != nil {
		return nil, err
	}
	if cfg.RenderDPI, err = getInt("PDF_RENDER_DPI", 300); err != nil {
		return nil, err
	}
	if cfg.Workers, err = getInt("BATCH_WORKERS", 1); err != nil {
		return nil, err
	}
	if cfg.DocumentTimeout, err = getDuration("DOCUMENT_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	maxUpload, err := getInt("MAX_UPLOAD_MB", 20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadSize = int64(maxUpload) << 20

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MinNeighbors < 3 || c.MinNeighbors > 10 {
		return fmt.Errorf("MIN_NEIGHBORS must be between 3 and 10, got %d", c.MinNeighbors)
	}
	if c.ScaleFactor <= 1 {
		return fmt.Errorf("SCALE_FACTOR must be greater than 1, got %v", c.ScaleFactor)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("MAX_PDF_PAGES must be positive, got %d", c.MaxPages)
	}
	if c.RenderDPI <= 0 {
		return fmt.Errorf("PDF_RENDER_DPI must be positive, got %d", c.RenderDPI)
	}
	if c.Workers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
