package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDisk   = "disk"
	StorageGridFS = "gridfs"
)

type Config struct {
	Addr                       string
	DatabaseURL                string
	JWTSecret                  string
	DataEncryptionKey          string
	Environment                string
	LogLevel                   string
	MigrationsDir              string
	SeedAdminName              string
	SeedAdminEmail             string
	SeedAdminPassword          string
	RunMigrations              bool
	RunSeed                    bool
	MaxBodyBytes               int64
	MaxUploadBytes             int64
	RateLimitPerMinute         int
	AdvancePolicy              string
	DeveloperMode              bool
	LegacyZeroAssignedComplete bool
	GenericTextMinLength       int
	CategoryTablePath          string
	EvidenceStorage            string
	EvidenceDir                string
	MongoURI                   string
	MongoDatabase              string
	ScoreSweepInterval         time.Duration
	MetricsEnabled             bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, fills in variables that are not set.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv load failed", "err", err)
	}
	return Config{
		Addr:                       getEnv("APP_ADDR", ":8080"),
		DatabaseURL:                getEnv("DATABASE_URL", ""),
		JWTSecret:                  getEnv("JWT_SECRET", ""),
		DataEncryptionKey:          getEnv("DATA_ENCRYPTION_KEY", ""),
		Environment:                getEnv("APP_ENV", "development"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		MigrationsDir:              getEnv("MIGRATIONS_DIR", "migrations"),
		SeedAdminName:              getEnv("SEED_ADMIN_NAME", "Administrator"),
		SeedAdminEmail:             getEnv("SEED_ADMIN_EMAIL", ""),
		SeedAdminPassword:          getEnv("SEED_ADMIN_PASSWORD", ""),
		RunMigrations:              getEnvBool("RUN_MIGRATIONS", true),
		RunSeed:                    getEnvBool("RUN_SEED", true),
		MaxBodyBytes:               int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		MaxUploadBytes:             int64(getEnvInt("MAX_UPLOAD_BYTES", 20<<20)),
		RateLimitPerMinute:         getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AdvancePolicy:              getEnv("ADVANCE_POLICY", "auto"),
		DeveloperMode:              getEnvBool("DEVELOPER_MODE", false),
		LegacyZeroAssignedComplete: getEnvBool("LEGACY_ZERO_ASSIGNED_COMPLETE", false),
		GenericTextMinLength:       getEnvInt("GENERIC_TEXT_MIN_LENGTH", 20),
		CategoryTablePath:          getEnv("CATEGORY_TABLE_PATH", ""),
		EvidenceStorage:            strings.ToLower(getEnv("EVIDENCE_STORAGE", StorageDisk)),
		EvidenceDir:                getEnv("EVIDENCE_DIR", "data/evidence"),
		MongoURI:                   getEnv("MONGO_URI", ""),
		MongoDatabase:              getEnv("MONGO_DATABASE", "prospectcrm"),
		ScoreSweepInterval:         getEnvDuration("SCORE_SWEEP_INTERVAL", time.Hour),
		MetricsEnabled:             getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if c.RunSeed && strings.TrimSpace(c.SeedAdminPassword) == "" {
			return fmt.Errorf("SEED_ADMIN_PASSWORD must be changed or RUN_SEED disabled in production")
		}
		if c.DeveloperMode {
			return fmt.Errorf("DEVELOPER_MODE must be disabled in production")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.MaxUploadBytes < c.MaxBodyBytes {
		return fmt.Errorf("MAX_UPLOAD_BYTES must not be smaller than MAX_BODY_BYTES")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	switch c.AdvancePolicy {
	case "auto", "summary":
	default:
		return fmt.Errorf("ADVANCE_POLICY must be auto or summary")
	}
	if c.GenericTextMinLength <= 0 {
		return fmt.Errorf("GENERIC_TEXT_MIN_LENGTH must be positive")
	}
	switch c.EvidenceStorage {
	case StorageDisk:
		if strings.TrimSpace(c.EvidenceDir) == "" {
			return fmt.Errorf("EVIDENCE_DIR is required for disk evidence storage")
		}
	case StorageGridFS:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("MONGO_URI is required for gridfs evidence storage")
		}
	default:
		return fmt.Errorf("EVIDENCE_STORAGE must be disk or gridfs")
	}
	return nil
}
