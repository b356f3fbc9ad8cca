package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the service
type Config struct {
	Environment         string
	Port                string
	DatabaseURL         string
	NATSURL             string
	MaxValidationErrors int
	WorkflowTimeout     time.Duration
	MaxUploadSizeMB     int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		Port:                getEnv("PORT", "8113"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		NATSURL:             getEnv("NATS_URL", "nats://nats.nats.svc.cluster.local:4222"),
		MaxValidationErrors: getEnvInt("MAX_VALIDATION_ERRORS", 100),
		WorkflowTimeout:     getEnvDuration("WORKFLOW_TIMEOUT", 30*time.Minute),
		MaxUploadSizeMB:     getEnvInt("MAX_UPLOAD_SIZE_MB", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		// Build DSN from individual components if DATABASE_URL not set
		host := getEnv("DB_HOST", "localhost")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "postgres")
		password := secrets.GetDBPassword() // Use GCP Secret Manager
		dbname := getEnv("DB_NAME", "bulk_import_db")
		sslmode := getEnv("DB_SSLMODE", "require")

		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode,
		)
	}

	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
