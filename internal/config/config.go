package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (reservation attempt log)
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Inventory backend configuration
	InventoryAPI InventoryAPIConfig

	// Booking flow configuration
	Flow FlowConfig

	// Redis configuration
	Redis RedisConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AttemptRetention   time.Duration
}

// JWTConfig holds JWT-related configuration. Tokens are minted by the
// inventory backend; access and refresh tokens share its signing key unless
// JWT_REFRESH_SECRET says otherwise.
type JWTConfig struct {
	Secret             string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// InventoryAPIConfig holds the inventory backend client configuration
type InventoryAPIConfig struct {
	BaseURL string
	Timeout time.Duration

	BreakerMaxRequests       uint32
	BreakerInterval          time.Duration
	BreakerTimeout           time.Duration
	BreakerMinRequestsToTrip uint32
	BreakerFailureRatio      float64
}

// FlowConfig holds booking flow configuration
type FlowConfig struct {
	IdleTTL             time.Duration
	SweepSchedule       string
	PruneSchedule       string
	AllowDuplicateItems bool
	MaxDocumentBytes    int
}

// RedisConfig holds the submission guard store. Empty URL keeps the guard in memory.
type RedisConfig struct {
	URL           string
	SubmissionTTL time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	secret := getEnv("JWT_SECRET", "")

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AttemptRetention:   time.Duration(getEnvAsInt("ATTEMPT_RETENTION_DAYS", 90)) * 24 * time.Hour,
		},
		JWT: JWTConfig{
			Secret:             secret,
			RefreshSecret:      getEnv("JWT_REFRESH_SECRET", secret),
			AccessTokenExpiry:  time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 300)) * time.Second,
			RefreshTokenExpiry: time.Duration(getEnvAsInt("JWT_REFRESH_TOKEN_EXPIRY", 86400)) * time.Second,
		},
		InventoryAPI: InventoryAPIConfig{
			BaseURL:                  strings.TrimRight(getEnv("INVENTORY_API_URL", "http://localhost:8000/api"), "/"),
			Timeout:                  time.Duration(getEnvAsInt("INVENTORY_API_TIMEOUT", 15)) * time.Second,
			BreakerMaxRequests:       uint32(getEnvAsInt("INVENTORY_BREAKER_MAX_REQUESTS", 3)),
			BreakerInterval:          time.Duration(getEnvAsInt("INVENTORY_BREAKER_INTERVAL", 15)) * time.Second,
			BreakerTimeout:           time.Duration(getEnvAsInt("INVENTORY_BREAKER_TIMEOUT", 30)) * time.Second,
			BreakerMinRequestsToTrip: uint32(getEnvAsInt("INVENTORY_BREAKER_MIN_REQUESTS", 5)),
			BreakerFailureRatio:      getEnvAsFloat("INVENTORY_BREAKER_FAILURE_RATIO", 0.6),
		},
		Flow: FlowConfig{
			IdleTTL:             time.Duration(getEnvAsInt("FLOW_IDLE_TTL_MINUTES", 30)) * time.Minute,
			SweepSchedule:       getEnv("FLOW_SWEEP_SCHEDULE", "0 * * * * *"),
			PruneSchedule:       getEnv("ATTEMPT_PRUNE_SCHEDULE", "0 0 3 * * *"),
			AllowDuplicateItems: getEnvAsBool("FLOW_ALLOW_DUPLICATE_ITEMS", true),
			MaxDocumentBytes:    getEnvAsInt("FLOW_MAX_DOCUMENT_BYTES", 5<<20),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", ""),
			SubmissionTTL: time.Duration(getEnvAsInt("SUBMISSION_GUARD_TTL", 120)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Refresh-Token", "X-Client-Platform"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Server.Environment == "production" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}

	if !strings.HasPrefix(c.InventoryAPI.BaseURL, "http://") && !strings.HasPrefix(c.InventoryAPI.BaseURL, "https://") {
		return fmt.Errorf("INVENTORY_API_URL must be an http(s) URL, got %q", c.InventoryAPI.BaseURL)
	}

	if c.InventoryAPI.BreakerFailureRatio <= 0 || c.InventoryAPI.BreakerFailureRatio > 1 {
		return fmt.Errorf("INVENTORY_BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	if c.Flow.IdleTTL <= 0 {
		return fmt.Errorf("FLOW_IDLE_TTL_MINUTES must be positive")
	}

	if c.Flow.MaxDocumentBytes <= 0 {
		return fmt.Errorf("FLOW_MAX_DOCUMENT_BYTES must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
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
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
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
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
