package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Booking lifecycle configuration
	Booking BookingConfig

	// Payout cycle configuration
	Payout PayoutConfig

	// Notification configuration
	Notify NotifyConfig
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
}

// JWTConfig holds JWT-related configuration for operator tokens
type JWTConfig struct {
	Secret             string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds payment processor configuration
type PaymentConfig struct {
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
	Timeout       time.Duration
	MaxRetries    int
}

// BookingConfig holds booking lifecycle tunables
type BookingConfig struct {
	// PlatformFeeRate is the platform's cut of the charged total
	PlatformFeeRate decimal.Decimal
	DefaultCurrency string

	// PendingTTL is how long an unpaid pending booking holds its slot
	// before the sweep cancels it
	PendingTTL time.Duration

	// NoShowPolicy decides the consultant's payout when the client does
	// not show: "full" pays the full payout, "partial" pays
	// NoShowPartialRate of it and withholds the rest as an adjustment
	NoShowPolicy      string
	NoShowPartialRate decimal.Decimal
}

// PayoutConfig holds payout batch tunables
type PayoutConfig struct {
	// ProcessingFeeFlat is charged once per batch
	ProcessingFeeFlat decimal.Decimal
	// ProcessingFeeRate is charged on the batch's gross earnings
	ProcessingFeeRate decimal.Decimal
	// CycleSchedule is the cron expression for the automatic payout run
	CycleSchedule string
	// CycleEnabled gates the automatic run; manual runs work either way
	CycleEnabled bool
}

// NotifyConfig holds notification sink configuration
type NotifyConfig struct {
	WebhookURL string // empty disables HTTP delivery, events are logged only
	Timeout    time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

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
		},
		JWT: JWTConfig{
			Secret:             getEnv("JWT_SECRET", ""),
			RefreshSecret:      getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:  time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
			RefreshTokenExpiry: time.Duration(getEnvAsInt("JWT_REFRESH_TOKEN_EXPIRY", 604800)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Idempotency-Key"}),
		},
		Payment: PaymentConfig{
			Environment:   getEnv("PAYMENT_ENVIRONMENT", "sandbox"),
			MerchantKey:   getEnv("PAYMENT_MERCHANT_KEY", ""),
			MerchantToken: getEnv("PAYMENT_MERCHANT_TOKEN", ""),
			Timeout:       time.Duration(getEnvAsInt("PAYMENT_TIMEOUT_SECONDS", 15)) * time.Second,
			MaxRetries:    getEnvAsInt("PAYMENT_MAX_RETRIES", 3),
		},
		Booking: BookingConfig{
			PlatformFeeRate:   getEnvAsDecimal("PLATFORM_FEE_RATE", "0.15"),
			DefaultCurrency:   getEnv("DEFAULT_CURRENCY", "USD"),
			PendingTTL:        time.Duration(getEnvAsInt("BOOKING_PENDING_TTL_MINUTES", 30)) * time.Minute,
			NoShowPolicy:      getEnv("NOSHOW_POLICY", "partial"),
			NoShowPartialRate: getEnvAsDecimal("NOSHOW_PARTIAL_RATE", "0.50"),
		},
		Payout: PayoutConfig{
			ProcessingFeeFlat: getEnvAsDecimal("PAYOUT_PROCESSING_FEE_FLAT", "0"),
			ProcessingFeeRate: getEnvAsDecimal("PAYOUT_PROCESSING_FEE_RATE", "0"),
			CycleSchedule:     getEnv("PAYOUT_CYCLE_SCHEDULE", "0 0 1 * * 1"),
			CycleEnabled:      getEnvAsBool("PAYOUT_CYCLE_ENABLED", true),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
			Timeout:    time.Duration(getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 5)) * time.Second,
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
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.JWT.RefreshSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}

	if c.Booking.PlatformFeeRate.IsNegative() || c.Booking.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1)")
	}

	switch c.Booking.NoShowPolicy {
	case "full", "partial":
	default:
		return fmt.Errorf("invalid NOSHOW_POLICY: %s (must be 'full' or 'partial')", c.Booking.NoShowPolicy)
	}

	if c.Booking.NoShowPartialRate.IsNegative() || c.Booking.NoShowPartialRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("NOSHOW_PARTIAL_RATE must be in [0, 1]")
	}

	// Payment credentials are only required outside sandbox
	if c.Payment.Environment == "production" {
		if c.Payment.MerchantKey == "" {
			return fmt.Errorf("PAYMENT_MERCHANT_KEY is required in production mode")
		}
		if c.Payment.MerchantToken == "" {
			return fmt.Errorf("PAYMENT_MERCHANT_TOKEN is required in production mode")
		}
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

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	fallback := decimal.RequireFromString(defaultValue)
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		log.Printf("Invalid decimal value for %s, using default: %s", key, defaultValue)
		return fallback
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
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
