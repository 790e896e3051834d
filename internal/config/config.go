package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port      string
	Env       string
	JWTSecret string

	// ChallengeTTL bounds how long a pending 3-D Secure challenge page is
	// kept for the payer to collect.
	ChallengeTTL time.Duration

	DB       DatabaseConfig
	Redis    RedisConfig
	Epdq     EpdqConfig
	Stripe   StripeConfig
	Worldpay WorldpayConfig
	Worker   WorkerConfig
	Queue    QueueConfig
	Operator OperatorConfig
}

// OperatorConfig contains the bootstrap credentials for the operator API.
// PasswordHash is a bcrypt hash, never the plaintext.
type OperatorConfig struct {
	Email        string
	PasswordHash string
	TokenTTL     time.Duration
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// EpdqConfig contains credentials for the ePDQ signed form-POST gateway.
type EpdqConfig struct {
	BaseURL      string
	PSPID        string
	UserID       string
	Password     string
	ShaInSecret  string
	ShaOutSecret string
}

// StripeConfig contains credentials for the Stripe REST gateway.
type StripeConfig struct {
	BaseURL          string
	APIKey           string
	WebhookSecret    string
	PlatformAccount  string
	MerchantAccount  string
	WebhookTolerance time.Duration
}

// WorldpayConfig contains credentials for the Worldpay XML gateway.
type WorldpayConfig struct {
	BaseURL            string
	MerchantCode       string
	Username           string
	Password           string
	NotificationSecret string
}

// WorkerConfig contains interval configuration for background workers.
type WorkerConfig struct {
	QueuePollInterval  time.Duration
	QueueBatchSize     int
	CaptureMaxAttempts int
	CaptureRetryDelay  time.Duration
	ExpiryInterval     time.Duration
	ExpiryThreshold    time.Duration

	// DiscrepancyMinAge is the youngest a charge may be before an operator
	// can force-cancel it against the gateway's view.
	DiscrepancyMinAge time.Duration
}

// QueueConfig contains task queue tuning parameters.
type QueueConfig struct {
	Namespace      string
	VisibilityWait time.Duration
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// ePDQ
	cfg.Epdq = EpdqConfig{
		BaseURL:      getEnv("EPDQ_BASE_URL", "https://mdepayments.epdq.co.uk/ncol/prod"),
		PSPID:        getEnv("EPDQ_PSPID", ""),
		UserID:       getEnv("EPDQ_USERID", ""),
		Password:     getEnv("EPDQ_PASSWORD", ""),
		ShaInSecret:  getEnv("EPDQ_SHA_IN_SECRET", ""),
		ShaOutSecret: getEnv("EPDQ_SHA_OUT_SECRET", ""),
	}

	// Stripe
	cfg.Stripe = StripeConfig{
		BaseURL:         getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		APIKey:          getEnv("STRIPE_API_KEY", ""),
		WebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PlatformAccount: getEnv("STRIPE_PLATFORM_ACCOUNT", ""),
		MerchantAccount: getEnv("STRIPE_MERCHANT_ACCOUNT", ""),
	}

	// Worldpay
	cfg.Worldpay = WorldpayConfig{
		BaseURL:            getEnv("WORLDPAY_BASE_URL", "https://secure.worldpay.com/jsp/merchant/xml/paymentService.jsp"),
		MerchantCode:       getEnv("WORLDPAY_MERCHANT_CODE", ""),
		Username:           getEnv("WORLDPAY_USERNAME", ""),
		Password:           getEnv("WORLDPAY_PASSWORD", ""),
		NotificationSecret: getEnv("WORLDPAY_NOTIFICATION_SECRET", ""),
	}

	// Queue
	cfg.Queue = QueueConfig{
		Namespace: getEnv("QUEUE_NAMESPACE", "connector"),
	}

	// Workers (durations)
	var err error
	if cfg.Worker.QueuePollInterval, err = parseDurationEnv("QUEUE_POLL_INTERVAL", "1s"); err != nil {
		return nil, fmt.Errorf("invalid QUEUE_POLL_INTERVAL: %w", err)
	}
	if cfg.Worker.CaptureRetryDelay, err = parseDurationEnv("CAPTURE_RETRY_DELAY", "1m"); err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_RETRY_DELAY: %w", err)
	}
	if cfg.Worker.ExpiryInterval, err = parseDurationEnv("EXPIRY_SWEEP_INTERVAL", "10m"); err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_SWEEP_INTERVAL: %w", err)
	}
	if cfg.Worker.ExpiryThreshold, err = parseDurationEnv("EXPIRY_THRESHOLD", "90m"); err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_THRESHOLD: %w", err)
	}
	if cfg.Stripe.WebhookTolerance, err = parseDurationEnv("STRIPE_WEBHOOK_TOLERANCE", "5m"); err != nil {
		return nil, fmt.Errorf("invalid STRIPE_WEBHOOK_TOLERANCE: %w", err)
	}
	if cfg.Worker.DiscrepancyMinAge, err = parseDurationEnv("DISCREPANCY_MIN_AGE", "2h"); err != nil {
		return nil, fmt.Errorf("invalid DISCREPANCY_MIN_AGE: %w", err)
	}
	if cfg.ChallengeTTL, err = parseDurationEnv("CHALLENGE_TTL", "15m"); err != nil {
		return nil, fmt.Errorf("invalid CHALLENGE_TTL: %w", err)
	}
	cfg.Worker.QueueBatchSize = getEnvInt("QUEUE_BATCH_SIZE", 10)
	cfg.Worker.CaptureMaxAttempts = getEnvInt("CAPTURE_MAX_ATTEMPTS", 48)

	// Operator API
	cfg.Operator = OperatorConfig{
		Email:        getEnv("OPERATOR_EMAIL", ""),
		PasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
	}
	if cfg.Operator.TokenTTL, err = parseDurationEnv("OPERATOR_TOKEN_TTL", "12h"); err != nil {
		return nil, fmt.Errorf("invalid OPERATOR_TOKEN_TTL: %w", err)
	}

	// Basic validation for DB parameters — keeps messages concise and helpful.
	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}

	// Validate JWT_SECRET
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set for operator authentication")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
