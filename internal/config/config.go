package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/core-coin/hashrent/pkg/validation"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Development bool
	// API configuration
	APIPort        int
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Auth configuration
	JWTSecret    string
	ServiceToken string
	// Storage configuration
	StorageDriver string
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresSSLMode  string

	// Accrual configuration
	AccrualPeriod  time.Duration
	AccrualWorkers int
	AccrualLockTTL time.Duration
	InstanceID     string

	// Payment configuration
	PaymentTimeout        time.Duration
	PaymentExpiryInterval time.Duration
	AllowSimulatedConfirm bool
	BTCDepositAddress     string
	ETHDepositAddress     string

	// SMTP configuration
	SMTPHost            string
	SMTPPort            int
	SMTPAlternativePort int
	SMTPUser            string
	SMTPPassword        string
	SMTPSender          string

	// Notification configuration
	TelegramBotToken   string
	TelegramAlertChats []string

	// Pricing configuration
	PriceURL           string
	HashrateURL        string
	DifficultyURL      string
	PricingRefresh     time.Duration
	PricingHTTPTimeout time.Duration
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode)
}

// MigrationURL returns the Postgres URL used by the schema migrator.
func (c *Config) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:           getEnvAsBool("DEVELOPMENT", false),
		CORSOrigins:           getEnvAsList("CORS_ORIGINS", []string{"*"}),
		RateLimitRPS:          getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:        getEnvAsInt("RATE_LIMIT_BURST", 20),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		ServiceToken:          getEnv("SERVICE_TOKEN", ""),
		StorageDriver:         getEnv("STORAGE_DRIVER", StoragePostgres),
		PostgresUser:          getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:      getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:          getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:          getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:            getEnv("POSTGRES_DB", "hashrent"),
		PostgresSSLMode:       getEnv("POSTGRES_SSLMODE", "disable"),
		AccrualPeriod:         getEnvAsDuration("ACCRUAL_PERIOD", 24*time.Hour),
		AccrualWorkers:        getEnvAsInt("ACCRUAL_WORKERS", 4),
		AccrualLockTTL:        getEnvAsDuration("ACCRUAL_LOCK_TTL", 10*time.Minute),
		InstanceID:            getEnv("INSTANCE_ID", ""),
		PaymentTimeout:        getEnvAsDuration("PAYMENT_TIMEOUT", 2*time.Hour),
		PaymentExpiryInterval: getEnvAsDuration("PAYMENT_EXPIRY_INTERVAL", 5*time.Minute),
		AllowSimulatedConfirm: getEnvAsBool("ALLOW_SIMULATED_CONFIRM", false),
		BTCDepositAddress:     getEnv("BTC_DEPOSIT_ADDRESS", ""),
		ETHDepositAddress:     getEnv("ETH_DEPOSIT_ADDRESS", ""),
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChats:    getEnvAsList("TELEGRAM_ALERT_CHATS", nil),
		SMTPHost:              getEnv("SMTP_HOST", "smtp.example.com"),
		SMTPPort:              getEnvAsInt("SMTP_PORT", 587),
		SMTPAlternativePort:   getEnvAsInt("SMTP_ALTERNATIVE_PORT", 465),
		SMTPUser:              getEnv("SMTP_USER", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		SMTPSender:            getEnv("SMTP_SENDER", ""),

		APIPort: getEnvAsInt("API_PORT", 6532),

		PriceURL:           getEnv("PRICE_URL", "https://api.coindesk.com/v1/bpi/currentprice.json"),
		HashrateURL:        getEnv("HASHRATE_URL", "https://blockchain.info/q/hashrate"),
		DifficultyURL:      getEnv("DIFFICULTY_URL", "https://mempool.space/api/v1/mining/hashrate/difficulty"),
		PricingRefresh:     getEnvAsDuration("PRICING_REFRESH", 5*time.Minute),
		PricingHTTPTimeout: getEnvAsDuration("PRICING_HTTP_TIMEOUT", 10*time.Second),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
	case StorageMemory:
		if !c.Development {
			return fmt.Errorf("STORAGE_DRIVER=memory is only allowed with DEVELOPMENT=true")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.ServiceToken == "" {
		return fmt.Errorf("SERVICE_TOKEN is required")
	}
	if c.AllowSimulatedConfirm && !c.Development {
		return fmt.Errorf("ALLOW_SIMULATED_CONFIRM requires DEVELOPMENT=true")
	}

	if c.BTCDepositAddress == "" {
		return fmt.Errorf("BTC_DEPOSIT_ADDRESS is required")
	}
	if err := validation.ValidateBTCAddress(c.BTCDepositAddress); err != nil {
		return fmt.Errorf("invalid BTC_DEPOSIT_ADDRESS format: %w", err)
	}
	if c.ETHDepositAddress == "" {
		return fmt.Errorf("ETH_DEPOSIT_ADDRESS is required")
	}
	if err := validation.ValidateETHAddress(c.ETHDepositAddress); err != nil {
		return fmt.Errorf("invalid ETH_DEPOSIT_ADDRESS format: %w", err)
	}

	if c.AccrualPeriod <= 0 {
		return fmt.Errorf("ACCRUAL_PERIOD must be positive")
	}
	if c.AccrualWorkers < 1 {
		return fmt.Errorf("ACCRUAL_WORKERS must be at least 1")
	}
	if c.AccrualLockTTL <= 0 {
		return fmt.Errorf("ACCRUAL_LOCK_TTL must be positive")
	}
	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if c.PaymentExpiryInterval <= 0 {
		return fmt.Errorf("PAYMENT_EXPIRY_INTERVAL must be positive")
	}
	if c.PricingRefresh <= 0 {
		return fmt.Errorf("PRICING_REFRESH must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsList(name string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(name)
	if !exists {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
