package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/jobs"
	"credit-billing/internal/model"
	"credit-billing/internal/service"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds the application settings.
type Config struct {
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	DBLockTimeout time.Duration

	HTTPAddr string
	LogLevel logrus.Level

	JWTSecret   string
	TokenExpiry time.Duration
	JobToken    string

	StorageDriver  string
	RedisURL       string // empty keeps idempotency keys and job locks in process
	IdempotencyTTL time.Duration

	BillingTimezone string
	Rates           model.BillingRates
	Jobs            jobs.Config
	SMTP            service.SMTPConfig
}

// DSN is the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// LoadConfig reads the environment, loading .env first when present. Invalid values fail.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn(".env file not found, using environment")
	}

	p := &parser{}
	def := model.DefaultBillingRates()
	jobDef := jobs.DefaultConfig()

	cfg := &Config{
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "credit_billing"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		DBLockTimeout: p.duration("DB_LOCK_TIMEOUT", 5*time.Second),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: p.level("LOG_LEVEL", logrus.InfoLevel),

		JWTSecret:   getEnv("JWT_SECRET", "default-secret-key"),
		TokenExpiry: p.duration("TOKEN_EXPIRY", 24*time.Hour),
		JobToken:    os.Getenv("JOB_TOKEN"),

		StorageDriver:  getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		RedisURL:       os.Getenv("REDIS_URL"),
		IdempotencyTTL: p.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		BillingTimezone: getEnv("BILLING_TIMEZONE", "Asia/Tehran"),
		Rates: model.BillingRates{
			DailyPenaltyRate:         p.decimal("CREDIT_DAILY_PENALTY_RATE", def.DailyPenaltyRate),
			MaxPenaltyRateCap:        p.decimal("CREDIT_MAX_PENALTY_RATE", def.MaxPenaltyRateCap),
			MinimumPaymentPercentage: p.decimal("CREDIT_MINIMUM_PAYMENT_PERCENTAGE", def.MinimumPaymentPercentage),
			MinimumPaymentThreshold:  p.int64("CREDIT_MINIMUM_PAYMENT_THRESHOLD", def.MinimumPaymentThreshold),
			MonthlyInterestRate:      p.decimal("CREDIT_MONTHLY_INTEREST_RATE", def.MonthlyInterestRate),
			DefaultGraceDays:         int(p.int64("CREDIT_DEFAULT_GRACE_DAYS", int64(def.DefaultGraceDays))),
		},
		Jobs: jobs.Config{
			RolloverSpec:    getEnv("JOB_ROLLOVER_SCHEDULE", jobDef.RolloverSpec),
			FinalizeSpec:    getEnv("JOB_FINALIZE_SCHEDULE", jobDef.FinalizeSpec),
			PenaltySpec:     getEnv("JOB_PENALTY_SCHEDULE", jobDef.PenaltySpec),
			MaxAttempts:     uint(p.int64("JOB_MAX_ATTEMPTS", int64(jobDef.MaxAttempts))),
			InitialInterval: p.duration("JOB_RETRY_INTERVAL", jobDef.InitialInterval),
			LockTTL:         p.duration("JOB_LOCK_TTL", jobDef.LockTTL),
		},
		SMTP: service.SMTPConfig{
			Host:               os.Getenv("SMTP_HOST"),
			Port:               int(p.int64("SMTP_PORT", 587)),
			User:               os.Getenv("SMTP_USER"),
			Password:           os.Getenv("SMTP_PASSWORD"),
			From:               getEnv("SMTP_FROM", "billing@localhost"),
			InsecureSkipVerify: p.bool("SMTP_INSECURE_SKIP_VERIFY", false),
		},
	}
	cfg.SMTP.Enabled = cfg.SMTP.Host != ""

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Rates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid billing rates: %w", err)
	}
	if cfg.StorageDriver != StorageDriverPostgres && cfg.StorageDriver != StorageDriverMemory {
		return nil, fmt.Errorf("%w: STORAGE_DRIVER must be %q or %q", model.ErrInvalidInput, StorageDriverPostgres, StorageDriverMemory)
	}
	if cfg.Jobs.MaxAttempts == 0 {
		return nil, fmt.Errorf("%w: JOB_MAX_ATTEMPTS must be positive", model.ErrInvalidInput)
	}
	return cfg, nil
}

// getEnv returns the variable or defaultValue when unset.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// parser keeps the first conversion error so LoadConfig reports it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q: %v", model.ErrInvalidInput, key, value, err)
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) level(key string, def logrus.Level) logrus.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	l, err := logrus.ParseLevel(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return l
}
