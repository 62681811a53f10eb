package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	SessionSecret   string        `mapstructure:"SESSION_SECRET"`
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	UploadLimit     string        `mapstructure:"UPLOAD_LIMIT"`
	PublicBaseURL   string        `mapstructure:"PUBLIC_BASE_URL"`
	StorageDriver   string        `mapstructure:"STORAGE_DRIVER"`
	S3Bucket        string        `mapstructure:"S3_BUCKET"`
	S3Region        string        `mapstructure:"S3_REGION"`
	S3Endpoint      string        `mapstructure:"S3_ENDPOINT"`
	S3PathStyle     bool          `mapstructure:"S3_PATH_STYLE"`
	PaymentDriver   string        `mapstructure:"PAYMENT_DRIVER"`
	PaymentKeyID    string        `mapstructure:"PAYMENT_KEY_ID"`
	PaymentSecret   string        `mapstructure:"PAYMENT_KEY_SECRET"`
	PaymentWebhook  string        `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	PaymentBaseURL  string        `mapstructure:"PAYMENT_BASE_URL"`
	PaymentCurrency string        `mapstructure:"PAYMENT_CURRENCY"`
	MailDriver      string        `mapstructure:"MAIL_DRIVER"`
	SMTPHost        string        `mapstructure:"SMTP_HOST"`
	SMTPPort        int           `mapstructure:"SMTP_PORT"`
	SMTPUsername    string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword    string        `mapstructure:"SMTP_PASSWORD"`
	MailFrom        string        `mapstructure:"MAIL_FROM"`
	CommissionRate  string        `mapstructure:"DEFAULT_COMMISSION_RATE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SESSION_SECRET", "SESSION_TTL", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "UPLOAD_LIMIT", "PUBLIC_BASE_URL",
	"STORAGE_DRIVER", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE",
	"PAYMENT_DRIVER", "PAYMENT_KEY_ID", "PAYMENT_KEY_SECRET", "PAYMENT_WEBHOOK_SECRET",
	"PAYMENT_BASE_URL", "PAYMENT_CURRENCY",
	"MAIL_DRIVER", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "MAIL_FROM",
	"DEFAULT_COMMISSION_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "10M")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("STORAGE_DRIVER", "memory")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("PAYMENT_DRIVER", "fake")
	v.SetDefault("PAYMENT_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("PAYMENT_CURRENCY", "INR")
	v.SetDefault("MAIL_DRIVER", "log")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "no-reply@labbook.local")
	v.SetDefault("DEFAULT_COMMISSION_RATE", "10")

	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.SessionSecret == "" {
		log.Println("WARNING: SESSION_SECRET is not set; using an insecure development secret.")
		cfg.SessionSecret = "labbook-development-session-secret!"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DefaultCommissionRate parses DEFAULT_COMMISSION_RATE as a percentage.
func (c *Config) DefaultCommissionRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.CommissionRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_COMMISSION_RATE is not a number: %w", err)
	}
	return rate, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes, got %d", len(c.SessionSecret))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	rate, err := c.DefaultCommissionRate()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("DEFAULT_COMMISSION_RATE must be between 0 and 100, got %s", rate)
	}

	switch c.StorageDriver {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"memory\" or \"s3\", got %q", c.StorageDriver)
	}

	switch c.PaymentDriver {
	case "fake":
		if c.IsProduction() {
			return fmt.Errorf("PAYMENT_DRIVER \"fake\" is not allowed in production")
		}
	case "razorpay":
		if c.PaymentKeyID == "" || c.PaymentSecret == "" {
			return fmt.Errorf("PAYMENT_KEY_ID and PAYMENT_KEY_SECRET are required when PAYMENT_DRIVER is \"razorpay\"")
		}
	default:
		return fmt.Errorf("PAYMENT_DRIVER must be \"fake\" or \"razorpay\", got %q", c.PaymentDriver)
	}

	switch c.MailDriver {
	case "log":
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_DRIVER is \"smtp\"")
		}
	default:
		return fmt.Errorf("MAIL_DRIVER must be \"log\" or \"smtp\", got %q", c.MailDriver)
	}

	return nil
}
