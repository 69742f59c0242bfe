package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// devJWTSecret is only accepted when ENV=development.
const devJWTSecret = "dev-secret-change-me"

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	JWTExpSeconds      int      `mapstructure:"JWT_EXP_SECONDS"`
	AllowedOrigins     []string `mapstructure:"ALLOWED_ORIGINS"`
	UploadFolder       string   `mapstructure:"UPLOAD_FOLDER"`
	MaxContentLength   string   `mapstructure:"MAX_CONTENT_LENGTH"`
	OCRServiceURL      string   `mapstructure:"OCR_SERVICE_URL"`
	OCRLanguages       []string `mapstructure:"OCR_LANGUAGES"`
	OCRTimeoutSeconds  int      `mapstructure:"OCR_TIMEOUT_SECONDS"`
	UnidocLicenseKey   string   `mapstructure:"UNIDOC_LICENSE_API_KEY"`
	AdminPassword      string   `mapstructure:"ADMIN_PASSWORD"`
	LocalResetSecret   string   `mapstructure:"LOCAL_RESET_SECRET"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	DedupeWindowMillis int      `mapstructure:"DEDUPE_WINDOW_MS"`
	LegacyMySQLDSN     string   `mapstructure:"LEGACY_MYSQL_DSN"`
	RequestTimeoutSecs int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
}

var boundKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"JWT_SECRET",
	"JWT_EXP_SECONDS",
	"ALLOWED_ORIGINS",
	"UPLOAD_FOLDER",
	"MAX_CONTENT_LENGTH",
	"OCR_SERVICE_URL",
	"OCR_LANGUAGES",
	"OCR_TIMEOUT_SECONDS",
	"UNIDOC_LICENSE_API_KEY",
	"ADMIN_PASSWORD",
	"LOCAL_RESET_SECRET",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"DEDUPE_WINDOW_MS",
	"LEGACY_MYSQL_DSN",
	"REQUEST_TIMEOUT_SECONDS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_EXP_SECONDS", 86400)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:8080")
	v.SetDefault("UPLOAD_FOLDER", "./uploads")
	v.SetDefault("MAX_CONTENT_LENGTH", "15M")
	v.SetDefault("OCR_LANGUAGES", "eng")
	v.SetDefault("OCR_TIMEOUT_SECONDS", 30)
	v.SetDefault("ADMIN_PASSWORD", "admin256")
	v.SetDefault("LOCAL_RESET_SECRET", "localdev")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("DEDUPE_WINDOW_MS", 2000)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 90)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AllowedOrigins = splitList(v.GetString("ALLOWED_ORIGINS"))
	cfg.OCRLanguages = splitList(v.GetString("OCR_LANGUAGES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.IsDev() {
		cfg.JWTSecret = devJWTSecret
		log.Println("WARNING: JWT_SECRET is not set; using the development signing secret.")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TokenTTL is the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpSeconds) * time.Second
}

// OCRTimeout bounds a single OCR call.
func (c *Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCRTimeoutSeconds) * time.Second
}

// DedupeWindow is how long identical record reads reuse a previous result.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowMillis) * time.Millisecond
}

// RequestTimeout bounds a whole request. It must leave room for OCR.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a real JWT secret is required, and the production default admin password is
// refused.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if !c.IsDev() && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must not use the development secret when ENV=%q", c.Env)
	}
	if c.JWTExpSeconds <= 0 {
		return fmt.Errorf("JWT_EXP_SECONDS must be positive, got %d", c.JWTExpSeconds)
	}
	if c.IsProduction() && c.AdminPassword == "admin256" {
		return fmt.Errorf("ADMIN_PASSWORD must be changed in production")
	}
	if c.UploadFolder == "" {
		return fmt.Errorf("UPLOAD_FOLDER must not be empty")
	}
	if c.RequestTimeoutSecs > 0 && c.OCRTimeoutSeconds >= c.RequestTimeoutSecs {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS (%d) must exceed OCR_TIMEOUT_SECONDS (%d)", c.RequestTimeoutSecs, c.OCRTimeoutSeconds)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}
