package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // scratch images ship without zoneinfo

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/pix"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Dues     DuesConfig     `yaml:"dues"`
	Pix      PixConfig      `yaml:"pix"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver       string `yaml:"driver"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
	// AdminEmails are promoted to the admin role on signup
	AdminEmails []string `yaml:"adminEmails"`
}

// DuesConfig holds the tariff and calendar settings
type DuesConfig struct {
	MonthlyRate    string `yaml:"monthlyRate"`
	AnnualDiscount string `yaml:"annualDiscount"`
	StartYear      int    `yaml:"startYear"`
	Timezone       string `yaml:"timezone"`
}

// PixConfig is the merchant identity printed into payment codes
type PixConfig struct {
	Key          string `yaml:"key"`
	MerchantName string `yaml:"merchantName"`
	MerchantCity string `yaml:"merchantCity"`
	PostalCode   string `yaml:"postalCode"`
	QRSize       int    `yaml:"qrSize"`
}

// AMQPConfig holds the event broker settings. An empty URL disables publishing.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LogConfig holds the logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Mode: "release",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Username:     "postgres",
			Password:     "password",
			DBName:       "cpvl",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			JWTSecret: "your-secret-key-here",
			TokenTTL:  24 * time.Hour,
		},
		Dues: DuesConfig{
			MonthlyRate:    "50.00",
			AnnualDiscount: "0.10",
			StartYear:      2025,
			Timezone:       "America/Sao_Paulo",
		},
		Pix: PixConfig{
			MerchantName: "CPVL",
			MerchantCity: "POCOS CALDAS",
			PostalCode:   "37701000",
			QRSize:       200,
		},
		AMQP: AMQPConfig{
			Exchange: "cpvl.payments",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// named by CONFIG_FILE, and environment variables, in increasing precedence.
// A .env file in the working directory is loaded into the environment first.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.Mode = getEnv("GIN_MODE", c.Server.Mode)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.Username = getEnv("DB_USERNAME", c.Database.Username)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvAsDuration("JWT_TTL", c.Auth.TokenTTL)
	c.Auth.AdminEmails = getEnvAsList("ADMIN_EMAILS", c.Auth.AdminEmails)

	c.Dues.MonthlyRate = getEnv("DUES_MONTHLY_RATE", c.Dues.MonthlyRate)
	c.Dues.AnnualDiscount = getEnv("DUES_ANNUAL_DISCOUNT", c.Dues.AnnualDiscount)
	c.Dues.StartYear = getEnvAsInt("DUES_START_YEAR", c.Dues.StartYear)
	c.Dues.Timezone = getEnv("DUES_TIMEZONE", c.Dues.Timezone)

	c.Pix.Key = getEnv("PIX_KEY", c.Pix.Key)
	c.Pix.MerchantName = getEnv("PIX_MERCHANT_NAME", c.Pix.MerchantName)
	c.Pix.MerchantCity = getEnv("PIX_MERCHANT_CITY", c.Pix.MerchantCity)
	c.Pix.PostalCode = getEnv("PIX_POSTAL_CODE", c.Pix.PostalCode)
	c.Pix.QRSize = getEnvAsInt("PIX_QR_SIZE", c.Pix.QRSize)

	c.AMQP.URL = getEnv("AMQP_URL", c.AMQP.URL)
	c.AMQP.Exchange = getEnv("AMQP_EXCHANGE", c.AMQP.Exchange)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Pricing returns the tariff parsed from the dues settings
func (c *Config) Pricing() (ledger.Pricing, error) {
	rate, err := decimal.NewFromString(c.Dues.MonthlyRate)
	if err != nil {
		return ledger.Pricing{}, fmt.Errorf("invalid monthly rate %q: %w", c.Dues.MonthlyRate, err)
	}
	discount, err := decimal.NewFromString(c.Dues.AnnualDiscount)
	if err != nil {
		return ledger.Pricing{}, fmt.Errorf("invalid annual discount %q: %w", c.Dues.AnnualDiscount, err)
	}
	return ledger.Pricing{MonthlyRate: rate, AnnualDiscount: discount}, nil
}

// Location returns the time zone used for discount windows and "now"
func (c *Config) Location() (*time.Location, error) {
	if c.Dues.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Dues.Timezone)
}

// Merchant returns the PIX receiver identity
func (c *Config) Merchant() pix.Merchant {
	return pix.Merchant{
		Key:        c.Pix.Key,
		Name:       c.Pix.MerchantName,
		City:       c.Pix.MerchantCity,
		PostalCode: c.Pix.PostalCode,
	}
}

// IsAdminEmail reports whether email is listed in AdminEmails
func (c *Config) IsAdminEmail(email string) bool {
	for _, e := range c.Auth.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(e), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", c.Server.Port))
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		problems = append(problems, fmt.Sprintf("invalid database driver '%s': must be 'postgres' or 'memory'", c.Database.Driver))
	}

	if c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT secret cannot be empty")
	}
	if c.Auth.TokenTTL < time.Minute {
		problems = append(problems, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.Auth.TokenTTL))
	}

	if pricing, err := c.Pricing(); err != nil {
		problems = append(problems, err.Error())
	} else {
		if !pricing.MonthlyRate.IsPositive() {
			problems = append(problems, fmt.Sprintf("invalid monthly rate %s: must be positive", c.Dues.MonthlyRate))
		}
		if pricing.AnnualDiscount.IsNegative() || pricing.AnnualDiscount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			problems = append(problems, fmt.Sprintf("invalid annual discount %s: must be in [0, 1)", c.Dues.AnnualDiscount))
		}
	}
	if c.Dues.StartYear < 2000 || c.Dues.StartYear > 9999 {
		problems = append(problems, fmt.Sprintf("invalid start year %d", c.Dues.StartYear))
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("invalid timezone '%s': %v", c.Dues.Timezone, err))
	}

	if strings.TrimSpace(c.Pix.Key) == "" {
		problems = append(problems, "PIX key cannot be empty (set PIX_KEY)")
	}
	if len(c.Pix.MerchantName) == 0 || len(c.Pix.MerchantName) > 25 {
		problems = append(problems, "PIX merchant name must have 1 to 25 characters")
	}
	if len(c.Pix.MerchantCity) == 0 || len(c.Pix.MerchantCity) > 15 {
		problems = append(problems, "PIX merchant city must have 1 to 15 characters")
	}
	if c.Pix.QRSize < 64 {
		problems = append(problems, fmt.Sprintf("invalid QR size %d: must be at least 64", c.Pix.QRSize))
	}

	if c.AMQP.URL != "" {
		if parsedURL, err := url.Parse(c.AMQP.URL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQP.URL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQP.Exchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be 'json' or 'console'", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
