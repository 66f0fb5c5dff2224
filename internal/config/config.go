/**
 * @description
 * This package handles the configuration management for the donation-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration binding and defaults.
 * - github.com/joho/godotenv: Loads a local .env file into the process environment.
 */

package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort          = "8080"
	defaultVelocityPrefix      = "donation:velocity"
	defaultEventsExchange      = "donation.events"
	defaultAdminRole           = "admin"
	defaultGatewayBaseURL      = "https://api.razorpay.com"
	defaultGatewayCurrency     = "INR"
	defaultPlatformFeePercent  = 2.0
	defaultMinDonationAmount   = 1
	defaultMaxDonationAmount   = 1_000_000
	defaultFraudBlockScore     = 80
	defaultVelocityInterval    = 30
	defaultReconcileSchedule   = "*/5 * * * *"
	defaultLedgerAuditSchedule = "0 3 * * *"
	defaultReconcileBatchSize  = 100
)

// Config holds all the configuration variables for the donation-service.
type Config struct {
	ServerPort                 string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                string  `mapstructure:"DATABASE_URL"`
	RunMigrations              bool    `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                   string  `mapstructure:"REDIS_URL"`
	RedisVelocityPrefix        string  `mapstructure:"REDIS_VELOCITY_PREFIX"`
	RabbitMQURL                string  `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string  `mapstructure:"EVENTS_EXCHANGE"`
	JWKSURL                    string  `mapstructure:"JWKS_URL"`
	JWTAudience                string  `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer                  string  `mapstructure:"JWT_ISSUER"`
	AdminRole                  string  `mapstructure:"ADMIN_ROLE"`
	CORSAllowedOrigins         string  `mapstructure:"CORS_ALLOWED_ORIGINS"`
	GatewayBaseURL             string  `mapstructure:"GATEWAY_BASE_URL"`
	GatewayKeyID               string  `mapstructure:"GATEWAY_KEY_ID"`
	GatewayKeySecret           string  `mapstructure:"GATEWAY_KEY_SECRET"`
	GatewayCurrency            string  `mapstructure:"GATEWAY_CURRENCY"`
	PlatformFeePercent         float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	MinDonationAmount          int64   `mapstructure:"MIN_DONATION_AMOUNT"`
	MaxDonationAmount          int64   `mapstructure:"MAX_DONATION_AMOUNT"`
	FraudBlockScore            int     `mapstructure:"FRAUD_BLOCK_SCORE"`
	VelocityMinIntervalSeconds int     `mapstructure:"VELOCITY_MIN_INTERVAL_SECONDS"`
	ReconcileSchedule          string  `mapstructure:"RECONCILE_SCHEDULE"`
	LedgerAuditSchedule        string  `mapstructure:"LEDGER_AUDIT_SCHEDULE"`
	ReconcileBatchSize         int     `mapstructure:"RECONCILE_BATCH_SIZE"`
}

// LoadConfig reads configuration from environment variables and an optional .env file
// in the given path. Environment variables always win over the file.
func LoadConfig(path string) (config Config, err error) {
	// godotenv never overrides variables that are already set.
	if loadErr := godotenv.Load(filepath.Join(path, ".env")); loadErr != nil && !os.IsNotExist(loadErr) {
		log.Printf("level=warn component=config msg=\"failed to load .env file\" err=%v", loadErr)
	}

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_VELOCITY_PREFIX", defaultVelocityPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("ADMIN_ROLE", defaultAdminRole)
	viper.SetDefault("GATEWAY_BASE_URL", defaultGatewayBaseURL)
	viper.SetDefault("GATEWAY_CURRENCY", defaultGatewayCurrency)
	viper.SetDefault("PLATFORM_FEE_PERCENT", defaultPlatformFeePercent)
	viper.SetDefault("MIN_DONATION_AMOUNT", defaultMinDonationAmount)
	viper.SetDefault("MAX_DONATION_AMOUNT", defaultMaxDonationAmount)
	viper.SetDefault("FRAUD_BLOCK_SCORE", defaultFraudBlockScore)
	viper.SetDefault("VELOCITY_MIN_INTERVAL_SECONDS", defaultVelocityInterval)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("LEDGER_AUDIT_SCHEDULE", defaultLedgerAuditSchedule)
	viper.SetDefault("RECONCILE_BATCH_SIZE", defaultReconcileBatchSize)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DONATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_VELOCITY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("JWKS_URL", "JWKS_URL", "CLERK_JWKS_URL")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("ADMIN_ROLE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("GATEWAY_BASE_URL")
	_ = viper.BindEnv("GATEWAY_KEY_ID", "GATEWAY_KEY_ID", "RAZORPAY_KEY_ID")
	_ = viper.BindEnv("GATEWAY_KEY_SECRET", "GATEWAY_KEY_SECRET", "RAZORPAY_KEY_SECRET")
	_ = viper.BindEnv("GATEWAY_CURRENCY")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("MIN_DONATION_AMOUNT")
	_ = viper.BindEnv("MAX_DONATION_AMOUNT")
	_ = viper.BindEnv("FRAUD_BLOCK_SCORE")
	_ = viper.BindEnv("VELOCITY_MIN_INTERVAL_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("LEDGER_AUDIT_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisVelocityPrefix = strings.TrimSpace(config.RedisVelocityPrefix)
	if config.RedisVelocityPrefix == "" {
		config.RedisVelocityPrefix = defaultVelocityPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.AdminRole = strings.TrimSpace(config.AdminRole)
	if config.AdminRole == "" {
		config.AdminRole = defaultAdminRole
	}
	config.GatewayBaseURL = strings.TrimRight(strings.TrimSpace(config.GatewayBaseURL), "/")
	if config.GatewayBaseURL == "" {
		config.GatewayBaseURL = defaultGatewayBaseURL
	}
	config.GatewayKeyID = strings.TrimSpace(config.GatewayKeyID)
	config.GatewayKeySecret = strings.TrimSpace(config.GatewayKeySecret)
	config.GatewayCurrency = strings.ToUpper(strings.TrimSpace(config.GatewayCurrency))
	if config.GatewayCurrency == "" {
		config.GatewayCurrency = defaultGatewayCurrency
	}

	// Accept PLATFORM_FEE_PERCENTAGE as an alias, mirroring how operators write it in dashboards.
	_, explicitPercent := os.LookupEnv("PLATFORM_FEE_PERCENT")
	if raw := strings.TrimSpace(os.Getenv("PLATFORM_FEE_PERCENTAGE")); raw != "" && !explicitPercent {
		value, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			log.Printf("level=warn component=config msg=\"invalid PLATFORM_FEE_PERCENTAGE\" value=%q err=%v", raw, parseErr)
		} else {
			config.PlatformFeePercent = value
		}
	}
	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}

	if config.MinDonationAmount <= 0 {
		log.Printf("level=warn component=config msg=\"invalid minimum donation amount; using default\" value=%d", config.MinDonationAmount)
		config.MinDonationAmount = defaultMinDonationAmount
	}
	if config.MaxDonationAmount < config.MinDonationAmount {
		log.Printf("level=warn component=config msg=\"maximum donation below minimum; using default\" value=%d", config.MaxDonationAmount)
		config.MaxDonationAmount = defaultMaxDonationAmount
	}
	if config.FraudBlockScore <= 0 || config.FraudBlockScore > 100 {
		log.Printf("level=warn component=config msg=\"invalid fraud block score; using default\" value=%d", config.FraudBlockScore)
		config.FraudBlockScore = defaultFraudBlockScore
	}
	if config.VelocityMinIntervalSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"invalid velocity interval; using default\" value=%d", config.VelocityMinIntervalSeconds)
		config.VelocityMinIntervalSeconds = defaultVelocityInterval
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = defaultReconcileBatchSize
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	config.LedgerAuditSchedule = strings.TrimSpace(config.LedgerAuditSchedule)

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into a list, defaulting to any origin.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
