/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	AppointmentEventQueue    string `mapstructure:"APPOINTMENT_EVENT_QUEUE"`
	AppointmentExchange      string `mapstructure:"APPOINTMENT_EXCHANGE"`
	MailServiceURL           string `mapstructure:"MAIL_SERVICE_URL"`
	MailServiceAPIKey        string `mapstructure:"MAIL_SERVICE_API_KEY"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	CreditRateLimitPerMinute int    `mapstructure:"CREDIT_RATE_LIMIT_PER_MINUTE"`
	InvoiceRateLimitPerMin   int    `mapstructure:"INVOICE_RATE_LIMIT_PER_MINUTE"`
	DraftRetryCronSpec       string `mapstructure:"DRAFT_RETRY_CRON_SPEC"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APPOINTMENT_EVENT_QUEUE", "billing_service.appointment_events")
	viper.SetDefault("APPOINTMENT_EXCHANGE", "scheduler.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:rate_limit")
	viper.SetDefault("CREDIT_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("INVOICE_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("DRAFT_RETRY_CRON_SPEC", "0 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BILLING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("APPOINTMENT_EVENT_QUEUE")
	_ = viper.BindEnv("APPOINTMENT_EXCHANGE")
	_ = viper.BindEnv("MAIL_SERVICE_URL")
	_ = viper.BindEnv("MAIL_SERVICE_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BILLING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CREDIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("INVOICE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("DRAFT_RETRY_CRON_SPEC")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BILLING_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "billing:rate_limit"
	}
	config.MailServiceURL = strings.TrimSpace(config.MailServiceURL)

	if config.CreditRateLimitPerMinute <= 0 {
		config.CreditRateLimitPerMinute = 60
	}
	if config.InvoiceRateLimitPerMin <= 0 {
		config.InvoiceRateLimitPerMin = 30
	}
	if strings.TrimSpace(config.DraftRetryCronSpec) == "" {
		config.DraftRetryCronSpec = "0 * * * *"
	}

	return
}
