package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"GO_ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	// Redis (rate limiting + caching)
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// Messaging tunables
	TypingTimeoutSeconds int `mapstructure:"TYPING_TIMEOUT_SECONDS"`
	MessagePageSize      int `mapstructure:"MESSAGE_PAGE_SIZE"`
}

var AppConfig *Config

func LoadConfig() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("TYPING_TIMEOUT_SECONDS", 4)
	viper.SetDefault("MESSAGE_PAGE_SIZE", 50)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
}

// IsProduction reports whether the server runs with production settings.
func IsProduction() bool {
	return AppConfig != nil && AppConfig.Environment == "production"
}
