package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Telegram Telegram `mapstructure:"telegram"`
	Digest   Digest   `mapstructure:"digest"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
}

// Telegram holds the configuration for the Telegram Bot API.
type Telegram struct {
	Token    string `mapstructure:"token"`
	Timezone string `mapstructure:"timezone"`
}

// Digest holds the configuration for the daily summary job.
type Digest struct {
	Hour int `mapstructure:"hour"` // local hour of day, 0-23
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is fine as long as the bot token is present in
// the environment; a missing token is a startup failure.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = viper.BindEnv("telegram.token", "TELEGRAM_TOKEN")
	_ = viper.BindEnv("telegram.timezone", "TIMEZONE")
	_ = viper.BindEnv("digest.hour", "DAILY_SUMMARY_HOUR")

	// Set default values
	viper.SetDefault("telegram.timezone", "Africa/Lusaka")
	viper.SetDefault("digest.hour", 20)
	viper.SetDefault("database.dsn", "trading_journal.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if config.Telegram.Token == "" {
		err = errors.New("TELEGRAM_TOKEN missing in env")
		return
	}
	if config.Digest.Hour < 0 || config.Digest.Hour > 23 {
		err = fmt.Errorf("digest hour must be between 0 and 23, got %d", config.Digest.Hour)
		return
	}

	return
}
