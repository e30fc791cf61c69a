// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"log"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDatabase  string `mapstructure:"MONGO_DATABASE"`
	CacheBackend   string `mapstructure:"CACHE_BACKEND"` // "redis", "sqlite" or "memory"
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	ConnectTimeout int    `mapstructure:"CONNECT_TIMEOUT_SECONDS"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() *Config {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &notFoundErr) {
			log.Println("Config file not found; using environment variables and defaults")
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	}

	// Set default values
	viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	viper.SetDefault("MONGO_DATABASE", "chatsync")
	viper.SetDefault("CACHE_BACKEND", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("SQLITE_PATH", "chatsync.db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("CONNECT_TIMEOUT_SECONDS", 10)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode config into struct, %v", err)
	}

	return &config
}
