package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	sslModeDisable = "disable"
	sslModeRequire = "require"

	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

type (
	Config struct {
		Host        string `mapstructure:"HOST"`
		Port        string `mapstructure:"PORT"`
		DBDriver    string `mapstructure:"DB_DRIVER"`
		DBHost      string `mapstructure:"DB_HOST"`
		DBPort      string `mapstructure:"DB_PORT"`
		DBUser      string `mapstructure:"DB_USER"`
		DBPassword  string `mapstructure:"DB_PASSWORD"`
		DBName      string `mapstructure:"DB_NAME"`
		DBSSLMode   string `mapstructure:"DB_SSL_MODE"`
		DBPath      string `mapstructure:"DB_PATH"`
		ImportFiles string `mapstructure:"IMPORT_FILES"`
	}
)

func NewConfig() (*Config, error) {
	viper.SetEnvPrefix("BOOKIE")

	viper.SetDefault("HOST", "0.0.0.0")
	viper.SetDefault("PORT", "6543")
	viper.SetDefault("DB_DRIVER", DriverPostgres)
	viper.SetDefault("DB_HOST", "0.0.0.0")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "bookie")
	viper.SetDefault("DB_SSL_MODE", sslModeDisable)
	viper.SetDefault("DB_PATH", "bookie.db")
	viper.SetDefault("IMPORT_FILES", "/tmp/bookie")

	envs := []string{
		"HOST", "PORT",
		"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE", "DB_PATH",
		"IMPORT_FILES",
	}
	for _, key := range envs {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DBDriver != DriverPostgres && cfg.DBDriver != DriverSqlite {
		return errors.New(fmt.Sprintf("DB driver is invalid: %s", cfg.DBDriver))
	}

	validSSLValues := []string{sslModeDisable, sslModeRequire}
	for _, validValue := range validSSLValues {
		if cfg.DBSSLMode == validValue {
			return nil
		}
	}
	return errors.New(fmt.Sprintf("DB SSL mode is invalid: %s", cfg.DBSSLMode))
}
