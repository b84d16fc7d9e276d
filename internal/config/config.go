package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "REVENUE"

type Config struct {
	Server ServerConfig
	Data   DataConfig
	Misc   MiscConfig
}

type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutDownTimeout    time.Duration
	RequestTimeout     time.Duration
	CORSAllowedOrigins string
}

type DataConfig struct {
	// Backend is the database backend every tenant is opened with:
	// firestore, mongo, file or memory.
	Backend               string
	LoadMode              string
	ResubscribeOnRollover bool
	RolloverPoll          time.Duration
	EventBuffer           int
}

type MiscConfig struct {
	GinMode   string
	TimeZone  string
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Location resolves the configured time zone.
func (m MiscConfig) Location() (*time.Location, error) {
	return time.LoadLocation(m.TimeZone)
}

// LoadConfig reads config.yaml from REVENUE_CONFIG_PATH (default ./config),
// then applies .env and REVENUE_* environment overrides.
// REVENUE_DATA_BACKEND overrides data.backend, and so on.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithComponent("config").Warnf("ignoring .env: %v", err)
	}

	confPath := getEnvOrDefault(envPrefix+"_CONFIG_PATH", "./config")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(confPath)

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
		logger.WithComponent("config").Debugf("no config file in %s, using defaults and env vars", confPath)
	}

	port, err := getEnvOrViperPort(v, "PORT", "server.port")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        v.GetDuration("server.read_timeout"),
			WriteTimeout:       v.GetDuration("server.write_timeout"),
			IdleTimeout:        v.GetDuration("server.idle_timeout"),
			ShutDownTimeout:    v.GetDuration("server.shutdown_timeout"),
			RequestTimeout:     v.GetDuration("server.request_timeout"),
			CORSAllowedOrigins: v.GetString("server.cors_allowed_origins"),
		},
		Data: DataConfig{
			Backend:               strings.ToLower(v.GetString("data.backend")),
			LoadMode:              strings.ToLower(v.GetString("data.load_mode")),
			ResubscribeOnRollover: v.GetBool("data.resubscribe_on_rollover"),
			RolloverPoll:          v.GetDuration("data.rollover_poll"),
			EventBuffer:           v.GetInt("data.event_buffer"),
		},
		Misc: MiscConfig{
			GinMode:   v.GetString("misc.gin_mode"),
			TimeZone:  v.GetString("misc.time_zone"),
			LogLevel:  getEnvOrDefault("LOG_LEVEL", v.GetString("misc.log_level")),
			LogFormat: getEnvOrDefault("LOG_FORMAT", v.GetString("misc.log_format")),
			LogFile:   v.GetString("misc.log_file"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	// registration runs the cold-start refresh inside the request
	v.SetDefault("server.request_timeout", 45*time.Second)
	v.SetDefault("server.cors_allowed_origins", "*")

	v.SetDefault("data.backend", "firestore")
	v.SetDefault("data.load_mode", "replace")
	v.SetDefault("data.resubscribe_on_rollover", true)
	v.SetDefault("data.rollover_poll", time.Minute)
	v.SetDefault("data.event_buffer", 64)

	v.SetDefault("misc.gin_mode", "release")
	v.SetDefault("misc.time_zone", "Local")
	v.SetDefault("misc.log_level", "info")
	v.SetDefault("misc.log_format", "text")
	v.SetDefault("misc.log_file", "")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.IdleTimeout <= 0 {
		return errors.New("server read, write and idle timeouts must be positive")
	}
	if c.Server.ShutDownTimeout <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server request timeout must be positive")
	}

	switch c.Data.Backend {
	case "firestore", "mongo", "file", "memory":
	default:
		return fmt.Errorf("invalid data backend: %q", c.Data.Backend)
	}
	switch c.Data.LoadMode {
	case "", "replace", "merge":
	default:
		return fmt.Errorf("invalid data load mode: %q", c.Data.LoadMode)
	}
	if c.Data.RolloverPoll <= 0 {
		return errors.New("data rollover poll interval must be positive")
	}
	if c.Data.EventBuffer <= 0 {
		return errors.New("data event buffer must be positive")
	}

	if c.Misc.TimeZone == "" {
		return errors.New("time zone must not be empty")
	}
	if _, err := c.Misc.Location(); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.Misc.TimeZone, err)
	}
	switch c.Misc.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Misc.LogFormat)
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvOrViperPort prefers the plain env var (PaaS style PORT) over the
// viper key.
func getEnvOrViperPort(v *viper.Viper, envKey, viperKey string) (int, error) {
	if raw := os.Getenv(envKey); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", envKey, raw)
		}
		return port, nil
	}
	return v.GetInt(viperKey), nil
}
