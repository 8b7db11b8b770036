package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "IDEAHUB"

type Config struct {
	ServerPort string `mapstructure:"server_port"`
	LogLevel   string `mapstructure:"log_level"`

	// Store selects the persistence backend: "postgres" or "memory".
	Store string `mapstructure:"store"`

	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`
	DBMaxConns int32  `mapstructure:"db_max_conns"`

	// RedisURL enables the shared rate limiter when set.
	RedisURL      string `mapstructure:"redis_url"`
	RedisPassword string `mapstructure:"redis_password"`

	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	JoinRequestLimit  int           `mapstructure:"join_request_limit"`
	JoinRequestWindow time.Duration `mapstructure:"join_request_window"`
	WSEventLimit      int           `mapstructure:"ws_event_limit"`
	WSEventWindow     time.Duration `mapstructure:"ws_event_window"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

var defaults = map[string]any{
	"server_port":         "8080",
	"log_level":           "info",
	"store":               "postgres",
	"db_host":             "localhost",
	"db_port":             "5432",
	"db_user":             "ideahub",
	"db_password":         "ideahub_dev_password",
	"db_name":             "ideahub",
	"db_max_conns":        10,
	"redis_url":           "",
	"redis_password":      "",
	"jwt_secret":          "dev-secret-change-me",
	"allowed_origins":     "localhost:3000,localhost:5173",
	"join_request_limit":  20,
	"join_request_window": "1m",
	"ws_event_limit":      120,
	"ws_event_window":     "10s",
	"shutdown_timeout":    "10s",
}

// Load reads configuration from defaults, an optional .env file in the
// working directory, and IDEAHUB_* environment variables, in increasing priority.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading .env: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.AllowedOrigins = splitCSV(cfg.AllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.JWTSecret == "" {
		return errors.New("config: jwt_secret is required")
	}
	return nil
}

// DatabaseURL builds the postgres DSN from the individual settings.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// splitCSV flattens values that arrive as one comma separated string from the environment.
func splitCSV(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
