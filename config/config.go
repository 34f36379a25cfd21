package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"naskahcollab/pkg/logger"
)

const (
	TransportSimulated = "simulated"
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportKafka     = "kafka"
)

type Config struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	// DatabaseURL wins over the individual connection fields.
	DatabaseURL string `mapstructure:"database_url"`
	DBUser      string `mapstructure:"db_user"`
	DBPassword  string `mapstructure:"db_password"`
	DBHost      string `mapstructure:"db_host"`
	DBPort      string `mapstructure:"db_port"`
	DBName      string `mapstructure:"db_name"`

	JWTSecret string `mapstructure:"jwt_secret"`

	Transport    string   `mapstructure:"transport"`
	WSURL        string   `mapstructure:"ws_url"`
	WSToken      string   `mapstructure:"ws_token"`
	RedisAddr    string   `mapstructure:"redis_addr"`
	RedisChannel string   `mapstructure:"redis_channel"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	InactiveThreshold    time.Duration `mapstructure:"inactive_threshold"`
	ConflictWindow       time.Duration `mapstructure:"conflict_window"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = strings.TrimSpace(v.GetString("supabase_jwt_secret"))
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_host", "")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_name", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("transport", TransportSimulated)
	v.SetDefault("ws_url", "ws://localhost:8080/ws")
	v.SetDefault("ws_token", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_channel", "naskah:collab:events")
	v.SetDefault("kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("kafka_topic", "naskah.collab.events")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("inactive_threshold", "5m")
	v.SetDefault("conflict_window", "5s")
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("reconnect_base_delay", "1s")
}

// bindEnvVars maps keys to their variables. The database fields keep the
// lower-case names used by the hosted Postgres dashboard.
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"db_user":             "user",
		"db_password":         "password",
		"db_host":             "host",
		"db_port":             "port",
		"db_name":             "dbname",
		"port":                "PORT",
		"supabase_jwt_secret": "SUPABASE_JWT_SECRET",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	v.AutomaticEnv()
	return nil
}

func validate(cfg *Config) error {
	switch cfg.Transport {
	case TransportSimulated, TransportWebSocket, TransportRedis, TransportKafka:
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max_reconnect_attempts must be positive, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.Transport == TransportKafka && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka transport needs at least one broker")
	}
	return nil
}

// DSN returns the Postgres connection string, or "" when no database is configured.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return strings.TrimSpace(c.DatabaseURL)
	}
	if c.DBHost == "" || c.DBName == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(strings.TrimSpace(c.DBUser), strings.TrimSpace(c.DBPassword)),
		Host:     strings.TrimSpace(c.DBHost) + ":" + strings.TrimSpace(c.DBPort),
		Path:     "/" + strings.TrimSpace(c.DBName),
		RawQuery: "sslmode=require",
	}
	return u.String()
}
