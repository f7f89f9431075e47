package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// WorkerID distinguishes message ID generators across instances.
	WorkerID int64 `mapstructure:"worker_id"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// HeartbeatConfig drives the server-initiated liveness checks. The
// connection is closed after MaxMissed consecutive silent windows.
type HeartbeatConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	MaxMissed        int           `mapstructure:"max_missed"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
}

// RateLimitConfig holds per-minute request limits, enforced only when
// Redis is available. Zero disables the corresponding limit.
type RateLimitConfig struct {
	LoginPerMinute    int `mapstructure:"login_per_minute"`
	RegisterPerMinute int `mapstructure:"register_per_minute"`
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1234)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("heartbeat.interval", 5*time.Second)
	v.SetDefault("heartbeat.max_missed", 3)
	v.SetDefault("heartbeat.presence_interval", 3*time.Second)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.register_per_minute", 5)
	v.SetDefault("ratelimit.messages_per_minute", 120)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
