package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	Backend struct {
		BaseURL string `mapstructure:"base_url"`
		WSURL   string `mapstructure:"ws_url"`
	} `mapstructure:"backend"`

	Refresh struct {
		MinSeconds int `mapstructure:"min_seconds"`
		MaxSeconds int `mapstructure:"max_seconds"`
	} `mapstructure:"refresh"`

	Redis struct {
		Addr string `mapstructure:"addr"`
		TTL  string `mapstructure:"ttl"`
	} `mapstructure:"redis"`
}

// Load reads the yaml config and applies env overrides. Missing file is
// not an error when every required value comes from the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("backend.base_url", "http://localhost:5000")
	v.SetDefault("refresh.min_seconds", 1)
	v.SetDefault("refresh.max_seconds", 300)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if url := os.Getenv("BACKEND_BASE_URL"); url != "" {
		cfg.Backend.BaseURL = url
	}
	if url := os.Getenv("BACKEND_WS_URL"); url != "" {
		cfg.Backend.WSURL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	if cfg.Refresh.MinSeconds < 1 {
		cfg.Refresh.MinSeconds = 1
	}
	if cfg.Refresh.MaxSeconds < cfg.Refresh.MinSeconds {
		cfg.Refresh.MaxSeconds = 300
	}
	return &cfg, nil
}

func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Refresh.MinSeconds) * time.Second
}

func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.Refresh.MaxSeconds) * time.Second
}

// RedisTTL parses the configured snapshot TTL, defaulting to one hour.
func (c *Config) RedisTTL() time.Duration {
	if c.Redis.TTL == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(c.Redis.TTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
