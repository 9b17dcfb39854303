package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix        = "MTD_"
	configPathEnvVar = "MTD_CONFIG"
)

// Config holds service configuration. Precedence is env > file > defaults.
type Config struct {
	HTTPAddr       string   `koanf:"http_addr" validate:"required"`
	GRPCAddr       string   `koanf:"grpc_addr"`
	MetricsAddr    string   `koanf:"metrics_addr"`
	RedisAddr      string   `koanf:"redis_addr"`
	RedisPassword  string   `koanf:"redis_password"`
	RedisDB        int      `koanf:"redis_db" validate:"gte=0"`
	RedisPrefix    string   `koanf:"redis_prefix"`
	SeedIndicators bool     `koanf:"seed_indicators"`
	FeedPaths      []string `koanf:"feed_paths"`
	FeedSchedule   string   `koanf:"feed_schedule"`
	PolicyFile     string   `koanf:"policy_file"`
	LogLevel       string   `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string   `koanf:"log_format" validate:"oneof=json text"`
	RateLimit      float64  `koanf:"rate_limit" validate:"gt=0"`
	RateBurst      int      `koanf:"rate_burst" validate:"gte=1"`
	Workers        int      `koanf:"workers" validate:"gte=1,lte=256"`
	MaxBodyBytes   int64    `koanf:"max_body_bytes" validate:"gte=1024"`
	MaxBatchSize   int      `koanf:"max_batch_size" validate:"gte=1"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9000",
		MetricsAddr:    ":9090",
		RedisPrefix:    "ioc",
		SeedIndicators: true,
		LogLevel:       "info",
		LogFormat:      "json",
		RateLimit:      20,
		RateBurst:      40,
		Workers:        8,
		MaxBodyBytes:   1 << 20,
		MaxBatchSize:   500,
	}
}

// sliceKeys are comma separated when set from the environment.
var sliceKeys = []string{"feed_paths"}

// LoadConfig layers defaults, the optional YAML file named by MTD_CONFIG and
// MTD_* environment variables.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := os.Getenv(configPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceKeys(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envTransform maps MTD_HTTP_ADDR to http_addr. MTD_CONFIG and test-only
// variables are not config keys.
func envTransform(key string) string {
	if key == configPathEnvVar || strings.HasPrefix(key, envPrefix+"TEST_") {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(key, envPrefix))
}

func splitSliceKeys(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}
