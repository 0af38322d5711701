package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	// Attachment storage. Optional: without an endpoint the service runs
	// with attachments disabled.
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	// Routing notifications. Notifier selects the transport: "amqp",
	// "redis" or "none".
	Notifier       string `yaml:"notifier"`
	AMQPURL        string `yaml:"amqpURL"`
	AMQPExchange   string `yaml:"amqpExchange"`
	AMQPRoutingKey string `yaml:"amqpRoutingKey"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	NotifyStream   string `yaml:"notifyStream"`

	// Public lookup throttling, keyed by client IP. Zero disables it;
	// a positive limit needs redisAddr for the shared counters.
	ConsultaRateLimit  int      `yaml:"consultaRateLimit"`
	ConsultaRateWindow int      `yaml:"consultaRateWindowSeconds"`
	TrustedProxies     []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("TRAMITEX_NOTIFIER"); v != "" {
		cfg.Notifier = v
	}
	if v := os.Getenv("TRAMITEX_AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("TRAMITEX_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("TRAMITEX_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required when minioEndpoint is set")
		}
	}
	switch cfg.Notifier {
	case "", "none":
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required when notifier is amqp")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when notifier is redis")
		}
	default:
		return fmt.Errorf("config: unknown notifier %q (want amqp, redis or none)", cfg.Notifier)
	}
	if cfg.ConsultaRateLimit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when consultaRateLimit is set")
	}
	return nil
}
