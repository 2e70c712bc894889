// Package config loads runtime settings from an optional YAML file and the environment.
// Environment variables win over the file; the file wins over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	HandleStoreMemory = "memory"
	HandleStoreRedis  = "redis"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	ServiceURL     string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	MaxResultBytes int64

	DefaultResultName   string
	EmptyFilenamePolicy string

	HandleStore string
	RedisAddr   string
	HandleTTL   time.Duration

	JWTSecret   string
	JWTAudience string

	LogLevel string
}

type fileConfig struct {
	// GRPCAddr is a pointer so an explicit empty value can switch the listener off.
	Server struct {
		HTTPAddr string  `yaml:"http_addr"`
		GRPCAddr *string `yaml:"grpc_addr"`
	} `yaml:"server"`
	Service struct {
		URL            string `yaml:"url"`
		RequestTimeout string `yaml:"request_timeout"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
		MaxResultBytes int64  `yaml:"max_result_bytes"`
	} `yaml:"service"`
	Result struct {
		DefaultName         string `yaml:"default_name"`
		EmptyFilenamePolicy string `yaml:"empty_filename_policy"`
	} `yaml:"result"`
	Handles struct {
		Store     string `yaml:"store"`
		RedisAddr string `yaml:"redis_addr"`
		TTL       string `yaml:"ttl"`
	} `yaml:"handles"`
	Auth struct {
		JWTSecret   string `yaml:"jwt_secret"`
		JWTAudience string `yaml:"jwt_audience"`
	} `yaml:"auth"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":9090",
		ServiceURL:          "http://localhost:8000/upload",
		MaxUploadBytes:      10 << 20,
		MaxResultBytes:      50 << 20,
		DefaultResultName:   "masked_image.png",
		EmptyFilenamePolicy: "keep",
		HandleStore:         HandleStoreMemory,
		RedisAddr:           "localhost:6379",
		HandleTTL:           time.Hour,
		LogLevel:            "info",
	}
}

// Load reads path if it is non-empty and exists, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnvAllowEmpty("GRPC_ADDR", cfg.GRPCAddr)
	cfg.ServiceURL = getEnv("MASK_SERVICE_URL", cfg.ServiceURL)
	cfg.RequestTimeout = getEnvDuration("MASK_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.MaxResultBytes = getEnvInt64("MAX_RESULT_BYTES", cfg.MaxResultBytes)
	cfg.DefaultResultName = getEnv("DEFAULT_RESULT_NAME", cfg.DefaultResultName)
	cfg.EmptyFilenamePolicy = getEnv("EMPTY_FILENAME_POLICY", cfg.EmptyFilenamePolicy)
	cfg.HandleStore = strings.ToLower(getEnv("HANDLE_STORE", cfg.HandleStore))
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.HandleTTL = getEnvDuration("HANDLE_TTL", cfg.HandleTTL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTAudience = getEnv("JWT_AUDIENCE", cfg.JWTAudience)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}

	setString(&c.HTTPAddr, f.Server.HTTPAddr)
	if f.Server.GRPCAddr != nil {
		c.GRPCAddr = *f.Server.GRPCAddr
	}
	setString(&c.ServiceURL, f.Service.URL)
	if f.Service.RequestTimeout != "" {
		d, err := time.ParseDuration(f.Service.RequestTimeout)
		if err != nil {
			return fmt.Errorf("service.request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	if f.Service.MaxUploadBytes > 0 {
		c.MaxUploadBytes = f.Service.MaxUploadBytes
	}
	if f.Service.MaxResultBytes > 0 {
		c.MaxResultBytes = f.Service.MaxResultBytes
	}
	setString(&c.DefaultResultName, f.Result.DefaultName)
	setString(&c.EmptyFilenamePolicy, f.Result.EmptyFilenamePolicy)
	setString(&c.HandleStore, strings.ToLower(f.Handles.Store))
	setString(&c.RedisAddr, f.Handles.RedisAddr)
	if f.Handles.TTL != "" {
		d, err := time.ParseDuration(f.Handles.TTL)
		if err != nil {
			return fmt.Errorf("handles.ttl: %w", err)
		}
		c.HandleTTL = d
	}
	setString(&c.JWTSecret, f.Auth.JWTSecret)
	setString(&c.JWTAudience, f.Auth.JWTAudience)
	setString(&c.LogLevel, f.Log.Level)
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.ServiceURL == "" {
		return fmt.Errorf("masking service url is required")
	}
	switch c.HandleStore {
	case HandleStoreMemory, HandleStoreRedis:
	default:
		return fmt.Errorf("unknown handle store %q", c.HandleStore)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	return nil
}

// ValidateServer adds the checks that only matter when serving the HTTP API.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT secret is required to serve the API; set JWT_SECRET")
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAllowEmpty lets an explicitly empty variable switch a listener off.
func getEnvAllowEmpty(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
