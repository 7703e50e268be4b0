// Package config loads PipeGate's configuration. Precedence, lowest to
// highest: built-in defaults, an optional YAML file, environment variables.
// Command-line flags are applied on top by the binaries themselves.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the pipegate-server binary.
type ServerConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	ClientToken           string `yaml:"client_token"`
	JWTSecret             string `yaml:"jwt_secret"`
	SSLCertFile           string `yaml:"ssl_certfile"`
	SSLKeyFile            string `yaml:"ssl_keyfile"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxBodyBytes          int64  `yaml:"max_body_bytes"`
	RedisURL              string `yaml:"redis_url"`
	PresenceChannel       string `yaml:"presence_channel"`
	AdminToken            string `yaml:"admin_token"`
	LogLevel              string `yaml:"log_level"`
	LogPretty             bool   `yaml:"log_pretty"`
}

// ClientConfig configures the pipegate-client binary.
type ClientConfig struct {
	LocalURL    string `yaml:"local_url"`
	ServerURL   string `yaml:"server_url"`
	ConnID      string `yaml:"conn_id"`
	ClientToken string `yaml:"client_token"`
	LogLevel    string `yaml:"log_level"`
	LogPretty   bool   `yaml:"log_pretty"`
}

// DefaultServer returns the server defaults used when neither file, env,
// nor flag overrides a field.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Host:                  "0.0.0.0",
		Port:                  8000,
		RequestTimeoutSeconds: 30,
		MaxBodyBytes:          10 << 20,
		LogLevel:              "info",
	}
}

// DefaultClient returns the client defaults.
func DefaultClient() ClientConfig {
	return ClientConfig{
		LocalURL: "http://127.0.0.1:8080",
		LogLevel: "info",
	}
}

// LoadServer builds a ServerConfig from defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServer()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}

	cfg.Host = GetEnv("PIPEGATE_HOST", cfg.Host)
	cfg.Port = GetEnvInt("PIPEGATE_PORT", cfg.Port)
	cfg.ClientToken = GetEnv("PIPEGATE_CLIENT_TOKEN", cfg.ClientToken)
	cfg.JWTSecret = GetEnv("PIPEGATE_JWT_SECRET", cfg.JWTSecret)
	cfg.SSLCertFile = GetEnv("PIPEGATE_SSL_CERTFILE", cfg.SSLCertFile)
	cfg.SSLKeyFile = GetEnv("PIPEGATE_SSL_KEYFILE", cfg.SSLKeyFile)
	cfg.RequestTimeoutSeconds = GetEnvInt("PIPEGATE_REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds)
	cfg.MaxBodyBytes = int64(GetEnvInt("PIPEGATE_MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.RedisURL = GetEnv("PIPEGATE_REDIS_URL", cfg.RedisURL)
	cfg.PresenceChannel = GetEnv("PIPEGATE_PRESENCE_CHANNEL", cfg.PresenceChannel)
	cfg.AdminToken = GetEnv("PIPEGATE_ADMIN_TOKEN", cfg.AdminToken)
	cfg.LogLevel = GetEnv("PIPEGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = GetEnvBool("PIPEGATE_LOG_PRETTY", cfg.LogPretty)

	return cfg, nil
}

// LoadClient builds a ClientConfig from defaults, the YAML file at path
// (skipped when empty), and environment variables.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClient()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}

	cfg.LocalURL = GetEnv("PIPEGATE_LOCAL_URL", cfg.LocalURL)
	cfg.ServerURL = GetEnv("PIPEGATE_SERVER_URL", cfg.ServerURL)
	cfg.ConnID = GetEnv("PIPEGATE_CONN_ID", cfg.ConnID)
	cfg.ClientToken = GetEnv("PIPEGATE_CLIENT_TOKEN", cfg.ClientToken)
	cfg.LogLevel = GetEnv("PIPEGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = GetEnvBool("PIPEGATE_LOG_PRETTY", cfg.LogPretty)

	return cfg, nil
}

// Validate checks the server config for contradictions before startup.
func (c ServerConfig) Validate() error {
	if c.ClientToken == "" && c.JWTSecret == "" {
		return fmt.Errorf("config: one of client_token or jwt_secret is required")
	}
	if c.ClientToken != "" && c.JWTSecret != "" {
		return fmt.Errorf("config: client_token and jwt_secret are mutually exclusive")
	}
	if (c.SSLCertFile == "") != (c.SSLKeyFile == "") {
		return fmt.Errorf("config: ssl_certfile and ssl_keyfile must be set together")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("config: request_timeout_seconds must be positive")
	}
	return nil
}

// Validate checks the client config before the relay dials out.
func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if c.ConnID == "" {
		return fmt.Errorf("config: conn_id is required")
	}
	if c.ClientToken == "" {
		return fmt.Errorf("config: client_token is required")
	}
	return nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// GetEnv returns the environment variable key, or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt returns key parsed as an int, or defaultValue when unset or
// unparsable.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetEnvBool returns key interpreted as a boolean ("true"/"1" are true),
// or defaultValue when unset.
func GetEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return defaultValue
	}
}
