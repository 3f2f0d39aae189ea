// Package config loads the agent's configuration from a .env file plus
// environment variables, or from a YAML file, with documented defaults
// and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the agent needs to reach the model backend
// and the tool server.
type Config struct {
	// Model backend.
	ModelID     string  `yaml:"model_id"`
	AWSRegion   string  `yaml:"aws_region"`
	GatewayURL  string  `yaml:"gateway_url"` // empty = direct Bedrock connection
	APIKey      string  `yaml:"api_key"`     // AI Guard key; required when GatewayURL is set
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// Tool server subprocess.
	ServerPath   string `yaml:"server_path"`   // interpreter path
	ServerModule string `yaml:"server_module"` // module passed to -m

	// Loop and timeout budgets.
	MaxIterations          int `yaml:"max_iterations"`
	ToolCallTimeoutSeconds int `yaml:"tool_call_timeout_seconds"`
	RequestTimeoutSeconds  int `yaml:"request_timeout_seconds"`
}

// Default returns a Config with documented defaults; model and tool
// server identifiers must still be supplied.
func Default() *Config {
	return &Config{
		AWSRegion:              "us-east-1",
		MaxTokens:              4096,
		Temperature:            0.7,
		MaxIterations:          5,
		ToolCallTimeoutSeconds: 30,
		RequestTimeoutSeconds:  120,
	}
}

// Load reads configuration from a .env file (when present) and the
// process environment.
func Load() (*Config, error) {
	// A .env file is a development convenience; deployed environments
	// set variables directly.
	_ = godotenv.Load()

	cfg := Default()
	cfg.ModelID = os.Getenv("BEDROCK_MODEL_ID")
	cfg.GatewayURL = os.Getenv("ZSCALER_GATEWAY_URL")
	cfg.APIKey = os.Getenv("ZGUARDSECRET")
	cfg.ServerPath = os.Getenv("MCP_SERVER_PATH")
	cfg.ServerModule = os.Getenv("MCP_SERVER_MODULE")

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}

	var err error
	if cfg.MaxTokens, err = intEnv("BEDROCK_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return nil, err
	}
	if cfg.Temperature, err = floatEnv("BEDROCK_TEMPERATURE", cfg.Temperature); err != nil {
		return nil, err
	}
	if cfg.MaxIterations, err = intEnv("AGENT_MAX_ITERATIONS", cfg.MaxIterations); err != nil {
		return nil, err
	}
	if cfg.ToolCallTimeoutSeconds, err = intEnv("MCP_CALL_TIMEOUT_SECONDS", cfg.ToolCallTimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.RequestTimeoutSeconds, err = intEnv("GATEWAY_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the same configuration surface from a YAML file.
// Fields absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if c.ModelID == "" {
		return fmt.Errorf("model_id is required (BEDROCK_MODEL_ID)")
	}
	if c.GatewayURL != "" && c.APIKey == "" {
		return fmt.Errorf("api_key is required when gateway_url is set (ZGUARDSECRET)")
	}
	if c.GatewayURL == "" && c.AWSRegion == "" {
		return fmt.Errorf("aws_region is required for a direct connection (AWS_REGION)")
	}
	if c.ServerPath == "" || c.ServerModule == "" {
		return fmt.Errorf("server_path and server_module are required (MCP_SERVER_PATH, MCP_SERVER_MODULE)")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.ToolCallTimeoutSeconds <= 0 || c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// UseGateway reports whether the proxy variant is configured.
func (c *Config) UseGateway() bool { return c.GatewayURL != "" }

// ToolCallTimeout is the per-tool-call response budget.
func (c *Config) ToolCallTimeout() time.Duration {
	return time.Duration(c.ToolCallTimeoutSeconds) * time.Second
}

// RequestTimeout bounds one HTTP round trip to the AI gateway.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ServerArgs returns the argument vector for launching the tool server
// (the interpreter runs the configured module).
func (c *Config) ServerArgs() []string {
	return []string{"-m", c.ServerModule}
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return parsed, nil
}

func floatEnv(name string, fallback float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return parsed, nil
}
