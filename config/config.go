// Package config holds the service configuration.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hannes/groundtag/store"
)

// LoggingConfig holds logging configuration options.
type LoggingConfig struct {
	LogRequests bool // Log request content
	LogEntities bool // Log extracted entities
	LogVerbose  bool // Log raw tagged text before and after processing
}

// DatabaseConfig holds the optional Postgres request log configuration.
type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int // seconds
}

// Postgres converts the database section into the store package's config.
func (d DatabaseConfig) Postgres() store.PostgresConfig {
	return store.PostgresConfig{
		Host:         d.Host,
		Port:         d.Port,
		Database:     d.Database,
		Username:     d.Username,
		Password:     d.Password,
		SSLMode:      d.SSLMode,
		MaxOpenConns: d.MaxOpenConns,
		MaxIdleConns: d.MaxIdleConns,
		MaxLifetime:  d.MaxLifetime,
	}
}

// OllamaConfig holds the optional grounding generation backend.
type OllamaConfig struct {
	Enabled bool
	URL     string
	Model   string
}

// Config holds all configuration for the grounding processor service.
type Config struct {
	ServerPort string

	TokenizerPath       string
	NumPatchIndexTokens int
	NumImageTokens      int

	ImageSize       int
	VisionModelPath string // optional ONNX vision encoder
	VisionLatents   int
	VisionHidden    int

	RateLimitRPS   float64
	RateLimitBurst int

	SentryDSN string

	Ollama   OllamaConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerPort:          ":8080",
		TokenizerPath:       "model/tokenizer.json",
		NumPatchIndexTokens: 1024,
		NumImageTokens:      64,
		ImageSize:           224,
		VisionLatents:       64,
		VisionHidden:        1024,
		RateLimitRPS:        20,
		RateLimitBurst:      40,
		Ollama: OllamaConfig{
			URL:   "http://localhost:11434",
			Model: "llava",
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "groundtag",
			Username:     "postgres",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  300,
		},
		Logging: LoggingConfig{
			LogRequests: true,
		},
	}
}

// Validate checks the configuration for values that would only fail later
// at serve time.
func (c *Config) Validate() error {
	if err := validatePort(c.ServerPort, "ServerPort"); err != nil {
		return err
	}
	if c.TokenizerPath == "" {
		return fmt.Errorf("TokenizerPath cannot be empty")
	}
	if c.NumPatchIndexTokens <= 0 {
		return fmt.Errorf("NumPatchIndexTokens must be positive (current value: %d)", c.NumPatchIndexTokens)
	}
	if c.NumImageTokens <= 0 {
		return fmt.Errorf("NumImageTokens must be positive (current value: %d)", c.NumImageTokens)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RateLimitRPS cannot be negative (current value: %f)", c.RateLimitRPS)
	}
	return nil
}

func validatePort(port, fieldName string) error {
	if port == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}
	if !strings.HasPrefix(port, ":") {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	number, err := strconv.Atoi(port[1:])
	if err != nil {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	if number < 1 || number > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, number)
	}
	return nil
}
