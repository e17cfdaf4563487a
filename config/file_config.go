package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// FileConfig is the subset of settings readable from a JSON config file.
// Pointer fields distinguish "not set" from zero values so a file can
// override any subset of the defaults.
type FileConfig struct {
	ServerPort          *string  `json:"serverPort,omitempty"`
	TokenizerPath       *string  `json:"tokenizerPath,omitempty"`
	VisionModelPath     *string  `json:"visionModelPath,omitempty"`
	NumPatchIndexTokens *int     `json:"numPatchIndexTokens,omitempty"`
	NumImageTokens      *int     `json:"numImageTokens,omitempty"`
	RateLimitRPS        *float64 `json:"rateLimitRps,omitempty"`
	OllamaEnabled       *bool    `json:"ollamaEnabled,omitempty"`
	OllamaURL           *string  `json:"ollamaUrl,omitempty"`
	OllamaModel         *string  `json:"ollamaModel,omitempty"`
}

// ApplyFile reads a JSON config file and overlays its settings onto cfg.
// Returns an error if the file doesn't exist, is invalid JSON, or contains
// an invalid URL.
func ApplyFile(configPath string, cfg *Config) error {
	if configPath == "" {
		return fmt.Errorf("config file path is not configured")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig FileConfig
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if fileConfig.OllamaURL != nil {
		if _, parseErr := url.Parse(*fileConfig.OllamaURL); parseErr != nil {
			return fmt.Errorf("invalid ollamaUrl format: %w", parseErr)
		}
		cfg.Ollama.URL = *fileConfig.OllamaURL
	}
	if fileConfig.ServerPort != nil {
		cfg.ServerPort = *fileConfig.ServerPort
	}
	if fileConfig.TokenizerPath != nil {
		cfg.TokenizerPath = *fileConfig.TokenizerPath
	}
	if fileConfig.VisionModelPath != nil {
		cfg.VisionModelPath = *fileConfig.VisionModelPath
	}
	if fileConfig.NumPatchIndexTokens != nil {
		cfg.NumPatchIndexTokens = *fileConfig.NumPatchIndexTokens
	}
	if fileConfig.NumImageTokens != nil {
		cfg.NumImageTokens = *fileConfig.NumImageTokens
	}
	if fileConfig.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fileConfig.RateLimitRPS
	}
	if fileConfig.OllamaEnabled != nil {
		cfg.Ollama.Enabled = *fileConfig.OllamaEnabled
	}
	if fileConfig.OllamaModel != nil {
		cfg.Ollama.Model = *fileConfig.OllamaModel
	}

	return nil
}
