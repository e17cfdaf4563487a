package config

import (
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServerPort != ":8080" {
		t.Errorf("Expected ServerPort ':8080', got '%s'", cfg.ServerPort)
	}
	if cfg.NumPatchIndexTokens != 1024 {
		t.Errorf("Expected NumPatchIndexTokens 1024, got %d", cfg.NumPatchIndexTokens)
	}
	if cfg.NumImageTokens != 64 {
		t.Errorf("Expected NumImageTokens 64, got %d", cfg.NumImageTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got error: %v", err)
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		port    string
		wantErr string
	}{
		{"valid port", ":8080", ""},
		{"valid low port", ":1", ""},
		{"valid high port", ":65535", ""},
		{"empty port", "", "port cannot be empty"},
		{"missing colon", "8080", "port must be in format"},
		{"non numeric", ":abc", "port must be in format"},
		{"port zero", ":0", "port must be between"},
		{"port too high", ":65536", "port must be between"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePort(tt.port, "ServerPort")
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error for port '%s', got: %v", tt.port, err)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error for port '%s', got nil", tt.port)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumPatchIndexTokens = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero NumPatchIndexTokens, got nil")
	}

	cfg = DefaultConfig()
	cfg.TokenizerPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty TokenizerPath, got nil")
	}

	cfg = DefaultConfig()
	cfg.RateLimitRPS = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative RateLimitRPS, got nil")
	}
}
