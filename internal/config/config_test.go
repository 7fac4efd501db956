package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "novack-edge" {
		t.Errorf("Expected app name novack-edge, got %s", cfg.App.Name)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Backend.Origin != DefaultBackendOrigin {
		t.Errorf("Expected default backend origin %s, got %s", DefaultBackendOrigin, cfg.Backend.Origin)
	}
	if cfg.Backend.Timeout != 10*time.Second {
		t.Errorf("Expected default backend timeout 10s, got %s", cfg.Backend.Timeout)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("Expected rate limiting enabled by default")
	}
	if cfg.OTel.Enabled {
		t.Error("Expected telemetry disabled by default")
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development environment by default")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("BACKEND_ORIGIN", "https://backend.internal:4000")
	t.Setenv("BACKEND_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Backend.Origin != "https://backend.internal:4000" {
		t.Errorf("Expected overridden backend origin, got %s", cfg.Backend.Origin)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("Expected backend timeout 3s, got %s", cfg.Backend.Timeout)
	}
	if cfg.RateLimit.Enabled {
		t.Error("Expected rate limiting disabled via env")
	}
}

func TestValidateRejectsBadBackendOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		env    string
		valid  bool
	}{
		{"empty origin", "", "development", false},
		{"missing scheme", "backend.example.com", "development", false},
		{"http origin", "http://localhost:4000", "development", true},
		{"https origin", "https://backend.example.com", "production", true},
		{"localhost in production", "http://localhost:4000", "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.App.Name = "novack-edge"
			cfg.App.Environment = tt.env
			cfg.Server.Port = 3000
			cfg.Backend.Origin = tt.origin

			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{}
	cfg.App.Name = "novack-edge"
	cfg.App.Environment = "development"
	cfg.Server.Port = 0
	cfg.Backend.Origin = "http://localhost:4000"

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for port 0")
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache.internal", Port: 6380}
	if r.Addr() != "cache.internal:6380" {
		t.Errorf("Expected cache.internal:6380, got %s", r.Addr())
	}
}
