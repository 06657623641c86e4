package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig verifies the defaults a zero-configuration server starts with.
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != ":8080" {
		t.Errorf("Expected port :8080, got %s", cfg.Port)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("Expected max message size 4096, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("Expected memory driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Kafka.Topic != "chat-messages" {
		t.Errorf("Expected default topic chat-messages, got %s", cfg.Kafka.Topic)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown timeout 10s, got %s", cfg.ShutdownTimeout)
	}
}

// TestNewConfigFromEnv verifies environment overrides and the fallback to
// defaults for unparsable values.
func TestNewConfigFromEnv(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("SERVER_PORT", "9090")
		t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
		t.Setenv("MAX_MESSAGE_SIZE", "1024")
		t.Setenv("RATE_LIMIT_BURST", "10")
		t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("STORAGE_DRIVER", "Postgres")
		t.Setenv("DB_URL", "postgres://localhost/chat")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("REDIS_USER_TTL", "90s")
		t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("SHUTDOWN_TIMEOUT", "2")

		cfg := NewConfigFromEnv()

		if cfg.Port != ":9090" {
			t.Errorf("Expected port :9090, got %s", cfg.Port)
		}
		if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example" {
			t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
		}
		if cfg.MaxMessageSize != 1024 {
			t.Errorf("Expected max message size 1024, got %d", cfg.MaxMessageSize)
		}
		if cfg.RateLimit.Burst != 10 || cfg.RateLimit.RefillInterval != 3*time.Second {
			t.Errorf("Unexpected rate limit: %+v", cfg.RateLimit)
		}
		if cfg.Auth.JWTSecret != "s3cret" {
			t.Errorf("Expected JWT secret from env, got %q", cfg.Auth.JWTSecret)
		}
		if cfg.Storage.Driver != DriverPostgres || cfg.Storage.DatabaseURL != "postgres://localhost/chat" {
			t.Errorf("Unexpected storage config: %+v", cfg.Storage)
		}
		if cfg.Redis.UserTTL != 90*time.Second {
			t.Errorf("Expected redis TTL 90s, got %s", cfg.Redis.UserTTL)
		}
		if len(cfg.Kafka.Brokers) != 2 {
			t.Errorf("Expected two brokers, got %v", cfg.Kafka.Brokers)
		}
		if cfg.ShutdownTimeout != 2*time.Second {
			t.Errorf("Expected shutdown timeout 2s, got %s", cfg.ShutdownTimeout)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected valid config, got %v", err)
		}
	})

	t.Run("Invalid values fall back", func(t *testing.T) {
		t.Setenv("MAX_MESSAGE_SIZE", "-5")
		t.Setenv("RATE_LIMIT_BURST", "lots")
		t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "never")

		cfg := NewConfigFromEnv()

		if cfg.MaxMessageSize != 4096 {
			t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
		}
		if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
			t.Errorf("Expected default rate limit, got %+v", cfg.RateLimit)
		}
	})
}

// TestLoadConfig verifies that the YAML file is applied over the defaults
// and the environment is applied over the file.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
port: "7000"
allowed_origins:
  - http://chat.example
max_message_size: 2048
rate_limit:
  burst: 3
  refill_interval: 2s
auth:
  jwt_secret: from-file
  issuer: socialchat
storage:
  driver: pebble
  pebble_path: /tmp/chat
kafka:
  brokers: [broker:9092]
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("File values", func(t *testing.T) {
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Port != ":7000" {
			t.Errorf("Expected port :7000, got %s", cfg.Port)
		}
		if cfg.RateLimit.Burst != 3 || cfg.RateLimit.RefillInterval != 2*time.Second {
			t.Errorf("Unexpected rate limit: %+v", cfg.RateLimit)
		}
		if cfg.Auth.Issuer != "socialchat" || cfg.Storage.Driver != DriverPebble {
			t.Errorf("Unexpected auth/storage: %+v %+v", cfg.Auth, cfg.Storage)
		}
		if cfg.Kafka.Topic != "chat-messages" {
			t.Errorf("Expected default topic to survive, got %s", cfg.Kafka.Topic)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
			t.Errorf("Unexpected logging: %+v", cfg.Logging)
		}
	})

	t.Run("Environment wins", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Auth.JWTSecret != "from-env" {
			t.Errorf("Expected env secret, got %q", cfg.Auth.JWTSecret)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("Malformed file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(bad, []byte("port: [unclosed"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(bad); err == nil {
			t.Error("Expected parse error")
		}
	})
}

// TestResolveConfigPath verifies flag precedence over SOCIALCHAT_CONFIG.
func TestResolveConfigPath(t *testing.T) {
	t.Setenv("SOCIALCHAT_CONFIG", "/etc/socialchat.yaml")

	if got := ResolveConfigPath("./local.yaml"); got != "./local.yaml" {
		t.Errorf("Expected flag path, got %s", got)
	}
	if got := ResolveConfigPath(""); got != "/etc/socialchat.yaml" {
		t.Errorf("Expected env path, got %s", got)
	}
}

// TestConfigValidate verifies settings the server refuses to start with.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid memory", mutate: func(*Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "jwt_secret"},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Driver = DriverPostgres }, wantErr: "database_url"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "unknown storage driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Auth.JWTSecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Expected no error, got %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestSanitizeConfig verifies zero values are replaced and origins trimmed.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Port:           "3000",
		AllowedOrigins: []string{" http://a.example ", "", "  "},
		Storage:        StorageConfig{Driver: " PEBBLE "},
	})

	if cfg.Port != ":3000" {
		t.Errorf("Expected :3000, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://a.example" {
		t.Errorf("Unexpected origins: %q", cfg.AllowedOrigins)
	}
	if cfg.Storage.Driver != DriverPebble {
		t.Errorf("Expected pebble driver, got %q", cfg.Storage.Driver)
	}
	if cfg.MaxMessageSize != 4096 || cfg.RateLimit.Burst != 5 || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected defaults to be filled, got %+v", cfg)
	}
}
