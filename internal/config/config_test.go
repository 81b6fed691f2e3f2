package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "FRONTEND_URL", "DB_PATH", "REDIS_URL", "ADMIN_TOKEN", "CHAT_LOG_SIZE"} {
		t.Setenv(key, "") // registers restore on cleanup
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.DBPath != "./data/drift.db" {
		t.Errorf("Expected default DB path, got %s", cfg.DBPath)
	}
	if cfg.ChatLogSize != 10 {
		t.Errorf("Expected chat log size 10, got %d", cfg.ChatLogSize)
	}
	if cfg.AdminToken != "" {
		t.Errorf("Expected admin disabled by default, got token %q", cfg.AdminToken)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://drift.example.com")
	t.Setenv("DB_PATH", "/tmp/drift-test.db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("CHAT_LOG_SIZE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Errorf("Unexpected redis URL %s", cfg.RedisURL)
	}
	if cfg.AdminToken != "s3cret" {
		t.Errorf("Unexpected admin token %q", cfg.AdminToken)
	}
	if cfg.ChatLogSize != 25 {
		t.Errorf("Expected chat log size 25, got %d", cfg.ChatLogSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Port: "8080", DBPath: "x.db", ChatLogSize: 10}, false},
		{"empty port", Config{DBPath: "x.db", ChatLogSize: 10}, true},
		{"empty db path", Config{Port: "8080", ChatLogSize: 10}, true},
		{"zero chat log", Config{Port: "8080", DBPath: "x.db"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvInt_Invalid(t *testing.T) {
	t.Setenv("CHAT_LOG_SIZE", "not-a-number")

	if got := getEnvInt("CHAT_LOG_SIZE", 10); got != 10 {
		t.Errorf("Expected fallback 10 for invalid value, got %d", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "")

	cfg := &Config{FrontendURL: "http://localhost:3000"}
	if !cfg.IsDevelopment() {
		t.Error("Expected localhost frontend to be development")
	}

	cfg = &Config{FrontendURL: "https://drift.example.com"}
	if cfg.IsDevelopment() {
		t.Error("Expected production frontend to not be development")
	}

	t.Setenv("APP_ENV", "development")
	if !cfg.IsDevelopment() {
		t.Error("Expected APP_ENV=development to win")
	}
}
