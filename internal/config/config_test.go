package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, expected 8080", cfg.Server.Port)
	}
	if cfg.JWT.AccessExpireMin != 60 {
		t.Errorf("AccessExpireMin = %d, expected 60", cfg.JWT.AccessExpireMin)
	}
	if cfg.JWT.RefreshExpireHour != 168 {
		t.Errorf("RefreshExpireHour = %d, expected 168", cfg.JWT.RefreshExpireHour)
	}
	if cfg.Auth.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, expected 30", cfg.Auth.RetentionDays)
	}
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
jwt:
  secret: file-secret
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q, expected 9090", cfg.Server.Port)
	}
	if cfg.JWT.Secret != "file-secret" {
		t.Errorf("Secret = %q, expected file-secret", cfg.JWT.Secret)
	}
	// Unset fields fall back to defaults.
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, expected sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.CleanupSchedule == "" {
		t.Error("CleanupSchedule should default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("JWT_ACCESS_EXPIRE_MINUTES", "15")
	t.Setenv("AUTH_RETENTION_DAYS", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.JWT.Secret != "env-secret" {
		t.Errorf("Secret = %q, expected env-secret", cfg.JWT.Secret)
	}
	if cfg.JWT.AccessExpireMin != 15 {
		t.Errorf("AccessExpireMin = %d, expected 15", cfg.JWT.AccessExpireMin)
	}
	if cfg.Auth.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, expected 7", cfg.Auth.RetentionDays)
	}
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("JWT_ACCESS_EXPIRE_MINUTES", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWT.AccessExpireMin != 60 {
		t.Errorf("AccessExpireMin = %d, expected default 60", cfg.JWT.AccessExpireMin)
	}
}
