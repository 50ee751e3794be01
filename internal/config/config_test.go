package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INSTALLOPS_CONFIG", "")
	t.Setenv("INSTALLOPS_ENV_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("PG_DSN", "postgres://local/test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SiteLockTTL != 30*time.Second || cfg.BatchInterval != 200*time.Millisecond {
		t.Fatalf("unexpected durations %v %v", cfg.SiteLockTTL, cfg.BatchInterval)
	}
	if cfg.Schedule.Recalc != "0 3 * * *" || cfg.Schedule.Closing != "0 4 1 * *" {
		t.Fatalf("unexpected schedule %+v", cfg.Schedule)
	}
	if cfg.DSN() != "postgres://local/test" {
		t.Fatalf("expected PG_DSN fallback, got %q", cfg.DSN())
	}
	if err := cfg.RequireServer(); err == nil {
		t.Fatalf("expected missing jwt secret error")
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "installops.yaml")
	overlay := "equipment_registry_file: /etc/installops/equipment.yaml\nschedule:\n  recalc: \"*/5 * * * *\"\n"
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("INSTALLOPS_CONFIG", path)
	t.Setenv("INSTALLOPS_ENV_FILE", "")
	t.Setenv("CLOSING_SCHEDULE", "0 5 1 * *")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EquipmentRegistryFile != "/etc/installops/equipment.yaml" {
		t.Fatalf("overlay not applied: %q", cfg.EquipmentRegistryFile)
	}
	if cfg.Schedule.Recalc != "*/5 * * * *" || cfg.Schedule.Closing != "0 5 1 * *" {
		t.Fatalf("unexpected schedule %+v", cfg.Schedule)
	}
}

func TestLoad_EnvFileAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MANUFACTURER_CACHE_SIZE=0\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("INSTALLOPS_CONFIG", "")
	t.Setenv("INSTALLOPS_ENV_FILE", path)
	// godotenv does not override variables that are already set.
	os.Unsetenv("MANUFACTURER_CACHE_SIZE")
	t.Cleanup(func() { os.Unsetenv("MANUFACTURER_CACHE_SIZE") })

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for zero cache size")
	}
}
