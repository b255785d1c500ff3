package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")
	t.Setenv("POS_SETTINGS_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
	if cfg.Settings != DefaultSettings() {
		t.Fatalf("expected default settings, got %+v", cfg.Settings)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("REMOTE_TIMEOUT_SECONDS", "soon")
	t.Setenv("PROBE_INTERVAL_SECONDS", "0")
	t.Setenv("POS_SETTINGS_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RemoteTimeoutSeconds != 8 || cfg.ProbeIntervalSeconds != 15 {
		t.Fatalf("expected fallbacks, got timeout=%d probe=%d", cfg.RemoteTimeoutSeconds, cfg.ProbeIntervalSeconds)
	}
}

func TestLoadSettingsKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("card_commission_rate: 0.035\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("load settings failed: %v", err)
	}
	if settings.CardCommissionRate != 0.035 {
		t.Fatalf("expected rate 0.035, got %v", settings.CardCommissionRate)
	}
	if settings.ExpiryAlertDays != 30 || settings.ReservationTTLSeconds != 120 {
		t.Fatalf("expected defaults for missing keys, got %+v", settings)
	}
}

func TestLoadSettingsRejectsInvalidRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("card_commission_rate: 1.5\n"), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Fatalf("expected invalid rate to be rejected")
	}
}
