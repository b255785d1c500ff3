package main

import (
	"log/slog"
	"testing"

	"tiendapos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrengthRejectsSequences(t *testing.T) {
	for _, pin := range []string{"234567", "876543", "777777"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger("verbose")
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatalf("expected debug to be disabled on unknown level")
	}
	if !newLogger("debug").Enabled(t.Context(), slog.LevelDebug) {
		t.Fatalf("expected debug level to be honoured")
	}
}
