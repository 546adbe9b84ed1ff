package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8084" {
		t.Fatalf("unexpected default http addr: %s", cfg.HTTPAddr)
	}
	if cfg.SessionTTL != 120*time.Second {
		t.Fatalf("unexpected default session ttl: %s", cfg.SessionTTL)
	}
	if cfg.CountdownInterval != time.Second {
		t.Fatalf("unexpected default countdown interval: %s", cfg.CountdownInterval)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("unexpected default poll interval: %s", cfg.PollInterval)
	}
	if cfg.QRSize != 256 {
		t.Fatalf("unexpected default qr size: %d", cfg.QRSize)
	}
	if !cfg.SweepJobEnabled {
		t.Fatalf("sweep job should default to enabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("POLL_INTERVAL_SECONDS", "10")
	t.Setenv("QR_SIZE", "512")
	t.Setenv("SWEEP_JOB_ENABLED", "false")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("http addr override ignored: %s", cfg.HTTPAddr)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Fatalf("session ttl override ignored: %s", cfg.SessionTTL)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("seconds fallback ignored: %s", cfg.PollInterval)
	}
	if cfg.QRSize != 512 {
		t.Fatalf("qr size override ignored: %d", cfg.QRSize)
	}
	if cfg.SweepJobEnabled {
		t.Fatalf("sweep job override ignored")
	}
}

func TestInvalidOverridesFallBack(t *testing.T) {
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("QR_SIZE", "huge")

	cfg := Load()
	if cfg.SessionTTL != 120*time.Second {
		t.Fatalf("invalid duration should fall back, got %s", cfg.SessionTTL)
	}
	if cfg.QRSize != 256 {
		t.Fatalf("invalid int should fall back, got %d", cfg.QRSize)
	}
}
