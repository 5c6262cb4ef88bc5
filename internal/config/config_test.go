package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOMI_DEVICE_ID", "device-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Timeout != 30*time.Second {
		t.Fatalf("expected 30s api timeout got %v", cfg.API.Timeout)
	}
	if cfg.Gate.CredentialAttempts != 10 || cfg.Gate.CredentialInterval != 500*time.Millisecond {
		t.Fatalf("unexpected polling defaults: %+v", cfg.Gate)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite store by default got %q", cfg.Store.Driver)
	}
	if cfg.DeviceID != "device-1" {
		t.Fatalf("expected device id from env got %q", cfg.DeviceID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOMI_API_BASE_URL", "https://api.lomi.app/v1/")
	t.Setenv("LOMI_CREDENTIAL_ATTEMPTS", "3")
	t.Setenv("LOMI_CREDENTIAL_INTERVAL", "250ms")
	t.Setenv("LOMI_STORE_DRIVER", "memory")
	t.Setenv("LOMI_CONTROL_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("LOMI_API_RATE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.BaseURL != "https://api.lomi.app/v1" {
		t.Fatalf("expected trailing slash trimmed got %q", cfg.API.BaseURL)
	}
	if cfg.Gate.CredentialAttempts != 3 || cfg.Gate.CredentialInterval != 250*time.Millisecond {
		t.Fatalf("unexpected polling overrides: %+v", cfg.Gate)
	}
	if len(cfg.Control.AllowedOrigins) != 2 || cfg.Control.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", cfg.Control.AllowedOrigins)
	}
	if cfg.API.RateLimit != 20 {
		t.Fatalf("expected fallback rate on parse error got %d", cfg.API.RateLimit)
	}
}

func TestLoadRejectsIncompleteStore(t *testing.T) {
	t.Setenv("LOMI_STORE_DRIVER", "file")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for file store without passphrase")
	}
	if !strings.Contains(err.Error(), "Passphrase") {
		t.Fatalf("expected passphrase failure got %v", err)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("LOMI_STORE_DRIVER", "etcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}
