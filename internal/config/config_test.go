package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goblast/internal/crypto"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 8273 {
		t.Errorf("port = %d, want 8273", cfg.Gateway.Port)
	}
	if cfg.Pacing() != 2*time.Second {
		t.Errorf("pacing = %v, want 2s", cfg.Pacing())
	}
	if cfg.Queue.Cap != 1000 {
		t.Errorf("queue cap = %d, want 1000", cfg.Queue.Cap)
	}
}

func TestLoad_PartialFileBackfillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// deployment overrides only
		gateway: { port: 9000 },
		whatsapp: { default_country_code: "20", pacing_ms: 500 },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("host = %q, want default loopback", cfg.Gateway.Host)
	}
	if cfg.WhatsApp.DefaultCountryCode != "20" {
		t.Errorf("country code = %q, want 20", cfg.WhatsApp.DefaultCountryCode)
	}
	if cfg.Pacing() != 500*time.Millisecond {
		t.Errorf("pacing = %v, want 500ms", cfg.Pacing())
	}
	if cfg.WhatsApp.Backoff.MaxAttempts != 8 {
		t.Errorf("backoff max attempts = %d, want default 8", cfg.WhatsApp.Backoff.MaxAttempts)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	os.WriteFile(path, []byte("{ gateway: "), 0o600)

	if _, err := Load(path); err == nil {
		t.Error("malformed config should fail to load")
	}
}

func TestLoad_UnsealsToken(t *testing.T) {
	sealed, err := crypto.Seal("real-token", "testkey")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.json5")
	os.WriteFile(path, []byte(`{ gateway: { token: "`+sealed+`" } }`), 0o600)

	t.Setenv(SecretKeyEnv, "testkey")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Token != "real-token" {
		t.Errorf("token = %q, want unsealed value", cfg.Gateway.Token)
	}
}
