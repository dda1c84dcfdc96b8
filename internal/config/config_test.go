package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
identity:
  issuer: https://auth.example.com
  audience: idhini-bff
  jwks_url: https://auth.example.com/jwks
asset_service:
  base_url: http://asset-service:9000
`

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.AssetService.Retry.MaxAttempts != 3 {
		t.Errorf("retry attempts = %d", cfg.AssetService.Retry.MaxAttempts)
	}
	if cfg.Idempotency.Driver != "memory" {
		t.Errorf("idempotency driver = %q", cfg.Idempotency.Driver)
	}
	if cfg.Identity.ClaimPaths["subject_id"] != "sub" {
		t.Errorf("claim paths = %v", cfg.Identity.ClaimPaths)
	}
	if len(cfg.Identity.Algorithms) != 1 || cfg.Identity.Algorithms[0] != "RS256" {
		t.Errorf("algorithms = %v", cfg.Identity.Algorithms)
	}
}

func TestLoad_minimalFile(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.AssetService.BaseURL != "http://asset-service:9000" {
		t.Errorf("base_url = %q", cfg.AssetService.BaseURL)
	}
	// Unset fields keep their defaults.
	if cfg.Server.HandlerTimeout != 25*time.Second {
		t.Errorf("handler timeout = %v", cfg.Server.HandlerTimeout)
	}
}

func TestLoad_overridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9999
  handler_timeout: 5s
identity:
  issuer: https://auth.example.com
  audience: idhini-bff
  jwks_url: https://auth.example.com/jwks
asset_service:
  base_url: http://asset-service:9000
  retry:
    max_attempts: 1
lookup:
  cache_ttl: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.HandlerTimeout != 5*time.Second {
		t.Errorf("handler timeout = %v", cfg.Server.HandlerTimeout)
	}
	if cfg.AssetService.Retry.MaxAttempts != 1 {
		t.Errorf("retry attempts = %d", cfg.AssetService.Retry.MaxAttempts)
	}
	if cfg.Lookup.CacheTTL != 30*time.Second {
		t.Errorf("lookup ttl = %v", cfg.Lookup.CacheTTL)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoad_malformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	t.Setenv("IDHINI_SERVER_PORT", "7070")
	t.Setenv("IDHINI_IDENTITY_ISSUER", "https://override.example.com")
	t.Setenv("IDHINI_ASSET_SERVICE_BASE_URL", "http://override:9000")
	t.Setenv("IDHINI_OBSERVABILITY_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://override.example.com" {
		t.Errorf("issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.AssetService.BaseURL != "http://override:9000" {
		t.Errorf("base_url = %q", cfg.AssetService.BaseURL)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.Observability.LogLevel)
	}
}

func TestValidate_collectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.port",
		"identity.issuer",
		"identity.jwks_url",
		"identity.audience",
		"asset_service.base_url",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidate_minimalValid(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.Audience = "idhini-bff"
	cfg.Identity.JWKSURL = "https://auth.example.com/jwks"
	cfg.AssetService.BaseURL = "http://asset-service:9000"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
