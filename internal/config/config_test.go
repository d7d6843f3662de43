package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	yaml := []byte(`
services:
  - name: db
    url: "http://localhost:5432"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path /metrics, got %q", cfg.Metrics.Path)
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by default")
	}
	if cfg.Breaker.Defaults.ErrorBlockThreshold != 10 {
		t.Errorf("expected default error block threshold 10, got %d", cfg.Breaker.Defaults.ErrorBlockThreshold)
	}
	if cfg.Breaker.Defaults.ResetTimeout != 30*time.Second {
		t.Errorf("expected default reset timeout 30s, got %v", cfg.Breaker.Defaults.ResetTimeout)
	}
	if cfg.Breaker.NotifyPerSec != 1 || cfg.Breaker.NotifyBurst != 5 {
		t.Errorf("expected default notify throttle 1/5, got %f/%d", cfg.Breaker.NotifyPerSec, cfg.Breaker.NotifyBurst)
	}
	if cfg.Services[0].ProbeInterval != 30*time.Second {
		t.Errorf("expected default probe interval 30s, got %v", cfg.Services[0].ProbeInterval)
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 20s
  shutdown_timeout: 5s
auth:
  enabled: true
  jwt_secret: "test-secret"
  issuer: "test-issuer"
  audience: "test-audience"
admin:
  enabled: true
  ip_allowlist: ["10.0.0.0/8"]
breaker:
  defaults:
    error_warn_threshold: 3
    error_block_threshold: 6
    call_timeout: 2s
    reset_timeout: 15s
  notify_per_sec: 0.5
  notify_burst: 3
services:
  - name: search
    url: "http://search:9200"
    probe_interval: 10s
    policy:
      error_block_threshold: 20
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.Scope != "breaker:admin" {
		t.Errorf("expected default admin scope, got %q", cfg.Auth.Scope)
	}
	if cfg.Breaker.Defaults.ErrorWarnThreshold != 3 {
		t.Errorf("expected warn threshold 3, got %d", cfg.Breaker.Defaults.ErrorWarnThreshold)
	}
	if cfg.Breaker.Defaults.CallTimeout != 2*time.Second {
		t.Errorf("expected call timeout 2s, got %v", cfg.Breaker.Defaults.CallTimeout)
	}
	if cfg.Services[0].Policy == nil || cfg.Services[0].Policy.ErrorBlockThreshold != 20 {
		t.Errorf("expected per-service policy override, got %+v", cfg.Services[0].Policy)
	}
	if cfg.Services[0].ProbeInterval != 10*time.Second {
		t.Errorf("expected probe interval 10s, got %v", cfg.Services[0].ProbeInterval)
	}
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	os.Setenv("TEST_BREAKER_SECRET", "from-env")
	defer os.Unsetenv("TEST_BREAKER_SECRET")

	yaml := []byte(`
auth:
  enabled: true
  jwt_secret: "${TEST_BREAKER_SECRET}"
  issuer: "iss"
  audience: "aud"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env-expanded secret, got %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Warnings) != 0 {
		// The no-services warning is expected; the unresolved-secret one is not.
		for _, w := range cfg.Warnings {
			if strings.Contains(w, "unresolved") {
				t.Errorf("unexpected warning: %s", w)
			}
		}
	}
}

func TestLoadFromBytes_UnresolvedEnvVarWarns(t *testing.T) {
	yaml := []byte(`
auth:
  enabled: true
  jwt_secret: "${DOES_NOT_EXIST_BREAKER}"
  issuer: "iss"
  audience: "aud"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "unresolved environment variable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unresolved env var warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad port",
			yaml: "server:\n  port: 70000\n",
			want: "server.port",
		},
		{
			name: "auth without secret",
			yaml: "auth:\n  enabled: true\n  issuer: i\n  audience: a\n",
			want: "jwt_secret",
		},
		{
			name: "admin without allowlist",
			yaml: "admin:\n  enabled: true\n",
			want: "ip_allowlist",
		},
		{
			name: "bad allowlist cidr",
			yaml: "admin:\n  enabled: true\n  ip_allowlist: [\"not-a-cidr\"]\n",
			want: "invalid CIDR",
		},
		{
			name: "service without url",
			yaml: "services:\n  - name: db\n",
			want: "url is required",
		},
		{
			name: "service bad scheme",
			yaml: "services:\n  - name: db\n    url: \"ftp://x\"\n",
			want: "scheme must be http or https",
		},
		{
			name: "duplicate service",
			yaml: "services:\n  - name: db\n    url: \"http://a\"\n  - name: db\n    url: \"http://b\"\n",
			want: "duplicate service name",
		},
		{
			name: "warn above block",
			yaml: "breaker:\n  defaults:\n    error_warn_threshold: 9\n    error_block_threshold: 3\n",
			want: "error_warn_threshold",
		},
		{
			name: "probe interval too small",
			yaml: "services:\n  - name: db\n    url: \"http://a\"\n    probe_interval: 100ms\n",
			want: "probe_interval",
		},
		{
			name: "bad log level",
			yaml: "logging:\n  level: loud\n",
			want: "logging.level",
		},
		{
			name: "tls without cert",
			yaml: "server:\n  tls:\n    enabled: true\n    key_file: k.pem\n",
			want: "cert_file",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadFromBytes_MalformedYAML(t *testing.T) {
	if _, err := LoadFromBytes([]byte("server: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breakerd.yaml")
	content := `
server:
  port: 8181
services:
  - name: cache
    url: "http://cache:6379"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/breakerd.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAdminWithoutAuthWarns(t *testing.T) {
	yaml := []byte(`
admin:
  enabled: true
  ip_allowlist: ["127.0.0.0/8"]
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "without JWT auth") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected admin-without-auth warning, got %v", cfg.Warnings)
	}
}
