package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("a missing config file must not be an error: %v", err)
	}
	if config.Server.Addr != "localhost:8080" {
		t.Errorf("unexpected default addr: %q", config.Server.Addr)
	}
	if config.Storage.JobDir != "rpas_cargados" || config.Storage.LogDir != "logs_rpa" {
		t.Errorf("unexpected default storage dirs: %+v", config.Storage)
	}
	if config.Browser.NavigationTimeout != 60*time.Second {
		t.Errorf("unexpected default navigation timeout: %s", config.Browser.NavigationTimeout)
	}
	if config.Log.Level != "info" {
		t.Errorf("unexpected default log level: %q", config.Log.Level)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
storage:
  job_dir: /var/lib/rpa/jobs
browser:
  navigation_timeout: 30s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("error loading config: %v", err)
	}
	if config.Server.Addr != ":9090" {
		t.Errorf("expected addr override, got %q", config.Server.Addr)
	}
	if config.Storage.JobDir != "/var/lib/rpa/jobs" {
		t.Errorf("expected job dir override, got %q", config.Storage.JobDir)
	}
	if config.Storage.LogDir != "logs_rpa" {
		t.Errorf("expected untouched default log dir, got %q", config.Storage.LogDir)
	}
	if config.Browser.NavigationTimeout != 30*time.Second {
		t.Errorf("expected timeout override, got %s", config.Browser.NavigationTimeout)
	}
	if config.Log.Level != "debug" {
		t.Errorf("expected level override, got %q", config.Log.Level)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a mapping"), 0o644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestEnvOverridesEverything(t *testing.T) {
	t.Setenv("RPA_AGENT_ADDR", ":7070")
	t.Setenv("RPA_AGENT_JOB_DIR", "/tmp/jobs")
	t.Setenv("RPA_AGENT_REPORT_DIR", "/tmp/reports")
	t.Setenv("RPA_AGENT_LOG_LEVEL", "trace")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("error loading config: %v", err)
	}
	if config.Server.Addr != ":7070" {
		t.Errorf("expected env addr to win, got %q", config.Server.Addr)
	}
	if config.Storage.JobDir != "/tmp/jobs" {
		t.Errorf("expected env job dir, got %q", config.Storage.JobDir)
	}
	if config.Storage.ReportDir != "/tmp/reports" {
		t.Errorf("expected env report dir, got %q", config.Storage.ReportDir)
	}
	if config.Log.Level != "trace" {
		t.Errorf("expected env log level, got %q", config.Log.Level)
	}
}
