package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
detection:
  correlation:
    window_duration: 3s
    count_threshold: 7
  signal:
    max_allowed: 32
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.Correlation.WindowDuration != 3*time.Second {
		t.Fatalf("window_duration: %s", cfg.Detection.Correlation.WindowDuration)
	}
	if cfg.Detection.Correlation.CountThreshold != 7 {
		t.Fatalf("count_threshold: %d", cfg.Detection.Correlation.CountThreshold)
	}
	if cfg.Detection.Signal.MaxAllowed != 32 {
		t.Fatalf("max_allowed: %g", cfg.Detection.Signal.MaxAllowed)
	}
	if cfg.Detection.Signal.SlopeThreshold != 12 {
		t.Fatalf("slope_threshold should keep default, got %g", cfg.Detection.Signal.SlopeThreshold)
	}
	if cfg.Detection.Correlation.Scope != ScopeGlobal {
		t.Fatalf("scope: %q", cfg.Detection.Correlation.Scope)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"detection":{"signal":{"max_allowed":50,"slope_threshold":5}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.Signal.MaxAllowed != 50 || cfg.Detection.Signal.SlopeThreshold != 5 {
		t.Fatalf("signal thresholds not applied: %+v", cfg.Detection.Signal)
	}
}

func TestValidateRejectsNonPositiveThresholds(t *testing.T) {
	cases := map[string]string{
		"window":  "detection:\n  correlation:\n    window_duration: 0s\n",
		"count":   "detection:\n  correlation:\n    count_threshold: 0\n",
		"limit":   "detection:\n  signal:\n    max_allowed: -1\n",
		"slope":   "detection:\n  signal:\n    slope_threshold: 0\n",
		"scope":   "detection:\n  correlation:\n    scope: tenant\n",
		"storage": "storage:\n  enabled: true\n  driver: mongo\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected ConfigurationError, got %v", name, err)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse([]byte("   \n")); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evguard.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  correlation:\n    count_threshold: 5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if got := m.Get().Detection.Correlation.CountThreshold; got != 5 {
		t.Fatalf("count_threshold: %d", got)
	}

	if err := os.WriteFile(path, []byte("detection:\n  correlation:\n    count_threshold: 9\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload needed, got %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Detection.Correlation.CountThreshold != 9 || m.Get().Detection.Correlation.CountThreshold != 9 {
		t.Fatalf("reload did not apply")
	}
}

func TestManagerKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evguard.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.WriteFile(path, []byte("detection:\n  signal:\n    max_allowed: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if m.Get().Detection.Signal.MaxAllowed != 40 {
		t.Fatalf("running config changed after invalid reload")
	}
}

func TestSaveRoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Detection.Signal.SlopeThreshold = 20
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Detection.Signal.SlopeThreshold != 20 {
		t.Fatalf("slope_threshold: %g", loaded.Detection.Signal.SlopeThreshold)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "evguard.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.Correlation.WindowDuration != 2*time.Second || cfg.Alerts.DeliveryTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected durations %+v", cfg.Detection.Correlation)
	}
	if cfg.Ingest.Session.Kafka.Enabled || cfg.Storage.Enabled {
		t.Fatalf("optional transports should ship disabled")
	}
}

func TestWatchAppliesChangesUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evguard.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, 10*time.Millisecond, func(cfg *Config) { reloaded <- cfg }, nil)
		close(done)
	}()

	if err := os.WriteFile(path, []byte("detection:\n  signal:\n    slope_threshold: 15\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.Detection.Signal.SlopeThreshold != 15 {
			t.Fatalf("slope_threshold: %g", cfg.Detection.Signal.SlopeThreshold)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not pick up the change")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("watch did not stop after cancel")
	}
}

func TestInvalidReloadReportedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evguard.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.WriteFile(path, []byte("detection:\n  correlation:\n    scope: everywhere\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var cfgErr *ConfigurationError
	if _, err := m.Reload(); !errors.As(err, &cfgErr) || cfgErr.Field != "detection.correlation.scope" {
		t.Fatalf("expected scope ConfigurationError, got %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Fatalf("rejected file should not be retried, got %v %v", needs, err)
	}
}
