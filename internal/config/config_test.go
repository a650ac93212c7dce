package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/color"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
engine:
  decay_interval: 2s
  gradients:
    alarm:
      mode: stepped
      buckets:
        - {threshold: 240s, background: "#FF0000", text: "#FFFFFF"}
        - {threshold: 600s, background: "#FF9B0F", text: "#000000"}
locations:
  names: [Delve, 1DQ1-A]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Engine.DecayInterval != 2*time.Second {
		t.Fatalf("decay interval: %s", cfg.Engine.DecayInterval)
	}
	gradients, err := cfg.Engine.BuildGradients()
	if err != nil {
		t.Fatalf("gradients: %v", err)
	}
	alarm := gradients[model.StatusAlarm]
	if alarm.Final() != 600*time.Second || alarm.Mode() != color.ModeStepped {
		t.Fatalf("alarm gradient final=%s mode=%s", alarm.Final(), alarm.Mode())
	}
	if len(cfg.Locations.Names) != 2 {
		t.Fatalf("locations: %v", cfg.Locations.Names)
	}
}

func TestParseJSONWithComments(t *testing.T) {
	cfg, err := Parse([]byte(`{
  // comments are stripped before decoding
  "log_level": "warn",
  "cache": {"driver": "memory"}
}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Cache.Driver != "memory" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsNonIncreasingGradient(t *testing.T) {
	_, err := Parse([]byte(`
engine:
  gradients:
    alarm:
      buckets:
        - {threshold: 600s, background: "#FF0000", text: "#FFFFFF"}
        - {threshold: 240s, background: "#FF9B0F", text: "#000000"}
`))
	if !errors.Is(err, color.ErrInvalidGradient) {
		t.Fatalf("expected ErrInvalidGradient, got %v", err)
	}
}

func TestParseRejectsBadColor(t *testing.T) {
	_, err := Parse([]byte(`
engine:
  gradients:
    clear:
      buckets:
        - {threshold: 60s, background: "green", text: "#000000"}
`))
	if !errors.Is(err, color.ErrInvalidGradient) {
		t.Fatalf("expected ErrInvalidGradient, got %v", err)
	}
}

func TestParseRejectsUnknownCacheDriver(t *testing.T) {
	if _, err := Parse([]byte("cache:\n  driver: leveldb\n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VINTEL_CACHE_DRIVER", "redis")
	t.Setenv("VINTEL_KAFKA_BROKERS", "a:9092, b:9092")
	cfg, err := Parse([]byte("log_level: info\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Cache.Driver != "redis" {
		t.Fatalf("driver: %s", cfg.Cache.Driver)
	}
	if len(cfg.Ingest.Kafka.Brokers) != 2 || cfg.Ingest.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("brokers: %v", cfg.Ingest.Kafka.Brokers)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("VINTEL_TEST_ONLY_VAR=from-file\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("VINTEL_TEST_ONLY_VAR", "")
	os.Unsetenv("VINTEL_TEST_ONLY_VAR")
	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("VINTEL_TEST_ONLY_VAR"); got != "from-file" {
		t.Fatalf("got %q", got)
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vintel.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("needs reload = %v, %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "debug" || m.Get().LogLevel != "debug" {
		t.Fatalf("reload did not apply")
	}
}
