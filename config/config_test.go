package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != "127.0.0.1:9999" {
		t.Errorf("server.address = %q, want 127.0.0.1:9999", cfg.Server.Address)
	}
	if cfg.Proxy.InitialQueueSize != 16 {
		t.Errorf("proxy.initial_queue_size = %d, want 16", cfg.Proxy.InitialQueueSize)
	}
	if cfg.Proxy.Interval != time.Second {
		t.Errorf("proxy.interval = %v, want 1s", cfg.Proxy.Interval)
	}
	if cfg.Worker.IdleInterval != 200*time.Microsecond {
		t.Errorf("worker.idle_interval = %v, want 200us", cfg.Worker.IdleInterval)
	}
	if cfg.Fitness.MoveFarTicks != 3600 {
		t.Errorf("fitness.move_far_ticks = %d, want 3600", cfg.Fitness.MoveFarTicks)
	}
	if cfg.Derived.Workers <= 0 {
		t.Errorf("derived workers = %d, want > 0", cfg.Derived.Workers)
	}
	if cfg.Derived.TickDuration != time.Second/60 {
		t.Errorf("derived tick duration = %v", cfg.Derived.TickDuration)
	}
}

func TestLoadOverridesOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	data := []byte("server:\n  address: \"10.0.0.5:7000\"\nworker:\n  count: 3\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != "10.0.0.5:7000" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Derived.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Derived.Workers)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read_timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero queue", "proxy:\n  initial_queue_size: 0\n"},
		{"bad backoff", "proxy:\n  backoff: random\n"},
		{"bad journal", "journal:\n  backend: postgres\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"zero tick rate", "worker:\n  tick_rate: 0\n"},
		{"fast tick rate", "worker:\n  tick_rate: 120\n"},
		{"zero proxy interval", "proxy:\n  interval: 0s\n"},
		{"negative max interval", "proxy:\n  max_interval: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Worker.MaxCreatures = 42
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Worker.MaxCreatures != 42 {
		t.Errorf("max_creatures = %d, want 42", loaded.Worker.MaxCreatures)
	}
	if loaded.Worker.IdleInterval != cfg.Worker.IdleInterval {
		t.Errorf("idle_interval = %v, want %v", loaded.Worker.IdleInterval, cfg.Worker.IdleInterval)
	}
}
