package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KEYSERVER_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "worker" {
		t.Errorf("Mode = %q, want worker", cfg.Mode)
	}
	if cfg.CivilTimezone != "Europe/Moscow" {
		t.Errorf("CivilTimezone = %q, want Europe/Moscow", cfg.CivilTimezone)
	}
	if cfg.KeyNamePrefix != "corsarvpn" {
		t.Errorf("KeyNamePrefix = %q, want corsarvpn", cfg.KeyNamePrefix)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{Host: "0.0.0.0", Port: 9090}
	if got, want := cfg.ListenAddr(), "0.0.0.0:9090"; got != want {
		t.Errorf("ListenAddr() = %q, want %q", got, want)
	}
}
