package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldbus/pvgate/internal/config"
	"github.com/fieldbus/pvgate/internal/telemetry"
)

func TestLoadServiceConfigMapsRelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
listen_addr = "127.0.0.1:1502"
translate_interval = "500ms"
relay_addr = "192.168.1.21:102"
relay_binding = "loopback"
logical_device = "PV1"
connect_timeout = "3s"
request_timeout = "2s"
health_object = "LLN0$DC$NamPlt$swRev"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PlainListen.ListenAddr != "127.0.0.1:1502" {
		t.Fatalf("unexpected listen addr: %q", cfg.PlainListen.ListenAddr)
	}
	if cfg.Relay.Binding != "loopback" {
		t.Fatalf("unexpected binding: %q", cfg.Relay.Binding)
	}
	if cfg.Relay.Address != "192.168.1.21:102" {
		t.Fatalf("unexpected relay addr: %q", cfg.Relay.Address)
	}
	if cfg.Relay.LogicalDevice != "PV1" {
		t.Fatalf("unexpected logical device: %q", cfg.Relay.LogicalDevice)
	}
	if cfg.Relay.ConnectTimeout != 3*time.Second || cfg.Relay.RequestTimeout != 2*time.Second {
		t.Fatalf("unexpected relay timeouts: %+v", cfg.Relay)
	}
	if cfg.Translator.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected translate interval: %v", cfg.Translator.Interval)
	}
	// No mapping file named, so the built-in mapping applies.
	if len(cfg.Translator.Mapping.Entries) != 3 {
		t.Fatalf("unexpected mapping entries: %+v", cfg.Translator.Mapping.Entries)
	}
	if cfg.Store.WatchedCount != telemetry.ReducedBlockLen {
		t.Fatalf("unexpected watched count: %d", cfg.Store.WatchedCount)
	}
	if cfg.Backoff.InitialDelay != 5*time.Second {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
}

func TestLoadServiceConfigReadsMappingFile(t *testing.T) {
	dir := t.TempDir()

	mappingPath := filepath.Join(dir, "mapping.yaml")
	mapping := `
mappings:
  - field: P_ac
    path: MMXU1$MX$TotW$mag$f
    type: float
  - path: MMXU1$MX$TotW$t
    type: timestamp
bounds:
  P_ac: {min: 0, max: 20000}
`
	if err := os.WriteFile(mappingPath, []byte(mapping), 0o644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`
mapping_file = "`+mappingPath+`"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Translator.Mapping.Entries) != 2 {
		t.Fatalf("unexpected mapping entries: %+v", cfg.Translator.Mapping.Entries)
	}
	if cfg.Translator.Mapping.Entries[1].Kind != config.KindTimestamp {
		t.Fatalf("unexpected entry kind: %q", cfg.Translator.Mapping.Entries[1].Kind)
	}
	if b := cfg.Translator.Mapping.Bounds[telemetry.FieldPowerAC]; b.Max != 20000 {
		t.Fatalf("unexpected bounds override: %+v", b)
	}
}

func TestLoadServiceConfigRejectsMissingMappingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`
mapping_file = "`+filepath.Join(dir, "absent.yaml")+`"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadServiceConfig(path); err == nil {
		t.Fatal("missing mapping file accepted")
	}
}
