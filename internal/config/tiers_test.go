package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMeterConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr = "127.0.0.1:1502"
tls_listen_addr = "127.0.0.1:1802"
tls_cert_file = "/etc/pvgate/server.crt"
tls_key_file = "/etc/pvgate/server.key"
stats_interval = "30s"
metrics_addr = "127.0.0.1:9102"
`)

	cfg, err := LoadMeterConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:1502" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.TLSListenAddr != "127.0.0.1:1802" {
		t.Fatalf("unexpected tls listen addr: %q", cfg.TLSListenAddr)
	}
	if cfg.TLSCertFile != "/etc/pvgate/server.crt" {
		t.Fatalf("unexpected cert file: %q", cfg.TLSCertFile)
	}
	if cfg.StatsInterval != 30*time.Second {
		t.Fatalf("unexpected stats interval: %v", cfg.StatsInterval)
	}
	if cfg.MetricsAddr != "127.0.0.1:9102" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
	// Unset keys keep their defaults.
	if cfg.BlockSize != DefaultBlockSize {
		t.Fatalf("unexpected block size: %d", cfg.BlockSize)
	}
	if cfg.WatchedCount != 8 {
		t.Fatalf("unexpected watched count: %d", cfg.WatchedCount)
	}
}

func TestLoadMeterConfigDisablesSecureListener(t *testing.T) {
	path := writeConfig(t, `
tls_listen_addr = ""
tls_cert_file = ""
tls_key_file = ""
`)

	cfg, err := LoadMeterConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TLSListenAddr != "" {
		t.Fatalf("secure listener not disabled: %q", cfg.TLSListenAddr)
	}
}

func TestLoadMeterConfigRequiresCertsWithSecureListener(t *testing.T) {
	path := writeConfig(t, `
tls_cert_file = ""
`)
	if _, err := LoadMeterConfig(path); err == nil {
		t.Fatal("blank cert file accepted with secure listener enabled")
	}
}

func TestLoadMeterConfigRejectsBadWatchedRange(t *testing.T) {
	path := writeConfig(t, `
block_size = 10
watched_start = 8
watched_count = 5
`)
	if _, err := LoadMeterConfig(path); err == nil {
		t.Fatal("watched range past block end accepted")
	}
}

func TestLoadMeterConfigMissingFile(t *testing.T) {
	if _, err := LoadMeterConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoadBridgeConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
forward_addr = "10.0.0.5:502"
unit_id = 7
forward_interval = "2s"
buffer_capacity = 16
failure_threshold = 5
`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ForwardAddr != "10.0.0.5:502" {
		t.Fatalf("unexpected forward addr: %q", cfg.ForwardAddr)
	}
	if cfg.UnitID != 7 {
		t.Fatalf("unexpected unit id: %d", cfg.UnitID)
	}
	if cfg.ForwardInterval != 2*time.Second {
		t.Fatalf("unexpected forward interval: %v", cfg.ForwardInterval)
	}
	if cfg.BufferCapacity != 16 {
		t.Fatalf("unexpected buffer capacity: %d", cfg.BufferCapacity)
	}
	if cfg.FailureThreshold != 5 {
		t.Fatalf("unexpected failure threshold: %d", cfg.FailureThreshold)
	}
	if cfg.TLSListenAddr != DefaultSecureAddr {
		t.Fatalf("unexpected tls listen addr: %q", cfg.TLSListenAddr)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.ConnectTimeout)
	}
	if cfg.WatchedCount != 5 {
		t.Fatalf("unexpected watched count: %d", cfg.WatchedCount)
	}
}

func TestLoadBridgeConfigRequiresForwardAddr(t *testing.T) {
	path := writeConfig(t, `
buffer_capacity = 50
`)
	if _, err := LoadBridgeConfig(path); err == nil {
		t.Fatal("missing forward_addr accepted")
	}
}

func TestLoadBridgeConfigRejectsBadUnitID(t *testing.T) {
	for _, unit := range []int{0, 256, -1} {
		path := writeConfig(t, `
forward_addr = "10.0.0.5:502"
unit_id = `+strconv.Itoa(unit)+`
`)
		if _, err := LoadBridgeConfig(path); err == nil {
			t.Fatalf("unit id %d accepted", unit)
		}
	}
}

func TestLoadSubstationConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
relay_addr = "192.168.1.21:102"
relay_binding = "LOOPBACK"
translate_interval = "500ms"
mapping_file = "/etc/pvgate/mapping.yaml"
health_object = "LLN0$DC$NamPlt$swRev"
`)

	cfg, err := LoadSubstationConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RelayAddr != "192.168.1.21:102" {
		t.Fatalf("unexpected relay addr: %q", cfg.RelayAddr)
	}
	if cfg.RelayBinding != "loopback" {
		t.Fatalf("binding not folded: %q", cfg.RelayBinding)
	}
	if cfg.TranslateInterval != 500*time.Millisecond {
		t.Fatalf("unexpected translate interval: %v", cfg.TranslateInterval)
	}
	if cfg.MappingFile != "/etc/pvgate/mapping.yaml" {
		t.Fatalf("unexpected mapping file: %q", cfg.MappingFile)
	}
	if cfg.HealthObject != "LLN0$DC$NamPlt$swRev" {
		t.Fatalf("unexpected health object: %q", cfg.HealthObject)
	}
	if cfg.LogicalDevice != "LD0" {
		t.Fatalf("unexpected logical device: %q", cfg.LogicalDevice)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected request timeout: %v", cfg.RequestTimeout)
	}
}

func TestLoadSubstationConfigRejectsBadInterval(t *testing.T) {
	path := writeConfig(t, `
translate_interval = "fast"
`)
	if _, err := LoadSubstationConfig(path); err == nil {
		t.Fatal("unparseable interval accepted")
	}
}

func TestTierTemplatesLoad(t *testing.T) {
	dir := t.TempDir()

	meterPath := filepath.Join(dir, "meter.toml")
	if err := WriteTemplate(meterPath, "meter", false); err != nil {
		t.Fatalf("write meter template: %v", err)
	}
	meter, err := LoadMeterConfig(meterPath)
	if err != nil {
		t.Fatalf("load meter template: %v", err)
	}
	if meter.WatchedCount != 8 {
		t.Fatalf("meter template watched count: %d", meter.WatchedCount)
	}

	bridgePath := filepath.Join(dir, "bridge.toml")
	if err := WriteTemplate(bridgePath, "bridge", false); err != nil {
		t.Fatalf("write bridge template: %v", err)
	}
	bridge, err := LoadBridgeConfig(bridgePath)
	if err != nil {
		t.Fatalf("load bridge template: %v", err)
	}
	if bridge.ForwardAddr == "" || bridge.WatchedCount != 5 {
		t.Fatalf("bridge template fields: %+v", bridge)
	}

	subPath := filepath.Join(dir, "substation.toml")
	if err := WriteTemplate(subPath, "substation", false); err != nil {
		t.Fatalf("write substation template: %v", err)
	}
	sub, err := LoadSubstationConfig(subPath)
	if err != nil {
		t.Fatalf("load substation template: %v", err)
	}
	if sub.RelayBinding != "mms" || sub.TranslateInterval != time.Second {
		t.Fatalf("substation template fields: %+v", sub)
	}
}
