package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

// Defaults shared by every tier file.
const (
	DefaultPlainAddr     = ":502"
	DefaultSecureAddr    = ":802"
	DefaultCertFile      = "certs/server.crt"
	DefaultKeyFile       = "certs/server.key"
	DefaultBlockSize     = 100
	DefaultStatsInterval = time.Minute
)

// MeterConfig is the meter tier file schema: two listeners over one
// block. A blank TLSListenAddr disables the secure listener.
type MeterConfig struct {
	ListenAddr    string
	TLSListenAddr string
	TLSCertFile   string
	TLSKeyFile    string
	BlockSize     int
	WatchedStart  int
	WatchedCount  int
	StatsInterval time.Duration
	MetricsAddr   string
}

func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		ListenAddr:    DefaultPlainAddr,
		TLSListenAddr: DefaultSecureAddr,
		TLSCertFile:   DefaultCertFile,
		TLSKeyFile:    DefaultKeyFile,
		BlockSize:     DefaultBlockSize,
		WatchedCount:  telemetry.FullBlockLen,
		StatsInterval: DefaultStatsInterval,
	}
}

// BridgeConfig is the bridge tier file schema: secure ingress, bounded
// buffer, plaintext forwarding downstream.
type BridgeConfig struct {
	TLSListenAddr    string
	TLSCertFile      string
	TLSKeyFile       string
	BlockSize        int
	WatchedStart     int
	WatchedCount     int
	BufferCapacity   int
	ForwardAddr      string
	UnitID           int
	ForwardInterval  time.Duration
	ConnectTimeout   time.Duration
	FailureThreshold int
	StatsInterval    time.Duration
	MetricsAddr      string
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		TLSListenAddr:    DefaultSecureAddr,
		TLSCertFile:      DefaultCertFile,
		TLSKeyFile:       DefaultKeyFile,
		BlockSize:        DefaultBlockSize,
		WatchedCount:     telemetry.ReducedBlockLen,
		BufferCapacity:   100,
		UnitID:           1,
		ForwardInterval:  5 * time.Second,
		ConnectTimeout:   10 * time.Second,
		FailureThreshold: 3,
		StatsInterval:    DefaultStatsInterval,
	}
}

// SubstationConfig is the substation tier file schema: plaintext
// ingress translated onto the relay. A blank MappingFile keeps the
// built-in mapping.
type SubstationConfig struct {
	ListenAddr        string
	BlockSize         int
	WatchedStart      int
	WatchedCount      int
	TranslateInterval time.Duration
	RelayAddr         string
	RelayBinding      string
	LogicalDevice     string
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	HealthObject      string
	MappingFile       string
	StatsInterval     time.Duration
	MetricsAddr       string
}

func DefaultSubstationConfig() SubstationConfig {
	return SubstationConfig{
		ListenAddr:        DefaultPlainAddr,
		BlockSize:         DefaultBlockSize,
		WatchedCount:      telemetry.ReducedBlockLen,
		TranslateInterval: time.Second,
		RelayAddr:         "127.0.0.1:102",
		RelayBinding:      "mms",
		LogicalDevice:     "LD0",
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    5 * time.Second,
		HealthObject:      "LLN0$DC$NamPlt$vendor",
		StatsInterval:     DefaultStatsInterval,
	}
}

type meterFile struct {
	ListenAddr    string `toml:"listen_addr"`
	TLSListenAddr string `toml:"tls_listen_addr"`
	TLSCertFile   string `toml:"tls_cert_file"`
	TLSKeyFile    string `toml:"tls_key_file"`
	BlockSize     int    `toml:"block_size"`
	WatchedStart  int    `toml:"watched_start"`
	WatchedCount  int    `toml:"watched_count"`
	StatsInterval string `toml:"stats_interval"`
	MetricsAddr   string `toml:"metrics_addr"`
}

// LoadMeterConfig reads path and overlays defined keys onto the
// defaults.
func LoadMeterConfig(path string) (MeterConfig, error) {
	cfg := DefaultMeterConfig()

	var raw meterFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return MeterConfig{}, fmt.Errorf("meter config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("tls_listen_addr") {
		cfg.TLSListenAddr = strings.TrimSpace(raw.TLSListenAddr)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("block_size") {
		cfg.BlockSize = raw.BlockSize
	}
	if meta.IsDefined("watched_start") {
		cfg.WatchedStart = raw.WatchedStart
	}
	if meta.IsDefined("watched_count") {
		cfg.WatchedCount = raw.WatchedCount
	}
	if meta.IsDefined("stats_interval") {
		d, err := parseInterval(raw.StatsInterval)
		if err != nil {
			return MeterConfig{}, fmt.Errorf("meter config: stats_interval: %w", err)
		}
		cfg.StatsInterval = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.validate(); err != nil {
		return MeterConfig{}, fmt.Errorf("meter config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c MeterConfig) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr required")
	}
	if c.TLSListenAddr != "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file required with tls_listen_addr")
	}
	return validateBlock(c.BlockSize, c.WatchedStart, c.WatchedCount)
}

type bridgeFile struct {
	TLSListenAddr    string `toml:"tls_listen_addr"`
	TLSCertFile      string `toml:"tls_cert_file"`
	TLSKeyFile       string `toml:"tls_key_file"`
	BlockSize        int    `toml:"block_size"`
	WatchedStart     int    `toml:"watched_start"`
	WatchedCount     int    `toml:"watched_count"`
	BufferCapacity   int    `toml:"buffer_capacity"`
	ForwardAddr      string `toml:"forward_addr"`
	UnitID           int    `toml:"unit_id"`
	ForwardInterval  string `toml:"forward_interval"`
	ConnectTimeout   string `toml:"connect_timeout"`
	FailureThreshold int    `toml:"failure_threshold"`
	StatsInterval    string `toml:"stats_interval"`
	MetricsAddr      string `toml:"metrics_addr"`
}

// LoadBridgeConfig reads path and overlays defined keys onto the
// defaults.
func LoadBridgeConfig(path string) (BridgeConfig, error) {
	cfg := DefaultBridgeConfig()

	var raw bridgeFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return BridgeConfig{}, fmt.Errorf("bridge config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("tls_listen_addr") {
		cfg.TLSListenAddr = strings.TrimSpace(raw.TLSListenAddr)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("block_size") {
		cfg.BlockSize = raw.BlockSize
	}
	if meta.IsDefined("watched_start") {
		cfg.WatchedStart = raw.WatchedStart
	}
	if meta.IsDefined("watched_count") {
		cfg.WatchedCount = raw.WatchedCount
	}
	if meta.IsDefined("buffer_capacity") {
		cfg.BufferCapacity = raw.BufferCapacity
	}
	if meta.IsDefined("forward_addr") {
		cfg.ForwardAddr = strings.TrimSpace(raw.ForwardAddr)
	}
	if meta.IsDefined("unit_id") {
		cfg.UnitID = raw.UnitID
	}
	if meta.IsDefined("forward_interval") {
		d, err := parseInterval(raw.ForwardInterval)
		if err != nil {
			return BridgeConfig{}, fmt.Errorf("bridge config: forward_interval: %w", err)
		}
		cfg.ForwardInterval = d
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseInterval(raw.ConnectTimeout)
		if err != nil {
			return BridgeConfig{}, fmt.Errorf("bridge config: connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("failure_threshold") {
		cfg.FailureThreshold = raw.FailureThreshold
	}
	if meta.IsDefined("stats_interval") {
		d, err := parseInterval(raw.StatsInterval)
		if err != nil {
			return BridgeConfig{}, fmt.Errorf("bridge config: stats_interval: %w", err)
		}
		cfg.StatsInterval = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.validate(); err != nil {
		return BridgeConfig{}, fmt.Errorf("bridge config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c BridgeConfig) validate() error {
	if c.TLSListenAddr == "" {
		return fmt.Errorf("tls_listen_addr required")
	}
	if c.TLSCertFile == "" || c.TLSKeyFile == "" {
		return fmt.Errorf("tls_cert_file and tls_key_file required")
	}
	if c.ForwardAddr == "" {
		return fmt.Errorf("forward_addr required")
	}
	if c.UnitID < 1 || c.UnitID > 255 {
		return fmt.Errorf("unit_id %d outside 1..255", c.UnitID)
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive")
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	return validateBlock(c.BlockSize, c.WatchedStart, c.WatchedCount)
}

type substationFile struct {
	ListenAddr        string `toml:"listen_addr"`
	BlockSize         int    `toml:"block_size"`
	WatchedStart      int    `toml:"watched_start"`
	WatchedCount      int    `toml:"watched_count"`
	TranslateInterval string `toml:"translate_interval"`
	RelayAddr         string `toml:"relay_addr"`
	RelayBinding      string `toml:"relay_binding"`
	LogicalDevice     string `toml:"logical_device"`
	ConnectTimeout    string `toml:"connect_timeout"`
	RequestTimeout    string `toml:"request_timeout"`
	HealthObject      string `toml:"health_object"`
	MappingFile       string `toml:"mapping_file"`
	StatsInterval     string `toml:"stats_interval"`
	MetricsAddr       string `toml:"metrics_addr"`
}

// LoadSubstationConfig reads path and overlays defined keys onto the
// defaults.
func LoadSubstationConfig(path string) (SubstationConfig, error) {
	cfg := DefaultSubstationConfig()

	var raw substationFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return SubstationConfig{}, fmt.Errorf("substation config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("block_size") {
		cfg.BlockSize = raw.BlockSize
	}
	if meta.IsDefined("watched_start") {
		cfg.WatchedStart = raw.WatchedStart
	}
	if meta.IsDefined("watched_count") {
		cfg.WatchedCount = raw.WatchedCount
	}
	if meta.IsDefined("translate_interval") {
		d, err := parseInterval(raw.TranslateInterval)
		if err != nil {
			return SubstationConfig{}, fmt.Errorf("substation config: translate_interval: %w", err)
		}
		cfg.TranslateInterval = d
	}
	if meta.IsDefined("relay_addr") {
		cfg.RelayAddr = strings.TrimSpace(raw.RelayAddr)
	}
	if meta.IsDefined("relay_binding") {
		cfg.RelayBinding = strings.ToLower(strings.TrimSpace(raw.RelayBinding))
	}
	if meta.IsDefined("logical_device") {
		cfg.LogicalDevice = strings.TrimSpace(raw.LogicalDevice)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseInterval(raw.ConnectTimeout)
		if err != nil {
			return SubstationConfig{}, fmt.Errorf("substation config: connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("request_timeout") {
		d, err := parseInterval(raw.RequestTimeout)
		if err != nil {
			return SubstationConfig{}, fmt.Errorf("substation config: request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("health_object") {
		cfg.HealthObject = strings.TrimSpace(raw.HealthObject)
	}
	if meta.IsDefined("mapping_file") {
		cfg.MappingFile = strings.TrimSpace(raw.MappingFile)
	}
	if meta.IsDefined("stats_interval") {
		d, err := parseInterval(raw.StatsInterval)
		if err != nil {
			return SubstationConfig{}, fmt.Errorf("substation config: stats_interval: %w", err)
		}
		cfg.StatsInterval = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.validate(); err != nil {
		return SubstationConfig{}, fmt.Errorf("substation config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c SubstationConfig) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr required")
	}
	if c.RelayAddr == "" {
		return fmt.Errorf("relay_addr required")
	}
	if c.RelayBinding == "" {
		return fmt.Errorf("relay_binding required")
	}
	return validateBlock(c.BlockSize, c.WatchedStart, c.WatchedCount)
}

func validateBlock(size, start, count int) error {
	if size <= 0 {
		return fmt.Errorf("block_size must be positive")
	}
	if start < 0 || count < 0 {
		return fmt.Errorf("watched range must not be negative")
	}
	if start+count > size {
		return fmt.Errorf("watched range [%d,%d) exceeds block size %d", start, start+count, size)
	}
	return nil
}

func parseInterval(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %s not positive", d)
	}
	return d, nil
}
