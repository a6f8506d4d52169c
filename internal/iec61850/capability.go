package iec61850

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Binding names accepted by Config.Binding.
const (
	BindingMMS      = "mms"
	BindingLoopback = "loopback"
)

// QualityGood is the all-clear quality bitmask.
const QualityGood uint16 = 0x0000

var (
	ErrUnknownBinding = errors.New("iec61850: unknown binding")
	ErrBadReference   = errors.New("iec61850: malformed object reference")
	ErrNotConnected   = errors.New("iec61850: not connected")
)

// Capability is the named-object write surface the translator depends
// on. Implementations own all session handling; callers only see
// opaque paths from the translation mapping.
type Capability interface {
	Connect() error
	Disconnect()
	Connected() bool
	WriteFloat(path string, value float64) error
	WriteTimestamp(path string, unixSeconds int64) error
	WriteQuality(path string, bitmask uint16) error
	ReadString(path string) (string, error)
	HealthCheck() bool
}

// Config selects and parametrizes the concrete binding once at
// construction.
type Config struct {
	Binding        string
	Address        string
	LogicalDevice  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	HealthObject   string
}

func DefaultConfig() Config {
	return Config{
		Binding:        BindingMMS,
		Address:        "127.0.0.1:102",
		LogicalDevice:  "LD0",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 5 * time.Second,
		HealthObject:   "LLN0$DC$NamPlt$vendor",
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Binding) == "" {
		c.Binding = def.Binding
	}
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if strings.TrimSpace(c.LogicalDevice) == "" {
		c.LogicalDevice = def.LogicalDevice
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if strings.TrimSpace(c.HealthObject) == "" {
		c.HealthObject = def.HealthObject
	}
	return c
}

// New builds the configured binding.
func New(cfg Config, logger zerolog.Logger) (Capability, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Binding {
	case BindingMMS:
		return NewMMSClient(cfg, logger), nil
	case BindingLoopback:
		return NewLoopback(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBinding, cfg.Binding)
	}
}

// ObjectRef is one resolved named-object reference: the logical device
// domain and the dollar-separated item under it.
type ObjectRef struct {
	Domain string
	Item   string
}

// ParseRef resolves a mapping path. Paths carry an explicit domain as
// "LD0/MMXU1$MX$TotW$mag$f" or inherit defaultDomain when unqualified.
func ParseRef(raw, defaultDomain string) (ObjectRef, error) {
	raw = strings.TrimSpace(raw)
	domain := strings.TrimSpace(defaultDomain)
	item := raw
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		domain = strings.TrimSpace(raw[:i])
		item = strings.TrimSpace(raw[i+1:])
	}
	if domain == "" || item == "" {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrBadReference, raw)
	}
	// At minimum a logical node and a functional constraint.
	if parts := strings.Split(item, "$"); len(parts) < 2 {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrBadReference, raw)
	}
	return ObjectRef{Domain: domain, Item: item}, nil
}

func (r ObjectRef) String() string {
	return r.Domain + "/" + r.Item
}
