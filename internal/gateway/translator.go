package gateway

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/config"
	"github.com/fieldbus/pvgate/internal/iec61850"
	"github.com/fieldbus/pvgate/internal/observability"
	"github.com/fieldbus/pvgate/internal/store"
	"github.com/fieldbus/pvgate/internal/telemetry"
)

// TranslatorConfig shapes one translation loop.
type TranslatorConfig struct {
	Interval time.Duration
	Mapping  config.Mapping
}

func DefaultTranslatorConfig() TranslatorConfig {
	return TranslatorConfig{
		Interval: time.Second,
		Mapping:  config.DefaultMapping(),
	}
}

func (c TranslatorConfig) WithDefaults() TranslatorConfig {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	c.Mapping = c.Mapping.WithDefaults()
	return c
}

// TranslatorStats is a point-in-time counter snapshot.
type TranslatorStats struct {
	TotalUpdates uint64
	TotalErrors  uint64
	LastUpdate   time.Time
}

// Translator periodically decodes the live watched range and issues
// typed writes onto the relay's named objects. It reads the store
// directly, not the buffer: the relay mirrors present state, not
// history.
type Translator struct {
	cfg    TranslatorConfig
	regs   *store.Registers
	dev    iec61850.Capability
	logger zerolog.Logger
	tier   string

	fields []string // bounds check order, stable for logging

	mu           sync.Mutex
	totalUpdates uint64
	totalErrors  uint64
	lastUpdate   time.Time
}

func NewTranslator(cfg TranslatorConfig, regs *store.Registers, dev iec61850.Capability, logger zerolog.Logger, tier string) *Translator {
	cfg = cfg.WithDefaults()
	fields := make([]string, 0, len(cfg.Mapping.Bounds))
	for field := range cfg.Mapping.Bounds {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return &Translator{
		cfg:    cfg,
		regs:   regs,
		dev:    dev,
		logger: logger.With().Str("component", "translator").Logger(),
		tier:   tier,
		fields: fields,
	}
}

// Run ticks until ctx ends.
func (t *Translator) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick runs one translation cycle. A validation failure aborts before
// any write; a write failure never rolls back writes already issued.
func (t *Translator) tick() {
	if !t.dev.Connected() {
		t.logger.Debug().Msg("relay not connected, skipping update")
		return
	}
	snapshot := t.regs.Watched()
	reading, err := telemetry.Decode(snapshot)
	if err != nil {
		t.logger.Error().Err(err).Msg("watched range does not decode")
		return
	}
	if field, v, ok := t.validate(reading); !ok {
		t.recordError("validation")
		t.logger.Warn().Str("field", field).Float64("value", v).Msg("validation failed, skipping update")
		return
	}

	ok := true
	for _, entry := range t.cfg.Mapping.Entries {
		if err := t.writeEntry(entry, reading); err != nil {
			ok = false
			t.logger.Warn().Err(err).Str("field", entry.Field).Str("path", entry.Path).Msg("relay write failed")
		}
	}
	if !ok {
		t.recordError("write")
		return
	}

	t.mu.Lock()
	t.totalUpdates++
	t.lastUpdate = time.Now().UTC()
	n := t.totalUpdates
	t.mu.Unlock()
	observability.RecordTranslatorUpdate(t.tier)
	t.logger.Info().
		Float64("p_ac", reading.PowerAC).
		Float64("v_dc", reading.VoltageDC).
		Float64("i_dc", reading.CurrentDC).
		Uint64("total_updates", n).
		Msg("relay updated")
}

// validate checks every bounded field, reporting the first violation.
func (t *Translator) validate(r telemetry.Reading) (string, float64, bool) {
	for _, field := range t.fields {
		b := t.cfg.Mapping.Bounds[field]
		v, known := r.Field(field)
		if !known {
			continue
		}
		if v < b.Min || v > b.Max {
			return field, v, false
		}
	}
	return "", 0, true
}

func (t *Translator) writeEntry(entry config.MappingEntry, r telemetry.Reading) error {
	switch entry.Kind {
	case config.KindTimestamp:
		return t.dev.WriteTimestamp(entry.Path, r.Timestamp)
	case config.KindQuality:
		return t.dev.WriteQuality(entry.Path, iec61850.QualityGood)
	default:
		v, _ := r.Field(entry.Field)
		return t.dev.WriteFloat(entry.Path, v)
	}
}

func (t *Translator) recordError(reason string) {
	t.mu.Lock()
	t.totalErrors++
	t.mu.Unlock()
	observability.RecordTranslatorError(t.tier, reason)
}

// Stats reports counters for the periodic reporter.
func (t *Translator) Stats() TranslatorStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TranslatorStats{
		TotalUpdates: t.totalUpdates,
		TotalErrors:  t.totalErrors,
		LastUpdate:   t.lastUpdate,
	}
}

// SuperviseLink keeps the relay association alive while ctx runs,
// redialing with exponential backoff and dropping it on exit.
func SuperviseLink(ctx context.Context, dev iec61850.Capability, cfg BackoffConfig, logger zerolog.Logger, tier string) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		if ctx.Err() != nil {
			dev.Disconnect()
			return
		}
		if dev.Connected() {
			attempt = 0
			if !sleepCtx(ctx, time.Second) {
				dev.Disconnect()
				return
			}
			continue
		}
		observability.SetTranslatorLink(tier, false)
		attempt++
		if err := dev.Connect(); err != nil {
			delay := NextBackoffDelay(cfg, attempt, rng)
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("relay connect failed")
			if !sleepCtx(ctx, delay) {
				dev.Disconnect()
				return
			}
			continue
		}
		if !dev.HealthCheck() {
			dev.Disconnect()
			delay := NextBackoffDelay(cfg, attempt, rng)
			logger.Warn().Int("attempt", attempt).Dur("retry_in", delay).Msg("relay health probe failed after connect")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		attempt = 0
		observability.SetTranslatorLink(tier, true)
		logger.Info().Msg("relay link up")
	}
}
