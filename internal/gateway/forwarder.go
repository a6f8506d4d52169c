package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/observability"
	"github.com/fieldbus/pvgate/internal/store"
)

// ForwardClient is the outbound register link the forwarder drives.
// modbus.Client satisfies it.
type ForwardClient interface {
	Connect() error
	Close()
	Connected() bool
	WriteRegisters(address uint16, values []uint16) error
}

// ForwarderConfig shapes one forwarder loop.
type ForwarderConfig struct {
	Interval         time.Duration
	WriteStart       int
	FailureThreshold int
}

func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		Interval:         5 * time.Second,
		FailureThreshold: 3,
	}
}

func (c ForwarderConfig) WithDefaults() ForwarderConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.WriteStart < 0 {
		c.WriteStart = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	return c
}

// ForwarderStats is a point-in-time snapshot of link state.
type ForwarderStats struct {
	Connected           bool
	ConsecutiveFailures int
	Reconnects          uint64
}

// Forwarder pushes the most recent buffered record downstream on a
// fixed interval. Connect failures and send failures share one
// consecutive counter; an exception reply keeps the connection while a
// transport error drops it, and reaching the threshold drops it either
// way so the next tick dials fresh.
type Forwarder struct {
	cfg    ForwarderConfig
	buf    *store.Buffer
	client ForwardClient
	logger zerolog.Logger
	tier   string

	mu         sync.Mutex
	failures   int
	reconnects uint64
}

func NewForwarder(cfg ForwarderConfig, buf *store.Buffer, client ForwardClient, logger zerolog.Logger, tier string) *Forwarder {
	return &Forwarder{
		cfg:    cfg.WithDefaults(),
		buf:    buf,
		client: client,
		logger: logger.With().Str("component", "forwarder").Logger(),
		tier:   tier,
	}
}

// Run ticks until ctx ends, then drops the link. Buffered records are
// left behind on purpose: the buffer bounds staleness, not durability.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.disconnect()
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

// tick runs one forwarding cycle: skip when empty, connect when down,
// then push the latest record.
func (f *Forwarder) tick() {
	if f.buf.Count() == 0 {
		return
	}
	if !f.client.Connected() {
		if err := f.client.Connect(); err != nil {
			f.recordFailure("connect", err)
			f.checkThreshold()
			return
		}
		f.resetFailures()
		f.noteReconnect()
		observability.SetForwarderLink(f.tier, true)
		f.logger.Info().Msg("downstream link up")
	}
	rec, ok := f.buf.Latest()
	if !ok {
		return
	}
	if err := f.client.WriteRegisters(uint16(f.cfg.WriteStart), rec.Registers); err != nil {
		f.recordFailure("send", err)
		if !modbus.IsProtocolError(err) {
			f.disconnect()
		}
		f.checkThreshold()
		return
	}
	f.buf.MarkForwarded(1)
	f.resetFailures()
	observability.RecordForwarded(f.tier)
	f.logger.Debug().
		Time("source_timestamp", rec.SourceTimestamp).
		Int("buffered", f.buf.Count()).
		Msg("record forwarded")
}

func (f *Forwarder) recordFailure(stage string, err error) {
	f.mu.Lock()
	f.failures++
	n := f.failures
	f.mu.Unlock()
	f.logger.Warn().Err(err).Str("stage", stage).Int("consecutive_failures", n).Msg("forward cycle failed")
}

// checkThreshold drops the link once failures reach the threshold and
// zeroes the counter so the next tick starts from a fresh dial.
func (f *Forwarder) checkThreshold() {
	f.mu.Lock()
	reached := f.failures >= f.cfg.FailureThreshold
	if reached {
		f.failures = 0
	}
	f.mu.Unlock()
	if reached {
		f.disconnect()
		f.logger.Warn().Int("threshold", f.cfg.FailureThreshold).Msg("failure threshold reached, link reset")
	}
}

func (f *Forwarder) resetFailures() {
	f.mu.Lock()
	f.failures = 0
	f.mu.Unlock()
}

func (f *Forwarder) noteReconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	observability.RecordForwarderReconnect(f.tier)
}

func (f *Forwarder) disconnect() {
	if f.client.Connected() {
		f.client.Close()
	}
	observability.SetForwarderLink(f.tier, false)
}

// Stats reports link state for the periodic reporter.
func (f *Forwarder) Stats() ForwarderStats {
	connected := f.client.Connected()
	f.mu.Lock()
	defer f.mu.Unlock()
	return ForwarderStats{
		Connected:           connected,
		ConsecutiveFailures: f.failures,
		Reconnects:          f.reconnects,
	}
}
