package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

const DefaultBlockSize = 100

var ErrOutOfRange = errors.New("store: register access out of range")

// Observer receives each record produced by a watched-range write.
type Observer func(rec telemetry.Record)

// RegistersConfig shapes one register block. WatchedCount zero disables
// decode side effects entirely. OnServed, when set, fires after each
// exact watched-range read.
type RegistersConfig struct {
	Size         int
	WatchedStart int
	WatchedCount int
	Decode       func([]uint16) (telemetry.Reading, error)
	OnServed     func()
}

func DefaultRegistersConfig() RegistersConfig {
	return RegistersConfig{
		Size:         DefaultBlockSize,
		WatchedStart: 0,
		WatchedCount: telemetry.FullBlockLen,
		Decode:       telemetry.DecodeFull,
	}
}

func (c RegistersConfig) WithDefaults() RegistersConfig {
	if c.Size <= 0 {
		c.Size = DefaultBlockSize
	}
	if c.WatchedCount < 0 {
		c.WatchedCount = 0
	}
	if c.Decode == nil {
		switch c.WatchedCount {
		case telemetry.FullBlockLen:
			c.Decode = telemetry.DecodeFull
		case telemetry.ReducedBlockLen:
			c.Decode = telemetry.DecodeReduced
		}
	}
	return c
}

// RegistersStats is a point-in-time counter snapshot.
type RegistersStats struct {
	TotalReceived uint64
	TotalServed   uint64
	LastUpdate    time.Time
}

// Registers is the holding-register block shared by every listener of
// one gateway process. One mutex keeps block content and counters
// consistent; the observer runs outside it so a slow consumer never
// stalls an inbound session.
type Registers struct {
	mu       sync.Mutex
	cfg      RegistersConfig
	block    []uint16
	observer Observer

	totalReceived uint64
	totalServed   uint64
	lastUpdate    time.Time
}

// NewRegisters builds the block. obs may be nil.
func NewRegisters(cfg RegistersConfig, obs Observer) *Registers {
	cfg = cfg.WithDefaults()
	return &Registers{
		cfg:      cfg,
		block:    make([]uint16, cfg.Size),
		observer: obs,
	}
}

// SetValues stores values starting at address. A write overlapping the
// watched range, even partially, re-reads the whole range and emits the
// decoded record to the observer.
func (s *Registers) SetValues(address int, values []uint16) error {
	s.mu.Lock()
	if !s.inRange(address, len(values)) {
		s.mu.Unlock()
		return fmt.Errorf("%w: write [%d,%d) of block size %d", ErrOutOfRange, address, address+len(values), len(s.block))
	}
	copy(s.block[address:], values)

	watched := s.cfg.WatchedCount > 0 &&
		address < s.cfg.WatchedStart+s.cfg.WatchedCount &&
		address+len(values) > s.cfg.WatchedStart
	var snap []uint16
	var now time.Time
	if watched {
		snap = make([]uint16, s.cfg.WatchedCount)
		copy(snap, s.block[s.cfg.WatchedStart:s.cfg.WatchedStart+s.cfg.WatchedCount])
		now = time.Now().UTC()
		s.lastUpdate = now
		s.totalReceived++
	}
	s.mu.Unlock()

	if !watched {
		return nil
	}
	rec := telemetry.Record{Registers: snap, ReceivedAt: now}
	if s.cfg.Decode != nil {
		if reading, err := s.cfg.Decode(snap); err == nil {
			rec.SourceTimestamp = time.Unix(reading.Timestamp, 0).UTC()
		}
	}
	if s.observer != nil {
		s.observer(rec)
	}
	return nil
}

// GetValues returns a copy of the requested slice. A read of exactly
// the watched range counts as one served telemetry block.
func (s *Registers) GetValues(address, count int) ([]uint16, error) {
	s.mu.Lock()
	if !s.inRange(address, count) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: read [%d,%d) of block size %d", ErrOutOfRange, address, address+count, len(s.block))
	}
	served := s.cfg.WatchedCount > 0 && address == s.cfg.WatchedStart && count == s.cfg.WatchedCount
	if served {
		s.totalServed++
	}
	out := make([]uint16, count)
	copy(out, s.block[address:address+count])
	s.mu.Unlock()

	if served && s.cfg.OnServed != nil {
		s.cfg.OnServed()
	}
	return out, nil
}

// Watched returns a copy of the watched range without counting it as a
// served read. Nil when no range is configured.
func (s *Registers) Watched() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.WatchedCount == 0 {
		return nil
	}
	out := make([]uint16, s.cfg.WatchedCount)
	copy(out, s.block[s.cfg.WatchedStart:s.cfg.WatchedStart+s.cfg.WatchedCount])
	return out
}

func (s *Registers) Stats() RegistersStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RegistersStats{
		TotalReceived: s.totalReceived,
		TotalServed:   s.totalServed,
		LastUpdate:    s.lastUpdate,
	}
}

func (s *Registers) inRange(address, count int) bool {
	return address >= 0 && count > 0 && address+count <= len(s.block)
}
