package store

import (
	"errors"
	"testing"
	"time"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

func TestSetValuesOutOfRange(t *testing.T) {
	s := NewRegisters(DefaultRegistersConfig(), nil)
	if err := s.SetValues(98, []uint16{1, 2, 3}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := s.SetValues(-1, []uint16{1}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := s.GetValues(0, 101); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if st := s.Stats(); st.TotalReceived != 0 {
		t.Fatalf("rejected writes must not count: %+v", st)
	}
}

func TestWatchedWriteEmitsRecord(t *testing.T) {
	var got []telemetry.Record
	s := NewRegisters(DefaultRegistersConfig(), func(rec telemetry.Record) {
		got = append(got, rec)
	})

	hi, lo := telemetry.SplitTimestamp(1700000000)
	regs := []uint16{1200, 1150, 240, 500, 850, 300, hi, lo}
	if err := s.SetValues(0, regs); err != nil {
		t.Fatalf("set values: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 emitted record, got %d", len(got))
	}
	rec := got[0]
	for i := range regs {
		if rec.Registers[i] != regs[i] {
			t.Fatalf("register %d: got %d, want %d", i, rec.Registers[i], regs[i])
		}
	}
	want := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	if !rec.SourceTimestamp.Equal(want) {
		t.Fatalf("source timestamp: got %v, want %v", rec.SourceTimestamp, want)
	}
	if rec.ReceivedAt.IsZero() {
		t.Fatalf("received_at not set")
	}
	if st := s.Stats(); st.TotalReceived != 1 || st.LastUpdate.IsZero() {
		t.Fatalf("stats after watched write: %+v", st)
	}
}

func TestPartialOverlapTriggersDecode(t *testing.T) {
	emitted := 0
	s := NewRegisters(DefaultRegistersConfig(), func(telemetry.Record) { emitted++ })

	if err := s.SetValues(7, []uint16{61696, 0, 0}); err != nil {
		t.Fatalf("set values: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("partial overlap should emit, got %d", emitted)
	}
	if err := s.SetValues(50, []uint16{9}); err != nil {
		t.Fatalf("set values: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("write outside watched range must not emit")
	}
	if st := s.Stats(); st.TotalReceived != 1 {
		t.Fatalf("total_received: got %d, want 1", st.TotalReceived)
	}
}

func TestExactWatchedReadCountsServed(t *testing.T) {
	s := NewRegisters(DefaultRegistersConfig(), nil)
	if _, err := s.GetValues(0, telemetry.FullBlockLen); err != nil {
		t.Fatalf("get values: %v", err)
	}
	if _, err := s.GetValues(0, 4); err != nil {
		t.Fatalf("get values: %v", err)
	}
	if _, err := s.GetValues(1, telemetry.FullBlockLen); err != nil {
		t.Fatalf("get values: %v", err)
	}
	if st := s.Stats(); st.TotalServed != 1 {
		t.Fatalf("total_served: got %d, want 1", st.TotalServed)
	}
}

func TestWatchedSnapshotDoesNotCountServed(t *testing.T) {
	cfg := RegistersConfig{Size: 100, WatchedCount: telemetry.ReducedBlockLen}
	s := NewRegisters(cfg, nil)
	if err := s.SetValues(0, []uint16{800, 205, 120, 600, 999}); err != nil {
		t.Fatalf("set values: %v", err)
	}
	snap := s.Watched()
	if len(snap) != telemetry.ReducedBlockLen || snap[0] != 800 || snap[4] != 999 {
		t.Fatalf("snapshot: %v", snap)
	}
	if st := s.Stats(); st.TotalServed != 0 {
		t.Fatalf("snapshot must not count as served read")
	}
}

func TestGetValuesReturnsCopy(t *testing.T) {
	s := NewRegisters(DefaultRegistersConfig(), nil)
	if err := s.SetValues(10, []uint16{42}); err != nil {
		t.Fatalf("set values: %v", err)
	}
	got, err := s.GetValues(10, 1)
	if err != nil {
		t.Fatalf("get values: %v", err)
	}
	got[0] = 7
	again, err := s.GetValues(10, 1)
	if err != nil {
		t.Fatalf("get values: %v", err)
	}
	if again[0] != 42 {
		t.Fatalf("caller mutation leaked into the block")
	}
}
