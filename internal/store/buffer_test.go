package store

import (
	"testing"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

func rec(i int) telemetry.Record {
	return telemetry.Record{Registers: []uint16{uint16(i)}}
}

func TestBufferDropOldest(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 8; i++ {
		dropped := b.Add(rec(i))
		if want := i >= 5; dropped != want {
			t.Fatalf("add %d: dropped = %v, want %v", i, dropped, want)
		}
	}
	if got := b.Count(); got != 5 {
		t.Fatalf("count: got %d, want 5", got)
	}
	st := b.Stats()
	if st.TotalReceived != 8 || st.TotalDropped != 3 {
		t.Fatalf("stats: %+v", st)
	}
	recs := b.DrainAll()
	for i, r := range recs {
		if want := uint16(i + 3); r.Registers[0] != want {
			t.Fatalf("record %d: got %d, want %d", i, r.Registers[0], want)
		}
	}
}

func TestBufferLatest(t *testing.T) {
	b := NewBuffer(3)
	if _, ok := b.Latest(); ok {
		t.Fatalf("latest on empty buffer must report none")
	}
	b.Add(rec(1))
	b.Add(rec(2))
	b.Count()
	b.MarkForwarded(1)
	got, ok := b.Latest()
	if !ok || got.Registers[0] != 2 {
		t.Fatalf("latest: got %+v, ok=%v", got, ok)
	}
	if b.Count() != 2 {
		t.Fatalf("latest must not consume records")
	}
}

func TestBufferDrainAllClears(t *testing.T) {
	b := NewBuffer(4)
	b.Add(rec(1))
	b.Add(rec(2))
	if got := len(b.DrainAll()); got != 2 {
		t.Fatalf("drained: got %d, want 2", got)
	}
	if b.Count() != 0 {
		t.Fatalf("buffer not cleared")
	}
	if _, ok := b.Latest(); ok {
		t.Fatalf("latest after drain must report none")
	}
}

func TestBufferMarkForwarded(t *testing.T) {
	b := NewBuffer(2)
	b.MarkForwarded(3)
	b.MarkForwarded(-1)
	if st := b.Stats(); st.TotalForwarded != 3 {
		t.Fatalf("total_forwarded: got %d, want 3", st.TotalForwarded)
	}
}
