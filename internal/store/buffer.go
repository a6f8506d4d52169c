package store

import (
	"sync"

	"github.com/fieldbus/pvgate/internal/telemetry"
)

const DefaultBufferCapacity = 100

// BufferStats is a point-in-time counter snapshot.
type BufferStats struct {
	TotalReceived  uint64
	TotalForwarded uint64
	TotalDropped   uint64
}

// Buffer is the bounded store-and-forward queue between the watched
// write path and the forwarder. Overflow evicts the oldest record.
type Buffer struct {
	mu   sync.Mutex
	recs []telemetry.Record
	cap  int

	totalReceived  uint64
	totalForwarded uint64
	totalDropped   uint64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		recs: make([]telemetry.Record, 0, capacity),
		cap:  capacity,
	}
}

// Add appends rec, evicting the oldest record first when full. It
// reports whether an eviction happened.
func (b *Buffer) Add(rec telemetry.Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := false
	if len(b.recs) >= b.cap {
		drop := len(b.recs) - b.cap + 1
		n := copy(b.recs, b.recs[drop:])
		b.recs = b.recs[:n]
		b.totalDropped += uint64(drop)
		dropped = true
	}
	b.recs = append(b.recs, rec)
	b.totalReceived++
	return dropped
}

// Latest peeks the most recently added record without removing it.
func (b *Buffer) Latest() (telemetry.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.recs) == 0 {
		return telemetry.Record{}, false
	}
	return b.recs[len(b.recs)-1], true
}

// DrainAll returns and clears all buffered records.
func (b *Buffer) DrainAll() []telemetry.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.recs
	b.recs = make([]telemetry.Record, 0, b.cap)
	return out
}

func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recs)
}

// MarkForwarded credits n records as delivered downstream.
func (b *Buffer) MarkForwarded(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalForwarded += uint64(n)
}

func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		TotalReceived:  b.totalReceived,
		TotalForwarded: b.totalForwarded,
		TotalDropped:   b.totalDropped,
	}
}
