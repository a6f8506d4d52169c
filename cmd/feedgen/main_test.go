package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/store"
	"github.com/fieldbus/pvgate/internal/telemetry"
	"github.com/fieldbus/pvgate/internal/testutil/testlog"
)

func TestFeedDeliversToGateway(t *testing.T) {
	logger := testlog.Start(t)

	regs := store.NewRegisters(store.RegistersConfig{
		Size:         16,
		WatchedCount: telemetry.FullBlockLen,
	}, nil)
	srv := modbus.NewServer(modbus.ServerConfig{ListenAddr: "127.0.0.1:0"}, regs, zerolog.Nop())
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	cfg := feedConfig{
		Address:  ln.Addr().String(),
		UnitID:   1,
		Timeout:  5 * time.Second,
		Interval: 10 * time.Millisecond,
		Layout:   "full",
		Count:    2,
	}
	if err := run(ctx, cfg, logger); err != nil {
		t.Fatalf("run: %v", err)
	}

	if st := regs.Stats(); st.TotalReceived != 2 {
		t.Fatalf("store stats: %+v", st)
	}
	r, err := telemetry.DecodeFull(regs.Watched())
	if err != nil {
		t.Fatalf("decode watched: %v", err)
	}
	now := time.Now().Unix()
	if r.Timestamp < now-60 || r.Timestamp > now+1 {
		t.Fatalf("sample timestamp = %d, now = %d", r.Timestamp, now)
	}
}

func TestFeedSurvivesUnreachableGateway(t *testing.T) {
	logger := testlog.Start(t)

	cfg := feedConfig{
		Address:  "127.0.0.1:1",
		UnitID:   1,
		Timeout:  50 * time.Millisecond,
		Interval: 10 * time.Millisecond,
		Layout:   "full",
		Count:    1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg, logger); err != nil {
		t.Fatalf("run: %v", err)
	}
}
