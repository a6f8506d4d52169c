package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/store"
	"github.com/fieldbus/pvgate/internal/telemetry"
)

// scriptedClient pops one scripted error per call, succeeding once the
// script runs out.
type scriptedClient struct {
	connected   bool
	connectErrs []error
	writeErrs   []error

	connects int
	closes   int
	writes   [][]uint16
}

func (c *scriptedClient) Connect() error {
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	c.connected = true
	return nil
}

func (c *scriptedClient) Close() {
	c.closes++
	c.connected = false
}

func (c *scriptedClient) Connected() bool { return c.connected }

func (c *scriptedClient) WriteRegisters(address uint16, values []uint16) error {
	if len(c.writeErrs) > 0 {
		err := c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	cp := make([]uint16, len(values))
	copy(cp, values)
	c.writes = append(c.writes, cp)
	return nil
}

func bufferWith(regs []uint16) *store.Buffer {
	b := store.NewBuffer(10)
	b.Add(telemetry.Record{
		Registers:       regs,
		SourceTimestamp: time.Unix(1700000000, 0),
		ReceivedAt:      time.Now(),
	})
	return b
}

func newTestForwarder(buf *store.Buffer, client ForwardClient) *Forwarder {
	cfg := ForwarderConfig{Interval: time.Hour, FailureThreshold: 3}
	return NewForwarder(cfg, buf, client, zerolog.Nop(), TierBridge)
}

func TestForwarderSkipsWhenEmpty(t *testing.T) {
	cli := &scriptedClient{}
	f := newTestForwarder(store.NewBuffer(10), cli)

	f.tick()

	if cli.connects != 0 || len(cli.writes) != 0 {
		t.Fatalf("empty buffer caused traffic: connects=%d writes=%d", cli.connects, len(cli.writes))
	}
}

func TestForwarderConnectsAndSendsSameTick(t *testing.T) {
	cli := &scriptedClient{}
	buf := bufferWith([]uint16{800, 205, 120, 600, 999})
	f := newTestForwarder(buf, cli)

	f.tick()

	if cli.connects != 1 {
		t.Fatalf("connects: got %d, want 1", cli.connects)
	}
	if len(cli.writes) != 1 {
		t.Fatalf("writes: got %d, want 1", len(cli.writes))
	}
	if got := cli.writes[0]; len(got) != 5 || got[0] != 800 || got[4] != 999 {
		t.Fatalf("forwarded registers: %v", got)
	}
	if st := buf.Stats(); st.TotalForwarded != 1 {
		t.Fatalf("forwarded count: got %d, want 1", st.TotalForwarded)
	}
	if st := f.Stats(); !st.Connected || st.ConsecutiveFailures != 0 || st.Reconnects != 1 {
		t.Fatalf("forwarder stats: %+v", st)
	}
}

func TestForwarderExceptionRepliesKeepLink(t *testing.T) {
	exc := fmt.Errorf("write: %w", modbus.ErrException)
	cli := &scriptedClient{connected: true, writeErrs: []error{exc, exc}}
	f := newTestForwarder(bufferWith([]uint16{1, 2, 3, 4, 5}), cli)

	f.tick()
	f.tick()

	if cli.closes != 0 {
		t.Fatalf("exception reply dropped the link: closes=%d", cli.closes)
	}
	if st := f.Stats(); !st.Connected || st.ConsecutiveFailures != 2 {
		t.Fatalf("forwarder stats: %+v", st)
	}
}

func TestForwarderThresholdResetsLink(t *testing.T) {
	exc := fmt.Errorf("write: %w", modbus.ErrException)
	cli := &scriptedClient{connected: true, writeErrs: []error{exc, exc, exc}}
	f := newTestForwarder(bufferWith([]uint16{1, 2, 3, 4, 5}), cli)

	f.tick()
	f.tick()
	f.tick()

	if cli.closes != 1 {
		t.Fatalf("threshold did not reset the link: closes=%d", cli.closes)
	}
	if st := f.Stats(); st.Connected || st.ConsecutiveFailures != 0 {
		t.Fatalf("forwarder stats after threshold: %+v", st)
	}

	// Next tick dials fresh and delivers.
	f.tick()
	if len(cli.writes) != 1 {
		t.Fatalf("post-reset writes: got %d, want 1", len(cli.writes))
	}
	if st := f.Stats(); !st.Connected || st.Reconnects != 1 {
		t.Fatalf("forwarder stats after redial: %+v", st)
	}
}

func TestForwarderTransportErrorDropsLink(t *testing.T) {
	cli := &scriptedClient{connected: true, writeErrs: []error{errors.New("broken pipe")}}
	f := newTestForwarder(bufferWith([]uint16{1, 2, 3, 4, 5}), cli)

	f.tick()

	if cli.closes != 1 {
		t.Fatalf("transport error kept the link: closes=%d", cli.closes)
	}
	if st := f.Stats(); st.Connected || st.ConsecutiveFailures != 1 {
		t.Fatalf("forwarder stats: %+v", st)
	}
}

func TestForwarderConnectFailuresAccumulate(t *testing.T) {
	refused := errors.New("connection refused")
	cli := &scriptedClient{connectErrs: []error{refused, refused, refused}}
	f := newTestForwarder(bufferWith([]uint16{1, 2, 3, 4, 5}), cli)

	f.tick()
	f.tick()
	if st := f.Stats(); st.ConsecutiveFailures != 2 {
		t.Fatalf("failures after two refusals: %+v", st)
	}

	// Third refusal reaches the threshold and zeroes the counter.
	f.tick()
	if st := f.Stats(); st.ConsecutiveFailures != 0 || st.Reconnects != 0 {
		t.Fatalf("failures after threshold: %+v", st)
	}

	f.tick()
	if len(cli.writes) != 1 {
		t.Fatalf("recovery writes: got %d, want 1", len(cli.writes))
	}
}

func TestForwarderDeliversDownstream(t *testing.T) {
	downstream := store.NewRegisters(store.RegistersConfig{
		Size:         16,
		WatchedCount: telemetry.ReducedBlockLen,
	}, nil)
	srv := modbus.NewServer(modbus.ServerConfig{ListenAddr: "127.0.0.1:0"}, downstream, zerolog.Nop())
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	cli := modbus.NewClient(modbus.ClientConfig{Address: ln.Addr().String(), Timeout: 5 * time.Second})
	want := []uint16{800, 205, 120, 600, 999}
	f := newTestForwarder(bufferWith(want), cli)
	defer cli.Close()

	f.tick()

	if st := f.Stats(); !st.Connected || st.ConsecutiveFailures != 0 {
		t.Fatalf("forwarder stats: %+v", st)
	}
	got := downstream.Watched()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("downstream register %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if st := downstream.Stats(); st.TotalReceived != 1 {
		t.Fatalf("downstream store stats: %+v", st)
	}
}
