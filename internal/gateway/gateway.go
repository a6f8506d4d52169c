package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/iec61850"
	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/observability"
	"github.com/fieldbus/pvgate/internal/store"
	"github.com/fieldbus/pvgate/internal/telemetry"
)

// Tier names. They label log lines and metric series, one per process.
const (
	TierMeter      = "meter"
	TierBridge     = "bridge"
	TierSubstation = "substation"
)

const DefaultStatsInterval = 60 * time.Second

// MeterConfig assembles the field tier: a plaintext listener for local
// instrumentation and a TLS listener for the uplink, both serving one
// shared register block.
type MeterConfig struct {
	PlainListen   modbus.ServerConfig
	SecureListen  modbus.ServerConfig
	Store         store.RegistersConfig
	StatsInterval time.Duration
	MetricsAddr   string
}

func (c MeterConfig) WithDefaults() MeterConfig {
	c.PlainListen = c.PlainListen.WithDefaults()
	c.Store = c.Store.WithDefaults()
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	return c
}

// BridgeConfig assembles the relay tier: a TLS listener feeding the
// store-and-forward buffer, drained by a plaintext forwarder.
type BridgeConfig struct {
	SecureListen   modbus.ServerConfig
	Store          store.RegistersConfig
	BufferCapacity int
	Forward        modbus.ClientConfig
	Forwarder      ForwarderConfig
	StatsInterval  time.Duration
	MetricsAddr    string
}

func (c BridgeConfig) WithDefaults() BridgeConfig {
	c.Store = c.Store.WithDefaults()
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = store.DefaultBufferCapacity
	}
	c.Forward = c.Forward.WithDefaults()
	c.Forwarder = c.Forwarder.WithDefaults()
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	return c
}

// SubstationConfig assembles the station tier: a plaintext listener
// feeding the translator, which mirrors readings onto the relay.
type SubstationConfig struct {
	PlainListen   modbus.ServerConfig
	Store         store.RegistersConfig
	Relay         iec61850.Config
	Translator    TranslatorConfig
	Backoff       BackoffConfig
	StatsInterval time.Duration
	MetricsAddr   string
}

func (c SubstationConfig) WithDefaults() SubstationConfig {
	c.PlainListen = c.PlainListen.WithDefaults()
	c.Store = c.Store.WithDefaults()
	c.Relay = c.Relay.WithDefaults()
	c.Translator = c.Translator.WithDefaults()
	c.Backoff = c.Backoff.WithDefaults()
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	return c
}

// Gateway is one assembled tier process: listeners, the shared store,
// and whichever mover the tier runs. Construct with the tier builder,
// then Run until the context ends.
type Gateway struct {
	tier   string
	logger zerolog.Logger

	regs   *store.Registers
	buffer *store.Buffer

	servers    []*modbus.Server
	forwarder  *Forwarder
	translator *Translator
	dev        iec61850.Capability
	backoff    BackoffConfig

	statsInterval time.Duration
	metricsAddr   string
}

// NewMeterGateway wires the field tier.
func NewMeterGateway(cfg MeterConfig, logger zerolog.Logger) *Gateway {
	cfg = cfg.WithDefaults()
	g := &Gateway{
		tier:          TierMeter,
		logger:        logger.With().Str("tier", TierMeter).Logger(),
		statsInterval: cfg.StatsInterval,
		metricsAddr:   cfg.MetricsAddr,
	}
	g.regs = g.newStore(cfg.Store, nil)
	g.addServer(cfg.PlainListen, "plain")
	if cfg.SecureListen.TLS.Enabled {
		g.addServer(cfg.SecureListen.WithDefaults(), "tls")
	}
	return g
}

// NewBridgeGateway wires the relay tier.
func NewBridgeGateway(cfg BridgeConfig, logger zerolog.Logger) *Gateway {
	cfg = cfg.WithDefaults()
	g := &Gateway{
		tier:          TierBridge,
		logger:        logger.With().Str("tier", TierBridge).Logger(),
		statsInterval: cfg.StatsInterval,
		metricsAddr:   cfg.MetricsAddr,
	}
	g.buffer = store.NewBuffer(cfg.BufferCapacity)
	g.regs = g.newStore(cfg.Store, func(rec telemetry.Record) {
		if g.buffer.Add(rec) {
			observability.RecordDropped(g.tier)
		}
		observability.SetBufferFill(g.tier, g.buffer.Count())
	})
	g.addServer(cfg.SecureListen.WithDefaults(), "tls")
	g.forwarder = NewForwarder(cfg.Forwarder, g.buffer, modbus.NewClient(cfg.Forward), g.logger, g.tier)
	return g
}

// NewBridgeGatewayWithClient is NewBridgeGateway with the downstream
// client supplied by the caller.
func NewBridgeGatewayWithClient(cfg BridgeConfig, client ForwardClient, logger zerolog.Logger) *Gateway {
	g := NewBridgeGateway(cfg, logger)
	g.forwarder = NewForwarder(cfg.Forwarder, g.buffer, client, g.logger, g.tier)
	return g
}

// NewSubstationGateway wires the station tier. It fails only when the
// relay binding or object references are unusable.
func NewSubstationGateway(cfg SubstationConfig, logger zerolog.Logger) (*Gateway, error) {
	cfg = cfg.WithDefaults()
	g := &Gateway{
		tier:          TierSubstation,
		logger:        logger.With().Str("tier", TierSubstation).Logger(),
		backoff:       cfg.Backoff,
		statsInterval: cfg.StatsInterval,
		metricsAddr:   cfg.MetricsAddr,
	}
	dev, err := iec61850.New(cfg.Relay, g.logger)
	if err != nil {
		return nil, err
	}
	g.dev = dev
	g.regs = g.newStore(cfg.Store, nil)
	g.addServer(cfg.PlainListen, "plain")
	g.translator = NewTranslator(cfg.Translator, g.regs, dev, g.logger, g.tier)
	return g, nil
}

// newStore builds the shared register block with the tier's receive
// and serve hooks attached. extra, when set, runs after the counter
// hook on every decoded record.
func (g *Gateway) newStore(cfg store.RegistersConfig, extra store.Observer) *store.Registers {
	cfg.OnServed = func() { observability.RecordServed(g.tier) }
	return store.NewRegisters(cfg, func(rec telemetry.Record) {
		observability.RecordReceived(g.tier)
		if extra != nil {
			extra(rec)
		}
	})
}

func (g *Gateway) addServer(cfg modbus.ServerConfig, listener string) {
	logger := g.logger.With().Str("listener", listener).Logger()
	g.servers = append(g.servers, modbus.NewServer(cfg, g.regs, logger))
}

// Store exposes the shared register block, mainly for tests.
func (g *Gateway) Store() *store.Registers { return g.regs }

// Relay exposes the named-object device on the station tier, nil
// elsewhere.
func (g *Gateway) Relay() iec61850.Capability { return g.dev }

// Run brings every component up and blocks until ctx ends or a
// listener fails. All components share one derived context, so a
// single failure tears the whole tier down.
func (g *Gateway) Run(ctx context.Context) error {
	observability.RegisterMetrics()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(g.servers)+1)
	var wg sync.WaitGroup

	for _, srv := range g.servers {
		ln, err := srv.Listen()
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		g.logger.Info().Str("addr", ln.Addr().String()).Msg("listener up")
		wg.Add(1)
		go func(srv *modbus.Server, ln net.Listener) {
			defer wg.Done()
			if err := srv.Serve(ctx, ln); err != nil {
				errCh <- err
			}
		}(srv, ln)
	}

	if g.metricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := observability.ServeMetrics(ctx, g.metricsAddr, g.logger); err != nil {
				errCh <- err
			}
		}()
	}

	if g.forwarder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.forwarder.Run(ctx)
		}()
	}

	if g.translator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SuperviseLink(ctx, g.dev, g.backoff, g.logger, g.tier)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.translator.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.reportStats(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}
	wg.Wait()
	g.logStats(g.logger.Info()).Msg("gateway stopped")
	return runErr
}

func (g *Gateway) reportStats(ctx context.Context) {
	ticker := time.NewTicker(g.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.logStats(g.logger.Info()).Msg("gateway stats")
		}
	}
}

func (g *Gateway) logStats(ev *zerolog.Event) *zerolog.Event {
	rs := g.regs.Stats()
	ev = ev.Uint64("received", rs.TotalReceived).Uint64("served", rs.TotalServed)
	if !rs.LastUpdate.IsZero() {
		ev = ev.Time("last_update", rs.LastUpdate)
	}
	if g.buffer != nil {
		bs := g.buffer.Stats()
		ev = ev.Int("buffered", g.buffer.Count()).
			Uint64("forwarded", bs.TotalForwarded).
			Uint64("dropped", bs.TotalDropped)
		observability.SetBufferFill(g.tier, g.buffer.Count())
	}
	if g.forwarder != nil {
		fs := g.forwarder.Stats()
		ev = ev.Bool("link_up", fs.Connected).Uint64("reconnects", fs.Reconnects)
	}
	if g.translator != nil {
		ts := g.translator.Stats()
		ev = ev.Bool("relay_up", g.dev.Connected()).
			Uint64("updates", ts.TotalUpdates).
			Uint64("errors", ts.TotalErrors)
		if !ts.LastUpdate.IsZero() {
			ev = ev.Time("last_relay_update", ts.LastUpdate)
		}
	}
	return ev
}
