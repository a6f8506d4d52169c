package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/logging"
	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/telemetry"
)

// maxWriteFailures is how many consecutive write errors are tolerated
// before the connection is torn down and redialed.
const maxWriteFailures = 3

type sender interface {
	WriteRegisters(address uint16, values []uint16) error
}

type feedConfig struct {
	Address    string
	UnitID     int
	Timeout    time.Duration
	Interval   time.Duration
	WriteStart int
	Layout     string
	Count      int
	UseTLS     bool
	CAFile     string
	ServerName string
}

func main() {
	var cfg feedConfig
	flag.StringVar(&cfg.Address, "addr", "127.0.0.1:502", "gateway address to feed")
	flag.IntVar(&cfg.UnitID, "unit", 1, "unit identifier for outgoing requests")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "connect and request timeout")
	flag.DurationVar(&cfg.Interval, "interval", 5*time.Second, "delay between samples")
	flag.IntVar(&cfg.WriteStart, "start", 0, "register offset for the telemetry block")
	flag.StringVar(&cfg.Layout, "layout", "full", "block layout to send (full or reduced)")
	flag.IntVar(&cfg.Count, "count", 0, "samples to send before exiting (0 = run until interrupted)")
	flag.BoolVar(&cfg.UseTLS, "tls", false, "wrap the connection in TLS")
	flag.StringVar(&cfg.CAFile, "ca", "", "CA certificate for server verification (blank skips verification)")
	flag.StringVar(&cfg.ServerName, "server-name", "", "expected server certificate name")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.New("feedgen")

	cfg.Layout = strings.ToLower(strings.TrimSpace(cfg.Layout))
	if cfg.Layout != "full" && cfg.Layout != "reduced" {
		logger.Fatal().Str("layout", cfg.Layout).Msg("layout must be full or reduced")
	}
	if cfg.UnitID < 1 || cfg.UnitID > 255 {
		logger.Fatal().Int("unit", cfg.UnitID).Msg("unit must be between 1 and 255")
	}
	if cfg.Interval <= 0 {
		logger.Fatal().Dur("interval", cfg.Interval).Msg("interval must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("feed stopped")
	}
	logger.Info().Msg("feed finished")
}

func run(ctx context.Context, cfg feedConfig, logger zerolog.Logger) error {
	dial, err := dialer(cfg)
	if err != nil {
		return err
	}

	var (
		conn     sender
		closeFn  func()
		failures int
		sent     int
	)
	defer func() {
		if closeFn != nil {
			closeFn()
		}
	}()
	drop := func() {
		if closeFn != nil {
			closeFn()
		}
		conn = nil
		closeFn = nil
		failures = 0
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if conn == nil {
			c, cl, err := dial()
			if err != nil {
				logger.Warn().Err(err).Str("addr", cfg.Address).Msg("gateway unreachable")
			} else {
				conn, closeFn = c, cl
				failures = 0
				logger.Info().Str("addr", cfg.Address).Bool("tls", cfg.UseTLS).Msg("gateway connected")
			}
		}
		if conn != nil {
			block := encodeSample(cfg.Layout, readingAt(time.Now()))
			if err := conn.WriteRegisters(uint16(cfg.WriteStart), block); err != nil {
				failures++
				logger.Warn().Err(err).Int("failures", failures).Msg("sample write failed")
				if failures >= maxWriteFailures {
					logger.Warn().Msg("write failure limit reached, reconnecting")
					drop()
				}
			} else {
				failures = 0
				sent++
				logger.Debug().Int("sent", sent).Int("registers", len(block)).Msg("sample written")
				if cfg.Count > 0 && sent >= cfg.Count {
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// dialer builds the connect function for the configured transport. The
// TLS configuration is validated once up front.
func dialer(cfg feedConfig) (func() (sender, func(), error), error) {
	client := modbus.ClientConfig{
		Address: cfg.Address,
		UnitID:  uint8(cfg.UnitID),
		Timeout: cfg.Timeout,
	}
	if !cfg.UseTLS {
		return func() (sender, func(), error) {
			c := modbus.NewClient(client)
			if err := c.Connect(); err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		}, nil
	}
	tlsCfg, err := modbus.ClientTLSConfig(cfg.CAFile, cfg.ServerName)
	if err != nil {
		return nil, err
	}
	return func() (sender, func(), error) {
		conn, err := modbus.DialTLS(client, tlsCfg)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { conn.Close() }, nil
	}, nil
}

func encodeSample(layout string, r telemetry.Reading) []uint16 {
	if layout == "reduced" {
		return telemetry.EncodeReduced(r)
	}
	return telemetry.EncodeFull(r)
}
