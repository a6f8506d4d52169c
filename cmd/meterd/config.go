package main

import (
	"github.com/fieldbus/pvgate/internal/config"
	"github.com/fieldbus/pvgate/internal/gateway"
	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/store"
)

// buildGatewayConfig maps the file schema onto the runtime wiring. A
// blank TLS listen address leaves the secure listener out entirely.
func buildGatewayConfig(fc config.MeterConfig) gateway.MeterConfig {
	return gateway.MeterConfig{
		PlainListen: modbus.ServerConfig{ListenAddr: fc.ListenAddr},
		SecureListen: modbus.ServerConfig{
			ListenAddr: fc.TLSListenAddr,
			TLS: modbus.ServerTLS{
				Enabled:  fc.TLSListenAddr != "",
				CertFile: fc.TLSCertFile,
				KeyFile:  fc.TLSKeyFile,
			},
		},
		Store: store.RegistersConfig{
			Size:         fc.BlockSize,
			WatchedStart: fc.WatchedStart,
			WatchedCount: fc.WatchedCount,
		},
		StatsInterval: fc.StatsInterval,
		MetricsAddr:   fc.MetricsAddr,
	}
}

func loadServiceConfig(path string) (gateway.MeterConfig, error) {
	fc, err := config.LoadMeterConfig(path)
	if err != nil {
		return gateway.MeterConfig{}, err
	}
	return buildGatewayConfig(fc), nil
}
