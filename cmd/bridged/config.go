package main

import (
	"github.com/fieldbus/pvgate/internal/config"
	"github.com/fieldbus/pvgate/internal/gateway"
	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/store"
)

// buildGatewayConfig maps the file schema onto the runtime wiring. The
// forwarder writes downstream at the same offset the local watched
// range occupies, so both tiers agree on the block layout.
func buildGatewayConfig(fc config.BridgeConfig) gateway.BridgeConfig {
	return gateway.BridgeConfig{
		SecureListen: modbus.ServerConfig{
			ListenAddr: fc.TLSListenAddr,
			TLS: modbus.ServerTLS{
				Enabled:  true,
				CertFile: fc.TLSCertFile,
				KeyFile:  fc.TLSKeyFile,
			},
		},
		Store: store.RegistersConfig{
			Size:         fc.BlockSize,
			WatchedStart: fc.WatchedStart,
			WatchedCount: fc.WatchedCount,
		},
		BufferCapacity: fc.BufferCapacity,
		Forward: modbus.ClientConfig{
			Address: fc.ForwardAddr,
			UnitID:  uint8(fc.UnitID),
			Timeout: fc.ConnectTimeout,
		},
		Forwarder: gateway.ForwarderConfig{
			Interval:         fc.ForwardInterval,
			WriteStart:       fc.WatchedStart,
			FailureThreshold: fc.FailureThreshold,
		},
		StatsInterval: fc.StatsInterval,
		MetricsAddr:   fc.MetricsAddr,
	}
}

func loadServiceConfig(path string) (gateway.BridgeConfig, error) {
	fc, err := config.LoadBridgeConfig(path)
	if err != nil {
		return gateway.BridgeConfig{}, err
	}
	return buildGatewayConfig(fc), nil
}
