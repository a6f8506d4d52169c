package main

import (
	"github.com/fieldbus/pvgate/internal/config"
	"github.com/fieldbus/pvgate/internal/gateway"
	"github.com/fieldbus/pvgate/internal/iec61850"
	"github.com/fieldbus/pvgate/internal/modbus"
	"github.com/fieldbus/pvgate/internal/store"
)

// buildGatewayConfig maps the file schema onto the runtime wiring.
func buildGatewayConfig(fc config.SubstationConfig, mapping config.Mapping) gateway.SubstationConfig {
	return gateway.SubstationConfig{
		PlainListen: modbus.ServerConfig{ListenAddr: fc.ListenAddr},
		Store: store.RegistersConfig{
			Size:         fc.BlockSize,
			WatchedStart: fc.WatchedStart,
			WatchedCount: fc.WatchedCount,
		},
		Relay: iec61850.Config{
			Binding:        fc.RelayBinding,
			Address:        fc.RelayAddr,
			LogicalDevice:  fc.LogicalDevice,
			ConnectTimeout: fc.ConnectTimeout,
			RequestTimeout: fc.RequestTimeout,
			HealthObject:   fc.HealthObject,
		},
		Translator: gateway.TranslatorConfig{
			Interval: fc.TranslateInterval,
			Mapping:  mapping,
		},
		Backoff:       gateway.DefaultBackoffConfig(),
		StatsInterval: fc.StatsInterval,
		MetricsAddr:   fc.MetricsAddr,
	}
}

// loadServiceConfig reads the tier file, then the mapping file it
// names. A blank mapping_file keeps the built-in mapping.
func loadServiceConfig(path string) (gateway.SubstationConfig, error) {
	fc, err := config.LoadSubstationConfig(path)
	if err != nil {
		return gateway.SubstationConfig{}, err
	}
	mapping := config.DefaultMapping()
	if fc.MappingFile != "" {
		mapping, err = config.LoadMapping(fc.MappingFile)
		if err != nil {
			return gateway.SubstationConfig{}, err
		}
	}
	return buildGatewayConfig(fc, mapping), nil
}
