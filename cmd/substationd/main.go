package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/fieldbus/pvgate/internal/config"
	"github.com/fieldbus/pvgate/internal/gateway"
	"github.com/fieldbus/pvgate/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "substation config file (defaults apply when empty)")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.New("substationd")

	cfg := buildGatewayConfig(config.DefaultSubstationConfig(), config.DefaultMapping())
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("config load failed")
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := gateway.NewSubstationGateway(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway construction failed")
	}
	if err := g.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("gateway failed")
	}
}
