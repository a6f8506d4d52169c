package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/fieldbus/pvgate/internal/gateway"
	"github.com/fieldbus/pvgate/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "bridge config file")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.New("bridged")

	if *configPath == "" {
		logger.Fatal().Msg("config file required, forward_addr has no default")
	}
	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.NewBridgeGateway(cfg, logger).Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("gateway failed")
	}
}
