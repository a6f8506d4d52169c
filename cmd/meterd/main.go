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
	configPath := flag.String("config", "", "meter config file (defaults apply when empty)")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.New("meterd")

	cfg := buildGatewayConfig(config.DefaultMeterConfig())
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("config load failed")
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.NewMeterGateway(cfg, logger).Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("gateway failed")
	}
}
