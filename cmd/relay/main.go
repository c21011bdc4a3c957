package main

import (
	"context"

	"github.com/castmill/relay/pkg/config"
	"github.com/castmill/relay/pkg/logger"
	"github.com/castmill/relay/pkg/os"
	"github.com/castmill/relay/pkg/relay"
)

var Version = "?"

func main() {
	conf := config.NewRelayConfig("")
	conf.ParseFlags()

	log := logger.NewConsole(conf.Relay.Debug, "r", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() <= logger.DebugLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay init fail")
	}
	r.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := r.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
