package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cardworker "github.com/xf0e/open-card"
)

// This assumes that there is a rabbit mq running and an http daemon started
// with -dispatch amqp.

func init() {
	zerolog.TimeFieldFormat = time.StampMilli
	// Default level is info, unless debug flag is present
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	noOpFlagFuncWorker := cardworker.NoOpFlagFunctionWorker()
	workerConfig, err := cardworker.DefaultConfigFlagsWorkerOverride(noOpFlagFuncWorker)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CARD_WORKER").Msg("error getting arguments")
	}
	if workerConfig.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Debug().Interface("workerConfig", workerConfig).Msg("parameter list of workerConfig")

	pool := workerConfig.NewLocalWorkerPool()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

	// infinite loop, since sometimes worker <-> rabbitmq connection
	// gets broken.
	for {
		log.Info().Str("component", "CARD_WORKER").Msg("Creating new card worker")

		cardWorker, err := cardworker.NewCardRpcWorker(workerConfig.Rabbit, pool, pool.Size())
		if err != nil {
			log.Fatal().Err(err).Str("component", "CARD_WORKER").Msg("Could not create rpc worker")
		}

		if err := cardWorker.Run(); err != nil {
			log.Error().Err(err).Str("component", "CARD_WORKER").Msg("Error running worker, retrying")
			time.Sleep(5 * time.Second)
			continue
		}

		select {
		case sig := <-signals:
			log.Info().Str("component", "CARD_WORKER").Str("signal", sig.String()).
				Msg("Caught signal, finishing documents in flight")
			if err := cardWorker.Shutdown(); err != nil {
				log.Warn().Err(err).Str("component", "CARD_WORKER").Msg("worker shutdown")
			}
			if err := pool.Shutdown(); err != nil {
				log.Error().Err(err).Str("component", "CARD_WORKER").Msg("releasing engines failed")
			}
			return
		case err = <-cardWorker.Done:
			// this happens when connection is closed
			log.Error().Err(err).Str("component", "CARD_WORKER").Msg("card worker failed with error")
		}
	}
}
