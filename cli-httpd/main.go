package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	cardworker "github.com/xf0e/open-card"
)

// To test it:
// curl -F "file=@card.jpg" http://localhost:8080/process

const (
	dispatchLocal = "local"
	dispatchAmqp  = "amqp"
)

func init() {
	zerolog.TimeFieldFormat = time.StampMilli
	// Default level is info, unless debug flag is present
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// closer is what main needs from a dispatcher on the way out.
type closer interface {
	cardworker.Dispatcher
	close() error
}

type poolCloser struct{ *cardworker.WorkerPool }

func (p poolCloser) close() error { return p.Shutdown() }

type amqpCloser struct{ *cardworker.AmqpDispatcher }

func (a amqpCloser) close() error { return a.Close() }

func main() {
	var (
		httpPort       uint
		maxUploadMB    int64
		maxConnections int
		dispatchMode   string
	)
	flagFunc := func() {
		flag.UintVar(
			&httpPort,
			"http_port",
			8080,
			"The http port to listen on, eg, 8081",
		)
		flag.Int64Var(
			&maxUploadMB,
			"max_upload_mb",
			20,
			"largest accepted upload in megabytes",
		)
		flag.IntVar(
			&maxConnections,
			"max_connections",
			256,
			"maximum number of simultaneous http connections",
		)
		flag.StringVar(
			&dispatchMode,
			"dispatch",
			dispatchLocal,
			"where documents are processed, eg: -dispatch {local,amqp}. local runs the engines "+
				"inside this process, so a native engine fault stops the http front too; "+
				"amqp runs them in separate cli-worker processes",
		)
	}

	workerConfig, err := cardworker.DefaultConfigFlagsWorkerOverride(flagFunc)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CARD_HTTP").Msg("error getting arguments")
	}
	if workerConfig.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var dispatcher closer
	var state *cardworker.ServiceState
	var resManager *cardworker.ResourceManager
	switch dispatchMode {
	case dispatchLocal:
		dispatcher = poolCloser{workerConfig.NewLocalWorkerPool()}
		state = cardworker.NewServiceState(true)
	case dispatchAmqp:
		amqpDispatcher, err := cardworker.NewAmqpDispatcher(workerConfig.Rabbit)
		if err != nil {
			log.Fatal().Err(err).Str("component", "CARD_HTTP").Msg("could not connect to rabbitMq")
		}
		dispatcher = amqpCloser{amqpDispatcher}
		state = cardworker.NewServiceState(false)
		resManager = cardworker.NewResourceManager(workerConfig.Rabbit, state)
	default:
		log.Fatal().Str("component", "CARD_HTTP").Str("dispatch", dispatchMode).Msg("unknown dispatch mode")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, cardworker.GenerateLandingPage(dispatchMode, state))
	})
	mux.Handle("/process", cardworker.InstrumentHttpHandler(
		cardworker.NewCardHttpHandler(dispatcher, state, maxUploadMB<<20)))
	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cardworker.OpenAPIDocument())
	})
	// expose metrics for prometheus
	mux.Handle("/metrics", promhttp.Handler())

	listenAddr := fmt.Sprintf(":%d", httpPort)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("component", "CARD_HTTP").Msg("cli_http has failed to start")
	}
	listener = netutil.LimitListener(listener, maxConnections)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	log.Info().Str("component", "CARD_HTTP").Str("listenAddr", listenAddr).
		Str("dispatch", dispatchMode).Msg("Starting listener...")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if resManager != nil {
		group.Go(func() error {
			return resManager.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Str("component", "CARD_HTTP").
			Msg("will not serve any further requests, waiting for the documents in flight")
		state.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), workerConfig.Rabbit.ResponseTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("component", "CARD_HTTP").Msg("http server did not shut down cleanly")
		}
		return dispatcher.close()
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Str("component", "CARD_HTTP").Msg("open-card http daemon stopped with error")
		os.Exit(1)
	}
	log.Info().Str("component", "CARD_HTTP").Msg("open-card http daemon stopped")
}
