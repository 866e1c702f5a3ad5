package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rmehta12/prepbattle/internal/battle/actions"
	"github.com/rmehta12/prepbattle/internal/battle/countdown"
	"github.com/rmehta12/prepbattle/internal/battle/events"
	"github.com/rmehta12/prepbattle/internal/battle/gateway"
	"github.com/rmehta12/prepbattle/internal/battle/lobby"
	"github.com/rmehta12/prepbattle/internal/battle/runner"
	"github.com/rmehta12/prepbattle/internal/dbconfig"
	"github.com/rmehta12/prepbattle/internal/roomstore"
	"github.com/rmehta12/prepbattle/internal/roomstore/memstore"
	"github.com/rmehta12/prepbattle/internal/roomstore/postgres"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	// Room store
	var store roomstore.Store
	switch cfg.Store.Driver {
	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		pool, listener, err := setupPostgres(ctx, dbCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up database")
		}
		defer pool.Close()
		go func() {
			if err := listener.Start(ctx); err != nil {
				log.Error().Err(err).Msg("change listener failed")
			}
		}()
		store = postgres.NewStore(pool, listener)
	case "memory":
		log.Warn().Msg("using in-memory store; data will not survive a restart")
		store = memstore.New(clock)
	default:
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("unknown store driver")
	}

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("nats_url", cfg.NATS.URL).
		Str("addr", cfg.HTTPAddr).
		Msg("starting battle coordination service")

	// Event bus: store changes -> relay -> JetStream -> gateway -> websockets
	pubCfg := events.DefaultPublisherConfig()
	pubCfg.URL = cfg.NATS.URL
	pubCfg.StreamName = cfg.NATS.Stream
	pubCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
	publisher, err := events.NewJetStreamPublisher(ctx, pubCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	relay := events.NewRelay(store, clock, publisher)
	go func() {
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event relay failed")
		}
	}()

	// Lobby scanner: keeps the listing fresh and initiates countdowns for
	// rooms that fill while nobody's room view is polling.
	scanner := lobby.New(store, clock, lobby.WithScanInterval(cfg.lobbyScanInterval()))
	go scanner.Run(ctx)

	// Coordination runner: one observer/coordinator pair per waiting room.
	if cfg.Runner.Enabled {
		run := runner.New(store, clock, countdown.Callbacks{
			OnBattleStarted: func(roomID uuid.UUID) {
				log.Info().Str("room_id", roomID.String()).Msg("battle started")
			},
			OnRoomClosed: func(roomID uuid.UUID) {
				log.Info().Str("room_id", roomID.String()).Msg("room closed")
			},
		}, runner.WithSweepInterval(cfg.runnerSweepInterval()))
		go run.Run(ctx)
	}

	// Gateway: JetStream consumer fanning out to websocket clients.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go cm.Start(ctx)

	consumerCfg := gateway.DefaultConsumerConfig()
	consumerCfg.URL = cfg.NATS.URL
	consumerCfg.StreamName = cfg.NATS.Stream
	consumerCfg.ConsumerName = cfg.NATS.Consumer
	consumerCfg.SubjectFilter = cfg.NATS.SubjectPrefix + ".>"
	consumer, err := gateway.NewEventConsumer(cm, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event consumer")
	}
	defer consumer.Stop()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	// HTTP server
	mux := http.NewServeMux()
	acts := actions.New(store, clock)
	gateway.NewHandler(store, acts, scanner, cm, clock).RegisterRoutes(mux)
	server := newHTTPServer(cfg.HTTPAddr, mux)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	time.Sleep(1 * time.Second)
	log.Info().Msg("battle coordination service shutdown complete")
}
