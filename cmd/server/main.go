package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/jnovack/flag"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/PipeOpsHQ/pipehook/internal/config"
	"github.com/PipeOpsHQ/pipehook/internal/events"
	"github.com/PipeOpsHQ/pipehook/internal/handler"
	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/logging"
	"github.com/PipeOpsHQ/pipehook/internal/store"
	"github.com/PipeOpsHQ/pipehook/internal/webhook"
)

func main() {
	// .env first so flags can still read what it sets.
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}

	cfg := config.Default()

	// Flags (jnovack/flag); each one also reads its upper-cased env var.
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Base URL used in generated endpoint URLs (default: derived from the request)")
	flag.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "History store: memory|sqlite")
	flag.StringVar(&cfg.DatabasePath, "database-path", cfg.DatabasePath, "SQLite database file (store=sqlite)")
	flag.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "Endpoint lifetime")
	flag.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "Captured requests kept per endpoint")
	flag.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "How often expired endpoints are swept")
	flag.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Live viewer keepalive interval (at most 30s)")
	flag.IntVar(&cfg.SubscriberQueue, "subscriber-queue", cfg.SubscriberQueue, "Events buffered per viewer before it is dropped")
	flag.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Largest accepted capture body")
	flag.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "Mirror lifecycle events to this NATS server")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for in-flight requests on shutdown")
	flag.Parse()

	logging.Setup(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = p
		log.Info().Str("url", cfg.NATSURL).Msg("mirroring events to NATS")
	}
	defer publisher.Close()

	h := hub.New(
		hub.WithHeartbeat(cfg.Heartbeat),
		hub.WithBufferSize(cfg.SubscriberQueue),
	)
	svc := webhook.NewService(st, h, webhook.WithPublisher(publisher))
	svc.StartReaper(cfg.ReapInterval)

	hnd := handler.NewHandler(svc,
		handler.WithPublicURL(cfg.PublicBase()),
		handler.WithMaxBodyBytes(cfg.MaxBodyBytes),
		handler.WithHeartbeat(cfg.Heartbeat),
		handler.WithStoreDriver(cfg.StoreDriver),
		handler.WithVarz(cfg),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           hnd.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.StoreDriver).
			Dur("ttl", cfg.TTL).
			Int("capacity", cfg.Capacity).
			Msg("starting pipehook server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		// Viewers get a gone event first; their streams would otherwise hold
		// Shutdown open until the timeout.
		svc.Stop()
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.Config) (store.Store, error) {
	opts := []store.Option{
		store.WithTTL(cfg.TTL),
		store.WithCapacity(cfg.Capacity),
	}
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		log.Info().Str("path", cfg.DatabasePath).Msg("using sqlite store")
		return store.NewSQLiteStore(cfg.DatabasePath, opts...)
	default:
		return store.NewMemoryStore(opts...), nil
	}
}
