package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	atonservice "atonsvc/internal/aton/service"
	atonstore "atonsvc/internal/aton/store"
	datasetservice "atonsvc/internal/dataset/service"
	datasetstore "atonsvc/internal/dataset/store"
	"atonsvc/internal/delivery"
	"atonsvc/internal/geo"
	"atonsvc/internal/listener"
	"atonsvc/internal/pipeline"
	"atonsvc/internal/platform/config"
	"atonsvc/internal/platform/httpserver"
	"atonsvc/internal/platform/logger"
	"atonsvc/internal/platform/metrics"
	platformredis "atonsvc/internal/platform/redis"
	"atonsvc/internal/secom"
	subservice "atonsvc/internal/subscription/service"
	substore "atonsvc/internal/subscription/store"
	httptransport "atonsvc/internal/transport/http"
	"atonsvc/internal/unlocode"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when configured, in-memory otherwise.
	var (
		recordStore       atonstore.Store
		datasetStore      datasetstore.Store
		subscriptionStore substore.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		recordStore = atonstore.NewPostgresStore(db)
		datasetStore = datasetstore.NewPostgresStore(db)
		subscriptionStore = substore.NewPostgresStore(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		recordStore = atonstore.NewMemoryStore()
		datasetStore = datasetstore.NewMemoryStore()
		subscriptionStore = substore.NewMemoryStore()
	}

	// Subscriber endpoint directory, optionally cached through Redis.
	var directory subservice.Directory = delivery.StaticDirectory(cfg.EndpointDirectory)
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		directory = delivery.NewCachedDirectory(directory, redisClient.Client, cfg.EndpointCacheTTL)
	}

	serializer := secom.NewSerializer()
	signer := secom.NewHMACSigner(cfg.SigningKey)
	pushClient := delivery.NewHTTPClient(cfg.DeliveryTimeout)

	engine := datasetservice.New(datasetStore, recordStore, serializer,
		datasetservice.WithLogger(log), datasetservice.WithMetrics(m))

	notifier := subservice.NewNotifier(directory, pushClient, signer,
		cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.DeliveryTimeout)
	subscriptions := subservice.New(subscriptionStore, engine, unlocode.NewTable(),
		serializer, notifier,
		subservice.WithLogger(log), subservice.WithMetrics(m))

	dispatcher := pipeline.New(engine, subscriptions, cfg.NotifyQueueSize,
		pipeline.WithLogger(log))
	reconciler := atonservice.New(recordStore, engine, dispatcher,
		atonservice.WithLogger(log), atonservice.WithMetrics(m))

	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error {
		notifier.Run(workerCtx)
		return nil
	})
	workers.Go(func() error {
		dispatcher.Run(workerCtx)
		return nil
	})

	// Change event listener, scoped to the configured area of interest.
	eventListener := listener.New(reconciler,
		listener.WithLogger(log), listener.WithMetrics(m))
	if len(cfg.KafkaBrokers) > 0 {
		var aoi orb.Geometry
		if cfg.AreaOfInterestWKT != "" {
			if aoi, err = geo.ParseWKT(cfg.AreaOfInterestWKT); err != nil {
				log.Error("parse area of interest", "error", err)
				os.Exit(1)
			}
		}
		source := listener.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, log)
		if err := eventListener.Init(ctx, aoi, source); err != nil {
			log.Error("register event listener", "error", err)
			os.Exit(1)
		}
		defer eventListener.Destroy()
	} else {
		log.Warn("no kafka brokers configured, change event listener disabled")
	}

	handler := httptransport.NewHandler(engine, subscriptions, recordStore, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	go func() {
		log.Info("starting aton service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	_ = workers.Wait()
}
