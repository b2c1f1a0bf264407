package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratefeed/internal/config"
	"ratefeed/internal/logging"
	"ratefeed/internal/poller"
	"ratefeed/internal/rateservice"
	"ratefeed/internal/repository"
	"ratefeed/internal/repository/mongorepo"
	"ratefeed/internal/repository/redisrepo"
	"ratefeed/internal/symbols"
	"ratefeed/internal/workerpool"
	"ratefeed/internal/wsserver"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Init(logging.Options{
		Level:   settings.LogLevel,
		Format:  settings.LogFormat,
		Service: "ratefeed",
	})
	log.Info().Str("db", settings.DB).Str("upstream", settings.UpstreamURL).Msg("starting ratefeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := buildRepository(ctx, settings)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build repository")
	}
	if err := repo.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init repository")
	}

	symTable := symbols.New(settings.Symbols)

	// Timeouts mirror the original AsyncWorkerPool usage: the notifier pool
	// keeps the library's 500ms default since a stuck subscriber callback
	// should be cut off quickly, while the DB pool is built with
	// timeout=None (no per-task deadline) since a slow insert should finish
	// rather than be cancelled mid-flight.
	notifierPool := workerpool.New(workerpool.Config{
		Name:        "notifier",
		Concurrency: settings.NotifierWorkerConcurrency,
		MaxSize:     settings.PoolQueueDepth,
		Timeout:     500 * time.Millisecond,
	})
	dbPool := workerpool.New(workerpool.Config{
		Name:        "db",
		Concurrency: settings.DBWorkerConcurrency,
		MaxSize:     settings.PoolQueueDepth,
		Timeout:     0,
	})
	notifierPool.Start()
	dbPool.Start()

	svc := rateservice.New(repo, symTable, notifierPool, dbPool, settings.HistoryPeriod)

	p := poller.New(settings.UpstreamURL, settings.PollInterval, settings.PollTimeout)
	go svc.Run(ctx, p.Stream(ctx))

	server := wsserver.NewServer(wsserver.Config{
		Port:        settings.Port,
		IPRateLimit: settings.WSRateLimitRPS,
		IPRateBurst: settings.WSRateLimitBurst,
	}, svc)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	bindFailed := false
	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("wsserver failed to start")
			bindFailed = true
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("wsserver shutdown error")
	}

	cancel()
	notifierPool.Stop()
	dbPool.Stop()

	if err := repo.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("repository close error")
	}

	if bindFailed {
		log.Error().Msg("ratefeed stopped after bind failure")
		os.Exit(1)
	}
	log.Info().Msg("ratefeed stopped")
}

func buildRepository(ctx context.Context, s *config.Settings) (repository.Repository, error) {
	switch s.DB {
	case "mongo":
		return mongorepo.New(ctx, s.MongoURI)
	case "redis":
		retentionCount := int64(s.HistoryPeriod / time.Second)
		if retentionCount <= 0 {
			retentionCount = 1800
		}
		addr := s.RedisHost + ":" + s.RedisPort
		return redisrepo.New(addr, retentionCount), nil
	default:
		return nil, fmt.Errorf("unknown DB driver %q (want mongo or redis)", s.DB)
	}
}
