package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"cc-classifier/internal/backend"
	"cc-classifier/internal/cfg"
	"cc-classifier/internal/classifier"
	"cc-classifier/internal/metrics"
	"cc-classifier/internal/server"
	"cc-classifier/internal/storage"
	"cc-classifier/internal/strategy"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	c.ConfigureLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	rt := classifier.NewRuntime(backend.New(&c), mw)
	if err := rt.Start(c.SearchPath); err != nil {
		log.Fatal().Err(err).Str("backend", c.Backend).Msg("classifier backend failed to start")
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			log.Error().Err(err).Msg("classifier backend stop failed")
		}
	}()

	reg := classifier.NewRegistry(rt, c.Models, mw)
	disp := classifier.NewDispatcher(reg, mw)

	if c.TrainOnStart {
		trainAll(&c, reg, store)
	}

	var wg sync.WaitGroup
	startMetricsServer(ctx, &wg, c, cancel)
	startAPIServer(ctx, &wg, c, cancel, reg, disp, store, mw)

	waitForShutdown(ctx, cancel, &wg)
}

// initializeStorage opens the catalog if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// trainAll trains every configured model. A failure leaves that key
// untrained; predictions for it report model_not_trained.
func trainAll(c *cfg.Settings, reg *classifier.Registry, store *storage.Store) {
	var recorder server.TrainingRecorder
	if store != nil {
		recorder = store
	}

	trained := 0
	for _, key := range c.Keys() {
		spec, err := c.TrainingSpec(key)
		if err != nil {
			log.Warn().Err(err).Str("model", key.String()).Msg("skipping model")
			continue
		}
		if _, err := server.Train(reg, recorder, key, spec); err != nil {
			log.Error().Err(err).Str("model", key.String()).Strs("files", spec.Files).Msg("training failed")
			continue
		}
		trained++
	}
	log.Info().Int("trained", trained).Int("configured", len(c.Keys())).Msg("startup training finished")
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, cancel context.CancelFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serve(ctx, wg, "metrics server", srv.ListenAndServe, srv.Shutdown, cancel)
}

// startAPIServer serves the decision API
func startAPIServer(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, cancel context.CancelFunc,
	reg *classifier.Registry, disp *classifier.Dispatcher, store *storage.Store, mw *metrics.MetricsWrapper,
) {
	var st server.Store
	if store != nil {
		st = store
	}
	api := server.New(reg, disp, &c, st, mw, c.APIPort)
	api.ConfigureCoordinator(coordinatorConfig(c))
	serve(ctx, wg, "decision API", api.Start, api.Shutdown, cancel)
}

func coordinatorConfig(c cfg.Settings) server.CoordinatorConfig {
	cc := server.DefaultCoordinatorConfig()
	if c.StrategyMode == cfg.ModeSplit {
		cc.Mode = strategy.ModeSplit
	}
	cc.Span = c.WindowSpan
	cc.Reports = c.WindowReports
	cc.Head = c.IndexHead
	return cc
}

// serve runs listen until ctx is done; a listen failure cancels ctx so the
// whole process shuts down.
func serve(ctx context.Context, wg *sync.WaitGroup, name string, listen func() error,
	shutdown func(context.Context) error, cancel context.CancelFunc,
) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg(name + " failed")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown " + name)
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all servers stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
