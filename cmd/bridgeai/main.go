package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abdul-AMA/bridgeai-backend/internal/config"
	"github.com/Abdul-AMA/bridgeai-backend/internal/crs"
	"github.com/Abdul-AMA/bridgeai-backend/internal/events"
	"github.com/Abdul-AMA/bridgeai-backend/internal/generator"
	"github.com/Abdul-AMA/bridgeai-backend/internal/httpapi"
	"github.com/Abdul-AMA/bridgeai-backend/internal/observability"
	"github.com/Abdul-AMA/bridgeai-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	fillers, err := crs.NewFactory(crs.Config{
		Mode:    cfg.FillerMode,
		HTTPURL: cfg.FillerHTTPURL,
	})
	if err != nil {
		log.Fatalf("filler init failed: %v", err)
	}
	if cfg.FillerMode == "auto" && cfg.FillerHTTPURL == "" {
		log.Printf("filler: mock (no CRS_FILLER_HTTP_URL configured)")
	} else {
		log.Printf("filler: %s", cfg.FillerMode)
	}

	bus := events.NewBus()
	pipeline := generator.NewPipeline(st, fillers, bus, metrics, cfg.PartialInterval)
	scheduler := generator.NewScheduler(pipeline, bus, metrics, generator.Config{
		MaxRetries:    cfg.MaxRetries,
		BackoffBase:   cfg.BackoffBase,
		QueueCapacity: cfg.QueueCapacity,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go scheduler.Run(runCtx)

	api := httpapi.New(cfg, st, scheduler, bus, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Stop the worker loop, then let in-flight generations unwind.
	runCancel()
	scheduler.Wait()

	log.Printf("shutdown complete")
}
