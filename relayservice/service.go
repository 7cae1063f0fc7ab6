// --- File: relayservice/service.go ---
package relayservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-pushrelay-service/internal/api"
	"github.com/tinywideclouds/go-pushrelay-service/internal/background"
	"github.com/tinywideclouds/go-pushrelay-service/internal/metrics"
	"github.com/tinywideclouds/go-pushrelay-service/internal/notify"
	"github.com/tinywideclouds/go-pushrelay-service/internal/pipeline"
	"github.com/tinywideclouds/go-pushrelay-service/relayservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.PublishRequest]
	tasks           *background.Group
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil when queue ingestion is disabled.
func New(
	cfg *config.Config,
	relaySvc *notify.Service,
	tasks *background.Group,
	consumer messagepipeline.MessageConsumer,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	metrics.Register()
	tasks.OnChange = func(pending int64) {
		metrics.BackgroundPending.Set(float64(pending))
	}

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.PublishRequest]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.Ingestion.NumPipelineWorkers},
			consumer,
			pipeline.MessageRequestTransformer,
			pipeline.NewProcessor(relaySvc, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	relayAPI := api.NewRelayAPI(relaySvc, cfg.FaviconURL, logger)
	keyAuth := api.NewKeyAuth(cfg.Auth.Keys, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// The relay answers on every path and dispatches by method, so it takes the
	// catch-all pattern and leaves the base server's own routes untouched.
	var root http.Handler = relayAPI.Handler(keyAuth.Middleware)
	root = metrics.Instrument("relay", root)
	mux.Handle("/", corsMiddleware(root))
	// The base server's own /metrics pattern has no method, so this one takes precedence.
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		tasks:           tasks,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then waits for in-flight fan-outs to finish.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.tasks.Drain(ctx); err != nil {
		w.logger.Error("Background tasks did not finish before shutdown deadline.", "err", err, "pending", w.tasks.Pending())
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
