// Package pushgateway assembles the gateway service: the HTTP surface the
// device bridge reports to, and the pipeline that fans notifications back
// out to registered devices.
package pushgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-bridge/internal/api"
	"github.com/tinywideclouds/go-push-bridge/internal/events"
	"github.com/tinywideclouds/go-push-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
	"github.com/tinywideclouds/go-push-bridge/pushgateway/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.Request]
	logger          *slog.Logger
}

// New assembles the service around its collaborators. Token platforms are
// supplied as a registry keyed by push.Platform* so a deployment can run
// APNs-only, FCM-only, or both.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatchers map[string]dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	store dispatch.DeviceStore,
	publisher events.Publisher,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	processor := pipeline.NewProcessor(dispatchers, webDispatcher, store, logger)

	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.PushRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	deviceAPI := api.NewDeviceAPI(store, publisher, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Device registration, one door per platform.
	handle("POST /api/v1/devices/apns", deviceAPI.RegisterAPNS)
	handle("POST /api/v1/devices/apns/unregister", deviceAPI.UnregisterAPNS)
	handle("POST /api/v1/devices/fcm", deviceAPI.RegisterFCM)
	handle("POST /api/v1/devices/fcm/unregister", deviceAPI.UnregisterFCM)
	handle("POST /api/v1/devices/web", deviceAPI.RegisterWeb)
	handle("POST /api/v1/devices/web/unregister", deviceAPI.UnregisterWeb)

	// Lifecycle events forwarded by the bridge.
	handle("POST /api/v1/events/registration-failure", deviceAPI.ReportRegistrationFailure)
	handle("POST /api/v1/events/response", deviceAPI.RecordNotificationResponse)

	// Global OPTIONS for the API namespace (CORS preflight).
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
