// Package notificationadmin assembles the HTTP surface and the optional
// Pub/Sub ingestion pipeline into one runnable service.
package notificationadmin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-admin/internal/api"
	"github.com/tinywideclouds/go-notification-admin/internal/pipeline"
	"github.com/tinywideclouds/go-notification-admin/notificationadmin/config"
	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// Dependencies are the collaborators the service routes requests to.
type Dependencies struct {
	// Sender handles both API sends and pipeline sends.
	Sender   api.Sender
	Records  api.Records
	Registry dispatch.Registry
	// Gatherer backs GET /metrics/dispatch. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notification.PushMessage]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case only the
// HTTP API runs.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	deps Dependencies,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[notification.PushMessage]
	if consumer != nil {
		processor := pipeline.NewProcessor(deps.Sender, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.PushRequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. APIs
	pushAPI := api.NewPushAPI(deps.Sender, logger)
	recordAPI := api.NewRecordAPI(deps.Records, logger)
	deviceAPI := api.NewDeviceAPI(deps.Registry, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Push sends and their audits
	handle("POST /api/v1/notifications/push", pushAPI.SendPush)
	handle("GET /api/v1/deliveries", pushAPI.ListDeliveries)
	handle("GET /api/v1/deliveries/{id}", pushAPI.GetDelivery)
	handle("POST /api/v1/deliveries/{id}/retry", pushAPI.RetryDelivery)

	// In-app records
	handle("POST /api/v1/notifications", recordAPI.Create)
	handle("GET /api/v1/notifications", recordAPI.List)
	handle("GET /api/v1/notifications/unread-count", recordAPI.UnreadCount)
	handle("POST /api/v1/notifications/read-all", recordAPI.MarkAllRead)
	handle("GET /api/v1/notifications/{id}", recordAPI.Get)
	handle("PATCH /api/v1/notifications/{id}", recordAPI.Update)
	handle("DELETE /api/v1/notifications/{id}", recordAPI.Delete)
	handle("POST /api/v1/notifications/{id}/read", recordAPI.MarkRead)
	handle("POST /api/v1/notifications/{id}/unread", recordAPI.MarkUnread)
	handle("POST /api/v1/notifications/{id}/publish", recordAPI.Publish)
	handle("POST /api/v1/notifications/{id}/archive", recordAPI.Archive)
	handle("POST /api/v1/notifications/{id}/restore", recordAPI.Restore)

	// Device registration
	handle("PUT /api/v1/devices/web", deviceAPI.RegisterWeb)
	handle("DELETE /api/v1/devices/web", deviceAPI.UnregisterWeb)
	handle("PUT /api/v1/devices/{platform}", deviceAPI.RegisterToken)
	handle("DELETE /api/v1/devices/{platform}", deviceAPI.UnregisterToken)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics/dispatch", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("Ingestion disabled, serving the HTTP API only.")
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
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
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
