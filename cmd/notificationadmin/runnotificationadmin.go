package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-admin/internal/fanout"
	"github.com/tinywideclouds/go-notification-admin/internal/lifecycle"
	"github.com/tinywideclouds/go-notification-admin/internal/notifier"
	"github.com/tinywideclouds/go-notification-admin/internal/platform"
	"github.com/tinywideclouds/go-notification-admin/internal/platform/apns"
	"github.com/tinywideclouds/go-notification-admin/internal/platform/fcm"
	"github.com/tinywideclouds/go-notification-admin/internal/platform/web"
	"github.com/tinywideclouds/go-notification-admin/internal/resolver"

	"github.com/tinywideclouds/go-notification-admin/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notification-admin/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-admin/internal/storage/memory"
	mongoStore "github.com/tinywideclouds/go-notification-admin/internal/storage/mongo"
	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"

	"github.com/tinywideclouds/go-notification-admin/notificationadmin"
	"github.com/tinywideclouds/go-notification-admin/notificationadmin/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

// registryStore is what the directory backend must provide.
type registryStore interface {
	dispatch.Registry
	dispatch.RecipientPruner
	dispatch.SubscriptionSource
}

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-admin")
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded, using process environment", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Recipient Directory (Decorated) ---
	var store registryStore = fsStore.NewRegistry(fsClient)
	logger.Info("Registry initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedDirectory(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("Registry upgraded", "type", "redis_cached_firestore")
	}

	// --- Records & Audits ---
	records, audits, err := newRecordStores(ctx, cfg, fsClient, logger)
	if err != nil {
		logger.Error("Record store failed", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}

	// --- Gateways ---
	gateways := make(map[notification.Platform]dispatch.Gateway)

	// A. Mobile (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	gateways[notification.PlatformFCM] = fcm.NewGateway(fcmMessaging, os.Getenv("FCM_DEFAULT_ICON"), logger)

	// B. Mobile (APNs)
	if cfg.APNs.Enabled() {
		apnsGateway, err := apns.NewGateway(apns.Config{
			KeyID:        cfg.APNs.KeyID,
			TeamID:       cfg.APNs.TeamID,
			BundleID:     cfg.APNs.BundleID,
			P8KeyContent: cfg.APNs.P8KeyContent,
			Development:  cfg.APNs.Development,
		}, logger)
		if err != nil {
			logger.Error("Failed to create APNs gateway", "err", err)
			os.Exit(1)
		}
		gateways[notification.PlatformAPNS] = apnsGateway
	} else {
		logger.Warn("APNs credentials missing. apns recipients will fail as misconfigured.")
	}

	// C. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
	} else {
		logger.Info("Web gateway enabled", "public_key", cfg.Vapid.PublicKey)
	}
	gateways[notification.PlatformWeb] = web.NewGateway(cfg.Vapid, store, logger)

	// --- Dispatch ---
	metricsRegistry := prometheus.NewRegistry()
	dispatcher := fanout.New(
		resolver.New(store, logger),
		platform.NewRouter(gateways, logger),
		fanout.Config{
			MaxInFlight:     cfg.Dispatch.MaxInFlight,
			RatePerSecond:   cfg.Dispatch.RatePerSecond,
			Burst:           cfg.Dispatch.Burst,
			DeliveryTimeout: cfg.Dispatch.DeliveryTimeout,
		},
		logger,
		fanout.WithMetrics(fanout.NewMetrics(metricsRegistry)),
	)
	sender := notifier.New(dispatcher, audits, logger, notifier.WithPruner(store))

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	var consumer messagepipeline.MessageConsumer
	if cfg.IngestionEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notificationadmin.New(
		cfg,
		consumer,
		notificationadmin.Dependencies{
			Sender:   sender,
			Records:  lifecycle.New(records, logger),
			Registry: store,
			Gatherer: metricsRegistry,
		},
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "listen_addr", cfg.ListenAddr, "record_backend", cfg.Backend)
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newRecordStores(ctx context.Context, cfg *config.Config, fsClient *firestore.Client, logger *slog.Logger) (dispatch.RecordStore, dispatch.AuditStore, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		db, err := mongoStore.Connect(ctx, mongoStore.Config{
			ConnectionURL:  cfg.Mongo.URL,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
			RetryAttempts:  cfg.Mongo.RetryAttempts,
			RetryInterval:  cfg.Mongo.RetryInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := mongoStore.Healthcheck(db)(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("Record store initialized", "type", "mongo", "database", cfg.Mongo.Database)
		return mongoStore.NewRecordStore(db), mongoStore.NewAuditStore(db), nil
	case config.BackendMemory:
		logger.Warn("Record store is in-memory; records and audits are lost on restart")
		return memory.NewRecordStore(), memory.NewAuditStore(), nil
	default:
		logger.Info("Record store initialized", "type", "firestore")
		return fsStore.NewRecordStore(fsClient), fsStore.NewAuditStore(fsClient), nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    30,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
