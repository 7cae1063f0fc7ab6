// --- File: cmd/relayservice/runrelayservice.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-pushrelay-service/internal/background"
	"github.com/tinywideclouds/go-pushrelay-service/internal/credential"
	"github.com/tinywideclouds/go-pushrelay-service/internal/fanout"
	"github.com/tinywideclouds/go-pushrelay-service/internal/notify"
	"github.com/tinywideclouds/go-pushrelay-service/internal/platform/apns"
	"github.com/tinywideclouds/go-pushrelay-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-pushrelay-service/internal/platform/web"
	"github.com/tinywideclouds/go-pushrelay-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-pushrelay-service/internal/storage/firestore"
	sqlstore "github.com/tinywideclouds/go-pushrelay-service/internal/storage/sql"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
	"github.com/tinywideclouds/go-pushrelay-service/relayservice"
	"github.com/tinywideclouds/go-pushrelay-service/relayservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-pushrelay-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Invalid embedded config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Redis (optional) ---
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// --- Store ---
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Store initialization failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	var registrations relay.RegistrationStore = store
	if redisClient != nil {
		registrations = cache.NewCachedRegistrationStore(store, redisClient, cfg.Redis.CacheTTL)
		logger.Info("RegistrationStore upgraded", "type", "redis_cached")
	}

	// --- Dispatchers ---
	dispatchers, err := newDispatchers(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("Dispatcher initialization failed", "err", err)
		os.Exit(1)
	}

	// --- Relay Core ---
	tasks := background.NewGroup(logger)
	coordinator := fanout.NewCoordinator(dispatchers, registrations, tasks, cfg.MaxParallel, logger)
	relaySvc := notify.NewService(store, registrations, coordinator, notify.Options{
		DefaultImage:    cfg.DefaultImage,
		AttachData:      cfg.FCM.AttachData,
		DefaultQuantity: cfg.DefaultQuantity,
		MaxQuantity:     cfg.MaxQuantity,
	}, logger)

	// --- Queue Ingestion (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.Ingestion.Enabled {
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

	service, err := relayservice.New(cfg, relaySvc, tasks, consumer, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "platforms", len(dispatchers))
		errChan <- service.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown incomplete", "err", err)
	}
	logger.Info("Service stopped")
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("Store initialized", "type", "firestore")
		return fsStore.NewFirestoreStore(fsClient), func() { _ = fsClient.Close() }, nil
	default:
		db, err := sqlstore.Open(cfg.Storage.SQLDriver, cfg.Storage.SQLDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Store initialized", "type", "sql", "driver", cfg.Storage.SQLDriver)
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return sqlstore.NewSQLStore(db), closeFn, nil
	}
}

func newDispatchers(ctx context.Context, cfg *config.Config, redisClient *cache.RedisClient, logger *slog.Logger) (map[string]relay.Dispatcher, error) {
	dispatchers := make(map[string]relay.Dispatcher)

	// A. Mobile (FCM)
	opts := credential.LoadOptions{
		JSON:  cfg.Credential.JSON,
		File:  cfg.Credential.File,
		KVKey: cfg.Credential.KVKey,
	}
	if redisClient != nil {
		opts.KV = redisClient
	}
	account, err := credential.Load(ctx, opts)
	switch {
	case errors.Is(err, credential.ErrNoCredential):
		logger.Warn("No service account configured. FCM delivery is disabled.")
	case err != nil:
		return nil, err
	default:
		var signerOpts []credential.Option
		if cfg.FCM.TokenURL != "" {
			signerOpts = append(signerOpts, credential.WithTokenURL(cfg.FCM.TokenURL))
		}
		signer, err := credential.NewSigner(account, signerOpts...)
		if err != nil {
			return nil, err
		}
		var shared credential.TokenCache
		if redisClient != nil {
			shared = cache.NewTokenCache(redisClient)
		}
		provider := credential.NewProvider(signer, signer.Fingerprint(), shared, logger)

		switch cfg.FCM.Transport {
		case config.TransportSDK:
			fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: signer.ProjectID()}, option.WithTokenSource(provider.TokenSource(context.Background())))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
			}
			fcmMessaging, err := fbApp.Messaging(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
			}
			dispatchers[relay.PlatformFCM] = fcm.NewSDKDispatcher(fcmMessaging, logger)
		default:
			dispatchers[relay.PlatformFCM] = fcm.NewHTTPDispatcher(provider, fcm.HTTPConfig{
				ProjectID: signer.ProjectID(),
				Endpoint:  cfg.FCM.Endpoint,
			}, logger)
		}
		logger.Info("FCM Dispatcher enabled", "transport", cfg.FCM.Transport, "project", signer.ProjectID())
	}

	// B. Apple (APNs)
	if cfg.APNS.Enabled {
		keyContent := cfg.APNS.P8KeyContent
		if keyContent == "" && cfg.APNS.P8KeyFile != "" {
			raw, err := os.ReadFile(cfg.APNS.P8KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read APNs key file: %w", err)
			}
			keyContent = string(raw)
		}
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: keyContent,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return nil, err
		}
		dispatchers[relay.PlatformAPNS] = apnsDispatcher
		logger.Info("APNs Dispatcher enabled", "bundle", cfg.APNS.BundleID, "sandbox", cfg.APNS.Sandbox)
	}

	// C. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push is disabled.")
	} else {
		dispatchers[relay.PlatformWeb] = web.NewDispatcher(cfg.Vapid, logger)
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	}

	return dispatchers, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.Ingestion.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.Ingestion.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.Ingestion.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Ingestion.SubscriptionDLQTopicID, "topics"),
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
