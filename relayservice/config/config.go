// --- File: relayservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	StorageSQL       = "sql"
	StorageFirestore = "firestore"

	TransportHTTP = "http"
	TransportSDK  = "sdk"
)

type AuthConfig struct {
	// Keys is an optional allow-list of tenant keys. Empty accepts any key.
	Keys []string
}

type StorageConfig struct {
	Backend   string
	SQLDriver string
	SQLDSN    string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// CredentialConfig lists where the service account may come from, in priority order.
type CredentialConfig struct {
	JSON  string
	File  string
	KVKey string
}

type FCMConfig struct {
	Transport  string
	Endpoint   string
	TokenURL   string
	AttachData bool
}

type APNSConfig struct {
	Enabled      bool
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyFile    string
	P8KeyContent string
	Sandbox      bool
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type IngestionConfig struct {
	Enabled                bool
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID       string
	ListenAddr      string
	DefaultImage    string
	FaviconURL      string
	MaxParallel     int
	DefaultQuantity int
	MaxQuantity     int
	ShutdownTimeout time.Duration

	CorsConfig middleware.CorsConfig
	Auth       AuthConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Credential CredentialConfig
	FCM        FCMConfig
	APNS       APNSConfig
	Vapid      VapidConfig
	Ingestion  IngestionConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("DEFAULT_IMAGE"); val != "" {
		cfg.DefaultImage = val
	}
	if val := os.Getenv("FANOUT_MAX_PARALLEL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "FANOUT_MAX_PARALLEL", "source", "env")
			cfg.MaxParallel = n
		}
	}

	// Auth Overrides
	if val := os.Getenv("AUTH_KEYS"); val != "" {
		logger.Debug("Overriding config value", "key", "AUTH_KEYS", "source", "env")
		cfg.Auth.Keys = splitList(val)
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_BACKEND", "source", "env")
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("SQL_DRIVER"); val != "" {
		cfg.Storage.SQLDriver = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_URL", "source", "env")
		cfg.Storage.SQLDSN = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Credential Overrides
	if val := os.Getenv("SERVICE_ACCOUNT_JSON"); val != "" {
		logger.Debug("Overriding config value", "key", "SERVICE_ACCOUNT_JSON", "source", "env")
		cfg.Credential.JSON = val
	}
	if val := os.Getenv("SERVICE_ACCOUNT_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "SERVICE_ACCOUNT_FILE", "source", "env")
		cfg.Credential.File = val
	}
	if val := os.Getenv("SERVICE_ACCOUNT_KV_KEY"); val != "" {
		cfg.Credential.KVKey = val
	}

	// FCM Overrides
	if val := os.Getenv("FCM_TRANSPORT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_TRANSPORT", "source", "env")
		cfg.FCM.Transport = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		cfg.FCM.Endpoint = val
	}
	if val := os.Getenv("FCM_ATTACH_DATA"); val != "" {
		cfg.FCM.AttachData, _ = strconv.ParseBool(val)
	}

	// APNS Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
		cfg.APNS.Enabled = true
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_P8_KEY_FILE"); val != "" {
		cfg.APNS.P8KeyFile = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		cfg.APNS.Sandbox, _ = strconv.ParseBool(val)
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// Ingestion Overrides
	if val := os.Getenv("INGESTION_ENABLED"); val != "" {
		cfg.Ingestion.Enabled, _ = strconv.ParseBool(val)
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		cfg.Ingestion.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.Ingestion.SubscriptionID = val
		cfg.Ingestion.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.Ingestion.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.Ingestion.NumPipelineWorkers = workers
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageSQL
	}
	switch cfg.Storage.Backend {
	case StorageSQL:
		if cfg.Storage.SQLDSN == "" {
			return fmt.Errorf("storage.sql_dsn is required for the sql backend (set via YAML or DATABASE_URL env var)")
		}
	case StorageFirestore:
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required for the firestore backend (set via YAML or PROJECT_ID env var)")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.FCM.Transport == "" {
		cfg.FCM.Transport = TransportHTTP
	}
	if cfg.FCM.Transport != TransportHTTP && cfg.FCM.Transport != TransportSDK {
		return fmt.Errorf("unknown fcm transport %q", cfg.FCM.Transport)
	}

	if cfg.APNS.Enabled {
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" {
			return fmt.Errorf("apns requires key_id, team_id and bundle_id")
		}
		if cfg.APNS.P8KeyContent == "" && cfg.APNS.P8KeyFile == "" {
			return fmt.Errorf("apns requires a p8 key (APNS_P8_KEY or APNS_P8_KEY_FILE)")
		}
	}

	if cfg.Ingestion.Enabled {
		if cfg.ProjectID == "" {
			return fmt.Errorf("project_id is required when ingestion is enabled (set via YAML or PROJECT_ID env var)")
		}
		if cfg.Ingestion.SubscriptionID == "" {
			return fmt.Errorf("subscription_id is required when ingestion is enabled (set via YAML or SUBSCRIPTION_ID env var)")
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 32
	}
	if cfg.DefaultQuantity <= 0 {
		cfg.DefaultQuantity = 5
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 100
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = 24 * time.Hour
	}
	if cfg.Credential.KVKey == "" {
		cfg.Credential.KVKey = "service-account"
	}
	if cfg.Ingestion.NumPipelineWorkers <= 0 {
		cfg.Ingestion.NumPipelineWorkers = 1
	}
	if cfg.Ingestion.PubsubConsumerConfig == nil && cfg.Ingestion.SubscriptionID != "" {
		cfg.Ingestion.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Ingestion.SubscriptionID)
	}
}

func splitList(raw string) []string {
	var clean []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}
