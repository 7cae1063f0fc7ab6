// --- File: relayservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlAuthConfig struct {
	Keys []string `yaml:"keys"`
}

type YamlStorageConfig struct {
	Backend   string `yaml:"backend"`
	SQLDriver string `yaml:"sql_driver"`
	SQLDSN    string `yaml:"sql_dsn"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlCredentialConfig struct {
	File  string `yaml:"file"`
	KVKey string `yaml:"kv_key"`
}

type YamlFCMConfig struct {
	Transport  string `yaml:"transport"`
	Endpoint   string `yaml:"endpoint"`
	TokenURL   string `yaml:"token_url"`
	AttachData bool   `yaml:"attach_data"`
}

type YamlAPNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyFile string `yaml:"p8_key_file"`
	Sandbox   bool   `yaml:"sandbox"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlIngestionConfig struct {
	Enabled                bool   `yaml:"enabled"`
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

type YamlQueryConfig struct {
	DefaultQuantity int `yaml:"default_quantity"`
	MaxQuantity     int `yaml:"max_quantity"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID       string               `yaml:"project_id"`
	ListenAddr      string               `yaml:"listen_addr"`
	DefaultImage    string               `yaml:"default_image"`
	FaviconURL      string               `yaml:"favicon_url"`
	MaxParallel     int                  `yaml:"max_parallel"`
	ShutdownTimeout string               `yaml:"shutdown_timeout"`
	CorsConfig      YamlCorsConfig       `yaml:"cors"`
	Auth            YamlAuthConfig       `yaml:"auth"`
	Storage         YamlStorageConfig    `yaml:"storage"`
	RedisConfig     YamlRedisConfig      `yaml:"redis"`
	Credential      YamlCredentialConfig `yaml:"credential"`
	FCM             YamlFCMConfig        `yaml:"fcm"`
	APNS            YamlAPNSConfig       `yaml:"apns"`
	VapidConfig     YamlVapidConfig      `yaml:"vapid"`
	Ingestion       YamlIngestionConfig  `yaml:"ingestion"`
	Query           YamlQueryConfig      `yaml:"query"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cacheTTL, err := parseDuration(baseCfg.RedisConfig.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.cache_ttl: %w", err)
	}
	shutdownTimeout, err := parseDuration(baseCfg.ShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid shutdown_timeout: %w", err)
	}

	cfg := &Config{
		ProjectID:       baseCfg.ProjectID,
		ListenAddr:      baseCfg.ListenAddr,
		DefaultImage:    baseCfg.DefaultImage,
		FaviconURL:      baseCfg.FaviconURL,
		MaxParallel:     baseCfg.MaxParallel,
		DefaultQuantity: baseCfg.Query.DefaultQuantity,
		MaxQuantity:     baseCfg.Query.MaxQuantity,
		ShutdownTimeout: shutdownTimeout,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Auth: AuthConfig{Keys: baseCfg.Auth.Keys},
		Storage: StorageConfig{
			Backend:   baseCfg.Storage.Backend,
			SQLDriver: baseCfg.Storage.SQLDriver,
			SQLDSN:    baseCfg.Storage.SQLDSN,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			CacheTTL: cacheTTL,
		},
		Credential: CredentialConfig{
			File:  baseCfg.Credential.File,
			KVKey: baseCfg.Credential.KVKey,
		},
		FCM: FCMConfig{
			Transport:  baseCfg.FCM.Transport,
			Endpoint:   baseCfg.FCM.Endpoint,
			TokenURL:   baseCfg.FCM.TokenURL,
			AttachData: baseCfg.FCM.AttachData,
		},
		APNS: APNSConfig{
			Enabled:   baseCfg.APNS.Enabled,
			KeyID:     baseCfg.APNS.KeyID,
			TeamID:    baseCfg.APNS.TeamID,
			BundleID:  baseCfg.APNS.BundleID,
			P8KeyFile: baseCfg.APNS.P8KeyFile,
			Sandbox:   baseCfg.APNS.Sandbox,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		Ingestion: IngestionConfig{
			Enabled:                baseCfg.Ingestion.Enabled,
			TopicID:                baseCfg.Ingestion.TopicID,
			SubscriptionID:         baseCfg.Ingestion.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.Ingestion.SubscriptionDLQTopicID,
			NumPipelineWorkers:     baseCfg.Ingestion.NumPipelineWorkers,
		},
	}

	if cfg.Ingestion.SubscriptionID != "" {
		cfg.Ingestion.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Ingestion.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage", cfg.Storage.Backend,
		"ingestion", cfg.Ingestion.Enabled,
	)

	return cfg, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
