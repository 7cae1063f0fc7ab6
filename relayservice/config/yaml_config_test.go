// --- File: relayservice/config/yaml_config_test.go ---
package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-pushrelay-service/relayservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		raw := `
project_id: yaml-project
listen_addr: ":9000"
default_image: https://img.example/default.png
max_parallel: 8
shutdown_timeout: 20s
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
auth:
  keys: ["k1", "k2"]
storage:
  backend: sql
  sql_driver: postgres
  sql_dsn: postgres://localhost/relay
redis:
  enabled: true
  addr: localhost:6379
  cache_ttl: 1h
fcm:
  transport: sdk
  attach_data: true
vapid:
  public_key: yaml-public-key
  private_key: yaml-private-key
  subscriber_email: yaml@test.com
ingestion:
  enabled: true
  topic_id: yaml-topic
  subscription_id: yaml-subscription
  subscription_dlq_topic_id: yaml-dlq
  num_pipeline_workers: 5
query:
  default_quantity: 10
  max_quantity: 50
`
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(raw), &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, 8, cfg.MaxParallel)
		assert.Equal(t, 20*time.Second, cfg.ShutdownTimeout)
		assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.Keys)
		assert.Equal(t, "postgres", cfg.Storage.SQLDriver)
		assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)
		assert.Equal(t, config.TransportSDK, cfg.FCM.Transport)
		assert.True(t, cfg.FCM.AttachData)
		assert.Equal(t, 10, cfg.DefaultQuantity)
		assert.Equal(t, 50, cfg.MaxQuantity)

		// 2. CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. VAPID
		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml-private-key", cfg.Vapid.PrivateKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)

		// 4. Ingestion
		assert.True(t, cfg.Ingestion.Enabled)
		assert.Equal(t, "yaml-topic", cfg.Ingestion.TopicID)
		assert.Equal(t, "yaml-dlq", cfg.Ingestion.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.Ingestion.NumPipelineWorkers)
		assert.NotNil(t, cfg.Ingestion.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{ProjectID: "minimal-project"}, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Equal(t, 0, cfg.Ingestion.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.Empty(t, cfg.Vapid.PublicKey)
		assert.Nil(t, cfg.Ingestion.PubsubConsumerConfig)
	})

	t.Run("Failure - bad duration", func(t *testing.T) {
		_, err := config.NewConfigFromYaml(&config.YamlConfig{RedisConfig: config.YamlRedisConfig{CacheTTL: "forever"}}, logger)
		require.Error(t, err)
	})
}
