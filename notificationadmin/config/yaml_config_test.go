package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-notification-admin/notificationadmin/config"
)

const sampleYaml = `
project_id: yaml-project
listen_addr: ":9000"
topic_id: yaml-topic
subscription_id: yaml-subscription
subscription_dlq_topic_id: yaml-dlq
num_pipeline_workers: 5
record_backend: mongo
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
redis:
  enabled: true
  addr: localhost:6379
  ttl: 10m
vapid:
  public_key: yaml-public-key
  private_key: yaml-private-key
  subscriber_email: yaml@test.com
  ttl_seconds: 120
apns:
  key_id: KEY123
  team_id: TEAM123
  bundle_id: com.example.app
  development: true
dispatch:
  max_in_flight: 8
  rate_per_second: 25.5
  burst: 5
  delivery_timeout: 10s
mongo:
  url: mongodb://localhost:27017
  database: admin_db
  connect_timeout: 5s
  retry_attempts: 3
  retry_interval: 2s
`

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(sampleYaml), &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)
		assert.Equal(t, config.BackendMongo, cfg.Backend)

		// 2. CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. Providers
		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)
		assert.Equal(t, 120, cfg.Vapid.TTLSeconds)
		assert.Equal(t, "com.example.app", cfg.APNs.BundleID)
		assert.True(t, cfg.APNs.Development)
		assert.Empty(t, cfg.APNs.P8KeyContent)

		// 4. Dispatch, cache and storage
		assert.Equal(t, 8, cfg.Dispatch.MaxInFlight)
		assert.Equal(t, 25.5, cfg.Dispatch.RatePerSecond)
		assert.Equal(t, 10*time.Second, cfg.Dispatch.DeliveryTimeout)
		assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
		assert.Equal(t, "admin_db", cfg.Mongo.Database)
		assert.Equal(t, 2*time.Second, cfg.Mongo.RetryInterval)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID: "minimal-project",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Equal(t, 0, cfg.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.Empty(t, cfg.Vapid.PublicKey)
		assert.Nil(t, cfg.PubsubConsumerConfig)
	})
}
