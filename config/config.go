package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	LiveTrack LiveTrackConfig `yaml:"livetrack"`
	Agent     AgentConfig     `yaml:"agent"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString is empty when no host is configured.
func (d DatabaseConfig) ConnString() string {
	if d.Host == "" {
		return ""
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	OrderEventsTopic string `yaml:"order_events_topic"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LiveTrackConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// "postgres" | "memory"
	Store string `yaml:"store"`
	// "kafka" | "rabbitmq" | "none"
	Broker             string `yaml:"broker"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	InstanceID         string `yaml:"instance_id"`

	JWTSecret       string `yaml:"jwt_secret"`
	TrackingSecret  string `yaml:"tracking_secret"`
	TrackingBaseURL string `yaml:"tracking_base_url"`
	// Orders created before tracking links existed have no token. When true
	// they stay viewable by order number alone.
	AllowUntokenedTracking *bool `yaml:"allow_untokened_tracking"`

	SnapshotTTLSeconds      int     `yaml:"snapshot_ttl_seconds"`
	TrackingRateLimitPerMin int     `yaml:"tracking_rate_limit_per_minute"`
	SubscriberBuffer        int     `yaml:"subscriber_buffer"`
	AssumedSpeedKmh         float64 `yaml:"assumed_speed_kmh"`
	StatusUpdateMaxAttempts int     `yaml:"status_update_max_attempts"`
}

type AgentConfig struct {
	APIBaseURL    string `yaml:"api_base_url"`
	DeviceBaseURL string `yaml:"device_base_url"`
	// "auto" | "device" | "synthetic"
	SourceMode   string `yaml:"source_mode"`
	HighAccuracy bool   `yaml:"high_accuracy"`

	IntervalMillis     int `yaml:"interval_ms"`
	FetchTimeoutMillis int `yaml:"fetch_timeout_ms"`
	HistoryCap         int `yaml:"history_cap"`

	DefaultLat *float64 `yaml:"default_lat"`
	DefaultLng *float64 `yaml:"default_lng"`

	StatusHTTPAddr string `yaml:"status_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
