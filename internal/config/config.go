package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	HTTPAddr    string
	Storage     StorageConfig
	Auth        AuthConfig
	Generator   GeneratorConfig
	Leak        LeakConfig
	Ingest      IngestConfig
	RabbitMQ    RabbitMQConfig
	NATS        NATSConfig
	MQTT        MQTTConfig
	Sensors     []SensorSeed
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Driver      string
	DatabaseURL string
}

// AuthConfig holds actor authentication settings
type AuthConfig struct {
	JWTSecret        string
	LiveRequireActor bool
}

// GeneratorConfig holds simulated reading settings
type GeneratorConfig struct {
	Interval        time.Duration
	LeakProbability float64
}

// LeakConfig holds leak classification settings
type LeakConfig struct {
	HighSeverityFactor float64
}

// IngestConfig holds settings shared by the queue and device ingest paths
type IngestConfig struct {
	// TimestampTolerance bounds the skew between a device timestamp and
	// receive time. Readings outside it are rejected.
	TimestampTolerance time.Duration
}

// RabbitMQConfig holds RabbitMQ connection, ingest and mirror settings.
// An empty URL disables both the ingest consumer and the event mirror.
type RabbitMQConfig struct {
	URL              string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	EventsExchange   string
	DLQQueue         string
	PrefetchCount    int
}

// NATSConfig holds the NATS event mirror settings
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// MQTTConfig holds the device ingest bridge settings
type MQTTConfig struct {
	BrokerURL string
	Topic     string
	ClientID  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "water-flow-monitor"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":5000"),
		Storage: StorageConfig{
			Driver:      getEnv("STORAGE_DRIVER", StorageDriverPostgres),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
			LiveRequireActor: getEnvAsBool("LIVE_REQUIRE_ACTOR", false),
		},
		Generator: GeneratorConfig{
			Interval:        getEnvAsDuration("GENERATOR_INTERVAL", 5*time.Second),
			LeakProbability: getEnvAsFloat("GENERATOR_LEAK_PROBABILITY", 0.01),
		},
		Leak: LeakConfig{
			HighSeverityFactor: getEnvAsFloat("LEAK_HIGH_SEVERITY_FACTOR", 1.5),
		},
		Ingest: IngestConfig{
			TimestampTolerance: getEnvAsDuration("INGEST_TIMESTAMP_TOLERANCE", 5*time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "flow-monitor.ingest.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "flow-monitor.ingest.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "sensor.reading.raw"),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "flow-monitor.events.exchange"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "flow-monitor.ingest.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "flow.events"),
		},
		MQTT: MQTTConfig{
			BrokerURL: getEnv("MQTT_BROKER_URL", ""),
			Topic:     getEnv("MQTT_TOPIC", "flow/sensors/+/reading"),
			ClientID:  getEnv("MQTT_CLIENT_ID", "water-flow-monitor"),
		},
	}

	sensors, err := LoadSensors(getEnv("SENSORS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Sensors = sensors

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=%s", StorageDriverPostgres)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required but not set in environment variables")
	}
	if c.Generator.Interval <= 0 {
		return fmt.Errorf("GENERATOR_INTERVAL must be positive")
	}
	if c.Generator.LeakProbability < 0 || c.Generator.LeakProbability > 1 {
		return fmt.Errorf("GENERATOR_LEAK_PROBABILITY must be within [0,1]")
	}
	if c.Leak.HighSeverityFactor < 1 {
		return fmt.Errorf("LEAK_HIGH_SEVERITY_FACTOR must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
