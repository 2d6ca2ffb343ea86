package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string   `mapstructure:"APP_NAME"`
	CodeVersion                   string   `mapstructure:"CODE_VERSION"`
	Port                          int      `mapstructure:"PORT" validate:"gt=0"`
	LogLevel                      string   `mapstructure:"LOG_LEVEL"`
	PrettyLogs                    bool     `mapstructure:"PRETTY_LOGS"`
	HttpServerWriteTimeoutSeconds int      `mapstructure:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS"`
	HttpServerReadTimeoutSeconds  int      `mapstructure:"HTTP_SERVER_READ_TIMEOUT_SECONDS"`
	AllowOrigins                  []string `mapstructure:"HTTP_SERVER_ALLOW_ORIGINS"`
	StartupMaxAttempts            int      `mapstructure:"STARTUP_MAX_ATTEMPTS"`

	// PostgreSQL
	DatabaseHost                  string        `mapstructure:"DB_HOST"`
	DatabasePort                  string        `mapstructure:"DB_PORT"`
	DatabaseUserName              string        `mapstructure:"DB_USER_NAME"`
	DatabasePassword              string        `mapstructure:"DB_PASSWORD"`
	DatabaseName                  string        `mapstructure:"DB_NAME"`
	DatabaseSSLMode               string        `mapstructure:"DB_SSL_MODE"`
	DatabaseMaxOpenConns          int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DatabaseMaxIdleConns          int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DatabaseMigrationFolderPath   string        `mapstructure:"DB_MIGRATION_FOLDER_PATH"`
	DatabaseMigrationVersion      uint          `mapstructure:"DB_MIGRATION_VERSION"`
	DatabaseMigrationForce        int           `mapstructure:"DB_MIGRATION_FORCE"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"DB_MIGRATION_AUTO_ROLLBACK"`

	// Redis (active model version)
	RedisEnabled  bool          `mapstructure:"REDIS_ENABLED"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RedisKeyTTL   time.Duration `mapstructure:"REDIS_ACTIVE_MODEL_TTL"`

	// Graph Database (Memgraph)
	GraphEnabled    bool   `mapstructure:"GRAPH_DB_ENABLED"`
	GraphDBHost     string `mapstructure:"GRAPH_DB_HOST"`
	GraphDBPort     int    `mapstructure:"GRAPH_DB_PORT"`
	GraphDBUser     string `mapstructure:"GRAPH_DB_USER"`
	GraphDBPassword string `mapstructure:"GRAPH_DB_PASSWORD"`

	// Kafka consumer (geocoded lists ready for matching)
	KafkaBrokers         []string `mapstructure:"KAFKA_BROKERS"`
	KafkaInputTopic      string   `mapstructure:"KAFKA_INPUT_TOPIC"`
	KafkaConsumerGroup   string   `mapstructure:"KAFKA_CONSUMER_GROUP"`
	KafkaConsumerEnabled bool     `mapstructure:"KAFKA_CONSUMER_ENABLED"`

	// Kafka producer (match decisions)
	KafkaOutputTopic     string `mapstructure:"KAFKA_OUTPUT_TOPIC"`
	KafkaProducerEnabled bool   `mapstructure:"KAFKA_PRODUCER_ENABLED"`
	KafkaBatchSize       int    `mapstructure:"KAFKA_BATCH_SIZE"`
	KafkaBatchTimeout    int    `mapstructure:"KAFKA_BATCH_TIMEOUT_MS"`
	KafkaRequiredAcks    int    `mapstructure:"KAFKA_REQUIRED_ACKS"`
	KafkaCompression     string `mapstructure:"KAFKA_COMPRESSION"`

	// Tracing
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	OTLPProtocol string `mapstructure:"OTLP_PROTOCOL"`
	OTLPInsecure bool   `mapstructure:"OTLP_INSECURE"`

	// Matching
	AutomaticThreshold float64 `mapstructure:"MATCH_AUTOMATIC_THRESHOLD" validate:"gte=0,lte=1"`
	GazetteerThreshold float64 `mapstructure:"MATCH_GAZETTEER_THRESHOLD" validate:"gte=0,lte=1"`
	RecallWeight       float64 `mapstructure:"MATCH_RECALL_WEIGHT" validate:"gt=0"`
	MaxCandidates      int     `mapstructure:"MATCH_MAX_CANDIDATES" validate:"gte=0"`
	TrainingMaxPairs   int     `mapstructure:"TRAINING_MAX_PAIRS" validate:"gt=0"`
	TrainingPairsPath  string  `mapstructure:"TRAINING_PAIRS_PATH"`
	ModelWarmupOnStart bool    `mapstructure:"MODEL_WARMUP_ON_START"`
}

var defaults = map[string]any{
	"APP_NAME":                          "fern-api",
	"CODE_VERSION":                      "dev",
	"PORT":                              3004,
	"LOG_LEVEL":                         "info",
	"PRETTY_LOGS":                       false,
	"HTTP_SERVER_WRITE_TIMEOUT_SECONDS": 30,
	"HTTP_SERVER_READ_TIMEOUT_SECONDS":  10,
	"HTTP_SERVER_ALLOW_ORIGINS":         "*",
	"STARTUP_MAX_ATTEMPTS":              5,

	"DB_HOST":                    "localhost",
	"DB_PORT":                    "5432",
	"DB_USER_NAME":               "",
	"DB_PASSWORD":                "",
	"DB_NAME":                    "fern",
	"DB_SSL_MODE":                "disable",
	"DB_MAX_OPEN_CONNS":          25,
	"DB_MAX_IDLE_CONNS":          10,
	"DB_CONN_MAX_LIFETIME":       "10m",
	"DB_MIGRATION_FOLDER_PATH":   "db/pg",
	"DB_MIGRATION_VERSION":       0,
	"DB_MIGRATION_FORCE":         0,
	"DB_MIGRATION_AUTO_ROLLBACK": true,

	"REDIS_ENABLED":          false,
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"REDIS_ACTIVE_MODEL_TTL": "30s",

	"GRAPH_DB_ENABLED":  false,
	"GRAPH_DB_HOST":     "localhost",
	"GRAPH_DB_PORT":     7687,
	"GRAPH_DB_USER":     "",
	"GRAPH_DB_PASSWORD": "",

	"KAFKA_BROKERS":          "localhost:9092",
	"KAFKA_INPUT_TOPIC":      "facility-list-geocoded",
	"KAFKA_CONSUMER_GROUP":   "fern-matcher",
	"KAFKA_CONSUMER_ENABLED": true,
	"KAFKA_OUTPUT_TOPIC":     "facility-match-events",
	"KAFKA_PRODUCER_ENABLED": true,
	"KAFKA_BATCH_SIZE":       100,
	"KAFKA_BATCH_TIMEOUT_MS": 100,
	"KAFKA_REQUIRED_ACKS":    1,
	"KAFKA_COMPRESSION":      "snappy",

	"OTLP_ENDPOINT": "",
	"OTLP_PROTOCOL": "grpc",
	"OTLP_INSECURE": true,

	"MATCH_AUTOMATIC_THRESHOLD": 0.8,
	"MATCH_GAZETTEER_THRESHOLD": 0.5,
	"MATCH_RECALL_WEIGHT":       1.0,
	"MATCH_MAX_CANDIDATES":      0,
	"TRAINING_MAX_PAIRS":        15000,
	"TRAINING_PAIRS_PATH":       "",
	"MODEL_WARMUP_ON_START":     true,
}

// Load reads an optional .env file and the process environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	// entries may carry whitespace from "a, b" style env values
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.AllowOrigins = splitList(cfg.AllowOrigins)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
