package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures the full service configuration.
type Server struct {
	Addr string

	// DatabaseURL selects the postgres stores; when empty the service runs
	// on the in-memory stores (development and tests).
	DatabaseURL string

	// RedisURL enables the endpoint-directory cache when set.
	RedisURL string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	// AreaOfInterestWKT scopes the change event listener. An empty value
	// means the listener matches nothing.
	AreaOfInterestWKT string

	// EndpointDirectory maps client identifiers to delivery URIs as
	// "mrn=uri" pairs separated by commas.
	EndpointDirectory map[string]string

	SigningKey string

	DeliveryTimeout  time.Duration
	EndpointCacheTTL time.Duration
	NotifyWorkers    int
	NotifyQueueSize  int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:              envOr("ATON_ADDR", ":8761"),
		DatabaseURL:       os.Getenv("ATON_DATABASE_URL"),
		RedisURL:          os.Getenv("ATON_REDIS_URL"),
		KafkaTopic:        envOr("ATON_KAFKA_TOPIC", "aton-changes"),
		KafkaGroup:        envOr("ATON_KAFKA_GROUP", "aton-service"),
		AreaOfInterestWKT: os.Getenv("ATON_AREA_OF_INTEREST"),
		SigningKey:        envOr("ATON_SIGNING_KEY", "dev-signing-key"),
		DeliveryTimeout:   envDuration("ATON_DELIVERY_TIMEOUT", 30*time.Second),
		EndpointCacheTTL:  envDuration("ATON_ENDPOINT_CACHE_TTL", 5*time.Minute),
		NotifyWorkers:     envInt("ATON_NOTIFY_WORKERS", 4),
		NotifyQueueSize:   envInt("ATON_NOTIFY_QUEUE", 1024),
	}

	if brokers := os.Getenv("ATON_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.EndpointDirectory = map[string]string{}
	for _, pair := range strings.Split(os.Getenv("ATON_ENDPOINT_DIRECTORY"), ",") {
		if mrn, uri, ok := strings.Cut(pair, "="); ok {
			cfg.EndpointDirectory[strings.TrimSpace(mrn)] = strings.TrimSpace(uri)
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
