package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr string

	// PostgresURL selects the durable store. Empty means in-memory only.
	PostgresURL string

	// RedisURL enables the identity read cache. Empty disables it.
	RedisURL string
	CacheTTL time.Duration

	// KafkaBrokers enables the Kafka audit publisher. Empty falls back to
	// log-only auditing.
	KafkaBrokers []string
	KafkaTopic   string

	// QRSigningKey signs verification tokens. Must be overridden outside dev.
	QRSigningKey string

	// Admission policy for the ledger: "pow" or "counter".
	PolicyKind    string
	PoWDifficulty int

	// OTelEndpoint enables OTLP/HTTP trace export. Empty disables tracing.
	OTelEndpoint string
}

// FromEnv builds a Server config from environment variables so main stays
// lean.
func FromEnv() Server {
	cfg := Server{
		Addr:          getenv("VERILEDGER_ADDR", ":8080"),
		PostgresURL:   os.Getenv("VERILEDGER_POSTGRES_URL"),
		RedisURL:      os.Getenv("VERILEDGER_REDIS_URL"),
		CacheTTL:      30 * time.Second,
		KafkaTopic:    getenv("VERILEDGER_KAFKA_TOPIC", "veriledger.audit"),
		QRSigningKey:  getenv("VERILEDGER_QR_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PolicyKind:    getenv("VERILEDGER_POLICY", "pow"),
		PoWDifficulty: 2,
		OTelEndpoint:  os.Getenv("VERILEDGER_OTEL_ENDPOINT"),
	}
	if brokers := os.Getenv("VERILEDGER_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if ttl, err := time.ParseDuration(os.Getenv("VERILEDGER_CACHE_TTL")); err == nil && ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if d, err := strconv.Atoi(os.Getenv("VERILEDGER_POW_DIFFICULTY")); err == nil && d >= 0 {
		cfg.PoWDifficulty = d
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
