package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendRedis     = "redis"
	BackendMemcached = "memcached"

	BusNone  = "none"
	BusNats  = "nats"
	BusGRPC  = "grpc"
	BusKafka = "kafka"
)

type Config struct {
	Backends []string

	RedisHost     string
	RedisPort     string
	MemcachedHost string
	MemcachedPort string

	AccountKey     string
	DefaultBalance int64
	CASTTL         time.Duration

	DelayHookEnabled bool
	DelaySentinel    string
	Delay            time.Duration

	ApiEnabled string
	ApiPort    string
	GRPCPort   string

	BusProvider   string
	NatsHost      string
	NatsPort      string
	EventGRPCHost string
	EventGRPCPort string
	KafkaBrokers  []string

	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	LogLevel string
	Env      string
}

// New loads and validates configuration from environment variables.
// Only the stores named in CHARGELINE_STORE_BACKENDS need connection
// settings. Postgres is optional: without CHARGELINE_POSTGRES_HOST the audit
// log is disabled.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RedisHost:        os.Getenv("CHARGELINE_REDIS_HOST"),
		RedisPort:        os.Getenv("CHARGELINE_REDIS_PORT"),
		MemcachedHost:    os.Getenv("CHARGELINE_MEMCACHED_HOST"),
		MemcachedPort:    os.Getenv("CHARGELINE_MEMCACHED_PORT"),
		AccountKey:       getEnv("CHARGELINE_ACCOUNT_KEY", "account1/balance"),
		DelayHookEnabled: os.Getenv("CHARGELINE_DELAY_HOOK_ENABLED") == "true",
		DelaySentinel:    getEnv("CHARGELINE_DELAY_SENTINEL", "foobar"),
		ApiEnabled:       os.Getenv("CHARGELINE_API_ENABLED"),
		ApiPort:          os.Getenv("CHARGELINE_API_PORT"),
		GRPCPort:         getEnv("CHARGELINE_GRPC_PORT", "50051"),
		BusProvider:      getEnv("CHARGELINE_BUS_PROVIDER", BusNone),
		NatsHost:         os.Getenv("CHARGELINE_NATS_HOST"),
		NatsPort:         os.Getenv("CHARGELINE_NATS_PORT"),
		EventGRPCHost:    os.Getenv("CHARGELINE_EVENT_GRPC_HOST"),
		EventGRPCPort:    os.Getenv("CHARGELINE_EVENT_GRPC_PORT"),
		KafkaBrokers:     splitList(os.Getenv("CHARGELINE_KAFKA_BROKERS")),
		DBUser:           os.Getenv("CHARGELINE_POSTGRES_USER"),
		DBPass:           os.Getenv("CHARGELINE_POSTGRES_PASSWORD"),
		DBHost:           os.Getenv("CHARGELINE_POSTGRES_HOST"),
		DBPort:           getEnv("CHARGELINE_POSTGRES_PORT", "5432"),
		DBName:           os.Getenv("CHARGELINE_POSTGRES_DB"),
		SSLMode:          getEnv("CHARGELINE_POSTGRES_SSLMODE", "disable"),
		LogLevel:         getEnv("CHARGELINE_LOG_LEVEL", "info"),
		Env:              getEnv("CHARGELINE_ENV", "production"),
	}

	var err error
	if cfg.Backends, err = parseBackends(getEnv("CHARGELINE_STORE_BACKENDS", BackendRedis)); err != nil {
		return nil, err
	}
	if cfg.DefaultBalance, err = getEnvInt64("CHARGELINE_DEFAULT_BALANCE", 100); err != nil {
		return nil, err
	}
	if cfg.DefaultBalance < 0 {
		return nil, fmt.Errorf("CHARGELINE_DEFAULT_BALANCE must not be negative, got %d", cfg.DefaultBalance)
	}
	if cfg.CASTTL, err = getEnvDuration("CHARGELINE_CAS_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Delay, err = getEnvDuration("CHARGELINE_DELAY", 3*time.Second); err != nil {
		return nil, err
	}

	if cfg.HasBackend(BackendRedis) && (cfg.RedisHost == "" || cfg.RedisPort == "") {
		return nil, errors.New("missing required env for redis: CHARGELINE_REDIS_HOST/PORT")
	}
	if cfg.HasBackend(BackendMemcached) && (cfg.MemcachedHost == "" || cfg.MemcachedPort == "") {
		return nil, errors.New("missing required env for memcached: CHARGELINE_MEMCACHED_HOST/PORT")
	}

	switch cfg.BusProvider {
	case BusNone:
	case BusNats:
		if cfg.NatsHost == "" || cfg.NatsPort == "" {
			return nil, errors.New("missing required env for nats bus: CHARGELINE_NATS_HOST/PORT")
		}
	case BusGRPC:
		if cfg.EventGRPCHost == "" || cfg.EventGRPCPort == "" {
			return nil, errors.New("missing required env for grpc bus: CHARGELINE_EVENT_GRPC_HOST/PORT")
		}
	case BusKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("missing required env for kafka bus: CHARGELINE_KAFKA_BROKERS")
		}
	default:
		return nil, fmt.Errorf("invalid bus provider %q, must be one of none, nats, grpc, kafka", cfg.BusProvider)
	}

	if cfg.DBHost != "" && (cfg.DBUser == "" || cfg.DBName == "") {
		return nil, errors.New("missing required env for database: CHARGELINE_POSTGRES_USER/DB")
	}

	return cfg, nil
}

func (c *Config) HasBackend(name string) bool {
	return slices.Contains(c.Backends, name)
}

// AuditEnabled reports whether charge events are persisted to Postgres.
func (c *Config) AuditEnabled() bool {
	return c.DBHost != ""
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) MemcachedAddr() string {
	return fmt.Sprintf("%s:%s", c.MemcachedHost, c.MemcachedPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// GRPCAddr is the address of the remote EventService used by the grpc bus.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.EventGRPCHost, c.EventGRPCPort)
}

func (c *Config) GRPCListenAddr() string {
	return ":" + c.GRPCPort
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if CHARGELINE_API_ENABLED != "true"; callers skip the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", errors.New("CHARGELINE_API_PORT is required when CHARGELINE_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", errors.New("HTTP API is disabled (CHARGELINE_API_ENABLED != true)")
}

func parseBackends(raw string) ([]string, error) {
	var backends []string
	for _, name := range splitList(raw) {
		name = strings.ToLower(name)
		if name != BackendRedis && name != BackendMemcached {
			return nil, fmt.Errorf("invalid store backend %q, must be 'redis' or 'memcached'", name)
		}
		if !slices.Contains(backends, name) {
			backends = append(backends, name)
		}
	}
	if len(backends) == 0 {
		return nil, errors.New("CHARGELINE_STORE_BACKENDS names no backend")
	}
	return backends, nil
}

// splitList splits a comma separated value, dropping empty items.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}
