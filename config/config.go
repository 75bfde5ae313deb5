package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AmountMismatchRecord = "record"
	AmountMismatchReject = "reject"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Stripe            StripeConfig
	ACH               ACHConfig
	Gateways          GatewaysConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

// StripeConfig holds process-wide Stripe settings. Keys are per merchant account.
type StripeConfig struct {
	APIURL string
}

// ACHConfig holds the default regional endpoints used when a merchant account does not
// override them.
type ACHConfig struct {
	PrimaryURL   string
	SecondaryURL string
}

type GatewaysConfig struct {
	HTTPTimeout          time.Duration
	AmountMismatchPolicy string
	StatusPollStaleAfter time.Duration
	JobBatchSize         int32
}

type JobsConfig struct {
	StatusPollInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	mismatchPolicy := strings.ToLower(strings.TrimSpace(getEnv("GATEWAY_AMOUNT_MISMATCH_POLICY", AmountMismatchRecord)))
	if mismatchPolicy != AmountMismatchRecord && mismatchPolicy != AmountMismatchReject {
		return nil, fmt.Errorf("GATEWAY_AMOUNT_MISMATCH_POLICY must be %q or %q", AmountMismatchRecord, AmountMismatchReject)
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "gateways-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Stripe: StripeConfig{
			APIURL: getEnv("STRIPE_API_URL", ""),
		},
		ACH: ACHConfig{
			PrimaryURL:   getEnv("ACH_DEFAULT_PRIMARY_URL", ""),
			SecondaryURL: getEnv("ACH_DEFAULT_SECONDARY_URL", ""),
		},
		Gateways: GatewaysConfig{
			HTTPTimeout:          getSecondsEnv("GATEWAY_HTTP_TIMEOUT_SECONDS", 30*time.Second),
			AmountMismatchPolicy: mismatchPolicy,
			StatusPollStaleAfter: getMinutesEnv("GATEWAY_STATUS_POLL_STALE_MINUTES", 30*time.Minute),
			JobBatchSize:         int32(getIntEnv("GATEWAY_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			StatusPollInterval: getMinutesEnv("JOBS_STATUS_POLL_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
