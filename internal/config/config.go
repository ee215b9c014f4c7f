package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Replica   ReplicaConfig
	Sync      SyncConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string `validate:"required"`
	Host string `validate:"required"`
	Env  string
}

// CacheConfig points at the CouchDB instance backing the local durable cache
// and the content-hash index.
type CacheConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	User     string
	Password string
	Name     string `validate:"required"`
}

type ReplicaConfig struct {
	URL             string        `validate:"required,url"`
	TokenSecret     string        `validate:"required"`
	TokenExpiration time.Duration `validate:"gt=0"`
	BatchSize       int           `validate:"gt=0"`
	Fanout          int           `validate:"gt=0"`
	PageLimit       int           `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
}

// SyncConfig carries the reconciliation thresholds. None of the defaults is
// load-bearing; all are overridable per deployment.
type SyncConfig struct {
	DeviceID               string
	DeviceName             string
	Schedule               string        `validate:"required"`
	SourceTimeout          time.Duration `validate:"gt=0"`
	DuplicateGranularity   time.Duration `validate:"gt=0"`
	SimultaneousEditWindow time.Duration `validate:"gt=0"`
	DeviceOnlineThreshold  time.Duration `validate:"gt=0"`
	CleanupAge             time.Duration `validate:"gt=0"`
	LocalCalendarPath      string
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	ReconnectWait   time.Duration
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	sourceTimeout, err := time.ParseDuration(getEnv("SYNC_SOURCE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_SOURCE_TIMEOUT: %w", err)
	}

	editWindow, err := time.ParseDuration(getEnv("SYNC_SIMULTANEOUS_EDIT_WINDOW", "300s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_SIMULTANEOUS_EDIT_WINDOW: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8090"),
			Host: getEnv("HOST", "127.0.0.1"),
			Env:  getEnv("ENV", "development"),
		},
		Cache: CacheConfig{
			Host:     getEnv("CACHE_DB_HOST", "localhost"),
			Port:     getEnv("CACHE_DB_PORT", "5984"),
			User:     getEnv("CACHE_DB_USER", "admin"),
			Password: getEnv("CACHE_DB_PASSWORD", "password"),
			Name:     getEnv("CACHE_DB_NAME", "calsync"),
		},
		Replica: ReplicaConfig{
			URL:             getEnv("REPLICA_URL", "http://localhost:5985/calsync-replica"),
			TokenSecret:     getEnv("REPLICA_TOKEN_SECRET", "dev-secret-change-in-production"),
			TokenExpiration: getEnvAsDuration("REPLICA_TOKEN_EXPIRATION", 24*time.Hour),
			BatchSize:       getEnvAsInt("REPLICA_BATCH_SIZE", 100),
			Fanout:          getEnvAsInt("REPLICA_BATCH_FANOUT", 4),
			PageLimit:       getEnvAsInt("REPLICA_PAGE_LIMIT", 200),
			RequestTimeout:  getEnvAsDuration("REPLICA_REQUEST_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			DeviceID:               getEnv("SYNC_DEVICE_ID", ""),
			DeviceName:             getEnv("SYNC_DEVICE_NAME", defaultDeviceName()),
			Schedule:               getEnv("SYNC_SCHEDULE", "@every 5m"),
			SourceTimeout:          sourceTimeout,
			DuplicateGranularity:   getEnvAsDuration("SYNC_DUPLICATE_GRANULARITY", time.Minute),
			SimultaneousEditWindow: editWindow,
			DeviceOnlineThreshold:  getEnvAsDuration("SYNC_DEVICE_ONLINE_THRESHOLD", 5*time.Minute),
			CleanupAge:             getEnvAsDuration("SYNC_CLEANUP_AGE", 90*24*time.Hour),
			LocalCalendarPath:      getEnv("SYNC_LOCAL_CALENDAR_PATH", ""),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			ReconnectWait:   getEnvAsDuration("WS_RECONNECT_WAIT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultDeviceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "calsync-device"
	}
	return hostname
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
