package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"shared-list-server/internal/kvstore"
	"shared-list-server/internal/stream"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Stream  StreamConfig
	Notify  NotifyConfig
	CORS    CORSConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Port            string `validate:"required,numeric"`
	Host            string
	Env             string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Driver string `validate:"oneof=memory couchdb mongo sqlite"`

	CouchHost     string
	CouchPort     string
	CouchUser     string
	CouchPassword string
	CouchName     string

	MongoURI        string `validate:"required_if=Driver mongo"`
	MongoDatabase   string
	MongoCollection string

	SQLitePath string `validate:"required_if=Driver sqlite"`
}

type StreamConfig struct {
	PollInterval    time.Duration `validate:"gt=0"`
	PingInterval    time.Duration `validate:"gt=0"`
	MaxConnPerList  int           `validate:"gte=0"`
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
}

type NotifyConfig struct {
	Driver        string `validate:"oneof=local nats"`
	NATSURL       string `validate:"required_if=Driver nats"`
	SubjectPrefix string
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level     string
	Format    string
	AccessLog bool
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			Env:             getEnv("ENV", "development"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver:          getEnv("STORE_DRIVER", kvstore.DriverMemory),
			CouchHost:       getEnv("DB_HOST", "localhost"),
			CouchPort:       getEnv("DB_PORT", "5984"),
			CouchUser:       getEnv("DB_USER", "admin"),
			CouchPassword:   getEnv("DB_PASSWORD", "password"),
			CouchName:       getEnv("DB_NAME", "shared_lists"),
			MongoURI:        getEnv("MONGO_URI", ""),
			MongoDatabase:   getEnv("MONGO_DATABASE", "shared_lists"),
			MongoCollection: getEnv("MONGO_COLLECTION", "lists"),
			SQLitePath:      getEnv("SQLITE_PATH", "lists.db"),
		},
		Stream: StreamConfig{
			PollInterval:    getEnvAsDuration("STREAM_POLL_INTERVAL", stream.DefaultPollInterval),
			PingInterval:    getEnvAsDuration("STREAM_PING_INTERVAL", stream.DefaultPingInterval),
			MaxConnPerList:  getEnvAsInt("STREAM_MAX_CONN_PER_LIST", 100),
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
		},
		Notify: NotifyConfig{
			Driver:        getEnv("NOTIFY_DRIVER", "local"),
			NATSURL:       getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "lists.changes"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,If-None-Match,X-Participant-ID"),
		},
		Logging: LoggingConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AccessLog: getEnvAsBool("ACCESS_LOG", true),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// StoreOptions translates the store section into kvstore.Options.
func (c *Config) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Driver: c.Store.Driver,
		CouchURL: fmt.Sprintf("http://%s:%s@%s:%s",
			c.Store.CouchUser,
			c.Store.CouchPassword,
			c.Store.CouchHost,
			c.Store.CouchPort,
		),
		CouchDatabase:   c.Store.CouchName,
		MongoURI:        c.Store.MongoURI,
		MongoDatabase:   c.Store.MongoDatabase,
		MongoCollection: c.Store.MongoCollection,
		SQLitePath:      c.Store.SQLitePath,
	}
}

// StreamOptions translates the stream section into stream.Options.
func (c *Config) StreamOptions() stream.Options {
	return stream.Options{
		PollInterval:    c.Stream.PollInterval,
		PingInterval:    c.Stream.PingInterval,
		WriteWait:       c.Stream.WriteWait,
		PongWait:        c.Stream.PongWait,
		ReadBufferSize:  c.Stream.ReadBufferSize,
		WriteBufferSize: c.Stream.WriteBufferSize,
		MaxMessageSize:  c.Stream.MaxMessageSize,
	}
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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
