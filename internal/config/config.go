package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Snapshot SnapshotConfig
	PubSub   PubSubConfig
}

type ServerConfig struct {
	AppEnv string
	Port   string
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Tracing         bool
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type LedgerConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	LockTTL      time.Duration
}

type SnapshotConfig struct {
	Provider        string
	Dir             string
	Bucket          string
	Prefix          string
	BatchSize       int
	Timeout         time.Duration
	CredentialsJSON string
}

type PubSubConfig struct {
	ProjectID       string
	Topic           string
	CredentialsJSON string
}

func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.AppEnv == "dev"
}

// Load reads the configuration from the environment. Call godotenv.Load first
// to pick up a .env file.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv: getEnv("APP_ENV", "development"),
			Port:   getEnv("PORT", "3000"),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "info"),
			Encoding:          getEnv("LOGGER_ENCODING", "json"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "invoice_stock"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			Tracing:         getEnvBool("DB_TRACING", false),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-super-secret-key-change-in-production"),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			MaxAttempts:  getEnvInt("LEDGER_MAX_ATTEMPTS", 4),
			RetryBackoff: getEnvDuration("LEDGER_RETRY_BACKOFF", 20*time.Millisecond),
			LockTTL:      getEnvDuration("LEDGER_LOCK_TTL", 5*time.Second),
		},
		Snapshot: SnapshotConfig{
			Provider:        getEnv("SNAPSHOT_PROVIDER", "file"),
			Dir:             getEnv("SNAPSHOT_DIR", "./snapshots"),
			Bucket:          getEnv("SNAPSHOT_BUCKET", ""),
			Prefix:          getEnv("SNAPSHOT_PREFIX", "snapshots"),
			BatchSize:       getEnvInt("SNAPSHOT_BATCH_SIZE", 500),
			Timeout:         getEnvDuration("SNAPSHOT_TIMEOUT", 10*time.Minute),
			CredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:       getEnv("PUBSUB_PROJECT_ID", ""),
			Topic:           getEnv("PUBSUB_TOPIC", ""),
			CredentialsJSON: getEnv("PUBSUB_CREDENTIALS_JSON", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("1500ms", "2h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
