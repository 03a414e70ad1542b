package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	// DefaultTenantID designates the tenant served by the legacy read
	// aggregation. When empty it is derived from DefaultTenantName.
	DefaultTenantID   string
	DefaultTenantName string

	OTLPEndpoint    string
	TracingEnabled  bool
	TracingProtocol string
	MetricsEnabled  bool
	MetricsProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Email     EmailConfig
	Scheduler SchedulerConfig
}

type SchedulerConfig struct {
	Enabled            bool
	RunIntervalSeconds int
	ExpiryBatchSize    int
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TaskStream    string
	ConsumerGroup string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "directory"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DefaultTenantID:   strings.TrimSpace(getenv("DEFAULT_TENANT_ID", "")),
		DefaultTenantName: getenv("DEFAULT_TENANT_NAME", "Default"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled:    getenvBool("TRACING_ENABLED", false),
		TracingProtocol:   strings.ToLower(getenv("TRACING_PROTOCOL", "grpc")),
		MetricsEnabled:    getenvBool("METRICS_ENABLED", false),
		MetricsProtocol:   strings.ToLower(getenv("METRICS_PROTOCOL", "grpc")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "directory"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:      getenv("REDIS_PASSWORD", ""),
			DB:            getenvInt("REDIS_DB", 0),
			TaskStream:    getenv("TASK_STREAM", "directory:tasks"),
			ConsumerGroup: getenv("TASK_CONSUMER_GROUP", "directory-workers"),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 25),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "noreply@directory.local"),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			RunIntervalSeconds: getenvInt("SCHEDULER_RUN_INTERVAL_SECONDS", 60),
			ExpiryBatchSize:    getenvInt("SCHEDULER_EXPIRY_BATCH_SIZE", 500),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultTenant returns the configured default tenant id, falling back to
// the slug of DefaultTenantName.
func (c Config) DefaultTenant() string {
	if c.DefaultTenantID != "" {
		return c.DefaultTenantID
	}
	return slug.Make(c.DefaultTenantName)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
