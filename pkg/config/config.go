package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Mongo    MongoConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Routing  RoutingConfig
	Safety   SafetyConfig
	Adapter  AdapterConfig
	Audit    AuditConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	Environment  string
	RateLimit    int
}

type MongoConfig struct {
	URI        string
	DatabaseA  string
	DatabaseB  string
	ConnectSec int
}

type PostgresConfig struct {
	URL      string
	MaxConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type RoutingConfig struct {
	MinConfidence    float64
	DecisionCacheTTL time.Duration
}

type SafetyConfig struct {
	TokenTTL   time.Duration
	TokenStore string // "memory" or "redis"
}

type AdapterConfig struct {
	MaxResults int
	TimeoutSec int
	ReadOnly   bool
}

type AuditConfig struct {
	SQLitePath  string
	NATSEnabled bool
	NATSURL     string
	NATSSubject string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/multidb-router")

	viper.SetEnvPrefix("MDB_ROUTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.rateLimit", 120)

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.databaseA", "store_a")
	viper.SetDefault("mongo.databaseB", "store_b")
	viper.SetDefault("mongo.connectSec", 10)

	viper.SetDefault("postgres.url", "postgres://localhost:5432/store_c")
	viper.SetDefault("postgres.maxConns", 8)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("routing.minConfidence", 0.3)
	viper.SetDefault("routing.decisionCacheTTL", 10*time.Minute)

	viper.SetDefault("safety.tokenTTL", 5*time.Minute)
	viper.SetDefault("safety.tokenStore", "memory")

	viper.SetDefault("adapter.maxResults", 1000)
	viper.SetDefault("adapter.timeoutSec", 30)
	viper.SetDefault("adapter.readOnly", false)

	viper.SetDefault("audit.sqlitePath", "./data/audit.db")
	viper.SetDefault("audit.natsEnabled", false)
	viper.SetDefault("audit.natsURL", "nats://localhost:4222")
	viper.SetDefault("audit.natsSubject", "audit.entries")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
