package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		BodyLimit       int // максимальный размер запроса в МБ
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		PoolSize          int           // размер пула соединений
		MinIdleConns      int           // минимальное количество неактивных соединений
		ConnectTimeout    time.Duration // таймаут соединения
		ReadTimeout       time.Duration // таймаут чтения
		WriteTimeout      time.Duration // таймаут записи
		PoolTimeout       time.Duration // таймаут ожидания соединения из пула
		IdleTimeout       time.Duration // таймаут неактивного соединения
		IdleCheckFreq     time.Duration // частота проверки неактивных соединений
		MaxRetries        int           // максимальное количество повторных попыток
		MinRetryBackoff   time.Duration // минимальное время между повторными попытками
		MaxRetryBackoff   time.Duration // максимальное время между повторными попытками
		DefaultExpiration time.Duration // срок действия кэша по умолчанию
	}

	Kafka struct {
		Brokers          []string      `mapstructure:"brokers"`
		GroupID          string        `mapstructure:"group_id"`
		DeadLetterTopic  string        `mapstructure:"dead_letter_topic"`
		AutoOffsetReset  string        `mapstructure:"auto_offset_reset"`
		SessionTimeout   time.Duration `mapstructure:"session_timeout"`
		HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
		ReadTimeout      time.Duration `mapstructure:"read_timeout"`
		WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	}

	Metrics struct {
		Enabled     bool
		ServiceName string
		Endpoint    string
		Port        int `mapstructure:"port"`
	}

	Sync struct {
		Concurrency      int           // число одновременно выполняемых задач
		BatchSize        int           // размер пакета применения результатов сверки
		LockTTL          time.Duration // срок жизни блокировки массовой задачи
		IdempotencyTTL   time.Duration // окно дедупликации webhook-событий
		DefaultCurrency  string        // валюта по умолчанию для нормализации
		FullCadence      time.Duration // рекомендованный интервал полной синхронизации
		DeltaCadence     time.Duration // рекомендованный интервал дельта-синхронизации
		InventoryCadence time.Duration // рекомендованный интервал синхронизации остатков
		PricesCadence    time.Duration // рекомендованный интервал синхронизации цен
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AddConfigPath("../../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	// Установка значений по умолчанию
	setDefaults()

	// Привязка переменных окружения
	bindEnvVariables()

	// Чтение конфигурации в структуру
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	// Получаем окружение
	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "sync-service")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")
	viper.SetDefault("server.bodyLimit", 10) // 10 МБ

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "postgres")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 10)
	viper.SetDefault("redis.minIdleConns", 2)
	viper.SetDefault("redis.connectTimeout", "1s")
	viper.SetDefault("redis.readTimeout", "1s")
	viper.SetDefault("redis.writeTimeout", "1s")
	viper.SetDefault("redis.poolTimeout", "4s")
	viper.SetDefault("redis.idleTimeout", "300s")
	viper.SetDefault("redis.idleCheckFreq", "60s")
	viper.SetDefault("redis.maxRetries", 3)
	viper.SetDefault("redis.minRetryBackoff", "8ms")
	viper.SetDefault("redis.maxRetryBackoff", "512ms")
	viper.SetDefault("redis.defaultExpiration", "10m")

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.groupID", "sync-service")
	viper.SetDefault("kafka.deadLetterTopic", "sync-dead-letter")
	viper.SetDefault("kafka.autoOffsetReset", "latest")
	viper.SetDefault("kafka.sessionTimeout", "10s")
	viper.SetDefault("kafka.heartbeatTimeout", "3s")
	viper.SetDefault("kafka.readTimeout", "10s")
	viper.SetDefault("kafka.writeTimeout", "10s")

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.serviceName", "sync-service")
	viper.SetDefault("metrics.endpoint", "/metrics")
	viper.SetDefault("metrics.port", 9100)

	// Настройки синхронизации
	viper.SetDefault("sync.concurrency", 4)
	viper.SetDefault("sync.batchSize", 50)
	viper.SetDefault("sync.lockTTL", "2h")
	viper.SetDefault("sync.idempotencyTTL", "24h")
	viper.SetDefault("sync.defaultCurrency", "USD")
	viper.SetDefault("sync.fullCadence", "24h")
	viper.SetDefault("sync.deltaCadence", "6h")
	viper.SetDefault("sync.inventoryCadence", "1h")
	viper.SetDefault("sync.pricesCadence", "6h")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")
	viper.BindEnv("server.bodyLimit", "SERVER_BODY_LIMIT")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.poolSize", "REDIS_POOL_SIZE")
	viper.BindEnv("redis.minIdleConns", "REDIS_MIN_IDLE_CONNS")
	viper.BindEnv("redis.connectTimeout", "REDIS_CONNECT_TIMEOUT")
	viper.BindEnv("redis.readTimeout", "REDIS_READ_TIMEOUT")
	viper.BindEnv("redis.writeTimeout", "REDIS_WRITE_TIMEOUT")
	viper.BindEnv("redis.poolTimeout", "REDIS_POOL_TIMEOUT")
	viper.BindEnv("redis.idleTimeout", "REDIS_IDLE_TIMEOUT")
	viper.BindEnv("redis.idleCheckFreq", "REDIS_IDLE_CHECK_FREQ")
	viper.BindEnv("redis.maxRetries", "REDIS_MAX_RETRIES")
	viper.BindEnv("redis.minRetryBackoff", "REDIS_MIN_RETRY_BACKOFF")
	viper.BindEnv("redis.maxRetryBackoff", "REDIS_MAX_RETRY_BACKOFF")
	viper.BindEnv("redis.defaultExpiration", "REDIS_DEFAULT_EXPIRATION")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.deadLetterTopic", "KAFKA_DEAD_LETTER_TOPIC")
	viper.BindEnv("kafka.autoOffsetReset", "KAFKA_AUTO_OFFSET_RESET")
	viper.BindEnv("kafka.sessionTimeout", "KAFKA_SESSION_TIMEOUT")
	viper.BindEnv("kafka.heartbeatTimeout", "KAFKA_HEARTBEAT_TIMEOUT")
	viper.BindEnv("kafka.readTimeout", "KAFKA_READ_TIMEOUT")
	viper.BindEnv("kafka.writeTimeout", "KAFKA_WRITE_TIMEOUT")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.serviceName", "METRICS_SERVICE_NAME")
	viper.BindEnv("metrics.endpoint", "METRICS_ENDPOINT")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки синхронизации
	viper.BindEnv("sync.concurrency", "SYNC_CONCURRENCY")
	viper.BindEnv("sync.batchSize", "SYNC_BATCH_SIZE")
	viper.BindEnv("sync.lockTTL", "SYNC_LOCK_TTL")
	viper.BindEnv("sync.idempotencyTTL", "SYNC_IDEMPOTENCY_TTL")
	viper.BindEnv("sync.defaultCurrency", "SYNC_DEFAULT_CURRENCY")
	viper.BindEnv("sync.fullCadence", "SYNC_FULL_CADENCE")
	viper.BindEnv("sync.deltaCadence", "SYNC_DELTA_CADENCE")
	viper.BindEnv("sync.inventoryCadence", "SYNC_INVENTORY_CADENCE")
	viper.BindEnv("sync.pricesCadence", "SYNC_PRICES_CADENCE")
}
