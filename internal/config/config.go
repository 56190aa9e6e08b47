// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	Cache                   `yaml:"cache"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Entitlement             `yaml:"entitlement"`
	Breaker                 `yaml:"breaker"`
	Scheduler               `yaml:"scheduler"`
	RateLimit               `yaml:"rate_limit"`
}

// Cache настройки эфемерного кеша
type Cache struct {
	Backend       string        `yaml:"backend" env-default:"memory"`
	Version       string        `yaml:"version" env-default:"1"`
	KeyPrefix     string        `yaml:"key_prefix" env-default:"theriq:"`
	DefaultTTL    time.Duration `yaml:"default_ttl" env-default:"5m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"5m"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ настройки подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// JWTToken секрет, которым хостинг-платформа подписывает токены доступа
type JWTToken struct {
	JWTSecretKey string `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
}

// Entitlement время жизни кешированных ответов и длительность оплаченного периода
type Entitlement struct {
	TierTTL            time.Duration `yaml:"tier_ttl" env-default:"30m"`
	FeatureTTL         time.Duration `yaml:"feature_ttl" env-default:"15m"`
	SubscriptionPeriod time.Duration `yaml:"subscription_period" env-default:"720h"`
}

// Breaker настройки автомата защиты хранилища профилей
type Breaker struct {
	MaxFailures uint32        `yaml:"max_failures" env-default:"5"`
	OpenTimeout time.Duration `yaml:"open_timeout" env-default:"30s"`
}

// Scheduler настройки фоновой проверки истёкших подписок
type Scheduler struct {
	Interval  time.Duration `yaml:"interval" env-default:"1h"`
	BatchSize int           `yaml:"batch_size" env-default:"100"`
	// MetricsAddress адрес /metrics процесса планировщика. Пустой отключает.
	MetricsAddress string `yaml:"metrics_address" env-default:":9091"`
}

// RateLimit ограничение частоты запросов к API
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"10"`
	Burst int     `yaml:"burst" env-default:"20"`
}

// MustLoad функция для загрузки конфига. Путь берётся из CONFIG_PATH,
// переменные окружения предварительно подгружаются из .env, если он есть.
func MustLoad() *Config {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Cache:\n"+
			"  Backend: %s\n"+
			"  Version: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Entitlement:\n"+
			"  TierTTL: %s\n"+
			"  FeatureTTL: %s\n",
		c.Env,
		c.Backend,
		c.Version,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.TierTTL,
		c.FeatureTTL,
	)
}
