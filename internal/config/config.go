// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string        `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string        `yaml:"storage_connection_string" env:"DATABASE_URL" env-required:"true"`
	MigrationsPath          string        `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	StoreTimeout            time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"5s"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	Auth                    `yaml:"auth"`
	LLM                     `yaml:"llm"`
	Stripe                  `yaml:"stripe"`
	Limits                  Limits   `yaml:"limits"`
	Throttle                Throttle `yaml:"throttle"`
	RabbitMQ                `yaml:"rabbitmq"`
	SMTP                    `yaml:"smtp"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env:"HTTP_TIMEOUT" env-default:"60s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"120s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user" env:"REDIS_USER"`
	DB           int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	MaxRetries   int           `yaml:"max_retries" env:"REDIS_MAX_RETRIES" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env:"REDIS_TIMEOUT" env-default:"2s"`
	PlanCacheTTL time.Duration `yaml:"plan_cache_ttl" env:"REDIS_PLAN_CACHE_TTL" env-default:"5m"`
	EventTTL     time.Duration `yaml:"event_ttl" env:"REDIS_EVENT_TTL" env-default:"72h"`
}

// Auth настройки проверки access-токенов провайдера аутентификации.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-required:"true"`
	Audience  string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"authenticated"`
}

// LLM настройки провайдера языковой модели.
type LLM struct {
	APIKey            string        `yaml:"api_key" env:"LLM_API_KEY" env-required:"true"`
	Model             string        `yaml:"model" env:"LLM_MODEL" env-default:"claude-sonnet-4-20250514"`
	MaxTokensGenerate int64         `yaml:"max_tokens_generate" env:"LLM_MAX_TOKENS_GENERATE" env-default:"500"`
	MaxTokensExplain  int64         `yaml:"max_tokens_explain" env:"LLM_MAX_TOKENS_EXPLAIN" env-default:"1500"`
	Timeout           time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"30s"`
}

// Stripe настройки платёжного провайдера.
type Stripe struct {
	SecretKey         string   `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret     string   `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	PriceID           string   `yaml:"price_id" env:"STRIPE_PRICE_PRO_MONTHLY"`
	AppURL            string   `yaml:"app_url" env:"APP_URL" env-default:"https://regexgpt.io"`
	ProStatuses       []string `yaml:"pro_statuses" env:"STRIPE_PRO_STATUSES" env-default:"active,trialing"`
	EnforceEventOrder bool     `yaml:"enforce_event_order" env:"STRIPE_ENFORCE_EVENT_ORDER" env-default:"false"`
}

// Limits дневные квоты по планам.
type Limits struct {
	Free PlanLimits `yaml:"free" env-prefix:"LIMIT_FREE_"`
	Pro  PlanLimits `yaml:"pro" env-prefix:"LIMIT_PRO_"`
}

// PlanLimits дневные квоты одного плана. Ноль означает значение по умолчанию.
type PlanLimits struct {
	Generate int `yaml:"generate" env:"GENERATE"`
	Explain  int `yaml:"explain" env:"EXPLAIN"`
}

// Throttle ограничение частоты запросов одного пользователя.
type Throttle struct {
	RPS   float64 `yaml:"rps" env:"THROTTLE_RPS" env-default:"2"`
	Burst int     `yaml:"burst" env:"THROTTLE_BURST" env-default:"10"`
}

// RabbitMQ настройки брокера уведомлений. Пустой URL отключает публикацию.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env:"RABBITMQ_MAX_RETRIES" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env:"RABBITMQ_RETRY_DELAY" env-default:"2s"`
}

// SMTP настройки почтового сервера для уведомлений.
type SMTP struct {
	SMTPHost string `yaml:"host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser string `yaml:"user" env:"SMTP_USER"`
	SMTPPass string `yaml:"pass" env:"SMTP_PASS"`
}

// MustLoad функция для загрузки конфига. Путь к YAML берётся из CONFIG_PATH,
// переменные окружения имеют приоритет над файлом.
func MustLoad() *Config {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла (если путь задан) и окружения.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("file: %s - does not exist", configPath)
	}
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"LLM:\n"+
			"  Model: %s\n"+
			"Stripe:\n"+
			"  PriceID: %s\n"+
			"  AppURL: %s\n"+
			"  ProStatuses: %v\n",
		c.Env,
		redact(c.StorageConnectionString),
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.Model,
		c.PriceID,
		c.AppURL,
		c.ProStatuses,
	)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Значения квот по умолчанию.
const (
	DefaultFreeGenerate = 10
	DefaultFreeExplain  = 20
	DefaultProGenerate  = 1000
	DefaultProExplain   = 2000
)

// WithDefaults возвращает копию квот, где нулевые и отрицательные значения
// заменены значениями по умолчанию.
func (l Limits) WithDefaults() Limits {
	fill := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	return Limits{
		Free: PlanLimits{
			Generate: fill(l.Free.Generate, DefaultFreeGenerate),
			Explain:  fill(l.Free.Explain, DefaultFreeExplain),
		},
		Pro: PlanLimits{
			Generate: fill(l.Pro.Generate, DefaultProGenerate),
			Explain:  fill(l.Pro.Explain, DefaultProExplain),
		},
	}
}
