// Package config maps the process environment into an explicit Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"fluency-push-go/internal/webpush"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Options() *redis.Options {
	return &redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	VAPIDTokenTTL   time.Duration

	PushTTL         int
	PushUrgency     string
	PushConcurrency int
	PushHTTPTimeout time.Duration

	StoreBackend string
	DatabaseURL  string
	Redis        RedisConfig
	// Events publishes dispatch summaries to Redis. It is on for the redis
	// backend and whenever REDIS_ADDR is set.
	Events bool

	APIKey    string
	RateLimit float64

	Port     string
	LogLevel string
}

func (c *Config) setDefaults() {
	if c.VAPIDSubject == "" {
		c.VAPIDSubject = "mailto:push@fluencyia.app"
	}
	if c.VAPIDTokenTTL <= 0 {
		c.VAPIDTokenTTL = webpush.DefaultTokenTTL
	}
	if c.PushTTL <= 0 {
		c.PushTTL = webpush.DefaultTTL
	}
	if c.PushUrgency == "" {
		c.PushUrgency = webpush.DefaultUrgency
	}
	if c.PushConcurrency <= 0 {
		c.PushConcurrency = 4
	}
	if c.PushHTTPTimeout <= 0 {
		c.PushHTTPTimeout = 10 * time.Second
	}
	if c.StoreBackend == "" {
		c.StoreBackend = BackendPostgres
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Unset variables take defaults;
// malformed ones are errors.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	c := Config{
		VAPIDPublicKey:  strings.TrimSpace(getenv("VAPID_PUBLIC_KEY")),
		VAPIDPrivateKey: strings.TrimSpace(getenv("VAPID_PRIVATE_KEY")),
		VAPIDSubject:    getenv("VAPID_SUBJECT"),
		VAPIDTokenTTL:   p.duration("VAPID_TOKEN_TTL"),
		PushTTL:         p.int("PUSH_TTL"),
		PushUrgency:     getenv("PUSH_URGENCY"),
		PushConcurrency: p.int("PUSH_CONCURRENCY"),
		PushHTTPTimeout: p.duration("PUSH_HTTP_TIMEOUT"),
		StoreBackend:    strings.ToLower(getenv("STORE_BACKEND")),
		DatabaseURL:     getenv("DATABASE_URL"),
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR"),
			Password: getenv("REDIS_PASSWORD"),
			DB:       p.int("REDIS_DB"),
		},
		APIKey:    getenv("PUSH_API_KEY"),
		RateLimit: p.float("PUSH_RATE_LIMIT"),
		Port:      getenv("PORT"),
		LogLevel:  getenv("LOG_LEVEL"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	c.Events = c.StoreBackend == BackendRedis || c.Redis.Addr != ""
	c.setDefaults()

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL environment variable is required for the %s backend", BackendPostgres)
		}
	case BackendRedis:
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND %q is not one of %s, %s", c.StoreBackend, BackendPostgres, BackendRedis)
	}
	return c, nil
}

// VAPIDKeyPair decodes and validates the configured application server keys.
func (c Config) VAPIDKeyPair() (webpush.VAPIDKeys, error) {
	return webpush.ParseVAPIDKeys(c.VAPIDPublicKey, c.VAPIDPrivateKey)
}

func (c Config) EncryptOptions() webpush.Options {
	return webpush.Options{TTL: c.PushTTL, Urgency: c.PushUrgency}
}

// parser keeps the first conversion error.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) int(key string) int {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

func (p *parser) float(key string) float64 {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return f
}

func (p *parser) duration(key string) time.Duration {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}
