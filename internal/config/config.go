// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMySQL = "mysql"
	StoreRedis = "redis"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env      string // application environment (dev, test, prod)
	Port     string // HTTP port to listen on
	LogLevel string // zap level name

	JWTSecret    string // HS256 signing secret
	JWTIssuer    string // iss claim stamped on and required of every token
	AccessTTLMin int    // access token lifetime in minutes
	BcryptCost   int    // bcrypt cost for password hashing

	StoreBackend string // "mysql" or "redis"
	DB           DBConfig
	Redis        RedisConfig

	AMQPURL            string // RabbitMQ connection string
	AuditEventsEnabled bool   // publish register/login events to AMQP
}

// DBConfig is the MySQL connection.
type DBConfig struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// RedisConfig is the Redis connection used by the redis store backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TLS       bool
	KeyPrefix string
}

// AccessTTL returns the token lifetime as a duration.
func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMin) * time.Minute
}

// IsDev reports whether the process runs in a development environment.
func (c Config) IsDev() bool { return c.Env == "dev" || c.Env == "development" }

// LoadDotEnv seeds the environment from .env files. Variables already set
// win, and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from the environment. Every missing or malformed
// variable is reported in the returned error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     l.must("APP_PORT"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		JWTSecret:    l.must("JWT_SECRET"),
		JWTIssuer:    l.must("JWT_ISSUER"),
		AccessTTLMin: l.intOr("ACCESS_TOKEN_TTL_MIN", 60),
		BcryptCost:   l.intOr("BCRYPT_COST", 10),

		StoreBackend: strings.ToLower(envStr("STORE_BACKEND", StoreMySQL)),

		AMQPURL:            envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		AuditEventsEnabled: envBool("AUDIT_EVENTS_ENABLED", false),
	}

	switch cfg.StoreBackend {
	case StoreMySQL:
		cfg.DB = l.loadDB()
	case StoreRedis:
	default:
		l.fail(fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", cfg.StoreBackend, StoreMySQL, StoreRedis))
	}
	cfg.Redis = l.loadRedis()

	if cfg.AccessTTLMin <= 0 {
		l.fail(fmt.Errorf("ACCESS_TOKEN_TTL_MIN must be positive, got %d", cfg.AccessTTLMin))
	}
	if cfg.AuditEventsEnabled && cfg.AMQPURL == "" {
		l.fail(errors.New("AUDIT_EVENTS_ENABLED requires RABBITMQ_URL or AMQP_URL"))
	}

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDB reads only the MySQL settings. The migrate command needs nothing else.
func LoadDB() (DBConfig, error) {
	var l loader
	db := l.loadDB()
	if err := errors.Join(l.errs...); err != nil {
		return DBConfig{}, err
	}
	return db, nil
}

type loader struct{ errs []error }

func (l *loader) fail(err error) { l.errs = append(l.errs, err) }

// must retrieves a required variable and records an error when it is unset.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		l.fail(fmt.Errorf("missing required env var: %s", key))
		return ""
	}
	return v
}

func (l *loader) intOr(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.fail(fmt.Errorf("invalid int for %s: %q", key, s))
		return def
	}
	return n
}

func (l *loader) loadDB() DBConfig {
	return DBConfig{
		User: l.must("DB_USER"),
		Pass: os.Getenv("DB_PASS"), // empty allowed
		Host: l.must("DB_HOST"),
		Port: envStr("DB_PORT", "3306"),
		Name: l.must("DB_NAME"),
	}
}

// loadRedis accepts REDIS_HOST and REDIS_PORT or the REDIS_ADDR shorthand;
// host and port win when both are set.
func (l *loader) loadRedis() RedisConfig {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	return RedisConfig{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        l.intOr("REDIS_DB", 0),
		TLS:       envBool("REDIS_TLS", false),
		KeyPrefix: envStr("REDIS_KEY_PREFIX", "authgate"),
	}
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}
