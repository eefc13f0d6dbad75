package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации обоих бинарей.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и warm-up локи).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к открытому RSA ключу для проверки токенов.
// Закрытый ключ живет во внешнем Identity-сервисе.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig — настройки контура решений и исполнения.
type EngineConfig struct {
	// strict | permissive | disabled
	EnforcementMode string `mapstructure:"enforcement_mode"`

	// ALLOW | DENY — решение при отсутствии совпавших правил
	DefaultEffect string `mapstructure:"default_effect"`

	// Дефолтный срок жизни заявки HITL. Час, не пять минут:
	// слишком короткий дефолт — известная операционная боль
	DefaultApprovalTTL time.Duration `mapstructure:"default_approval_ttl"`

	// Общий HMAC-секрет подписи вердиктов: либо файл по пути, либо
	// напрямую в ENGINE_APPROVAL_SECRET_DATA
	ApprovalSecretPath string `mapstructure:"approval_secret_path"`
	ApprovalSecret     []byte

	GuardrailsEnabled bool `mapstructure:"guardrails_enabled"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Контур надежности вокруг хендлеров
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя файл, ENV и дефолты.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// ENV перекрывает файл: ENGINE_ENFORCEMENT_MODE=permissive
	// перекроет engine.enforcement_mode
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Engine.ApprovalSecret = loadKeyResource(cfg.Engine.ApprovalSecretPath, "ENGINE_APPROVAL_SECRET_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность контура.
func (c *Config) Validate() error {
	switch c.Engine.EnforcementMode {
	case "strict", "permissive", "disabled":
	default:
		return fmt.Errorf("engine.enforcement_mode must be strict, permissive or disabled, got %q", c.Engine.EnforcementMode)
	}

	switch c.Engine.DefaultEffect {
	case "ALLOW", "DENY":
	default:
		return fmt.Errorf("engine.default_effect must be ALLOW or DENY, got %q", c.Engine.DefaultEffect)
	}

	if c.Engine.EnforcementMode != "disabled" && len(c.Engine.ApprovalSecret) == 0 {
		return fmt.Errorf("approval secret is required (engine.approval_secret_path or ENGINE_APPROVAL_SECRET_DATA)")
	}

	if c.Engine.DefaultApprovalTTL <= 0 {
		return fmt.Errorf("engine.default_approval_ttl must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.enforcement_mode", "strict")
	v.SetDefault("engine.default_effect", "DENY") // Zero Trust по умолчанию
	v.SetDefault("engine.default_approval_ttl", time.Hour)
	v.SetDefault("engine.guardrails_enabled", true)

	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)

	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.rate_per_second", 100.0)
	v.SetDefault("engine.rate_burst", 20)
	v.SetDefault("engine.retry_attempts", 3)
}

// loadKeyResource читает секрет либо напрямую из ENV (Docker/K8s),
// либо из файла по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
