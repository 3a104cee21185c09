// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Language        string        `yaml:"language"` // locale for user-facing messages
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	MaxConns      int32  `yaml:"max_conns"`
	MigrateOnBoot bool   `yaml:"migrate_on_boot"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TraccarConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Token    string        `yaml:"token"` // bearer token; wins over basic auth
	Timeout  time.Duration `yaml:"timeout"`
	DBDSN    string        `yaml:"db_dsn"` // MySQL DSN of the platform database for bulk reads
	PageSize int           `yaml:"page_size"`
}

type ZarinPalConfig struct {
	MerchantID  string        `yaml:"merchant_id"`
	CallbackURL string        `yaml:"callback_url"` // base; device id is appended
	Sandbox     bool          `yaml:"sandbox"`
	Timeout     time.Duration `yaml:"timeout"`
	Description string        `yaml:"description"`
}

type PaymentConfig struct {
	ZarinPal          ZarinPalConfig `yaml:"zarinpal"`
	PendingExpiry     time.Duration  `yaml:"pending_expiry"`
	ReferenceAttempts int            `yaml:"reference_attempts"`
	VerifyLockTTL     time.Duration  `yaml:"verify_lock_ttl"`
}

type KavenegarConfig struct {
	APIKey   string        `yaml:"api_key"`
	Template string        `yaml:"template"`
	Sender   string        `yaml:"sender"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SMSConfig struct {
	Kavenegar KavenegarConfig `yaml:"kavenegar"`
}

type SchedulerConfig struct {
	Timezone          string        `yaml:"timezone"`
	DeviceDetectCron  string        `yaml:"device_detect_cron"`
	UserDetectCron    string        `yaml:"user_detect_cron"`
	NotifyCron        string        `yaml:"notify_cron"`
	RetentionCron     string        `yaml:"retention_cron"`
	ReconcileCron     string        `yaml:"reconcile_cron"`
	MaxDevicesPerUser int           `yaml:"max_devices_per_user"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
}

type RetentionConfig struct {
	ExpiredUsersDays    int `yaml:"expired_users_days"`
	ExpiredDevicesDays  int `yaml:"expired_devices_days"` // 0 keeps device rows forever
	NotificationLogDays int `yaml:"notification_log_days"`
}

type SecurityConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	AdminAPIKey string `yaml:"admin_api_key"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Traccar   TraccarConfig   `yaml:"traccar"`
	Payment   PaymentConfig   `yaml:"payment"`
	SMS       SMSConfig       `yaml:"sms"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retention RetentionConfig `yaml:"retention"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. A .env file next to it (or in the
// working directory) is loaded first so secrets can stay out of the YAML.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes, applies env overrides and defaults, and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Database.URL, "DATABASE_URL")
	override(&c.Redis.URL, "REDIS_URL")
	override(&c.Payment.ZarinPal.MerchantID, "ZARINPAL_MERCHANT_ID")
	override(&c.SMS.Kavenegar.APIKey, "KAVENEGAR_API_KEY")
	override(&c.Traccar.Username, "TRACCAR_USERNAME")
	override(&c.Traccar.Password, "TRACCAR_PASSWORD")
	override(&c.Traccar.Token, "TRACCAR_TOKEN")
	override(&c.Traccar.DBDSN, "TRACCAR_DB_DSN")
	override(&c.Security.JWTSecret, "JWT_SECRET")
	override(&c.Security.AdminAPIKey, "ADMIN_API_KEY")
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	c.HTTP.ReadTimeout = orDuration(c.HTTP.ReadTimeout, 15*time.Second)
	c.HTTP.WriteTimeout = orDuration(c.HTTP.WriteTimeout, 60*time.Second)
	c.HTTP.ShutdownTimeout = orDuration(c.HTTP.ShutdownTimeout, 10*time.Second)
	if c.HTTP.Language == "" {
		c.HTTP.Language = "fa"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "fleet-billing.events"
	}

	c.Traccar.Timeout = orDuration(c.Traccar.Timeout, 30*time.Second)
	if c.Traccar.PageSize <= 0 {
		c.Traccar.PageSize = 500
	}

	c.Payment.ZarinPal.Timeout = orDuration(c.Payment.ZarinPal.Timeout, 10*time.Second)
	if c.Payment.ZarinPal.Description == "" {
		c.Payment.ZarinPal.Description = "شارژ حساب"
	}
	c.Payment.PendingExpiry = orDuration(c.Payment.PendingExpiry, 24*time.Hour)
	if c.Payment.ReferenceAttempts <= 0 {
		c.Payment.ReferenceAttempts = 5
	}
	c.Payment.VerifyLockTTL = orDuration(c.Payment.VerifyLockTTL, 45*time.Second)

	c.SMS.Kavenegar.Timeout = orDuration(c.SMS.Kavenegar.Timeout, 10*time.Second)
	if c.SMS.Kavenegar.Template == "" {
		c.SMS.Kavenegar.Template = "uzradyabexpire"
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Asia/Tehran"
	}
	c.Scheduler.DeviceDetectCron = orString(c.Scheduler.DeviceDetectCron, "0 2 * * *")
	c.Scheduler.UserDetectCron = orString(c.Scheduler.UserDetectCron, "0 0 * * *")
	c.Scheduler.NotifyCron = orString(c.Scheduler.NotifyCron, "0 18 * * *")
	c.Scheduler.RetentionCron = orString(c.Scheduler.RetentionCron, "30 3 * * *")
	c.Scheduler.ReconcileCron = orString(c.Scheduler.ReconcileCron, "*/15 * * * *")
	if c.Scheduler.MaxDevicesPerUser <= 0 {
		c.Scheduler.MaxDevicesPerUser = 4
	}
	c.Scheduler.LockTTL = orDuration(c.Scheduler.LockTTL, 2*time.Hour)

	if c.Retention.ExpiredUsersDays <= 0 {
		c.Retention.ExpiredUsersDays = 30
	}
	if c.Retention.NotificationLogDays <= 0 {
		c.Retention.NotificationLogDays = 180
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Payment.ZarinPal.MerchantID == "" {
		return errors.New("payment.zarinpal.merchant_id is required")
	}
	if c.Traccar.BaseURL == "" {
		return errors.New("traccar.base_url is required")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}

// Location returns the scheduler time zone. validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
