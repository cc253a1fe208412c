package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Workflow  WorkflowConfig
	Mail      MailConfig
	Archives  ArchivesConfig
	Sweep     SweepConfig
	Cache     CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig describes the secretariat business-hours grid.
type SchedulerConfig struct {
	StartHour          int
	EndHour            int
	SlotMinutes        int
	AutoBookHorizonDay int
}

// WorkflowConfig tunes intent dispatching.
type WorkflowConfig struct {
	Workers             int
	BufferSize          int
	CollaboratorTimeout time.Duration
	ReplayInterval      time.Duration
	FederationEmail     string
	MembersEmail        string
}

// MailConfig configures outgoing SMTP notifications.
type MailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// ArchivesConfig controls archive export storage.
type ArchivesConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	BundleRetention time.Duration
	Concurrency     int
}

// SweepConfig governs the cleanup job for rejected requests.
type SweepConfig struct {
	Enabled   bool
	Retention time.Duration
	Interval  time.Duration
}

// CacheConfig toggles Redis caching of admin lookups.
type CacheConfig struct {
	AdminEnabled bool
	AdminTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = normalizeScheduler(SchedulerConfig{
		StartHour:          v.GetInt("SCHEDULER_START_HOUR"),
		EndHour:            v.GetInt("SCHEDULER_END_HOUR"),
		SlotMinutes:        v.GetInt("SCHEDULER_SLOT_MINUTES"),
		AutoBookHorizonDay: v.GetInt("SCHEDULER_AUTO_BOOK_HORIZON_DAYS"),
	})

	cfg.Workflow = WorkflowConfig{
		Workers:             v.GetInt("WORKFLOW_WORKERS"),
		BufferSize:          v.GetInt("WORKFLOW_BUFFER"),
		CollaboratorTimeout: parseDuration(v.GetString("WORKFLOW_COLLABORATOR_TIMEOUT"), 10*time.Second),
		ReplayInterval:      parseDuration(v.GetString("WORKFLOW_REPLAY_INTERVAL"), 5*time.Minute),
		FederationEmail:     v.GetString("FEDERATION_EMAIL"),
		MembersEmail:        v.GetString("MEMBERS_EMAIL"),
	}

	cfg.Mail = MailConfig{
		Enabled:  v.GetBool("ENABLE_SMTP"),
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("MAIL_FROM"),
		FromName: v.GetString("MAIL_FROM_NAME"),
	}

	cfg.Archives = ArchivesConfig{
		StorageDir:      v.GetString("ARCHIVES_STORAGE_DIR"),
		SignedURLSecret: v.GetString("ARCHIVES_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("ARCHIVES_SIGNED_URL_TTL"), 30*time.Minute),
		BundleRetention: parseDuration(v.GetString("ARCHIVES_BUNDLE_RETENTION"), 24*time.Hour),
		Concurrency:     v.GetInt("ARCHIVES_CONCURRENCY"),
	}

	cfg.Sweep = SweepConfig{
		Enabled:   v.GetBool("ENABLE_REJECTED_SWEEP"),
		Retention: parseDuration(v.GetString("REJECTED_RETENTION"), 24*time.Hour),
		Interval:  parseDuration(v.GetString("REJECTED_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Cache = CacheConfig{
		AdminEnabled: v.GetBool("ENABLE_ADMIN_CACHE"),
		AdminTTL:     parseDuration(v.GetString("ADMIN_CACHE_TTL"), 5*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "academy_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_START_HOUR", DefaultStartHour)
	v.SetDefault("SCHEDULER_END_HOUR", DefaultEndHour)
	v.SetDefault("SCHEDULER_SLOT_MINUTES", DefaultSlotMinutes)
	v.SetDefault("SCHEDULER_AUTO_BOOK_HORIZON_DAYS", 14)

	v.SetDefault("WORKFLOW_WORKERS", 2)
	v.SetDefault("WORKFLOW_BUFFER", 64)
	v.SetDefault("WORKFLOW_COLLABORATOR_TIMEOUT", "10s")
	v.SetDefault("WORKFLOW_REPLAY_INTERVAL", "5m")
	v.SetDefault("FEDERATION_EMAIL", "")
	v.SetDefault("MEMBERS_EMAIL", "")

	v.SetDefault("ENABLE_SMTP", false)
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "secretariat@academy.local")
	v.SetDefault("MAIL_FROM_NAME", "Academy Secretariat")

	v.SetDefault("ARCHIVES_STORAGE_DIR", "./archives")
	v.SetDefault("ARCHIVES_SIGNED_URL_SECRET", "dev_archives_secret")
	v.SetDefault("ARCHIVES_SIGNED_URL_TTL", "30m")
	v.SetDefault("ARCHIVES_CONCURRENCY", 4)

	v.SetDefault("ENABLE_REJECTED_SWEEP", true)
	v.SetDefault("REJECTED_RETENTION", "24h")
	v.SetDefault("REJECTED_SWEEP_INTERVAL", "1h")

	v.SetDefault("ENABLE_ADMIN_CACHE", false)
	v.SetDefault("ADMIN_CACHE_TTL", "5m")
}

// Default business-hours grid.
const (
	DefaultStartHour   = 9
	DefaultEndHour     = 17
	DefaultSlotMinutes = 30
)

// normalizeScheduler falls back to defaults when the configured grid cannot be laid out.
func normalizeScheduler(cfg SchedulerConfig) SchedulerConfig {
	valid := cfg.StartHour >= 0 && cfg.EndHour <= 24 && cfg.StartHour < cfg.EndHour &&
		cfg.SlotMinutes > 0 && ((cfg.EndHour-cfg.StartHour)*60)%cfg.SlotMinutes == 0
	if !valid {
		cfg.StartHour = DefaultStartHour
		cfg.EndHour = DefaultEndHour
		cfg.SlotMinutes = DefaultSlotMinutes
	}
	if cfg.AutoBookHorizonDay <= 0 {
		cfg.AutoBookHorizonDay = 14
	}
	return cfg
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
