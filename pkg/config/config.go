package config

import (
	"errors"
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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	Realtime   RealtimeConfig
	Verifier   VerifierConfig
	Summary    SummaryConfig
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

// AttendanceConfig tunes the live session coordinator.
type AttendanceConfig struct {
	// FrequencyTolerance is the absolute distance allowed between the stored
	// and the detected frequency token.
	FrequencyTolerance float64
	// MutateRetries bounds the optimistic-concurrency retry loop.
	MutateRetries int
	// Timezone is the reference timezone used to normalize session days.
	Timezone string
}

// RealtimeConfig tunes the websocket layer.
type RealtimeConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBufferSize  int
}

// VerifierConfig points at the external face verification service.
type VerifierConfig struct {
	Enabled   bool
	BaseURL   string
	Threshold float64
	Timeout   time.Duration
}

// SummaryConfig governs the read-side summary cache.
type SummaryConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

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

	cfg.Attendance = AttendanceConfig{
		FrequencyTolerance: v.GetFloat64("ATTENDANCE_FREQUENCY_TOLERANCE"),
		MutateRetries:      v.GetInt("ATTENDANCE_MUTATE_RETRIES"),
		Timezone:           v.GetString("ATTENDANCE_TIMEZONE"),
	}

	cfg.Realtime = RealtimeConfig{
		WriteTimeout:    parseDuration(v.GetString("REALTIME_WRITE_TIMEOUT"), 10*time.Second),
		PongTimeout:     parseDuration(v.GetString("REALTIME_PONG_TIMEOUT"), 60*time.Second),
		PingInterval:    parseDuration(v.GetString("REALTIME_PING_INTERVAL"), 54*time.Second),
		MaxMessageBytes: v.GetInt64("REALTIME_MAX_MESSAGE_BYTES"),
		SendBufferSize:  v.GetInt("REALTIME_SEND_BUFFER_SIZE"),
	}

	cfg.Verifier = VerifierConfig{
		Enabled:   v.GetBool("VERIFIER_ENABLED"),
		BaseURL:   v.GetString("VERIFIER_BASE_URL"),
		Threshold: v.GetFloat64("VERIFIER_THRESHOLD"),
		Timeout:   parseDuration(v.GetString("VERIFIER_TIMEOUT"), 5*time.Second),
	}

	cfg.Summary = SummaryConfig{
		CacheEnabled: v.GetBool("SUMMARY_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("SUMMARY_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "live_attendance")
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

	v.SetDefault("ATTENDANCE_FREQUENCY_TOLERANCE", 10.0)
	v.SetDefault("ATTENDANCE_MUTATE_RETRIES", 5)
	v.SetDefault("ATTENDANCE_TIMEZONE", "UTC")

	v.SetDefault("REALTIME_WRITE_TIMEOUT", "10s")
	v.SetDefault("REALTIME_PONG_TIMEOUT", "60s")
	v.SetDefault("REALTIME_PING_INTERVAL", "54s")
	v.SetDefault("REALTIME_MAX_MESSAGE_BYTES", 8192)
	v.SetDefault("REALTIME_SEND_BUFFER_SIZE", 32)

	v.SetDefault("VERIFIER_ENABLED", false)
	v.SetDefault("VERIFIER_BASE_URL", "http://localhost:5000")
	v.SetDefault("VERIFIER_THRESHOLD", 0.6)
	v.SetDefault("VERIFIER_TIMEOUT", "5s")

	v.SetDefault("SUMMARY_CACHE_ENABLED", true)
	v.SetDefault("SUMMARY_CACHE_TTL", "5m")
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
