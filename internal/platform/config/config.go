package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process-wide configuration.
type Server struct {
	Addr        string
	Environment string
	AdminToken  string

	Orchestrator string // "fsm" or "assistant"
	SessionTTL   time.Duration
	MaxUploads   int

	Records  RecordsConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	OCR      OCRConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Payments PaymentsConfig
	Reminder ReminderConfig

	CoursesFile string
}

// RecordsConfig selects the registration record backend.
type RecordsConfig struct {
	Backend string // memory, csv, postgres
	CSVPath string
}

// RedisConfig holds Redis connection settings for conversation state.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds Postgres settings for the records table.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// KafkaConfig holds broker and topic names.
type KafkaConfig struct {
	Brokers            string
	GroupID            string
	PaymentsTopic      string
	NotificationsTopic string
}

// OCRConfig configures the local sidecar and the cloud escalation tier.
type OCRConfig struct {
	LocalURL        string
	CloudEnabled    bool
	AWSRegion       string
	Timeout         time.Duration
	MaxImageBytes   int64
	MaxImageDimSide int
}

// StorageConfig configures where uploaded images are written.
type StorageConfig struct {
	S3Bucket   string
	UploadDir  string
	SigningKey string
	RefTTL     time.Duration
}

// LLMConfig configures the language-generation collaborator.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// PaymentsConfig configures notification parsing.
type PaymentsConfig struct {
	VenueMarker string
}

// ReminderConfig configures the unpaid-registration reminder job.
type ReminderConfig struct {
	Schedule      string
	PRContact     string
	NonPRContact  string
	CleanupPeriod time.Duration
}

// Load reads .env files (when present) into the environment and builds Server.
func Load(files ...string) (Server, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Server{}, err
	}
	return FromEnv(), nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:         envString("REGDESK_ADDR", ":8080"),
		Environment:  envString("ENVIRONMENT", "development"),
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		Orchestrator: envString("ORCHESTRATOR", "fsm"),
		SessionTTL:   envDuration("SESSION_TTL", 30*24*time.Hour),
		MaxUploads:   envInt("MAX_UPLOAD_ATTEMPTS", 3),
		CoursesFile:  os.Getenv("COURSES_FILE"),
		Records: RecordsConfig{
			Backend: envString("RECORDS_BACKEND", "memory"),
			CSVPath: envString("RECORDS_CSV_PATH", "registrations.csv"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     envBool("DATABASE_AUTO_MIGRATE", true),
		},
		Kafka: KafkaConfig{
			Brokers:            os.Getenv("KAFKA_BROKERS"),
			GroupID:            envString("KAFKA_GROUP_ID", "regdesk"),
			PaymentsTopic:      envString("KAFKA_PAYMENTS_TOPIC", "payments.notifications"),
			NotificationsTopic: envString("KAFKA_NOTIFICATIONS_TOPIC", "registrations.notifications"),
		},
		OCR: OCRConfig{
			LocalURL:        envString("LOCAL_OCR_URL", "http://localhost:8866"),
			CloudEnabled:    envBool("CLOUD_OCR_ENABLED", false),
			AWSRegion:       envString("AWS_REGION", "ca-central-1"),
			Timeout:         envDuration("OCR_TIMEOUT", 20*time.Second),
			MaxImageBytes:   int64(envInt("MAX_IMAGE_BYTES", 10<<20)),
			MaxImageDimSide: envInt("OCR_MAX_SIDE", 2000),
		},
		Storage: StorageConfig{
			S3Bucket:   os.Getenv("S3_BUCKET"),
			UploadDir:  envString("UPLOAD_DIR", "uploads"),
			SigningKey: envString("IMAGE_REF_SIGNING_KEY", "dev-image-ref-key-change-me"),
			RefTTL:     envDuration("IMAGE_REF_TTL", 24*time.Hour),
		},
		LLM: LLMConfig{
			BaseURL: os.Getenv("LLM_BASE_URL"),
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   envString("LLM_MODEL", "gpt-4o-mini"),
			Timeout: envDuration("LLM_TIMEOUT", 8*time.Second),
		},
		Payments: PaymentsConfig{
			VenueMarker: envString("PAYMENT_VENUE_MARKER", "@ UNI-Commons x CFSO"),
		},
		Reminder: ReminderConfig{
			Schedule:      envString("REMINDER_SCHEDULE", "0 9 * * *"),
			PRContact:     envString("PR_SUPPORT_CONTACT", "cfso.admin@unic.ca"),
			NonPRContact:  envString("NON_PR_SUPPORT_CONTACT", "unic.admin@unic.ca"),
			CleanupPeriod: envDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
