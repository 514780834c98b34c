package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	HTTPAddr    string

	CRDBDSN   string
	MongoURI  string
	MongoDB   string
	RedisAddr string
	RabbitURL string

	JWTSecret          string
	ScannerTokenSecret string
	ScannerTokenTTL    time.Duration
	CredentialSecret   string

	PendingPurchaseTTL time.Duration
	ExpiryInterval     time.Duration
	OutboxInterval     time.Duration
	OutboxBatch        int
	RateLimitPerMin    int

	CloudinaryCloud  string
	CloudinaryKey    string
	CloudinarySecret string
	CloudinaryFolder string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	LogLevel        string
	OTLPEndpoint    string
	OTelSampleRatio float64
}

// Load reads a .env file if one is present and then the process
// environment. Malformed numeric or duration values are an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	r := reader{}
	cfg := &Config{
		ServiceName: r.str("SERVICE_NAME", "ezt"),
		HTTPAddr:    r.str("HTTP_ADDR", ":8080"),

		CRDBDSN:   os.Getenv("CRDB_DSN"),
		MongoURI:  os.Getenv("MONGO_URI"),
		MongoDB:   r.str("MONGO_DB", "ezt"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		RabbitURL: os.Getenv("RABBIT_URL"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		ScannerTokenSecret: os.Getenv("SCANNER_TOKEN_SECRET"),
		ScannerTokenTTL:    r.duration("SCANNER_TOKEN_TTL", 12*time.Hour),
		CredentialSecret:   os.Getenv("CREDENTIAL_SECRET"),

		PendingPurchaseTTL: r.duration("PENDING_PURCHASE_TTL", 48*time.Hour),
		ExpiryInterval:     r.duration("EXPIRY_INTERVAL", time.Minute),
		OutboxInterval:     r.duration("OUTBOX_INTERVAL", time.Second),
		OutboxBatch:        r.int("OUTBOX_BATCH", 100),
		RateLimitPerMin:    r.int("RATE_LIMIT_PER_MIN", 120),

		CloudinaryCloud:  os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinarySecret: os.Getenv("CLOUDINARY_API_SECRET"),
		CloudinaryFolder: r.str("CLOUDINARY_FOLDER", "ezt"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     r.int("SMTP_PORT", 587),
		SMTPUser:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     r.str("SMTP_FROM", "tickets@ezt.local"),

		LogLevel:        r.str("LOG_LEVEL", "info"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSampleRatio: r.float("OTEL_SAMPLE_RATIO", 1),
	}
	if r.err != nil {
		return nil, r.err
	}
	if cfg.ScannerTokenSecret == "" {
		cfg.ScannerTokenSecret = cfg.JWTSecret
	}
	return cfg, nil
}

type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(errors.Wrapf(err, "config: %s", key))
		return def
	}
	return d
}

func (r *reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(errors.Wrapf(err, "config: %s", key))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(errors.Wrapf(err, "config: %s", key))
		return def
	}
	return f
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
