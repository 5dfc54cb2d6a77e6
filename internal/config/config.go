package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr        string
	DatabaseURL string
	MemoryStore bool

	JWTSecret string

	ClassifierURL string

	// Dispatch reference point used when an approval carries no ETA.
	DispatchLat float64
	DispatchLon float64

	DefaultCountryCode string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string

	S3Bucket  string
	S3Prefix  string
	UploadDir string

	KafkaBrokers []string
	KafkaTopic   string

	AllowAnonymousDelete bool
	MaxUploadBytes       int64
}

const (
	defaultAddr = ":8075"

	// Bangalore city center, matching the default hospital dispatch point.
	defaultDispatchLat = 12.9716
	defaultDispatchLon = 77.5946

	defaultCountryCode    = "+91"
	defaultUploadDir      = "./uploads"
	defaultKafkaTopic     = "report-lifecycle"
	defaultMaxUploadBytes = 50 << 20
)

func Load() (Config, error) {
	cfg := Config{
		Addr:                 getEnv("RESQ_ADDR", defaultAddr),
		DatabaseURL:          firstNonEmpty(os.Getenv("RESQ_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		MemoryStore:          getBool("RESQ_MEMSTORE", false),
		JWTSecret:            os.Getenv("RESQ_JWT_SECRET"),
		ClassifierURL:        os.Getenv("RESQ_CLASSIFIER_URL"),
		DispatchLat:          getFloat("RESQ_DISPATCH_LAT", defaultDispatchLat),
		DispatchLon:          getFloat("RESQ_DISPATCH_LON", defaultDispatchLon),
		DefaultCountryCode:   getEnv("RESQ_COUNTRY_CODE", defaultCountryCode),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:     os.Getenv("TWILIO_PHONE_NUMBER"),
		S3Bucket:             os.Getenv("RESQ_S3_BUCKET"),
		S3Prefix:             os.Getenv("RESQ_S3_PREFIX"),
		UploadDir:            getEnv("RESQ_UPLOAD_DIR", defaultUploadDir),
		KafkaTopic:           getEnv("RESQ_KAFKA_TOPIC", defaultKafkaTopic),
		AllowAnonymousDelete: getBool("RESQ_ALLOW_ANON_DELETE", true),
		MaxUploadBytes:       getInt64("RESQ_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
	}
	if brokers := os.Getenv("RESQ_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if cfg.DatabaseURL == "" && !cfg.MemoryStore {
		return Config{}, fmt.Errorf("DATABASE_URL or RESQ_DATABASE_URL required (or set RESQ_MEMSTORE=true)")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("RESQ_JWT_SECRET required")
	}
	if !strings.HasPrefix(cfg.DefaultCountryCode, "+") {
		cfg.DefaultCountryCode = "+" + cfg.DefaultCountryCode
	}
	return cfg, nil
}

// SMSEnabled reports whether provider credentials are fully configured.
func (c Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
