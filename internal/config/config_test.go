package config

import "testing"

func TestLoadRequiresDatabaseOrMemstore(t *testing.T) {
	t.Setenv("RESQ_JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RESQ_DATABASE_URL", "")
	t.Setenv("RESQ_MEMSTORE", "")

	if _, err := Load(); err == nil {
		t.Fatalf("want error without a database url")
	}

	t.Setenv("RESQ_MEMSTORE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with memstore: %v", err)
	}
	if !cfg.MemoryStore {
		t.Fatalf("memstore flag not set")
	}
	if cfg.Addr != ":8075" {
		t.Fatalf("addr default = %s", cfg.Addr)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("RESQ_MEMSTORE", "true")
	t.Setenv("RESQ_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("want error without a jwt secret")
	}
}

func TestLoadNormalizesCountryCode(t *testing.T) {
	t.Setenv("RESQ_MEMSTORE", "true")
	t.Setenv("RESQ_JWT_SECRET", "secret")
	t.Setenv("RESQ_COUNTRY_CODE", "44")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultCountryCode != "+44" {
		t.Fatalf("country code = %s, want +44", cfg.DefaultCountryCode)
	}
}

func TestLoadSplitsKafkaBrokers(t *testing.T) {
	t.Setenv("RESQ_MEMSTORE", "true")
	t.Setenv("RESQ_JWT_SECRET", "secret")
	t.Setenv("RESQ_KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}
