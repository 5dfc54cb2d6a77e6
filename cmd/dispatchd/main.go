package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/roadaid/backend/internal/auth"
	"github.com/roadaid/backend/internal/blob"
	"github.com/roadaid/backend/internal/classifier"
	"github.com/roadaid/backend/internal/config"
	"github.com/roadaid/backend/internal/eta"
	"github.com/roadaid/backend/internal/events"
	"github.com/roadaid/backend/internal/httpserver"
	"github.com/roadaid/backend/internal/notify"
	"github.com/roadaid/backend/internal/service"
	"github.com/roadaid/backend/internal/store"
)

func main() {
	memStore := flag.Bool("memstore", false, "use the in-memory store instead of Postgres")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeDB := buildStore(cfg, *memStore)
	defer closeDB()

	gateway := buildGateway(ctx, cfg)
	blobs := buildBlobStore(ctx, cfg)
	publisher := buildPublisher(cfg)
	defer publisher.Close()
	dispatcher := notify.NewTwilioDispatcher(notify.TwilioConfig{
		AccountSID:  cfg.TwilioAccountSID,
		AuthToken:   cfg.TwilioAuthToken,
		FromNumber:  cfg.TwilioFromNumber,
		CountryCode: cfg.DefaultCountryCode,
	})
	if !dispatcher.Enabled() {
		log.Printf("[startup] SMS dispatch disabled, notifications will be recorded as failed")
	}

	svc := service.New(st, gateway, dispatcher, blobs, publisher, service.Config{
		DispatchPoint:        eta.Coordinate{Lat: cfg.DispatchLat, Lon: cfg.DispatchLon},
		AllowAnonymousDelete: cfg.AllowAnonymousDelete,
	})
	server := httpserver.New(cfg, svc, st, auth.NewVerifier(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("accident report service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func buildStore(cfg config.Config, forceMemory bool) (store.Store, func()) {
	if forceMemory || cfg.MemoryStore {
		log.Printf("[startup] using in-memory store")
		return store.NewMemoryStore(), func() {}
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	pg := store.NewPGStore(db)
	if err := pg.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("schema: %v", err)
	}
	return pg, func() { db.Close() }
}

// buildGateway prefers the remote classifier, falling back to the static
// verdict gateway when the service is unreachable at startup.
func buildGateway(ctx context.Context, cfg config.Config) classifier.Gateway {
	if cfg.ClassifierURL == "" {
		log.Printf("[startup] no classifier configured, running DEGRADED with static verdicts")
		return classifier.NewStaticGateway()
	}
	gw, err := classifier.NewHTTPGateway(classifier.HTTPGatewayConfig{
		BaseURL: cfg.ClassifierURL,
		Timeout: 10 * time.Second,
		Retries: 2,
	})
	if err != nil {
		log.Fatalf("classifier init: %v", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := gw.Probe(probeCtx); err != nil {
		log.Printf("[startup] classifier unreachable (%v), running DEGRADED with static verdicts", err)
		return classifier.NewStaticGateway()
	}
	return gw
}

func buildBlobStore(ctx context.Context, cfg config.Config) blob.Store {
	if cfg.S3Bucket != "" {
		s3store, err := blob.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("s3 store init: %v", err)
		}
		return s3store
	}
	dir, err := blob.NewDirStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("upload dir init: %v", err)
	}
	log.Printf("[startup] storing uploads under %s", cfg.UploadDir)
	return dir
}

func buildPublisher(cfg config.Config) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}
	pub, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		log.Fatalf("kafka publisher init: %v", err)
	}
	return pub
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
