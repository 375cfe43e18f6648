package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Maverick0351a/signet-protocol/pkg/billing"
	"github.com/Maverick0351a/signet-protocol/pkg/config"
	"github.com/Maverick0351a/signet-protocol/pkg/export"
	"github.com/Maverick0351a/signet-protocol/pkg/hel"
	"github.com/Maverick0351a/signet-protocol/pkg/invariants"
	"github.com/Maverick0351a/signet-protocol/pkg/mapping"
	"github.com/Maverick0351a/signet-protocol/pkg/pipeline"
	"github.com/Maverick0351a/signet-protocol/pkg/repair"
	"github.com/Maverick0351a/signet-protocol/pkg/signetapi"
	"github.com/Maverick0351a/signet-protocol/pkg/signetcrypto"
	"github.com/Maverick0351a/signet-protocol/pkg/store"
)

func runServer(stdout, stderr io.Writer) {
	fmt.Fprintf(stdout, "%sSignet starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	db, err := sql.Open(driverFor(cfg.StorageEngine), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[signet] failed to open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[signet] database ping failed: %v", err)
	}

	var port store.Port
	switch cfg.StorageEngine {
	case "postgres":
		port, err = store.NewPostgres(db)
	default:
		port, err = store.NewSQLite(db)
	}
	if err != nil {
		log.Fatalf("[signet] failed to init storage: %v", err)
	}
	log.Printf("[signet] storage: %s ready", cfg.StorageEngine)

	ring := signetcrypto.NewKeyRing()
	signer, err := signetcrypto.NewEd25519Signer("kid-1")
	if err != nil {
		log.Fatalf("[signet] failed to init signer: %v", err)
	}
	ring.AddKey(signer)
	fmt.Fprintf(stdout, "Trust root kid: %s%s%s\n", ColorBold+ColorGreen, signer.KeyID(), ColorReset)

	reg, err := mapping.NewRegistry()
	if err != nil {
		log.Fatalf("[signet] failed to init mapping registry: %v", err)
	}

	inv, err := invariants.NewDefault()
	if err != nil {
		log.Fatalf("[signet] failed to init invariant validator: %v", err)
	}

	var repairer repair.Repairer
	if cfg.OpenAIAPIKey != "" {
		repairer = repair.NewOpenAIRepairer(cfg.OpenAIAPIKey, "gpt-4o-mini")
	} else {
		repairer = &repair.Fake{}
		log.Println("[signet] OPENAI_API_KEY not set, fallback repair disabled (fake repairer installed)")
	}

	billingBuf := billing.NewBuffer(cfg.BillingBuffer, logger)

	tenants, err := config.NewTenantStore(cfg.TenantProfileDir)
	if err != nil {
		log.Fatalf("[signet] failed to load tenant profiles: %v", err)
	}
	log.Println("[signet] tenant profiles: ready")

	pipe := pipeline.New(pipeline.Deps{
		Store:      port,
		Registry:   reg,
		KeyRing:    ring,
		HEL:        hel.NewEngine(),
		Forwarder:  hel.NewForwarder(),
		Repairer:   repairer,
		Invariants: inv,
		Billing:    billingBuf,
		Logger:     logger,
	})

	var durableSink export.DurableSink
	if cfg.S3ExportBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf("[signet] failed to load AWS config for export sink: %v", err)
		}
		durableSink = export.NewS3Sink(s3.NewFromConfig(awsCfg), cfg.S3ExportBucket, cfg.S3ExportPrefix)
		log.Printf("[signet] durable export sink: s3://%s/%s", cfg.S3ExportBucket, cfg.S3ExportPrefix)
	}
	exporter := export.New(port, ring, durableSink)

	srv := signetapi.NewServer(&signetapi.Server{
		Pipeline:  pipe,
		Exporter:  exporter,
		KeyRing:   ring,
		Tenants:   tenants,
		AdminAuth: signetapi.NewAdminAuth(cfg.AdminJWTSecret),
		Logger:    logger,
	})

	rl := signetapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: rl.Middleware(srv.Handler()),
	}

	go func() {
		log.Printf("[signet] ready: http://localhost:%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[signet] server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[signet] shutting down")
	billingBuf.Shutdown()
	_ = httpSrv.Shutdown(ctx)
}

func driverFor(engine string) string {
	if engine == "postgres" {
		return "postgres"
	}
	return "sqlite"
}
