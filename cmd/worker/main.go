package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-notifier/internal/config"
	"storefront-notifier/internal/gateway"
	"storefront-notifier/internal/ingest"
	"storefront-notifier/internal/media"
	"storefront-notifier/internal/queue"
	"storefront-notifier/internal/store"
	"storefront-notifier/internal/telemetry"
	"storefront-notifier/internal/tenant"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	var signer *media.Signer
	if cfg.MediaBucket != "" {
		signer, err = media.NewSigner(ctx, cfg.MediaBucket, cfg.MediaRegion, 15*time.Minute)
		if err != nil {
			log.Fatalf("init media signer: %v", err)
		}
	}

	tenants := tenant.NewPostgresStore(st.Pool())
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIVersion, cfg.FallbackLinkBase, cfg.DeliveryTimeout)
	manager := queue.NewManager(cfg, st, tenants, gw, signer)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	if cfg.KafkaBrokers != "" {
		consumer := ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, manager)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ingest stopped: %v", err)
			}
		}()
	}

	// Periodic purge of terminal jobs past the retention window.
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		retention := time.Duration(cfg.CleanupRetentionHours) * time.Hour
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := manager.Cleanup(ctx, retention)
				if err != nil {
					log.Printf("cleanup sweep: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("cleanup removed %d terminal jobs", removed)
				}
			}
		}
	}()

	log.Printf("worker started poll=%s max_attempts=%d backoff_base=%s", cfg.WorkerPollInterval, cfg.MaxAttempts, cfg.BackoffBase)
	if err := manager.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
