package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"salonora.app/internal/audit"
	"salonora.app/internal/auth"
	"salonora.app/internal/httpapi"
	"salonora.app/internal/obs"
	"salonora.app/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SALONORA_COMMIT"))

	dsn := os.Getenv("SALONORA_PG_DSN")
	if dsn == "" {
		log.Fatal("missing SALONORA_PG_DSN")
	}
	secret := os.Getenv("SALONORA_AUTH_SECRET")
	if len(secret) < 32 {
		log.Fatal("SALONORA_AUTH_SECRET must be at least 32 bytes")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	issuer, err := auth.NewTokenIssuer(store, []byte(secret),
		auth.WithAccessTTL(envDuration("SALONORA_ACCESS_TTL", 15*time.Minute)),
		auth.WithRefreshTTL(envDuration("SALONORA_REFRESH_TTL", 7*24*time.Hour)),
		auth.WithIssuerEvents(audit.Event),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	lockout := auth.NewLockoutTracker(store,
		auth.WithLockThreshold(envInt("SALONORA_LOCK_THRESHOLD", 5)),
		auth.WithLockDuration(envDuration("SALONORA_LOCK_DURATION", 15*time.Minute)),
		auth.WithLockoutEvents(audit.Event),
	)
	gate := auth.NewAuthenticationGate(store, lockout, issuer,
		auth.WithGateEvents(audit.Event))
	rotator := auth.NewTokenRotationEngine(store, issuer,
		auth.WithRotationEvents(audit.Event))
	tenants := auth.NewTenantContextManager(store,
		auth.WithTenantEvents(audit.Event))

	api := httpapi.New(gate, rotator, tenants, store, httpapi.ReadyProbe{DB: store.DB()}, version)

	srv := &http.Server{
		Addr:              envString("SALONORA_HTTP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting salonora-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
