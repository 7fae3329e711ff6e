package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crmbase.org/internal/auth"
	"crmbase.org/internal/config"
	"crmbase.org/internal/crm"
	"crmbase.org/internal/httpapi"
	"crmbase.org/internal/obs"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()

	if cfg.PGDSN == "" {
		log.Fatal("missing DSN: set CRMBASE_PG_DSN")
	}
	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	signer, err := auth.NewSigner(
		cfg.AccessSecret, cfg.RefreshSecret, cfg.Issuer, cfg.Audience,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	authSvc, err := auth.NewService(auth.NewPGStore(db), signer, auth.NewPasswordHasher(cfg.BcryptCost))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	// The permission catalog must exist before the first register call.
	ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authSvc.EnsureCatalog(ensureCtx); err != nil {
		log.Fatalf("ensure permission catalog: %v", err)
	}
	cancelEnsure()

	crmSvc, err := crm.NewService(crm.NewPGStore(db))
	if err != nil {
		log.Fatalf("crm service: %v", err)
	}

	api := httpapi.New(
		authSvc, crmSvc,
		httpapi.ReadyProbe{DB: db},
		cfg.Env, version,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting crmbase-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
