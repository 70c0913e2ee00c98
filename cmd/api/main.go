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
	"github.com/redis/go-redis/v9"

	"gatekey.org/internal/audit"
	"gatekey.org/internal/config"
	"gatekey.org/internal/httpapi"
	"gatekey.org/internal/identity"
	"gatekey.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(os.Getenv("GATEKEY_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.LogRequest(map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"level":  "info",
		"msg":    "starting gatekey-api",
		"config": cfg.Redacted(),
	})

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
	}

	svc, codec := buildService(cfg, db, rdb)

	api := httpapi.New(svc, codec, httpapi.ReadyProbe{DB: db, Redis: rdb}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatekey-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Println("Stopped")
}

// buildService assembles the lifecycle manager. Postgres backs all
// stores; when Redis is configured it takes over token persistence so
// pairs expire on their own.
func buildService(cfg config.Config, db *sql.DB, rdb *redis.Client) (*identity.Service, *identity.Codec) {
	if db == nil {
		log.Fatal("GATEKEY_PG_DSN is required")
	}
	stores := identity.NewPGStores(db)

	var tokens identity.TokenStore = stores.Tokens
	if rdb != nil {
		tokens = identity.NewRedisTokenStore(rdb, cfg.RefreshTTL)
	}

	codec, err := identity.NewCodec([]byte(cfg.SigningKey), cfg.Issuer)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	state := identity.NewStateEvaluator(
		identity.WithLockoutThreshold(cfg.LockoutThreshold),
		identity.WithStalenessWindow(cfg.StalenessWindow),
	)
	snapshots, err := identity.NewSnapshotBuilder(stores.Grants, cfg.SuperUserRole)
	if err != nil {
		log.Fatalf("snapshot builder: %v", err)
	}

	svc, err := identity.NewService(identity.Deps{
		Codec:     codec,
		State:     state,
		Snapshots: snapshots,
		Platforms: stores.Platforms,
		Profiles:  stores.Profiles,
		Tokens:    tokens,
	},
		identity.WithAccessTTL(cfg.AccessTTL),
		identity.WithRefreshTTL(cfg.RefreshTTL),
		identity.WithAudit(audit.NewRecorder()),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	return svc, codec
}
