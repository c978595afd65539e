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

	"gatekit.org/internal/audit"
	"gatekit.org/internal/auth"
	"gatekit.org/internal/config"
	"gatekit.org/internal/httpapi"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/session"
	"gatekit.org/internal/stream"
	"gatekit.org/internal/token"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, "")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

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

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var store auth.Store
	var refreshStore token.RefreshStore
	if db != nil {
		store = auth.NewPGStore(db)
		refreshStore = token.NewPGRefreshStore(db)
	} else {
		store = auth.NewMemStore()
		refreshStore = token.NewMemRefreshStore()
	}

	var sessionStore session.Store
	var denylist token.Denylist
	if redisClient != nil {
		sessionStore = session.NewRedisStore(redisClient)
		denylist = token.NewRedisDenylist(redisClient)
	} else {
		mem := session.NewMemStore()
		defer mem.Close()
		sessionStore = mem
		denylist = token.NewMemDenylist()
	}

	events := stream.New()
	recorder := audit.NewRecorder(store, events)

	hasher := &auth.Argon2Hasher{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	}
	registry := auth.NewHasherRegistry(hasher, auth.NewBcryptHasher())

	credentials, err := auth.NewCredentialService(store, registry, auth.WithAudit(recorder.Record))
	if err != nil {
		log.Fatalf("credential service: %v", err)
	}
	engine := auth.NewEngine(store)

	sessions, err := session.NewManager(sessionStore, session.WithIdleTimeout(cfg.SessionIdleTimeout))
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	tokenOpts := []token.Option{
		token.WithIssuer(cfg.TokenIssuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
		token.WithDenylist(denylist),
		token.WithRefreshStore(refreshStore),
		token.WithPrincipalResolver(func(ctx context.Context, identityID string) ([]string, []string, error) {
			principal, err := engine.Principal(ctx, identityID)
			if err != nil {
				return nil, nil, err
			}
			return principal.Roles, principal.PermissionKeys(), nil
		}),
	}
	if cfg.TokenSecret != "" {
		tokenOpts = append(tokenOpts, token.WithHS256Secret(cfg.TokenSecret))
	} else {
		tokenOpts = append(tokenOpts, token.WithRS256Keys(cfg.TokenPrivateKey, cfg.TokenPublicKey))
	}
	tokens, err := token.NewService(tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := auth.Seed(seedCtx, store, cfg.BootstrapAdmin); err != nil {
		log.Fatalf("seed: %v", err)
	}
	cancelSeed()

	api := httpapi.New(httpapi.Deps{
		Store:       store,
		Credentials: credentials,
		Engine:      engine,
		Sessions:    sessions,
		Tokens:      tokens,
		Events:      events,
		Recorder:    recorder,
		ReadyProbe:  httpapi.ReadyProbe{DB: db, Redis: redisClient},
		Version:     version,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatekit-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Println("Stopped")
}
