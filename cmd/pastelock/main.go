package main

import (
	"context"
	"encoding/base64"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pastelock/cfg"
	"pastelock/pkg/secrets"
	"pastelock/svc/api"
	"pastelock/svc/auth"
	"pastelock/svc/cache"
	"pastelock/svc/db"
	"pastelock/svc/gate"
	"pastelock/svc/geo"
	"pastelock/svc/keys"
	"pastelock/svc/lim"
	"pastelock/svc/svc"
	"pastelock/svc/util"
	"pastelock/svc/views"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		dbPath := os.Getenv("DATABASE_PATH")
		if dbPath == "" {
			dbPath = "pastelock.db"
		}
		sqlDB, err := db.NewSQLite(dbPath)
		if err != nil {
			os.Exit(1)
		}
		defer sqlDB.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 1*time.Second)
		defer pingCancel()
		if err := sqlDB.DB().PingContext(pingCtx); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting pastelock API")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var provider *secrets.Adapter
	if c.PepperFromStore || c.AdminTokenFromStore {
		provider, err = secrets.NewAdapter(ctx)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize secrets provider")
		}
	}

	var pepper []byte
	if c.PepperFromStore {
		pepperB64, err := provider.GetSecret(ctx, "ARGON2_PEPPER")
		if err != nil {
			util.Fatal().Err(err).Msg("failed to load pepper from secret store")
		}
		pepper, err = base64.StdEncoding.DecodeString(pepperB64)
		if err != nil {
			util.Fatal().Err(err).Msg("invalid pepper format")
		}
	} else {
		pepper = []byte(c.Pepper.Value())
	}
	if len(pepper) < 32 {
		util.Wipe(pepper)
		util.Fatal().Int("length", len(pepper)).Msg("pepper too short, must be >= 32 bytes")
	}

	if c.AdminTokenFromStore {
		token, err := provider.GetSecret(ctx, "ADMIN_TOKEN")
		if err != nil {
			util.Wipe(pepper)
			util.Fatal().Err(err).Msg("failed to load admin token from secret store")
		}
		c.AdminToken = cfg.NewSecret(token)
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Wipe(pepper)
		util.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(db.RedisOptions{
			URL:      c.RedisURL,
			TLS:      c.RedisTLS,
			Username: c.RedisUsername,
			Password: c.RedisPassword.Value(),
			Timeout:  c.RedisTimeout,
		})
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, pepper)
	if err != nil {
		util.Wipe(pepper)
		util.Fatal().Err(err).Msg("failed to initialize hasher")
	}
	defer hasher.Close()

	geoClient := geo.NewClient(c.GeoTimeout, c.GeoCacheTTL, geo.WithEndpoint(c.GeoEndpoint))
	defer geoClient.Close()
	util.Info().Str("endpoint", c.GeoEndpoint).Msg("geolocation client initialized")

	keysSvc := keys.NewService(sqlDB)
	accessGate := gate.New(keysSvc, hasher)

	recorder := views.NewRecorder(sqlDB, geoClient, c.ViewWorkerCount, c.ViewQueueSize, c.GeoTimeout)
	util.Info().Int("workers", c.ViewWorkerCount).Int("queue", c.ViewQueueSize).Msg("view recorder initialized")

	pasteSvc := svc.NewPaste(sqlDB, lruCache, rdb, hasher, accessGate, recorder, c)
	aggregator := views.NewAggregator(sqlDB)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.CreateLimit, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, api.Deps{
		Paste:     pasteSvc,
		Keys:      keysSvc,
		Analytics: aggregator,
		Limiter:   limiter,
		DB:        sqlDB,
		Redis:     rdb,
	})

	if err := svc.StartCleaner(ctx, sqlDB, c.CleanupInterval); err != nil {
		util.Error().Err(err).Msg("failed to start cleaner")
	} else {
		util.Info().Msg("expired paste cleanup worker started")
	}

	go func() {
		util.Info().Msg("starting pprof server on :6060")
		if err := http.ListenAndServe(":6060", nil); err != nil {
			util.Warn().Err(err).Msg("pprof server failed")
		}
	}()

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}
