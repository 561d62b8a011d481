package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lupohub/lupohub/internal/ai"
	"github.com/lupohub/lupohub/internal/auth"
	"github.com/lupohub/lupohub/internal/config"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/handlers"
	"github.com/lupohub/lupohub/internal/integrations"
	"github.com/lupohub/lupohub/internal/inventory"
	"github.com/lupohub/lupohub/internal/marketplace/mercadolibre"
	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/routes"
	"github.com/lupohub/lupohub/internal/worker"
)

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply migrations and exit")
	flag.Parse()

	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file, relying on process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(cfg)

	// 1. --- Migrations ---
	if cfg.RunMigrations || *migrateOnly {
		if err := database.Migrate(cfg.MigrationDSN()); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		if *migrateOnly {
			return
		}
	}

	// 2. --- Main Database Connection (Read/Write) ---
	db, err := database.OpenDB(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	store := database.NewStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. --- Background queue ---
	queue, closeQueue := openQueue(ctx, cfg)
	defer closeQueue()
	recorder := worker.NewSQLRecorder(store)
	pool := worker.NewPool(queue, recorder, cfg.WorkerPoolSize, cfg.SyncMaxRetries)

	// 4. --- Marketplace clients & integrations ---
	tn := tiendanube.NewClient(tiendanube.Config{
		BaseURL:      cfg.TNAPIURL,
		AuthURL:      cfg.TNAuthURL,
		UserAgent:    cfg.TNUserAgent,
		AppID:        cfg.TNAppID,
		ClientSecret: cfg.TNClientSecret,
		RedirectURI:  cfg.TNRedirectURI,
	})
	ml := mercadolibre.NewClient(mercadolibre.Config{
		BaseURL:      cfg.MLAPIURL,
		AuthURL:      cfg.MLAuthURL,
		AppID:        cfg.MLAppID,
		ClientSecret: cfg.MLClientSecret,
		RedirectURI:  cfg.MLRedirectURI,
	})

	creds := integrations.NewCredentialStore(store, cfg.TenantID, ml.OAuthConfig())
	pusher := integrations.NewPusher(store, creds, pool)
	inv := inventory.NewService(store, pusher)
	integrations.NewJobHandlers(creds, tn, ml).Register(pool)

	// 5. --- Assistant (optional) ---
	assistant := openAssistant(ctx, cfg, db)
	if assistant != nil {
		defer assistant.Close()
	}

	app := &handlers.Handlers{
		Store:             store,
		Inventory:         inv,
		Tokens:            auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL()),
		Credentials:       creds,
		OAuth:             integrations.NewOAuth(creds, cfg.JWTSecret, tn.OAuthConfig(), ml.OAuthConfig()),
		Importer:          integrations.NewImporter(creds, tn, integrations.NewMySQLCatalog(store), pusher),
		Webhooks:          integrations.NewWebhooks(creds, tn, ml, integrations.NewSQLVariantLookup(store), inv, cfg.TNClientSecret),
		Marketplaces:      integrations.NewOrders(creds, tn, ml),
		Jobs:              recorder,
		Queue:             queue,
		Assistant:         assistant,
		LowStockThreshold: cfg.LowStockLimit,
	}

	// 6. --- Start ---
	pool.Start(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           routes.SetupRouter(app, cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("LupoHub API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// 7. --- Graceful shutdown ---
	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	pool.Wait()
	log.Info().Msg("bye")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// openQueue prefers Redis and falls back to an in-process queue.
func openQueue(ctx context.Context, cfg *config.Config) (worker.Queue, func()) {
	if cfg.RedisURL != "" {
		q, err := worker.NewRedisQueue(ctx, cfg.RedisURL)
		if err == nil {
			log.Info().Msg("using redis job queue")
			return q, func() { q.Close() }
		}
		log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory queue")
	}
	return worker.NewMemoryQueue(1024), func() {}
}

// openAssistant returns nil when no Gemini key is configured.
func openAssistant(ctx context.Context, cfg *config.Config, primary *sql.DB) *ai.Assistant {
	if cfg.GeminiAPIKey == "" {
		log.Info().Msg("GEMINI_API_KEY not set, assistant disabled")
		return nil
	}
	db := primary
	if cfg.DBReadOnlyDSN != "" {
		ro, err := database.OpenDBWithDSN(cfg.DBReadOnlyDSN, 2)
		if err != nil {
			log.Warn().Err(err).Msg("read-only pool unavailable, assistant uses the main pool")
		} else {
			db = ro
		}
	}
	assistant, err := ai.NewAssistant(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, db)
	if err != nil {
		log.Warn().Err(err).Msg("assistant disabled")
		return nil
	}
	return assistant
}
