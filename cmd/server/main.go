/*
main.go - Application entry point

PURPOSE:
  Starts the credit ledger server: client API, partner webhook and the
  reservation reclaimer, supervised by suture.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML file, environment, flags)
  2. Initialize logging
  3. Open the SQLite store (migrations run on open)
  4. Optionally seed the catalog
  5. Build the engine, ingestor, reclaimer and router
  6. Run the HTTP server and the reclaimer under one supervisor

COMMAND-LINE FLAGS:
  -config  YAML config file (default: $CONFIG_PATH or ./config.yaml)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database
  -seed    Seed the catalog on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the supervisor context is cancelled:
  1. The HTTP server stops accepting connections and drains
  2. The reclaimer finishes its current sweep
  3. The database connection is closed

EXAMPLES:
  BITLABS_SECRET=... JWT_SECRET=... ./server -db=./data/credits.db -seed
  ./server -config=/etc/earnly/config.yaml -port=3000

SEE ALSO:
  - config/config.go: configuration keys and environment names
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/earnly/credit-engine/api"
	"github.com/earnly/credit-engine/catalog"
	"github.com/earnly/credit-engine/config"
	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/reclaimer"
	"github.com/earnly/credit-engine/redemption"
	"github.com/earnly/credit-engine/store/sqlite"
	"github.com/earnly/credit-engine/webhook"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seed := flag.Bool("seed", false, "Seed the catalog on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *seed {
		cfg.Catalog.SeedOnStart = true
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Server stopped with error")
	}
	logging.Info().Msg("Server stopped")
}

func run(cfg *config.Config) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		if cat, err = catalog.Load(cfg.Catalog.Path); err != nil {
			return err
		}
	}
	if cfg.Catalog.SeedOnStart {
		report, err := catalog.Seed(ctx, store, cat, store.Now())
		if err != nil {
			return err
		}
		logging.Info().Int("rewards", report.Rewards).Msg("Catalog seeded")
	}

	if cfg.Webhook.Secret == "" && cfg.Webhook.ServerKey == "" {
		logging.Warn().Msg("No partner keys configured, every webhook will be rejected")
	}
	if cfg.Auth.JWTSecret == "" {
		logging.Warn().Msg("No JWT secret configured, every API call will be rejected")
	}

	ingestor := webhook.NewIngestor(store, webhook.WithMaxCredits(ledger.Credits(cfg.Webhook.MaxCredits)))
	recl := reclaimer.New(store, reclaimer.Config{
		Interval: cfg.Reclaimer.Interval,
		Timeout:  cfg.Reclaimer.Timeout,
	})
	handler := api.NewHandler(api.Deps{
		Store:     store,
		Engine:    redemption.NewEngine(store),
		Reclaimer: recl,
		Ingestor:  ingestor,
		Catalog:   &cat,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		Auth:       api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		AdminToken: cfg.Auth.AdminToken,
		Webhook: webhook.NewHandler(ingestor, webhook.HandlerConfig{
			Keys:       webhook.Keys{Secret: cfg.Webhook.Secret, Server: cfg.Webhook.ServerKey},
			Source:     cfg.Webhook.Source,
			MaxBody:    cfg.Webhook.MaxBody,
			AllowDebug: cfg.Webhook.AllowDebug,
		}),
		CORSOrigins:      cfg.Server.CORSOrigins,
		RateLimit:        cfg.Server.RateLimit,
		WebhookRateLimit: cfg.Webhook.RateLimit,
		TrustedProxies:   cfg.Server.TrustedProxies,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger(logging.Component("supervisor"))}).MustHook()
	root := suture.New("credit-engine", suture.Spec{
		EventHook: hook,
		Timeout:   cfg.Server.ShutdownTimeout,
	})
	root.Add(api.NewService(server, cfg.Server.ShutdownTimeout))
	root.Add(recl)

	logging.Info().Str("addr", server.Addr).Str("db", cfg.Database.Path).Msg("Server starting")
	return root.Serve(ctx)
}
