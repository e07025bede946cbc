package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blagoySimandov/arqrender/internal/api"
	"github.com/blagoySimandov/arqrender/internal/auth"
	"github.com/blagoySimandov/arqrender/internal/billing"
	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/db"
	"github.com/blagoySimandov/arqrender/internal/logger"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/notify"
	"github.com/blagoySimandov/arqrender/internal/quota"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	cfg := config.Load()
	logger.Configure(cfg.LogLevel)

	bdb, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer bdb.Close()

	catalog, err := billing.LoadCatalog(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load plan catalog")
	}
	stripeClient := billing.NewClient(cfg, catalog)
	if missing := catalog.MissingPriceIDs(); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("stripe price ids not configured; those products cannot be sold")
	}
	if cfg.StripeSecretKey != "" {
		verifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := stripeClient.VerifyCatalog(verifyCtx); err != nil {
			log.Warn().Err(err).Msg("stripe catalog verification failed")
		}
		cancel()
	}

	userRepo := user.NewUserRepository(bdb)
	settingsSvc := settings.NewService(settings.NewBunRepository(bdb), cfg.SettingsCacheTTL)
	userService := user.NewUserService(userRepo, stripeClient, cfg.IsAdmin)

	local := auth.NewLocalProvider(cfg, userService)
	var workos *auth.WorkOSProvider
	if cfg.WorkOSClientID != "" {
		verifier, err := auth.NewJWTVerifier(cfg.WorkOSClientID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load WorkOS JWKS; WorkOS sign-in unavailable")
		} else {
			defer verifier.Close()
		}
		workos = auth.NewWorkOSProvider(cfg, verifier)
	}
	resolver := auth.NewResolver(settingsSvc, providers(workos, local)...)
	log.Info().Str("provider", string(settingsSvc.AuthProvider(context.Background()))).Msg("active auth provider")

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotificationsEnabled() {
		ses, err := notify.NewSESNotifier(context.Background(), cfg)
		if err != nil {
			log.Error().Err(err).Msg("failed to create SES notifier, falling back to log notifier")
		} else {
			notifier = ses
		}
	}

	gate := quota.NewGate(userRepo, notifier)
	reconciler := quota.NewReconciler(userRepo, catalog.Rules())
	adapter := billing.NewAdapter(userRepo, reconciler, catalog)

	router := api.SetupRoutes(api.Router{
		FrontendOrigin: cfg.FE_BASE_URL,
		DB:             bdb,
		Metrics:        promhttp.Handler(),
		Resolver:       resolver,
		Auth:           auth.NewHandlers(resolver, workos, local),
		Users:          userService,
		Subscription:   api.NewSubscriptionHandler(stripeClient, userService, catalog),
		Ledger:         api.NewLedgerHandler(gate, userRepo),
		Admin:          api.NewAdminHandler(settingsSvc, reconciler, userRepo),
		Webhook:        api.NewWebhookHandler(stripeClient, adapter),
	})

	c := cron.New()
	_, err = c.AddFunc(cfg.SweepSchedule, func() {
		runSweep(reconciler)
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("failed to schedule rollover sweep")
	}
	c.Start()

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.ServerAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ServerAddr).Msg("server failed to start")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("addr", cfg.ServerAddr).Msg("server starting")
	if err := serve(srv, ln, sigChan, func() { <-c.Stop().Done() }); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("server stopped")
}

// serve runs srv on ln until stop fires, then runs beforeShutdown and drains
// in-flight requests. It returns only once the drain has finished.
func serve(srv *http.Server, ln net.Listener, stop <-chan os.Signal, beforeShutdown func()) error {
	drained := make(chan error, 1)
	go func() {
		<-stop
		log.Info().Msg("shutting down server")
		beforeShutdown()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		drained <- srv.Shutdown(ctx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-drained
}

func providers(workos *auth.WorkOSProvider, local *auth.LocalProvider) []auth.Provider {
	out := []auth.Provider{local}
	if workos != nil {
		out = append(out, workos)
	}
	return out
}

func runSweep(reconciler *quota.Reconciler) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logging.WithContext(ctx, logging.NewWideEvent("rollover_sweep"))
	defer logging.Emit(ctx)

	rolled, err := reconciler.Sweep(ctx, time.Now().UTC())
	logging.EnrichMetadata(ctx, "rolled_over", rolled)
	if err != nil {
		logging.EnrichError(ctx, err, "sweep")
		log.Error().Err(err).Int("rolled_over", rolled).Msg("rollover sweep finished with errors")
		return
	}
	log.Info().Int("rolled_over", rolled).Msg("rollover sweep finished")
}
