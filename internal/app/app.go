// Package app assembles the SDK for a host process: storage, the identity
// service client, session state, reachability, feature flags and the
// session controller.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aussiebroadwan/hostedauth/internal/controller"
	"github.com/aussiebroadwan/hostedauth/internal/flags"
	"github.com/aussiebroadwan/hostedauth/internal/reachability"
	"github.com/aussiebroadwan/hostedauth/internal/state"
	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/internal/store/keychain"
	"github.com/aussiebroadwan/hostedauth/internal/store/sqlite"
	"github.com/aussiebroadwan/hostedauth/pkg/authsdk"
	"github.com/aussiebroadwan/hostedauth/pkg/cryptox"
	"github.com/aussiebroadwan/hostedauth/pkg/httpx"
	"github.com/aussiebroadwan/hostedauth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	sealInfo = "hostedauth credentials v1"
)

var (
	_ controller.API          = (*authsdk.Client)(nil)
	_ controller.Reachability = (*reachability.Monitor)(nil)
	_ controller.Flags        = (*flags.Cache)(nil)
	_ flags.Fetcher           = (*authsdk.Client)(nil)
)

// Application owns every long-lived component of the SDK.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    *sqlite.Store
	creds store.Credentials

	client     *authsdk.Client
	session    *state.Session
	reach      *reachability.Monitor
	flags      *flags.Cache
	controller *controller.Controller

	// stop cancels the background workers started by Start.
	stop    context.CancelFunc
	workers sync.WaitGroup
}

// Option adjusts an Application before its components are built.
type Option func(*Application)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// WithCredentials replaces the credential store chosen by the configuration.
func WithCredentials(creds store.Credentials) Option {
	return func(app *Application) { app.creds = creds }
}

// New validates cfg and builds the application. Nothing runs until Start.
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{cfg: cfg}
	for _, o := range opts {
		o(app)
	}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "hostedauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  os.Stderr,
		})
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initComponents(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// Start restores the persisted session and starts the background workers.
// The first feature flag load continues in the background until it succeeds
// or the application shuts down.
func (app *Application) Start(ctx context.Context) error {
	app.reach.Start()

	if err := app.controller.Start(ctx); err != nil {
		app.reach.Stop()
		return fmt.Errorf("failed to start session controller: %w", err)
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.stop = cancel

	// Without a persisted snapshot the first load retries until it succeeds
	// or Shutdown cancels it.
	app.workers.Add(1)
	go func() {
		defer app.workers.Done()
		if err := app.flags.Start(wctx); err != nil {
			app.logger.Warn("feature flags not loaded", "error", err)
		}
	}()

	app.logger.Info("hostedauth started",
		"version", BuildVersion,
		"region", app.controller.Region().Key,
	)
	return nil
}

// Run starts the application and blocks until ctx ends or a shutdown signal
// arrives.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case <-ctx.Done():
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
	}

	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown stops the workers and closes storage. It waits at most the
// configured grace period for the workers and the session dispatcher to
// drain.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down hostedauth...")

	if app.stop != nil {
		app.stop()
	}
	app.controller.Close()
	app.reach.Stop()

	drained := make(chan struct{})
	go func() {
		app.workers.Wait()
		app.session.Sync()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(app.cfg.ShutdownGracePeriod):
		app.logger.Warn("session observers did not drain in time")
	}
	app.session.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("hostedauth stopped")
	return nil
}

// Controller returns the session controller.
func (app *Application) Controller() *controller.Controller { return app.controller }

// Session returns the observable session state.
func (app *Application) Session() *state.Session { return app.session }

// Flags returns the feature flag cache.
func (app *Application) Flags() *flags.Cache { return app.flags }

// Reachability returns the network monitor.
func (app *Application) Reachability() *reachability.Monitor { return app.reach }

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// initStorage opens the settings database and picks the credential store.
func (app *Application) initStorage() error {
	if err := os.MkdirAll(app.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	master, err := cryptox.LoadMasterKey(app.cfg.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}
	sealer, err := cryptox.NewSealer(master, sealInfo)
	if err != nil {
		return fmt.Errorf("failed to initialize sealer: %w", err)
	}

	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DataDir), sealer)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.logger.Debug("database migrations applied")

	if app.creds != nil {
		return nil
	}

	if app.cfg.KeyringBackend == KeyringBackendSQLite {
		app.creds = db.Credentials()
		app.logger.Info("credentials stored in sealed database")
		return nil
	}

	ring, err := keychain.Open(keychain.Config{
		ServiceName:  app.serviceName(),
		Backend:      app.cfg.KeyringBackend,
		FileDir:      app.cfg.KeyringFileDir,
		FilePassword: app.cfg.KeyringPassword,
	})
	if err != nil {
		app.logger.Warn("keyring unavailable, using sealed database", "error", err)
		app.creds = db.Credentials()
		return nil
	}
	app.creds = ring
	return nil
}

func (app *Application) initComponents() error {
	first := app.cfg.Regions[0]

	transport := slogx.NewTransport(app.logger, httpx.NewRateLimitedTransport(
		httpx.ParseRateLimitFromEnv("CLIENT", httpx.DefaultLimit),
		http.DefaultTransport,
	))
	app.client = authsdk.NewClient(first.BaseURL, first.ClientID, transport)
	if app.cfg.RequestTimeoutSec > 0 {
		app.client.Timeout = time.Duration(app.cfg.RequestTimeoutSec) * time.Second
	}

	app.session = state.New(app.logger.With("component", "state"))

	probeURL := app.cfg.ProbeURL
	if probeURL == "" {
		probeURL = first.BaseURL
	}
	app.reach = reachability.New(reachability.Config{
		ProbeURL:     probeURL,
		Interval:     app.cfg.ReachabilityInterval,
		ProbeTimeout: app.cfg.ProbeTimeout,
		Logger:       app.logger.With("component", "reachability"),
	})

	settings := app.db.Settings()
	app.flags = flags.New(app.client, settings, first.ClientID, app.logger.With("component", "flags"))

	ctrl, err := controller.New(controller.Config{
		Regions:        app.cfg.Regions,
		BundleID:       app.cfg.BundleID,
		CallbackScheme: app.cfg.CallbackScheme,
		Platform:       app.cfg.Platform,
		StepUpACR:      app.cfg.StepUpACR,
	}, controller.Deps{
		API:          app.client,
		Credentials:  app.creds,
		Settings:     settings,
		Session:      app.session,
		Reachability: app.reach,
		Flags:        app.flags,
		Logger:       app.logger.With("component", "controller"),
	})
	if err != nil {
		app.session.Close()
		return fmt.Errorf("failed to initialize session controller: %w", err)
	}
	app.controller = ctrl

	return nil
}

func (app *Application) serviceName() string {
	if app.cfg.BundleID != "" {
		return app.cfg.BundleID
	}
	return app.cfg.CallbackScheme
}
