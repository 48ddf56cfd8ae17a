// internal/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	router "puzzlebounty/internal/api"
	"puzzlebounty/internal/api/handler"
	"puzzlebounty/internal/auth"
	"puzzlebounty/internal/clock"
	"puzzlebounty/internal/config"
	"puzzlebounty/internal/metrics"
	"puzzlebounty/internal/oracle"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/rail/btc"
	"puzzlebounty/internal/rail/card"
	"puzzlebounty/internal/rail/sol"
	"puzzlebounty/internal/service"
	"puzzlebounty/internal/util"
	"puzzlebounty/pkg/db"
)

// Application holds all the initialized components of the application.
type Application struct {
	Config   *config.AppConfig
	Logger   *slog.Logger
	DB       *sqlx.DB // nil with the memory store
	Store    *service.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Rails    *rail.Registry

	// Services
	Deposits    service.DepositService
	Withdrawals service.WithdrawalService
	Puzzles     service.PuzzleService
	Accounts    service.AccountService
	Sweeper     *service.Sweeper

	// HTTP API
	HTTPHandler http.Handler
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration from the environment and initializes all
// application components.
func (app *Application) Initialize(ctx context.Context) error {
	// 1. Initialize Logger
	util.InitLogger()
	app.Logger = util.GetLogger()

	// 2. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.Logger.Info("Application configuration loaded successfully.")
	return app.InitializeWithConfig(ctx, cfg)
}

// InitializeWithConfig initializes all components from cfg.
func (app *Application) InitializeWithConfig(ctx context.Context, cfg *config.AppConfig) error {
	app.Config = cfg
	if app.Logger == nil {
		app.Logger = util.GetLogger()
	}

	// 1. Metrics
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.New(app.Registry)

	// 2. Storage
	if err := app.openStore(); err != nil {
		return err
	}

	// 3. Rails and price oracle
	clk := clock.RealClock{}
	prices := oracle.New(cfg.Oracle, clk, app.Metrics, app.Logger)
	rails, err := buildRails(cfg, prices, app.Logger)
	if err != nil {
		return err
	}
	app.Rails = rail.NewRegistry(rails...)
	app.Logger.Info("Payment rails initialized.", "enabled", app.Rails.Enabled())

	// 4. Initialize Services
	deps := service.Deps{
		Store:   app.Store,
		Rails:   app.Rails,
		Prices:  prices,
		Clock:   clk,
		Metrics: app.Metrics,
		Logger:  app.Logger,
	}
	app.Deposits = service.NewDepositService(deps, cfg.Settings)
	app.Withdrawals = service.NewWithdrawalService(deps, cfg.Settings)
	app.Puzzles = service.NewPuzzleService(deps, cfg.Settings)
	app.Accounts = service.NewAccountService(deps)
	app.Sweeper = service.NewSweeper(deps, cfg.Settings, app.Deposits)
	app.Logger.Info("Services initialized.")

	// 5. Initialize HTTP Handlers and Router
	app.HTTPHandler = router.NewRouter(router.Handlers{
		Accounts:    handler.NewAccountHandler(app.Accounts, app.Logger),
		Deposits:    handler.NewDepositHandler(app.Deposits, app.Logger),
		Withdrawals: handler.NewWithdrawalHandler(app.Withdrawals, app.Logger),
		Puzzles:     handler.NewPuzzleHandler(app.Puzzles, app.Logger),
	}, auth.NewVerifier(cfg.JWTSecret), app.Metrics, app.Registry, app.Logger)
	app.Logger.Info("HTTP router and handlers initialized.")

	return nil
}

func (app *Application) openStore() error {
	if app.Config.StoreDriver == "memory" {
		app.Store = service.NewMemoryStore()
		app.Logger.Warn("Using the in-memory store; data is lost on exit.")
		return nil
	}

	database, err := db.NewPostgresDB(app.Config.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = database
	app.Logger.Info("Database connection established.", "driver", app.Config.DB.Driver)

	if app.Config.AutoMigrate {
		if err := db.Migrate(app.DB.DB); err != nil {
			return err
		}
		app.Logger.Info("Database migrations applied.")
	}
	app.Store = service.NewPostgresStore(app.DB)
	return nil
}

// buildRails constructs the adapters whose credentials are configured.
func buildRails(cfg *config.AppConfig, prices rail.PriceSource, logger *slog.Logger) ([]rail.Adapter, error) {
	var rails []rail.Adapter
	if cfg.Card.Enabled() {
		processor := card.NewStripeProcessor(cfg.Card.SecretKey, cfg.Card.WebhookSecret)
		rails = append(rails, card.New(processor, logger))
	}
	if cfg.BTC.Enabled() {
		esplora := btc.NewEsplora(cfg.BTC.EsploraURL, cfg.Settings.RailTimeout)
		adapter, err := btc.New(esplora, cfg.BTC.Chain, prices, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize utxo-chain rail: %w", err)
		}
		rails = append(rails, adapter)
	}
	if cfg.SOL.Enabled() {
		adapter, err := sol.New(sol.NewRPC(cfg.SOL.RPCURL), cfg.SOL.PlatformKey, prices, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize account-chain rail: %w", err)
		}
		rails = append(rails, adapter)
	}
	return rails, nil
}

// StartWorkers runs the background sweeper until ctx is done.
func (app *Application) StartWorkers(ctx context.Context) {
	go app.Sweeper.Run(ctx)
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", "error", err)
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		app.Logger.Info("Database connection closed.")
	}
	app.Logger.Info("Application shut down gracefully.")
	return nil
}
