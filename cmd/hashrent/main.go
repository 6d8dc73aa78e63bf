package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/core-coin/hashrent/internal/accrual"
	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/engine"
	"github.com/core-coin/hashrent/internal/http_api"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/internal/notificator"
	"github.com/core-coin/hashrent/internal/pricing"
	"github.com/core-coin/hashrent/internal/repository"
	"github.com/core-coin/hashrent/internal/settings"
	"github.com/core-coin/hashrent/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "hashrent",
		Usage: "Hashrent rents mining hashrate and accrues the earnings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "storage", Aliases: []string{"s"}, Usage: "Storage driver (postgres or memory)"},
			&cli.IntFlag{Name: "api-port", Usage: "HTTP API port"},
			&cli.DurationFlag{Name: "accrual-period", Usage: "Length of one accrual period"},
			&cli.IntFlag{Name: "accrual-workers", Usage: "Rentals accrued in parallel"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the API, the accrual scheduler and the payment expiry",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "Apply the database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "Roll back every migration"},
				},
				Action: migrate,
			},
			{
				Name:   "accrue",
				Usage:  "Run a single accrual pass and exit",
				Action: accrue,
			},
			{
				Name:  "cleanup",
				Usage: "Remove stale ledger rows",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Value: string(models.CleanupAll), Usage: "failed_payments, old_inactive_rentals, orphan_payouts or all"},
				},
				Action: cleanup,
			},
			{
				Name:   "seed",
				Usage:  "Insert the default miner catalog when it is empty",
				Action: seed,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the environment and applies the flags on top of it.
func loadConfig(c *cli.Context) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("storage") {
		cfg.StorageDriver = c.String("storage")
	}
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("accrual-period") {
		cfg.AccrualPeriod = c.Duration("accrual-period")
	}
	if c.IsSet("accrual-workers") {
		cfg.AccrualWorkers = c.Int("accrual-workers")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %v", err)
	}
	return cfg, log, nil
}

// openRepository connects the configured storage and brings its schema up to date.
func openRepository(cfg *config.Config, log *logger.Logger) (models.Repository, func() error, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("Using in-memory storage, data is lost on exit")
		db := repository.NewMemoryDB()
		return db, db.Close, nil
	case config.StoragePostgres:
		if err := repository.Migrate(cfg.MigrationURL(), log); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %v", err)
		}
		db, err := repository.NewPostgresDB(cfg.DSN(), log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %v", err)
		}
		return db, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// newNotificator wires the alert bot and the SMTP sender when they are configured.
func newNotificator(cfg *config.Config, log *logger.Logger) (*notificator.Notificator, func()) {
	var (
		chat notificator.ChatSender
		mail notificator.MailSender
		stop = func() {}
	)
	if cfg.TelegramBotToken != "" {
		telegram, err := notificator.NewTelegramNotificator(log, cfg.TelegramBotToken)
		if err != nil {
			log.Error("Telegram alerts disabled", "error", err)
		} else {
			chat = telegram
			stop = telegram.Stop
		}
	}
	if cfg.SMTPUser != "" {
		mail = notificator.NewEmailNotificator(log, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPAlternativePort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender)
	}
	notif := notificator.NewNotificator(log.With("component", "notificator"), chat, mail, cfg.TelegramAlertChats)
	return notif, func() {
		notif.Close()
		stop()
	}
}

func serve(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	settingsStore := settings.NewStore(repo, log)
	if err := settingsStore.InitDefaults(ctx); err != nil {
		return fmt.Errorf("failed to initialize settings: %v", err)
	}
	if cfg.StorageDriver == config.StorageMemory {
		if _, err := seedMiners(ctx, repo, log); err != nil {
			return err
		}
	}

	// Initialize pricing oracle
	pricingService := pricing.NewPricingService(log.With("component", "pricing"), cfg)
	pricingService.StartPeriodicUpdate()
	defer pricingService.Stop()

	notif, closeNotif := newNotificator(cfg, log)
	defer closeNotif()

	eng := engine.NewEngine(repo, settingsStore, pricingService, notif, log, cfg)
	eng.Start()
	defer eng.Stop()

	scheduler := accrual.NewScheduler(repo, settingsStore, notif, log, cfg)
	scheduler.Start()
	defer scheduler.Stop()

	var apiServer models.APIServer = http_api.NewHTTPServer(eng, settingsStore, scheduler, cfg, log)
	go apiServer.Start()

	<-ctx.Done()
	log.Info("Shutting down")
	if err := apiServer.Shutdown(); err != nil {
		log.Error("Failed to shut down HTTP server", "error", err)
	}
	return nil
}

func migrate(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.StorageDriver != config.StoragePostgres {
		return fmt.Errorf("migrate requires STORAGE_DRIVER=postgres")
	}
	if c.Bool("down") {
		return repository.MigrateDown(cfg.MigrationURL(), log)
	}
	return repository.Migrate(cfg.MigrationURL(), log)
}

func accrue(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	notif, closeNotif := newNotificator(cfg, log)
	defer closeNotif()

	scheduler := accrual.NewScheduler(repo, settings.NewStore(repo, log), notif, log, cfg)
	result, err := scheduler.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("accrual pass failed: %v", err)
	}
	if result.Skipped {
		log.Info("Accrual pass skipped, another instance holds the lease")
		return nil
	}
	log.Info("Accrual pass finished",
		"run_id", result.Run.RunID,
		"scanned", result.Run.RentalsScanned,
		"accrued", result.Run.RentalsAccrued,
		"completed", result.Run.RentalsCompleted,
		"failed", result.Run.RentalsFailed,
		"total_btc", result.Run.TotalBTC)
	return nil
}

func cleanup(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	kind, err := models.ParseCleanupKind(c.String("type"))
	if err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	notif, closeNotif := newNotificator(cfg, log)
	defer closeNotif()

	eng := engine.NewEngine(repo, settings.NewStore(repo, log), pricing.NewPricingService(log, cfg), notif, log, cfg)
	result, err := eng.RunCleanup(c.Context, kind)
	if err != nil {
		return fmt.Errorf("cleanup failed: %v", err)
	}
	log.Info("Cleanup finished", "type", kind, "deleted", result.Deleted)
	return nil
}

func seed(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := settings.NewStore(repo, log).InitDefaults(c.Context); err != nil {
		return fmt.Errorf("failed to initialize settings: %v", err)
	}
	created, err := seedMiners(c.Context, repo, log)
	if err != nil {
		return err
	}
	log.Info("Seed finished", "miners_created", created)
	return nil
}
