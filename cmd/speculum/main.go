package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/core-coin/speculum/internal/blockchain"
	"github.com/core-coin/speculum/internal/config"
	"github.com/core-coin/speculum/internal/http_api"
	"github.com/core-coin/speculum/internal/indexer"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/notificator"
	"github.com/core-coin/speculum/internal/notifier"
	"github.com/core-coin/speculum/internal/realtime"
	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "speculum",
		Usage: "Speculum indexes marketplace contracts and serves their state",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "blockchain-service-url", Aliases: []string{"b"}, Usage: "Blockchain node websocket URL"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Marketplace YAML file"},
			&cli.IntFlag{Name: "api-port", Usage: "HTTP API port"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Precache, then tail the chain and serve the API",
				Action: start,
			},
			{
				Name:   "precache",
				Usage:  "Process the contract history up to the confirmed head and exit",
				Action: precache,
			},
			{
				Name:  "purge",
				Usage: "Delete every row a domain owns, cursors included",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "domain", Usage: "Domain to purge (notifier, storage); all when unset"},
				},
				Action: purge,
			},
		},
		DefaultCommand: "start",
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	// Marketplace file first, then environment variables
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
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
	if c.IsSet("blockchain-service-url") {
		cfg.BlockchainServiceURL = c.String("blockchain-service-url")
	}
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds what every command needs.
type app struct {
	cfg *config.Config
	log *logger.Logger
	db  *repository.PostgresDB
}

func setup(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize database
	db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warnw("Failed to close database", "error", err)
	}
	_ = a.log.Sync()
}

func (a *app) indexer(ctx context.Context, services ...indexer.Services) (*indexer.Indexer, *blockchain.Client, error) {
	chain := blockchain.NewClient(a.cfg.BlockchainServiceURL, a.log.Named("chain"))
	if err := chain.Connect(ctx); err != nil {
		return nil, nil, err
	}
	api := notifier.NewClient(a.log.Named("provider-api"), a.cfg.ProviderTimeout, a.cfg.ProviderRateLimit)

	ix, err := indexer.NewIndexer(a.log, a.cfg, a.db, chain, api, services...)
	if err != nil {
		chain.Close()
		return nil, nil, err
	}
	return ix, chain, nil
}

func start(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(a.log.Named("realtime"))
	services := []indexer.Services{hub}
	if a.cfg.TelegramBotToken != "" {
		tg, err := notificator.NewTelegramNotificator(a.log.Named("telegram"), a.cfg.TelegramBotToken, a.cfg.TelegramChatID)
		if err != nil {
			return err
		}
		go tg.Run(ctx)
		services = append(services, tg)
	}

	ix, chain, err := a.indexer(ctx, services...)
	if err != nil {
		return err
	}
	defer chain.Close()

	var subs http_api.SubscriptionService
	if d := ix.Domain(models.DomainNotifier); d != nil {
		subs = d.Subscriptions
	}
	apiServer := http_api.NewHTTPServer(a.log.Named("http"), a.cfg.APIPort, a.db, subs, hub)
	go apiServer.Start()

	if err := ix.Start(ctx); err != nil {
		ix.Stop()
		_ = apiServer.Shutdown()
		return fmt.Errorf("failed to start indexer: %w", err)
	}

	<-ctx.Done()
	a.log.Info("Shutting down...")
	ix.Stop()
	return apiServer.Shutdown()
}

func precache(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, chain, err := a.indexer(ctx)
	if err != nil {
		return err
	}
	defer chain.Close()
	defer ix.Close()
	return ix.Precache(ctx)
}

func purge(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	domains := repository.Domains
	if names := c.StringSlice("domain"); len(names) > 0 {
		domains = nil
		for _, n := range names {
			domains = append(domains, models.Domain(n))
		}
	}
	for _, d := range domains {
		if err := a.db.Purge(c.Context, d); err != nil {
			return err
		}
		a.log.Infow("Purged domain", "domain", d)
	}
	return nil
}
