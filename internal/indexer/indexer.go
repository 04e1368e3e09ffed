// Package indexer wires every enabled marketplace domain: chain fetchers and listeners,
// the event processor with its handlers, and the scheduled plan reconciliation.
package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/core-coin/speculum/internal/blockchain"
	"github.com/core-coin/speculum/internal/config"
	"github.com/core-coin/speculum/internal/contracts"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/internal/notifier"
	"github.com/core-coin/speculum/internal/processor"
	"github.com/core-coin/speculum/internal/realtime"
	"github.com/core-coin/speculum/internal/repository"
	"github.com/core-coin/speculum/internal/staking"
	"github.com/core-coin/speculum/internal/storage"
	"github.com/core-coin/speculum/internal/transform"
	"github.com/core-coin/speculum/pkg/logger"
	"github.com/core-coin/speculum/pkg/safego"
)

// Services hands out one emitter per named service, e.g. "notifier.providers".
type Services interface {
	Service(name string) models.Emitter
}

// Domain is the wired pipeline of one marketplace vertical.
type Domain struct {
	Name      models.Domain
	Config    config.DomainConfig
	Processor *processor.Processor
	Fetchers  []*blockchain.LogFetcher
	Listeners []*blockchain.Listener

	// Notifier only.
	Updater       *notifier.Updater
	Subscriptions *notifier.Subscriptions
	Providers     *notifier.ProviderHandler
}

// Indexer is the main struct for the speculum application.
// It contains all the necessary components to run the pipeline of every enabled domain.
type Indexer struct {
	logger   *logger.Logger
	config   *config.Config
	db       *repository.PostgresDB
	chain    blockchain.Chain
	api      notifier.ProviderAPI
	services []Services

	domains map[models.Domain]*Domain
	cron    *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	running []<-chan struct{}
}

// NewIndexer builds the pipeline of every enabled domain.
func NewIndexer(
	logger *logger.Logger,
	cfg *config.Config,
	db *repository.PostgresDB,
	chain blockchain.Chain,
	api notifier.ProviderAPI,
	services ...Services,
) (*Indexer, error) {
	ix := &Indexer{
		logger:   logger,
		config:   cfg,
		db:       db,
		chain:    chain,
		api:      api,
		services: services,
		domains:  make(map[models.Domain]*Domain),
	}
	for _, name := range repository.Domains {
		dc, err := cfg.Domain(name)
		if err != nil {
			return nil, err
		}
		if !dc.Enabled {
			continue
		}
		d, err := ix.buildDomain(name, dc)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s domain: %w", name, err)
		}
		ix.domains[name] = d
	}
	return ix, nil
}

// Domain returns the wired domain, or nil when it is disabled.
func (ix *Indexer) Domain(name models.Domain) *Domain {
	return ix.domains[name]
}

// Domains returns the enabled domains in a stable order.
func (ix *Indexer) Domains() []*Domain {
	out := make([]*Domain, 0, len(ix.domains))
	for _, d := range ix.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ix *Indexer) emitter(name string) models.Emitter {
	emitters := make([]models.Emitter, 0, len(ix.services))
	for _, s := range ix.services {
		emitters = append(emitters, s.Service(name))
	}
	return realtime.Fanout(emitters...)
}

func (ix *Indexer) buildDomain(name models.Domain, dc config.DomainConfig) (*Domain, error) {
	log := ix.logger.Named(string(name))
	d := &Domain{Name: name, Config: dc}

	// manager first so its events win on name clashes in the transformer
	contractNames := make([]string, 0, len(dc.Contracts))
	for c := range dc.Contracts {
		contractNames = append(contractNames, c)
	}
	sort.Slice(contractNames, func(i, j int) bool {
		if contractNames[i] == config.ContractManager {
			return true
		}
		if contractNames[j] == config.ContractManager {
			return false
		}
		return contractNames[i] < contractNames[j]
	})

	var abis []abi.ABI
	for _, c := range contractNames {
		parsed, err := contracts.For(name, c)
		if err != nil {
			return nil, err
		}
		abis = append(abis, parsed)
		fetcher := blockchain.NewLogFetcher(log, ix.chain, ix.db.Cursors(), blockchain.Contract{
			Name:          string(name) + "." + c,
			Domain:        name,
			Address:       common.HexToAddress(dc.Contracts[c]),
			Decoder:       blockchain.NewDecoder(parsed),
			StartBlock:    dc.StartBlock,
			BatchSize:     dc.BatchSize,
			Confirmations: dc.Confirmations,
		})
		d.Fetchers = append(d.Fetchers, fetcher)
		d.Listeners = append(d.Listeners, blockchain.NewListener(log, fetcher))
	}

	handlers := []processor.Handler{
		staking.NewHandler(log, ix.db.Stakes(name), ix.config, ix.emitter(string(name)+".stakes")),
	}
	switch name {
	case models.DomainNotifier:
		repo := ix.db.Notifier()
		d.Updater = notifier.NewUpdater(log, name, repo, ix.api, ix.config)
		d.Subscriptions = notifier.NewSubscriptions(log, repo, ix.api)
		d.Providers = notifier.NewProviderHandler(log, repo, ix.emitter("notifier.providers"), d.Updater)
		handlers = append(handlers,
			d.Providers,
			notifier.NewSubscriptionHandler(log, repo, ix.api, ix.config, ix.emitter("notifier.subscriptions")),
		)
	case models.DomainStorage:
		handlers = append(handlers,
			storage.NewOfferHandler(log, ix.db.Storage(), ix.config, ix.emitter("storage.offers")),
		)
	}

	d.Processor = processor.New(log, handlers,
		processor.WithTransformer(transform.New(log, abis...)),
		processor.WithDomain(name),
	)
	return d, nil
}

// Precache drains the history of every enabled domain up to the confirmed head.
func (ix *Indexer) Precache(ctx context.Context) error {
	for _, d := range ix.Domains() {
		fetchers := make([]models.Fetcher, 0, len(d.Fetchers))
		for _, f := range d.Fetchers {
			fetchers = append(fetchers, f)
		}
		log := ix.logger.Named(string(d.Name))
		if err := processor.Precache(ctx, log, d.Processor, processor.LogProgress{Logger: log}, fetchers...); err != nil {
			return err
		}
	}
	return nil
}

// Start precaches, then tails every contract and schedules reconciliation.
// It returns once everything is running; Stop tears it down.
func (ix *Indexer) Start(ctx context.Context) error {
	if err := ix.Precache(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	ix.mu.Lock()
	ix.cancel = cancel
	ix.mu.Unlock()

	for _, d := range ix.Domains() {
		log := ix.logger.Named(string(d.Name))
		reporter := realtime.Confirmations{Emitter: ix.emitter(string(d.Name) + ".confirmations")}
		for _, l := range d.Listeners {
			notifications, err := l.Subscribe(ctx)
			if err != nil {
				cancel()
				return fmt.Errorf("failed to subscribe to %s: %w", l.Name(), err)
			}
			ix.track(safego.Go(ctx, log, "stream "+l.Name(), func(ctx context.Context) error {
				processor.Stream(ctx, log, d.Processor, reporter, notifications)
				return nil
			}))
		}
	}

	return ix.schedule(ctx)
}

func (ix *Indexer) schedule(ctx context.Context) error {
	ix.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{ix.logger})))
	for _, d := range ix.Domains() {
		if d.Updater == nil {
			continue
		}
		updater, log := d.Updater, ix.logger.Named(string(d.Name))
		every := fmt.Sprintf("@every %s", d.Config.Interval())
		if _, err := ix.cron.AddFunc(every, func() {
			safego.Run(ctx, log, "scheduled reconciliation", func(ctx context.Context) error {
				return updater.Update(ctx, "")
			})
		}); err != nil {
			return fmt.Errorf("failed to schedule %s reconciliation: %w", d.Name, err)
		}
		ix.track(safego.Go(ctx, log, "initial reconciliation", func(ctx context.Context) error {
			return updater.Update(ctx, "")
		}))
		log.Infow("Reconciliation scheduled", "every", d.Config.Interval())
	}
	ix.cron.Start()
	return nil
}

func (ix *Indexer) track(done <-chan struct{}) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.running = append(ix.running, done)
}

// Stop stops the scheduler and the listeners and waits for running streams.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	cancel, running := ix.cancel, ix.running
	ix.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ix.cron != nil {
		<-ix.cron.Stop().Done()
	}
	for _, d := range ix.domains {
		for _, l := range d.Listeners {
			if err := l.Close(); err != nil {
				ix.logger.Warnw("Failed to close listener", "contract", l.Name(), "error", err)
			}
		}
	}
	for _, done := range running {
		<-done
	}
	ix.Close()
	ix.logger.Info("Indexer stopped")
}

// Close cancels the reconciliations started by provider registrations and waits for them.
// A precache-only run calls it before the database is closed; Stop calls it too.
func (ix *Indexer) Close() {
	for _, d := range ix.domains {
		if d.Providers != nil {
			d.Providers.Close()
		}
	}
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	logger *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
