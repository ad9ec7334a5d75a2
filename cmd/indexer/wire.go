package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chainforge/evmindex/internal/backfill"
	"github.com/chainforge/evmindex/internal/chainrunner"
	"github.com/chainforge/evmindex/internal/chaintail"
	"github.com/chainforge/evmindex/internal/eventbus"
	"github.com/chainforge/evmindex/internal/filter"
	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/metrics"
	"github.com/chainforge/evmindex/internal/pipeline"
	"github.com/chainforge/evmindex/internal/reorgctl"
	"github.com/chainforge/evmindex/internal/rpcclient"
	"github.com/chainforge/evmindex/internal/runtime"
	"github.com/chainforge/evmindex/internal/status"
	"github.com/chainforge/evmindex/internal/storedb"
	"github.com/chainforge/evmindex/internal/syncer"
	"github.com/chainforge/evmindex/pkg/api"
	"github.com/chainforge/evmindex/pkg/config"
)

// system is every long-lived component the run loop owns, assembled once at
// startup and torn down in reverse order on shutdown.
type system struct {
	cfg *config.Config
	log *logger.Logger

	db          *sql.DB
	dialect     storedb.Dialect
	cache       *indexcache.Cache
	statusStore *status.Store
	publisher   *eventbus.Publisher

	rpcClients []*rpcclient.Client
	runners    []*chainrunner.Runner
	coord      *syncer.Coordinator

	metricsServer *metrics.Server
	apiServer     *api.Server
}

// appliesToChain reports whether a source targets chainID: an empty Chains
// list means every configured chain.
func appliesToChain(src config.SourceConfig, chainID uint64) bool {
	if len(src.Chains) == 0 {
		return true
	}
	for _, id := range src.Chains {
		if id == chainID {
			return true
		}
	}
	return false
}

// buildSystem wires every component the CLI needs from cfg: storage, the
// indexing cache, one chainrunner.Runner per chain, the sync coordinator,
// and the optional API, metrics and event-bus surfaces.
func buildSystem(ctx context.Context, cfg *config.Config, log *logger.Logger) (*system, error) {
	sys := &system{cfg: cfg, log: log}

	db, dialect, err := storedb.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sys.db = db
	sys.dialect = dialect

	sys.statusStore = status.New(db, dialect)
	if err := sys.statusStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure status schema: %w", err)
	}
	if err := backfill.EnsureCoverageSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure coverage schema: %w", err)
	}

	logSources := make([]config.SourceConfig, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Kind != "log" {
			log.Warnf("source %s: kind %q is not yet supported, skipping", src.Name, src.Kind)
			continue
		}
		logSources = append(logSources, src)
	}

	migrations := make([]storedb.Migration, 0, len(logSources))
	for _, src := range logSources {
		migrations = append(migrations, pipeline.MigrationFor(src.Table))
	}
	if err := storedb.Run(log.WithComponent("migrate"), dialect, db, migrations); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	cacheLog := log.WithComponent("cache")
	sys.cache = indexcache.New(indexcache.NewSQLStore(db, dialect), cfg.Cache, cacheLog)
	versionedTables := make([]reorgctl.VersionedTable, 0, len(logSources))
	for _, src := range logSources {
		sys.cache.RegisterTable(pipeline.LogTableSchema(src.Table))
		versionedTables = append(versionedTables, pipeline.VersionedTableFor(src.Table))
	}
	writer := pipeline.NewWriter(sys.cache)

	// maxReorgDepth gates reorgctl.Controller globally; the per-chain depth
	// check already happens in chaintail's own walk-back search (which
	// returns a DeepReorgError before a Reorg call is ever made), so the
	// controller itself is left unbounded here.
	reorgController := reorgctl.New(db, dialect, versionedTables, sys.cache, sys.statusStore, 0, log.WithComponent("reorgctl"))

	if cfg.EventBus.Enabled {
		pub, err := eventbus.New(ctx, cfg.EventBus.URL, cfg.EventBus.SubjectPrefix, log.WithComponent("eventbus"))
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		sys.publisher = pub
	}

	registry := filter.NewChildAddressRegistry()
	evaluator := filter.NewEvaluator(registry)

	for _, chainCfg := range cfg.Chains {
		client, err := rpcclient.Dial(ctx, chainCfg.Name, chainCfg.RPCURL, chainCfg.Retry)
		if err != nil {
			return nil, fmt.Errorf("chain %s: dial rpc: %w", chainCfg.Name, err)
		}
		sys.rpcClients = append(sys.rpcClients, client)

		tail := chaintail.New(chainCfg.ChainID, client, chainCfg.MaxReorgDepth, chainCfg.Finality, chainCfg.FinalityLag)

		var specs []*chainrunner.SourceSpec
		var factories []chainrunner.FactorySpec
		for _, src := range logSources {
			if !appliesToChain(src, chainCfg.ChainID) {
				continue
			}

			lf, err := buildLogFilter(src, chainCfg.ChainID)
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", chainCfg.Name, err)
			}
			evaluator.AddLogFilter(lf)

			if src.FactoryOf != "" {
				factories = append(factories, chainrunner.FactorySpec{
					ParentSourceID: filterID(src.FactoryOf, chainCfg.ChainID),
					Location:       filter.FactoryLocation{Topic: src.FactoryTopic, Offset: src.FactoryOffset},
				})
			}

			coverage := backfill.NewStoreDBCoverageStore(db, dialect, lf.ID)
			bfCfg := backfill.Config{InitialChunkSize: chainCfg.BackfillChunkSize}
			bf := backfill.NewBackfiller(chainCfg.ChainID, addressSlice(lf.Address.Set), topicHashRows(src.Topics), client, coverage, bfCfg, log.WithComponent("backfill"))

			specs = append(specs, &chainrunner.SourceSpec{
				Name:       lf.ID,
				Table:      src.Table,
				StartBlock: src.StartBlock,
				Backfiller: bf,
				Coverage:   coverage,
			})
		}

		runner := chainrunner.New(chainCfg.ChainID, tail, client, client, evaluator, writer, reorgController, specs, registry, factories, log.WithComponent("chainrunner"))
		sys.runners = append(sys.runners, runner)
	}

	sources := make([]syncer.ChainSource, len(sys.runners))
	for i, r := range sys.runners {
		sources[i] = r
	}
	sys.coord = syncer.New(sources, sys.cache, log.WithComponent("syncer"))

	if cfg.Metrics.Enabled {
		sys.metricsServer = metrics.NewServer(&cfg.Metrics, log.WithComponent("metrics"))
	}

	apiCfg := cfg.API
	sys.apiServer = api.NewServer(&apiCfg, db, sys.statusStore, sys.cache, log.WithComponent("api"), nil)

	return sys, nil
}

// run starts every background component, drives the sync coordinator until
// shutdown, and tears everything down in reverse order.
func run(rt *runtime.Coordinator, sys *system) error {
	ctx := rt.Context()
	log := sys.log

	for _, r := range sys.runners {
		runner := r
		go runner.Run(ctx, pollIntervalFor(sys.cfg, runner.ChainID()))
	}

	if sys.metricsServer != nil {
		if err := sys.metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	go func() {
		if err := sys.apiServer.Start(ctx); err != nil {
			log.Errorf("api server stopped: %v", err)
		}
	}()

	go sys.driveCoordinator(ctx)

	<-ctx.Done()
	log.Info("shutting down")
	rt.WaitForDrain()

	if sys.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sys.metricsServer.Stop(shutdownCtx); err != nil {
			log.Warnf("metrics server shutdown: %v", err)
		}
		cancel()
	}

	for _, c := range sys.rpcClients {
		c.Close()
	}
	if sys.publisher != nil {
		sys.publisher.Close()
	}
	if sys.db != nil {
		sys.db.Close()
	}
	return nil
}

// coordinatorPullInterval is how often the sync coordinator is polled for
// the next globally-ordered record. Independent of any chain's own poll
// interval: the coordinator only reorders and reports on records the
// chainrunners have already fetched and persisted.
const coordinatorPullInterval = 500 * time.Millisecond

// defaultPollInterval is used for a chain missing from cfg.Chains, which
// cannot happen in practice since every chainrunner.Runner is built from
// exactly one ChainConfig entry; kept as a safe fallback rather than a panic.
const defaultPollInterval = 4 * time.Second

// driveCoordinator pulls the merged record stream and publishes progress
// notifications. The decoded payload itself (a filter.LogRecord) has
// already been persisted by internal/pipeline on the way in; pulling it
// here only advances each chain's pending queue and the safe/finality
// frontiers eventbus subscribers care about.
func (sys *system) driveCoordinator(ctx context.Context) {
	ticker := time.NewTicker(coordinatorPullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := sys.coord.Pull(ctx)
			if err != nil {
				sys.log.Errorf("syncer: pull: %v", err)
				continue
			}
			if sys.publisher == nil {
				continue
			}
			if result.SafeAdvanced {
				_ = sys.publisher.PublishCheckpoint(ctx, result.Safe)
			}
			if result.FinalityAdvanced {
				_ = sys.publisher.PublishFinality(ctx, result.Finality)
			}
		}
	}
}

func pollIntervalFor(cfg *config.Config, chainID uint64) time.Duration {
	for _, c := range cfg.Chains {
		if c.ChainID == chainID {
			return c.PollInterval.Duration
		}
	}
	return defaultPollInterval
}
