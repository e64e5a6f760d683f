package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hurttlocker/eventbot/internal/config"
	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/extract"
	"github.com/hurttlocker/eventbot/internal/ingest"
	"github.com/hurttlocker/eventbot/internal/lifecycle"
	"github.com/hurttlocker/eventbot/internal/llm"
	"github.com/hurttlocker/eventbot/internal/observe"
	"github.com/hurttlocker/eventbot/internal/reconcile"
	"github.com/hurttlocker/eventbot/internal/store"
)

// app holds the components a subcommand is built from. Fields are nil when
// the subcommand did not ask for them.
type app struct {
	cfg     config.ResolvedConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	ledger   *store.SQLiteStore
	records  reconcile.Store
	notion   *connect.NotionStore
	provider llm.Provider
	gate     *reconcile.RedisGate
}

func resolveConfig(purpose string) (config.ResolvedConfig, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:     globalConfigPath,
		CLILLM:         globalLLM,
		CLIDBPath:      globalDBPath,
		CLIStore:       globalStore,
		CLIMetricsAddr: globalMetricsAddr,
	})
	if err != nil {
		return cfg, fmt.Errorf("resolving config: %w", err)
	}
	if err := cfg.ValidateFor(purpose); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newApp(cfg config.ResolvedConfig) *app {
	return &app{cfg: cfg, logger: setupLogger(cfg.Env.Value)}
}

// openStores opens the SQLite ledger and the configured record store.
func (a *app) openStores() error {
	s, err := store.NewStore(store.StoreConfig{DBPath: a.cfg.DBPath.Value})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.ledger = s

	switch a.cfg.StoreBackend.Value {
	case "sqlite":
		a.records = s
	default:
		a.notion = connect.NewNotionStore(a.cfg.NotionToken.Value, a.cfg.NotionDatabaseID.Value)
		a.records = a.notion
	}
	return nil
}

func (a *app) openProvider() error {
	llmCfg, err := llm.ParseLLMFlag(a.cfg.LLM.Value)
	if err != nil {
		return err
	}
	llmCfg.APIKey = a.cfg.LLMKey().Value
	p, err := llm.NewProvider(llmCfg)
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	a.provider = p
	return nil
}

func (a *app) extractor() *extract.Extractor {
	opts := []extract.Option{extract.WithObserver(a.metrics)}
	if a.cfg.FetchLinks {
		opts = append(opts, extract.WithLinkFetcher(extract.NewLinkFetcher()))
	}
	return extract.NewExtractor(a.provider, a.logger, opts...)
}

func (a *app) reconciler(ctx context.Context) *reconcile.Reconciler {
	opts := []reconcile.Option{
		reconcile.WithColumns(a.cfg.Columns),
		reconcile.WithScanPages(a.cfg.ScanPages),
		reconcile.WithObserver(a.metrics),
	}
	if addr := a.cfg.RedisAddr.Value; addr != "" {
		g := reconcile.NewRedisGate(addr, 30*time.Second, a.logger)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := g.Ping(pingCtx)
		cancel()
		if err != nil {
			a.logger.Warn("redis unavailable, using in-process gate", "addr", addr, "error", err)
			_ = g.Close()
		} else {
			a.gate = g
			opts = append(opts, reconcile.WithGate(g))
		}
	}
	return reconcile.New(a.records, a.logger, opts...)
}

func (a *app) engine(ex *extract.Extractor, rc *reconcile.Reconciler) *ingest.Engine {
	return ingest.NewEngine(ex, rc, a.logger,
		ingest.WithLedger(a.ledger),
		ingest.WithObserver(a.metrics),
		ingest.WithSkipOnExtractFailure(a.cfg.SkipOnExtractFailure),
	)
}

func (a *app) runner() *lifecycle.Runner {
	return lifecycle.NewRunner(a.records, a.cfg.Columns, a.provider, a.logger)
}

func (a *app) Close() {
	if a.gate != nil {
		_ = a.gate.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
}
