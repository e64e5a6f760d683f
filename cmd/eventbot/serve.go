package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hurttlocker/eventbot/internal/bot"
	"github.com/hurttlocker/eventbot/internal/config"
	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/observe"
)

func runServe(args []string) error {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, err := resolveConfig(config.ForServe)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.metrics = observe.NewMetrics()
	if addr := cfg.MetricsAddr.Value; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr); err != nil {
				a.logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
		a.logger.Info("metrics listening", "addr", addr)
	}

	if err := a.openStores(); err != nil {
		return err
	}
	if err := a.openProvider(); err != nil {
		return err
	}
	engine := a.engine(a.extractor(), a.reconciler(ctx))

	client := connect.NewTelegramClient(cfg.TelegramToken.Value)
	b := bot.New(client, engine, a.logger, bot.WithOffsets(a.ledger))

	a.logger.Info("eventbot starting",
		"version", version,
		"llm", a.provider.Name(),
		"store", cfg.StoreBackend.Value,
		"db", cfg.DBPath.Value,
	)
	return b.Run(ctx)
}
