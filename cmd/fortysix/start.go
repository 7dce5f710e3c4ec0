package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zulandar/fortysix/internal/bot"
	"github.com/zulandar/fortysix/internal/bot/bridge"
	"github.com/zulandar/fortysix/internal/completion"
	"github.com/zulandar/fortysix/internal/config"
	"github.com/zulandar/fortysix/internal/credstore"
	"github.com/zulandar/fortysix/internal/metrics"
)

func newStartCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bot",
		Long:  "Connects through the WhatsApp bridge, pairs if needed, and answers messages until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Log, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	prompt, err := cfg.ResolveSystemPrompt()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Info("shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	client, err := completion.New(ctx, completion.Config{
		Provider:          cfg.AI.Provider,
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		Model:             cfg.AI.Model,
		Timeout:           cfg.AI.Timeout(),
		Temperature:       cfg.AI.Temperature,
		MaxTokens:         cfg.AI.MaxTokens,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	store, err := credstore.Open(credstore.Opts{Dir: cfg.Credentials.Dir, Logger: log})
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := bridge.New(bridge.Opts{URL: cfg.Transport.BridgeURL, Logger: log})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	useColor(out)
	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		Config:        cfg,
		Transport:     transport,
		Store:         store,
		Client:        client,
		SystemPrompt:  prompt,
		Version:       Version,
		OnPairingCode: func(code string) { printPairingCode(out, code) },
		OnQR:          func(code string) { printQR(out, code) },
		OnOpen:        func(info bot.OpenInfo) { printOnline(out, info) },
		Metrics:       metrics.New(),
		Logger:        log,
	})
	if err != nil {
		return err
	}

	err = daemon.Run(ctx)
	switch {
	case errors.Is(err, bot.ErrLoggedOut):
		printLoggedOut(out, cfg.Credentials.Dir)
		return nil
	case err != nil:
		log.Error("stopped", zap.Error(err))
		return err
	}
	return nil
}
