package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/fortysix/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	return cmd
}

func runConfigCheck(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	queries := "not required"
	if cfg.AI.QueryPrefixEnabled {
		queries = cfg.AI.QueryPrefix
	}
	fmt.Fprintf(out, "Config OK (%s)\n", configPath)
	fmt.Fprintf(out, "  Bot:         %s\n", cfg.Bot.Name)
	fmt.Fprintf(out, "  Pairing:     %s\n", cfg.Bot.PairingMethod)
	fmt.Fprintf(out, "  Commands:    %s\n", cfg.Commands.Prefix)
	fmt.Fprintf(out, "  Queries:     %s\n", queries)
	fmt.Fprintf(out, "  Provider:    %s (%s)\n", cfg.AI.Provider, cfg.AI.Model)
	fmt.Fprintf(out, "  History:     %d exchanges\n", cfg.AI.MaxHistory)
	fmt.Fprintf(out, "  Credentials: %s\n", cfg.Credentials.Dir)
	fmt.Fprintf(out, "  Bridge:      %s\n", cfg.Transport.BridgeURL)
	if cfg.Status.Addr != "" {
		fmt.Fprintf(out, "  Status:      http://%s\n", cfg.Status.Addr)
	}
	return nil
}
