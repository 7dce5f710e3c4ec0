package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zulandar/fortysix/internal/config"
	"github.com/zulandar/fortysix/internal/credstore"
)

func newCredsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Inspect or remove the saved WhatsApp session",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")

	cmd.AddCommand(newCredsShowCmd(&configPath))
	cmd.AddCommand(newCredsResetCmd(&configPath))
	return cmd
}

func newCredsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCredsShow(cmd, *configPath)
		},
	}
}

func newCredsResetCmd(configPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the saved session so the next start pairs again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCredsReset(cmd, *configPath, yes)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

// credsDir reads only the credentials directory; the rest of the config may
// still be incomplete when the session needs maintenance.
func credsDir(configPath string) (string, error) {
	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Credentials.Dir, nil
}

func runCredsShow(cmd *cobra.Command, configPath string) error {
	dir, err := credsDir(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !credstore.Exists(dir) {
		fmt.Fprintf(out, "No saved session in %s\n", dir)
		return nil
	}
	st, err := credstore.Inspect(dir)
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Fprintf(out, "No saved session in %s\n", dir)
		return nil
	}
	label := st.Label()
	if label == "" {
		label = "(not assigned yet)"
	}
	fmt.Fprintf(out, "Directory:   %s\n", dir)
	fmt.Fprintf(out, "Session:     %s\n", label)
	fmt.Fprintf(out, "Registered:  %v\n", st.Registered())
	if fi, err := os.Stat(filepath.Join(dir, credstore.KeysFile)); err == nil {
		fmt.Fprintf(out, "Key store:   %s\n", humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}

func runCredsReset(cmd *cobra.Command, configPath string, yes bool) error {
	dir, err := credsDir(configPath)
	if err != nil {
		return err
	}
	if !yes {
		return fmt.Errorf("refusing to delete %s without --yes", dir)
	}
	if err := credstore.Reset(dir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed saved session in %s\n", dir)
	return nil
}
