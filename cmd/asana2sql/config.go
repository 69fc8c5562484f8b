package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/asana2sql/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "setup",
		Short:   "Show or create configuration",
	}
	cmd.AddCommand(newConfigShowCmd(a), newConfigInitCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (token redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgUsed != "" {
				fmt.Fprintf(a.stdout, "# %s\n", a.cfgUsed)
			}
			return config.Render(a.stdout, a.cfg, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", config.FormatTOML, "toml or yaml")
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file interactively",
		Long: `Ask for the project id, the task source, credentials and the database,
then write them to a TOML config file readable only by you. Needs an
interactive terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.RunWizard(*a.cfg)
			if errors.Is(err, config.ErrNotInteractive) {
				return fmt.Errorf("%w; write %s by hand (see 'asana2sql config show')", err, path)
			}
			if err != nil {
				return err
			}
			if err := config.WriteFile(path, cfg, force); err != nil {
				return err
			}
			a.printer.Success("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "asana2sql.toml", "file to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
