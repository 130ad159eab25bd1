// Package config implements the config command and its subcommands.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/internal/app"
	"github.com/hrconsole/notifyd/internal/conf"
)

// Command creates the config command. Settings are loaded without
// validation so broken files can be inspected.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect notifyd configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with credentials redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out, err := conf.EffectiveYAML(ctx.Viper)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "default",
			Short: "Print an annotated default notifyd.yaml",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprint(cmd.OutOrStdout(), conf.DefaultConfigYAML())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and resolve credential references",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := conf.ValidateSettings(ctx.Settings); err != nil {
					return err
				}
				if err := ctx.ResolveSecrets(ctx.Settings); err != nil {
					return err
				}
				if used := ctx.Viper.ConfigFileUsed(); used != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", used)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no config file found, defaults and environment: ok")
				}
				return nil
			},
		},
	)
	return cmd
}
