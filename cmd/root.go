package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/cmd/config"
	"github.com/hrconsole/notifyd/cmd/list"
	"github.com/hrconsole/notifyd/cmd/markread"
	"github.com/hrconsole/notifyd/cmd/pushtest"
	"github.com/hrconsole/notifyd/cmd/run"
	"github.com/hrconsole/notifyd/cmd/secret"
	"github.com/hrconsole/notifyd/cmd/version"
	"github.com/hrconsole/notifyd/internal/app"
)

// skipValidation marks commands that load settings without validating them.
const skipValidation = "skip-validation"

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) (*cobra.Command, error) {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "notifyd",
		Short:        "HR console live notification daemon",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to notifyd.yaml (default: search ., ~/.config/notifyd, /etc/notifyd)")
	if err := setupFlags(rootCmd, ctx); err != nil {
		return nil, err
	}

	configCmd := config.Command(ctx)
	secretCmd := secret.Command(ctx)
	versionCmd := version.Command(ctx)
	configCmd.Annotations = map[string]string{skipValidation: "true"}
	secretCmd.Annotations = map[string]string{skipValidation: "true"}

	rootCmd.AddCommand(
		run.Command(ctx),
		list.Command(ctx),
		markread.Command(ctx),
		pushtest.Command(ctx),
		configCmd,
		secretCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return ctx.Load(configFile, !skipsValidation(cmd))
	}

	return rootCmd, nil
}

// skipsValidation reports whether cmd or one of its parents is annotated
// with skipValidation.
func skipsValidation(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipValidation] == "true" {
			return true
		}
	}
	return false
}

// setupFlags defines flags that are global to the command line interface and
// binds them to their settings keys.
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) error {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", ctx.Viper.GetString("logging.level"), "Log level: trace, debug, info, warn, error")
	flags.String("log-format", ctx.Viper.GetString("logging.format"), "Log format: text or json")
	flags.String("staff-id", ctx.Viper.GetString("session.staff_id"), "Signed-in staff member id")
	flags.String("api-url", ctx.Viper.GetString("api.base_url"), "HR backend REST root")

	for key, name := range map[string]string{
		"logging.level":    "log-level",
		"logging.format":   "log-format",
		"session.staff_id": "staff-id",
		"api.base_url":     "api-url",
	} {
		if err := ctx.Viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
