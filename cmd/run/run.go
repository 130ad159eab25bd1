package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/internal/app"
)

// Command creates the command that runs the notification daemon.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the notification daemon",
		Long: `Subscribe to the staff member's push topic, keep the notification list and
unseen count in sync with the HR backend, and serve them on the local API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), ctx)
		},
	}

	if err := setupFlags(cmd, ctx); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command, ctx *app.Context) error {
	v := ctx.Viper
	cmd.Flags().String("listen", v.GetString("http.listen"), "Listen address of the local API")
	cmd.Flags().String("transport", v.GetString("broker.transport"), "Push transport: mqtt or stomp")
	cmd.Flags().String("broker", v.GetString("broker.url"), "Push broker URL")
	cmd.Flags().Duration("refresh-interval", v.GetDuration("notifications.refresh_interval"), "Backstop refresh interval, 0 to disable")

	for key, name := range map[string]string{
		"http.listen":                    "listen",
		"broker.transport":               "transport",
		"broker.url":                     "broker",
		"notifications.refresh_interval": "refresh-interval",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
