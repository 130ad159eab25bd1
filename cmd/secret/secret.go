// Package secret implements commands that manage keyring items referenced
// from notifyd.yaml as keyring:<key>.
package secret

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/internal/app"
)

// Command creates the secret command.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials stored in the OS keyring",
	}

	var value string
	set := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a credential, read from stdin unless --value is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("value") {
				v, err := readValue(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return fmt.Errorf("refusing to store an empty value for %s", args[0])
			}
			if err := ctx.Secrets.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s, reference it as keyring:%s\n", args[0], args[0])
			return nil
		},
	}
	set.Flags().StringVar(&value, "value", "", "Credential value (visible in shell history)")

	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Remove a stored credential",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := ctx.Secrets.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

// readValue reads the first line of r.
func readValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
