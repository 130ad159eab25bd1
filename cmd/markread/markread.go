// Package markread implements the command that marks notifications read.
package markread

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/internal/app"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/notification"
	"github.com/hrconsole/notifyd/internal/unseen"
)

// Marker is the part of the engine the command drives.
type Marker interface {
	Refresh(ctx context.Context) (notification.Snapshot, error)
	Get(id string) (notification.Notification, bool)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	UnseenCount() int
}

// Command creates the mark-read command.
func Command(ctx *app.Context) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "mark-read [id...]",
		Short: "Mark notifications read on the HR backend",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all does not take notification ids")
			}
			if !all && len(args) == 0 {
				return fmt.Errorf("requires at least one notification id, or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.NewBackend(nil)
			if err != nil {
				return err
			}
			defer client.Close()

			engine, err := ctx.NewEngine(client, unseen.New(), nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			return Run(cmd.Context(), cmd.OutOrStdout(), engine, args, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Mark every unread notification read")
	return cmd
}

// Run loads the snapshot and marks ids read, or every unread entry when all
// is set. Unknown ids are reported and skipped.
func Run(ctx context.Context, out io.Writer, m Marker, ids []string, all bool) error {
	if _, err := m.Refresh(ctx); err != nil {
		return err
	}

	if all {
		err := m.MarkAllRead(ctx)
		fmt.Fprintf(out, "%d unseen\n", m.UnseenCount())
		return err
	}

	var errs []error
	for _, id := range ids {
		n, ok := m.Get(id)
		switch {
		case !ok:
			fmt.Fprintf(out, "%s: not found\n", id)
			errs = append(errs, fmt.Errorf("notification %s not found", id))
			continue
		case n.IsRead:
			fmt.Fprintf(out, "%s: already read\n", id)
			continue
		}
		if err := m.MarkRead(ctx, id); err != nil {
			fmt.Fprintf(out, "%s: %v\n", id, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "%s: read\n", id)
	}
	fmt.Fprintf(out, "%d unseen\n", m.UnseenCount())
	return errors.Join(errs...)
}
