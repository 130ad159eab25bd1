// Package list implements the command that prints the notification list.
package list

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/internal/app"
	"github.com/hrconsole/notifyd/internal/notification"
	"github.com/hrconsole/notifyd/internal/unseen"
)

const (
	timeLayout   = "2006-01-02 15:04"
	noTimeMarker = "-"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	unreadStyle = lipgloss.NewStyle().Bold(true)
	readStyle   = lipgloss.NewStyle().Faint(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	idStyle     = lipgloss.NewStyle().Width(12)
	timeStyle   = lipgloss.NewStyle().Width(18)
	countStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

// Command creates the command that fetches and prints the unread list.
func Command(ctx *app.Context) *cobra.Command {
	var (
		asJSON     bool
		unreadOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the notification list",
		Long:  "Fetch the unread snapshot from the HR backend and print it with the unseen count.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			snap, err := engine.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if unreadOnly {
				snap.Notifications = unread(snap.Notifications)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			return Render(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only print unread notifications")
	return cmd
}

func unread(list []notification.Notification) []notification.Notification {
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

func writeJSON(w io.Writer, snap notification.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// Render writes snap as a table: unread rows bold, read rows faint, and
// rows whose last read was rejected in red.
func Render(w io.Writer, snap notification.Snapshot) error {
	var b strings.Builder

	if len(snap.Notifications) == 0 {
		b.WriteString(readStyle.Render("No notifications."))
		b.WriteByte('\n')
	} else {
		b.WriteString(row(headerStyle, "ID", "RECEIVED", "MESSAGE"))
		b.WriteByte('\n')
		for _, n := range snap.Notifications {
			b.WriteString(row(styleFor(n), n.ID, formatTime(n.Timestamp), n.Message))
			b.WriteByte('\n')
		}
	}
	b.WriteString(countStyle.Render(fmt.Sprintf("%d unseen", snap.UnreadCount)))
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func row(style lipgloss.Style, id, received, message string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		idStyle.Render(style.Render(id)),
		timeStyle.Render(style.Render(received)),
		style.Render(message))
}

func styleFor(n notification.Notification) lipgloss.Style {
	switch {
	case n.State == notification.StateRollbackFailed:
		return failedStyle
	case n.IsRead:
		return readStyle
	default:
		return unreadStyle
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return noTimeMarker
	}
	return t.Local().Format(timeLayout)
}
