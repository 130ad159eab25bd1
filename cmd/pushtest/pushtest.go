// Package pushtest implements a developer command that publishes a test
// notification to the staff member's push topic.
package pushtest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hrconsole/notifyd/internal/app"
	"github.com/hrconsole/notifyd/internal/conf"
)

// payload is the push body the HR backend publishes.
type payload struct {
	ID        string `json:"id,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Command creates the push-test command. Only the MQTT transport can
// publish; STOMP topics are server-driven.
func Command(ctx *app.Context) *cobra.Command {
	var (
		message string
		id      string
		randID  bool
		topic   string
	)

	cmd := &cobra.Command{
		Use:   "push-test",
		Short: "Publish a test notification to the push topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ctx.Settings.Broker.Transport != conf.TransportMQTT {
				return fmt.Errorf("push-test requires the %s transport, configured transport is %s",
					conf.TransportMQTT, ctx.Settings.Broker.Transport)
			}
			if randID {
				id = uuid.NewString()
			}
			body, err := BuildPayload(id, message, time.Now())
			if err != nil {
				return err
			}
			if topic == "" {
				topic = ctx.Settings.Topic()
			}

			transport, err := ctx.NewMQTT()
			if err != nil {
				return err
			}
			if err := transport.PublishTest(cmd.Context(), topic, body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s: %s\n", topic, body)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "Test notification from notifyd", "Notification message")
	cmd.Flags().StringVar(&id, "id", "", "Notification id, omitted to exercise placeholder ids")
	cmd.Flags().BoolVar(&randID, "random-id", false, "Send a random UUID as the id")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (default: the configured staff topic)")
	return cmd
}

// BuildPayload encodes a push body. An empty id is left out.
func BuildPayload(id, message string, at time.Time) ([]byte, error) {
	if message == "" {
		return nil, fmt.Errorf("message must not be empty")
	}
	return json.Marshal(payload{
		ID:        id,
		Message:   message,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}
