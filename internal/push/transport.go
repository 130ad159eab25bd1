// Package push keeps a live subscription to the notification broker topic.
//
// A Channel drives a Transport through an explicit state machine:
//
//	disconnected -> connecting -> connected -> subscribed
//	      ^              |             |            |
//	      +-- delay -----+-------------+------------+
//
// Any failure or dropped session returns the channel to disconnected, and the
// next attempt starts after a constant delay. Stop cancels everything,
// including a pending reconnect wait.
package push

import "context"

// Handler receives the raw body of each broker message in receipt order. It
// reports whether the payload was accepted.
type Handler func(payload []byte) bool

// Transport opens broker sessions.
type Transport interface {
	// Name identifies the transport in logs and status, e.g. "mqtt".
	Name() string
	// Connect opens a session. It must honor ctx for cancellation and
	// timeout.
	Connect(ctx context.Context) (Session, error)
}

// Session is one connected broker session.
type Session interface {
	// Subscribe starts delivery of messages on topic to deliver. Messages
	// must be delivered one at a time in broker order.
	Subscribe(ctx context.Context, topic string, deliver func(payload []byte)) error
	// Unsubscribe stops delivery on topic.
	Unsubscribe(ctx context.Context, topic string) error
	// Done is closed when the session is lost.
	Done() <-chan struct{}
	// Err returns the reason the session was lost, once Done is closed.
	Err() error
	// Close ends the session. It is safe to call more than once.
	Close() error
}
