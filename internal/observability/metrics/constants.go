// Package metrics provides constants used across metric definitions.
package metrics

// Metric namespace shared by every collector.
const namespace = "notifyd"

// Backend operation labels.
const (
	OpFetchUnread = "fetch_unread"
	OpMarkRead    = "mark_read"
)

// Result labels.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultRollback = "rollback"
	ResultNoop     = "noop"
	ResultLocal    = "local"
	ResultCoalesce = "coalesced"
)

// Push message outcome labels.
const (
	PushAccepted  = "accepted"
	PushIgnored   = "ignored"
	PushDropped   = "dropped"
)
