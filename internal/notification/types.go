// Package notification is the live notification engine: it merges the
// backend's unread snapshot with push deliveries into one ordered list,
// commits reads optimistically with rollback, and publishes the derived
// unseen count.
package notification

import (
	"time"
)

// ReadState is the per-notification read state.
type ReadState string

const (
	// StateUnread is the initial state of every unread entry.
	StateUnread ReadState = "unread"
	// StatePendingRead marks an optimistic read awaiting backend confirmation.
	StatePendingRead ReadState = "pending_read"
	// StateRead is a read the backend confirmed, or that the backend reported.
	StateRead ReadState = "read"
	// StateRollbackFailed is an unread entry whose last read attempt was
	// rejected by the backend. MarkRead may be retried.
	StateRollbackFailed ReadState = "rollback_failed"
)

// IsRead reports the user-facing read flag. A pending read shows as read.
func (s ReadState) IsRead() bool {
	return s == StatePendingRead || s == StateRead
}

// countsUnseen reports whether the entry contributes to the unseen count.
func (s ReadState) countsUnseen() bool {
	return s == StateUnread || s == StateRollbackFailed
}

// markable reports whether MarkRead acts on an entry in this state.
func (s ReadState) markable() bool {
	return s.countsUnseen()
}

// Source records where an entry was last observed.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourcePush     Source = "push"
)

// PlaceholderPrefix starts every locally generated id.
const PlaceholderPrefix = "local-"

// Notification is an immutable view of one list entry.
type Notification struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"isRead"`
	State       ReadState `json:"state"`
	Source      Source    `json:"source"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// Snapshot is the result of a refresh: the ordered list and the unseen count
// published after applying it.
type Snapshot struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

// EventType names engine change events.
type EventType string

const (
	// EventAdded is emitted for each push entry appended to the list.
	EventAdded EventType = "added"
	// EventUpdated is emitted when an entry changes read state.
	EventUpdated EventType = "updated"
	// EventSnapshot is emitted after a snapshot replaced the list.
	EventSnapshot EventType = "snapshot"
)

// Event describes one change. Notification is zero for EventSnapshot.
type Event struct {
	Type         EventType    `json:"type"`
	Notification Notification `json:"notification,omitzero"`
	UnseenCount  int          `json:"unseenCount"`
}

// entry is the mutable record behind a Notification. Pointers are stable
// across snapshots for ids the snapshot keeps, which lets a late
// confirmation detect that its entry was removed.
type entry struct {
	id          string
	message     string
	timestamp   time.Time
	state       ReadState
	source      Source
	placeholder bool
	// added is the engine clock value when a push appended the entry.
	added uint64
	// changed is the engine clock value of the last local state change.
	changed uint64
}

func (e *entry) view() Notification {
	return Notification{
		ID:          e.id,
		Message:     e.message,
		Timestamp:   e.timestamp,
		IsRead:      e.state.IsRead(),
		State:       e.state,
		Source:      e.source,
		Placeholder: e.placeholder,
	}
}
