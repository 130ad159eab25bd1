package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Notification is one entry as the backend returns it.
type Notification struct {
	ID        string
	Message   string
	Timestamp time.Time // zero when the backend sent none
	IsRead    bool
}

// UnreadResponse is the body of GET /notifications/unread.
type UnreadResponse struct {
	Notifications []Notification `json:"unreadNotifications"`
	UnreadCount   int            `json:"unreadCount"`
}

type wireNotification struct {
	ID        json.RawMessage `json:"id"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
	IsRead    bool            `json:"isRead"`
}

// UnmarshalJSON accepts string or numeric ids and the timestamp forms
// understood by ParseTimestamp.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	n.ID = ParseID(w.ID)
	n.Message = w.Message
	n.Timestamp, _ = ParseTimestamp(w.Timestamp)
	n.IsRead = w.IsRead
	return nil
}

// MarshalJSON writes the backend wire form.
func (n Notification) MarshalJSON() ([]byte, error) {
	out := struct {
		ID        string     `json:"id"`
		Message   string     `json:"message"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
		IsRead    bool       `json:"isRead"`
	}{ID: n.ID, Message: n.Message, IsRead: n.IsRead}
	if !n.Timestamp.IsZero() {
		out.Timestamp = &n.Timestamp
	}
	return json.Marshal(out)
}

// ParseID returns the id carried by raw: a JSON string, or a number kept in
// its literal form. Null or absent ids yield "".
func ParseID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // ISO local date-time without zone
	"2006-01-02 15:04:05",
}

// ParseTimestamp decodes an RFC 3339 / ISO-8601 string or a Unix epoch number
// (milliseconds when above 1e11, seconds otherwise). ok is false when raw is
// absent or unparseable; callers substitute the receipt time.
func ParseTimestamp(raw json.RawMessage) (t time.Time, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), true
		}
		return time.Time{}, false
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fromEpoch(n), true
	}
	return time.Time{}, false
}

const epochMillisThreshold = 100_000_000_000

func fromEpoch(n int64) time.Time {
	if n > epochMillisThreshold {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
