package notification

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/hrconsole/notifyd/internal/backend"
	"github.com/hrconsole/notifyd/internal/logger"
)

// PushPayload is the decoded form of a push message body.
type PushPayload struct {
	ID        string
	Message   string
	Timestamp time.Time // zero when absent or unparseable
}

type wirePush struct {
	ID        json.RawMessage `json:"id"`
	Message   *string         `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodePush decodes a push body. A JSON object {id, message, timestamp} is
// the normal form; a JSON string, or any body that is not JSON, is taken as
// the message text. ok is false when no message text can be found.
func DecodePush(raw []byte) (p PushPayload, ok bool) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return PushPayload{}, false
	}

	switch body[0] {
	case '{':
		var w wirePush
		if err := json.Unmarshal(body, &w); err == nil {
			if w.Message == nil || strings.TrimSpace(*w.Message) == "" {
				return PushPayload{}, false
			}
			p.ID = backend.ParseID(w.ID)
			p.Message = *w.Message
			p.Timestamp, _ = backend.ParseTimestamp(w.Timestamp)
			return p, true
		}
	case '"':
		var s string
		if err := json.Unmarshal(body, &s); err == nil {
			s = strings.TrimSpace(s)
			return PushPayload{Message: s}, s != ""
		}
	}

	return PushPayload{Message: string(body)}, true
}

// HandlePush is the push channel handler. It appends the delivered
// notification as unread and raises the count by one. Payloads without a
// message, ids already in the list and redeliveries of recently seen ids are
// ignored. Missing ids get a placeholder and missing timestamps the receipt
// time. It reports whether the payload was appended.
func (e *Engine) HandlePush(raw []byte) bool {
	p, ok := DecodePush(raw)
	if !ok {
		e.log.Warn("push payload without message dropped", logger.Int("bytes", len(raw)))
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}

	placeholder := false
	if p.ID == "" {
		p.ID = e.newID()
		placeholder = true
	}
	if _, exists := e.index[p.ID]; exists {
		e.log.Debug("duplicate push ignored", logger.String("notification_id", p.ID))
		return false
	}
	if _, seen := e.seen.Get(p.ID); seen {
		e.log.Debug("push redelivery ignored", logger.String("notification_id", p.ID))
		return false
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = e.now()
	}

	tick := e.tickLocked()
	ent := &entry{
		id:          p.ID,
		message:     p.Message,
		timestamp:   p.Timestamp,
		state:       StateUnread,
		source:      SourcePush,
		placeholder: placeholder,
		added:       tick,
		changed:     tick,
	}
	e.entries = append(e.entries, ent)
	e.index[ent.id] = ent
	e.seen.SetDefault(ent.id, struct{}{})

	count := e.publishLocked()
	e.emitLocked(Event{Type: EventAdded, Notification: ent.view(), UnseenCount: count})

	e.log.Info("push notification received",
		logger.String("notification_id", ent.id),
		logger.Bool("placeholder", placeholder),
		logger.Int("unseen_count", count))
	return true
}
